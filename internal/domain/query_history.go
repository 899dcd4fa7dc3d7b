package domain

import "time"

// QueryHistoryEntry records one completed execution for the dashboard's
// recent-queries pane.
type QueryHistoryEntry struct {
	ID          string
	Fingerprint Fingerprint
	CallerKey   string
	Metric      string
	Status      string // SUCCEEDED, FAILED, CACHED
	ErrorKind   string // empty on success
	DurationMs  int64
	RowCount    int
	CreatedAt   time.Time
}
