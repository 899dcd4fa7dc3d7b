// Package history keeps a bounded in-memory log of recent executions for the
// dashboard's recent-queries pane.
package history

import (
	"sync"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

// Compile-time check.
var _ domain.HistoryRecorder = (*Log)(nil)

// Log is a fixed-capacity ring of history entries, newest first on read.
type Log struct {
	mu      sync.Mutex
	entries []domain.QueryHistoryEntry
	next    int
	full    bool
}

// NewLog creates a Log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 200
	}
	return &Log{entries: make([]domain.QueryHistoryEntry, capacity)}
}

// Record appends an entry, overwriting the oldest when full.
func (l *Log) Record(e domain.QueryHistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) []domain.QueryHistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]domain.QueryHistoryEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
