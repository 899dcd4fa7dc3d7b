package domain

import "context"

// EngineClient is the protocol-level interface to the external query engine.
// Implementations carry no caching or policy logic.
// Implemented by engine.AthenaClient.
type EngineClient interface {
	// Submit starts an execution for the canonical query and returns the
	// engine-assigned execution id.
	Submit(ctx context.Context, q CanonicalQuery) (string, error)
	// Status reads the current remote state. Idempotent; no side effects
	// beyond reading remote status.
	Status(ctx context.Context, executionID string) (ExecutionStatus, error)
	// FetchPage reads one page of results. Valid only after the execution
	// reached SUCCEEDED. An empty pageToken requests the first page.
	FetchPage(ctx context.Context, executionID, pageToken string) (*ResultPage, error)
	// Cancel stops an execution. Best-effort: the engine may already have
	// completed by the time cancellation is observed.
	Cancel(ctx context.Context, executionID string) error
}

// HistoryRecorder receives a record of each completed execution.
// Implemented by history.Log; a nil recorder is permitted and skips recording.
type HistoryRecorder interface {
	Record(e QueryHistoryEntry)
}
