package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
	"github.com/infofitsoftware/athena-dashboard/internal/retry"
)

// ExecutorConfig holds the polling schedule for one execution attempt.
type ExecutorConfig struct {
	PollBase       time.Duration // first poll delay (default 500ms)
	PollMultiplier float64       // backoff growth per poll (default 1.5)
	PollMax        time.Duration // poll delay cap (default 5s)
}

// DefaultExecutorConfig returns the polling defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		PollBase:       500 * time.Millisecond,
		PollMultiplier: 1.5,
		PollMax:        5 * time.Second,
	}
}

// Executor drives one execution attempt through the engine state machine:
// submit, poll with capped exponential backoff, then drain paginated results.
// It owns the ExecutionHandle for the lifetime of the attempt and issues a
// best-effort cancel whenever the attempt is abandoned mid-flight.
type Executor struct {
	client domain.EngineClient
	cfg    ExecutorConfig
	// maxPollFailures bounds consecutive transient status failures before the
	// attempt is declared exhausted.
	maxPollFailures int
	logger          *slog.Logger
}

// NewExecutor creates an Executor over the given engine client.
// maxPollFailures follows the retry ceiling.
func NewExecutor(client domain.EngineClient, cfg ExecutorConfig, maxPollFailures int, logger *slog.Logger) *Executor {
	if cfg.PollBase <= 0 {
		cfg.PollBase = 500 * time.Millisecond
	}
	if cfg.PollMultiplier < 1 {
		cfg.PollMultiplier = 1.5
	}
	if cfg.PollMax <= 0 {
		cfg.PollMax = 5 * time.Second
	}
	if maxPollFailures <= 0 {
		maxPollFailures = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, cfg: cfg, maxPollFailures: maxPollFailures, logger: logger}
}

// Execute runs one full attempt for the canonical query. Errors are returned
// already classified as domain error kinds; transient ones may be re-attempted
// by the caller's retry policy, each re-attempt submitting a fresh execution.
func (e *Executor) Execute(ctx context.Context, fp domain.Fingerprint, q domain.CanonicalQuery, attempt int) (*domain.ResultTable, error) {
	execID, err := e.client.Submit(ctx, q)
	if err != nil {
		return nil, err
	}

	handle := domain.ExecutionHandle{
		ExecutionID: execID,
		State:       domain.ExecutionStateSubmitted,
		SubmittedAt: time.Now(),
		Attempt:     attempt,
	}
	e.logger.Debug("execution submitted",
		"fingerprint", fp.String(), "execution_id", execID, "attempt", attempt)

	status, err := e.awaitTerminal(ctx, &handle)
	if err != nil {
		return nil, err
	}

	switch status.State {
	case domain.ExecutionStateSucceeded:
		return e.drainResults(ctx, &handle, q.MaxRows)
	case domain.ExecutionStateCancelled:
		return nil, domain.ErrEngineRejected("execution %s cancelled by engine", execID)
	default: // FAILED
		return nil, failureFromReason(execID, status.Reason)
	}
}

// awaitTerminal polls until the execution reaches a terminal state. Transient
// status failures are tolerated up to the poll-failure ceiling; the backoff
// keeps growing across them. No lock is held while waiting.
func (e *Executor) awaitTerminal(ctx context.Context, handle *domain.ExecutionHandle) (domain.ExecutionStatus, error) {
	delay := e.cfg.PollBase
	transientFails := 0

	for {
		select {
		case <-ctx.Done():
			e.cancelBestEffort(handle.ExecutionID)
			return domain.ExecutionStatus{}, ctx.Err()
		case <-time.After(delay):
		}

		status, err := e.client.Status(ctx, handle.ExecutionID)
		if err != nil {
			if retry.Classify(err) == retry.Terminal {
				e.cancelBestEffort(handle.ExecutionID)
				return domain.ExecutionStatus{}, err
			}
			transientFails++
			if transientFails >= e.maxPollFailures {
				e.cancelBestEffort(handle.ExecutionID)
				return domain.ExecutionStatus{}, &domain.RetriesExhaustedError{Attempts: transientFails, Cause: err}
			}
			delay = e.nextDelay(delay)
			continue
		}
		transientFails = 0
		handle.State = status.State

		if status.State.Terminal() {
			return status, nil
		}
		delay = e.nextDelay(delay)
	}
}

// drainResults pages through the engine's result store until pagination is
// exhausted or maxRows is reached, whichever comes first.
func (e *Executor) drainResults(ctx context.Context, handle *domain.ExecutionHandle, maxRows int) (*domain.ResultTable, error) {
	if handle.State != domain.ExecutionStateSucceeded {
		return nil, &domain.FetchIncompleteError{State: handle.State}
	}
	table := &domain.ResultTable{}
	pageToken := ""

	for {
		page, err := e.client.FetchPage(ctx, handle.ExecutionID, pageToken)
		if err != nil {
			return nil, err
		}
		if table.Columns == nil {
			table.Columns = page.Columns
		}

		for _, row := range page.Rows {
			if maxRows > 0 && len(table.Rows) >= maxRows {
				table.Truncated = true
				table.RowCount = len(table.Rows)
				return table, nil
			}
			table.Rows = append(table.Rows, row)
		}

		if page.NextToken == "" {
			break
		}
		pageToken = page.NextToken
	}

	table.RowCount = len(table.Rows)
	return table, nil
}

// cancelBestEffort stops the remote execution without blocking the caller's
// outcome. Runs on a fresh context because the attempt's context is already
// cancelled or expired when this is called.
func (e *Executor) cancelBestEffort(executionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.client.Cancel(ctx, executionID); err != nil {
		e.logger.Warn("best-effort cancel failed", "execution_id", executionID, "error", err)
	}
}

func (e *Executor) nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * e.cfg.PollMultiplier)
	if next > e.cfg.PollMax {
		next = e.cfg.PollMax
	}
	return next
}

// failureFromReason classifies an engine-reported FAILED state. Resource and
// internal errors are transient so a retry may resubmit; everything else is a
// permanent rejection.
func failureFromReason(executionID, reason string) error {
	lower := strings.ToLower(reason)
	transientHints := []string{"internal error", "resource exhausted", "exceeded", "throttl", "slow down", "service unavailable"}
	for _, hint := range transientHints {
		if strings.Contains(lower, hint) {
			return domain.ErrEngineUnavailable("execution %s failed: %s", executionID, reason)
		}
	}
	if reason == "" {
		reason = "unknown failure"
	}
	return domain.ErrEngineRejected("execution %s failed: %s", executionID, reason)
}
