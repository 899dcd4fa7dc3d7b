// Package cache is the orchestrator of the query core. It owns the
// fingerprint-to-entry maps, guarantees single-flight execution per
// fingerprint, and drives the engine executor under the retry and admission
// policies.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/infofitsoftware/athena-dashboard/internal/admission"
	"github.com/infofitsoftware/athena-dashboard/internal/canonical"
	"github.com/infofitsoftware/athena-dashboard/internal/domain"
	"github.com/infofitsoftware/athena-dashboard/internal/retry"
)

// Config holds cache behaviour settings.
type Config struct {
	TTL              time.Duration // lifetime of a published entry (default 300s)
	MaxEntries       int           // LRU bound on published entries (default 1024)
	ExecutionTimeout time.Duration // wall-clock budget per fingerprint (default 5m)
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		TTL:              300 * time.Second,
		MaxEntries:       1024,
		ExecutionTimeout: 5 * time.Minute,
	}
}

// executor runs one full engine attempt. Implemented by engine.Executor.
type executor interface {
	Execute(ctx context.Context, fp domain.Fingerprint, q domain.CanonicalQuery, attempt int) (*domain.ResultTable, error)
}

// inflight tracks the single execution servicing all concurrent callers of
// one fingerprint. done is closed exactly once, after result and err are set.
type inflight struct {
	fp      domain.Fingerprint
	waiters int
	done    chan struct{}
	result  *domain.ResultTable
	err     error
	cancel  context.CancelFunc
}

// ResultCache maps fingerprints to results with TTL and single-flight
// coordination. It exclusively owns both the published-entry store and the
// in-flight map; no other component mutates them.
type ResultCache struct {
	canon     *canonical.Canonicalizer
	admission *admission.Controller
	exec      executor
	policy    retry.Policy
	history   domain.HistoryRecorder // may be nil
	logger    *slog.Logger
	cfg       Config

	mu       sync.Mutex
	entries  *expirable.LRU[string, *domain.CacheEntry]
	inFlight map[domain.Fingerprint]*inflight
}

// New constructs a ResultCache with empty maps. It is built once at startup
// and handed to callers; there is no ambient singleton.
func New(canon *canonical.Canonicalizer, ctrl *admission.Controller, exec executor, policy retry.Policy, cfg Config, logger *slog.Logger) *ResultCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultConfig().ExecutionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		canon:     canon,
		admission: ctrl,
		exec:      exec,
		policy:    policy,
		logger:    logger,
		cfg:       cfg,
		entries:   expirable.NewLRU[string, *domain.CacheEntry](cfg.MaxEntries, nil, cfg.TTL),
		inFlight:  make(map[domain.Fingerprint]*inflight),
	}
}

// SetHistory configures recent-query recording. Optional; nil skips recording.
func (c *ResultCache) SetHistory(h domain.HistoryRecorder) { c.history = h }

// GetOrExecute serves the request from a live entry, joins an in-flight
// execution for the same fingerprint, or admits and drives a new execution.
// All concurrent callers of one fingerprint receive the identical outcome.
// The fingerprint is returned alongside the result so callers never
// canonicalize twice.
func (c *ResultCache) GetOrExecute(ctx context.Context, req domain.QueryRequest) (*domain.ResultTable, domain.Fingerprint, error) {
	q, err := c.canon.Canonicalize(req)
	if err != nil {
		return nil, "", err
	}
	fp := q.Fingerprint()

	for {
		c.mu.Lock()
		if entry, ok := c.entries.Get(fp.String()); ok && time.Now().Before(entry.ExpiresAt) {
			c.mu.Unlock()
			c.record(fp, req.CallerKey, q.Metric, "CACHED", nil, 0, entry.Result.RowCount)
			return entry.Result, fp, nil
		}

		if fl, ok := c.inFlight[fp]; ok {
			fl.waiters++
			c.mu.Unlock()
			result, err := c.join(ctx, fl)
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				// The flight was abandoned by its previous waiters in the
				// window before run removed it. That cancellation is theirs,
				// not ours; start over with a fresh lookup.
				continue
			}
			return result, fp, err
		}

		// New execution. The admission check happens under the map lock so two
		// racers on one fingerprint can never both reach the engine, and a
		// joiner never consumes a permit. TryAcquire does not block.
		permit, err := c.admission.TryAcquire(req.CallerKey)
		if err != nil {
			c.mu.Unlock()
			return nil, fp, err
		}

		execCtx, cancelExec := context.WithTimeout(context.Background(), c.cfg.ExecutionTimeout)
		fl := &inflight{
			fp:      fp,
			waiters: 1,
			done:    make(chan struct{}),
			cancel:  cancelExec,
		}
		c.inFlight[fp] = fl
		c.mu.Unlock()

		go c.run(execCtx, fl, q, req.CallerKey, permit)
		result, err := c.join(ctx, fl)
		return result, fp, err
	}
}

// Invalidate removes a fingerprint's entry. Subsequent lookups miss.
// Administrative; it does not touch in-flight executions.
func (c *ResultCache) Invalidate(fp domain.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(fp.String())
}

// Canonicalize exposes canonicalization so the API layer can report
// fingerprints without triggering execution.
func (c *ResultCache) Canonicalize(req domain.QueryRequest) (domain.CanonicalQuery, error) {
	return c.canon.Canonicalize(req)
}

// join blocks until the in-flight execution completes or the caller's context
// ends. A departing caller leaves the waiter set; only the last one out
// cancels the underlying execution.
func (c *ResultCache) join(ctx context.Context, fl *inflight) (*domain.ResultTable, error) {
	select {
	case <-fl.done:
		return fl.result, fl.err
	case <-ctx.Done():
		c.mu.Lock()
		fl.waiters--
		last := fl.waiters == 0
		c.mu.Unlock()
		if last {
			fl.cancel()
		}
		return nil, ctx.Err()
	}
}

// run drives the execution under the retry policy and publishes the outcome.
// It is the only writer of fl.result and fl.err, and it never holds the map
// lock while the engine is being polled.
func (c *ResultCache) run(execCtx context.Context, fl *inflight, q domain.CanonicalQuery, callerKey string, permit *admission.Permit) {
	defer fl.cancel()
	defer permit.Release()

	start := time.Now()
	attempt := 0
	var result *domain.ResultTable

	err := c.policy.Do(execCtx, func(ctx context.Context) error {
		attempt++
		r, execErr := c.exec.Execute(ctx, fl.fp, q, attempt)
		if execErr == nil {
			result = r
		}
		return execErr
	})

	if err != nil && errors.Is(err, context.DeadlineExceeded) && execCtx.Err() == context.DeadlineExceeded {
		err = &domain.TimeoutError{Fingerprint: fl.fp, Elapsed: time.Since(start)}
	}

	now := time.Now()
	c.mu.Lock()
	if err == nil {
		// Wholesale replace: concurrent readers of the previous entry keep
		// their immutable snapshot.
		c.entries.Add(fl.fp.String(), &domain.CacheEntry{
			Fingerprint: fl.fp,
			Query:       q,
			Result:      result,
			ComputedAt:  now,
			ExpiresAt:   now.Add(c.cfg.TTL),
		})
	}
	delete(c.inFlight, fl.fp)
	fl.result = result
	fl.err = err
	close(fl.done)
	c.mu.Unlock()

	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Info("execution abandoned, no waiters left",
				"fingerprint", fl.fp.String(), "duration", duration)
		} else {
			c.logger.Warn("execution failed",
				"fingerprint", fl.fp.String(), "error", err, "attempts", attempt, "duration", duration)
		}
		c.record(fl.fp, callerKey, q.Metric, "FAILED", err, duration, 0)
		return
	}

	c.logger.Info("execution succeeded",
		"fingerprint", fl.fp.String(), "rows", result.RowCount, "truncated", result.Truncated,
		"attempts", attempt, "duration", duration)
	c.record(fl.fp, callerKey, q.Metric, "SUCCEEDED", nil, duration, result.RowCount)
}

func (c *ResultCache) record(fp domain.Fingerprint, callerKey, metric, status string, err error, duration time.Duration, rows int) {
	if c.history == nil {
		return
	}
	c.history.Record(domain.QueryHistoryEntry{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		CallerKey:   callerKey,
		Metric:      metric,
		Status:      status,
		ErrorKind:   domain.ErrorKind(err),
		DurationMs:  duration.Milliseconds(),
		RowCount:    rows,
		CreatedAt:   time.Now(),
	})
}
