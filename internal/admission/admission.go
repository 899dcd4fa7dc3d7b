// Package admission bounds how much new work each caller may push into the
// external engine: a token bucket for submission rate and a semaphore for
// concurrent in-flight executions, both per caller key.
package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

// Config holds the per-caller admission bounds.
type Config struct {
	// BucketCapacity is the token-bucket burst size N.
	BucketCapacity int
	// RefillPerSecond is the token refill rate R.
	RefillPerSecond float64
	// MaxConcurrent bounds in-flight new executions per caller.
	MaxConcurrent int64
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{BucketCapacity: 10, RefillPerSecond: 1, MaxConcurrent: 4}
}

// callerState tracks one caller's limiter, concurrency slots, and last use.
// inflight is guarded by the controller mutex and keeps the sweep from
// dropping state that still has outstanding permits.
type callerState struct {
	limiter  *rate.Limiter
	slots    *semaphore.Weighted
	lastSeen time.Time
	inflight int
}

// Controller gates new executions per caller. Cache hits and in-flight joins
// never pass through it. Safe for concurrent use.
type Controller struct {
	cfg     Config
	mu      sync.Mutex
	callers map[string]*callerState
}

// NewController creates a Controller with the given bounds.
func NewController(cfg Config) *Controller {
	if cfg.BucketCapacity <= 0 {
		cfg.BucketCapacity = DefaultConfig().BucketCapacity
	}
	if cfg.RefillPerSecond <= 0 {
		cfg.RefillPerSecond = DefaultConfig().RefillPerSecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Controller{cfg: cfg, callers: make(map[string]*callerState)}
}

// Permit represents one admitted execution. Release must be called exactly
// once when the execution reaches a terminal state; extra calls are no-ops.
type Permit struct {
	release sync.Once
	ctrl    *Controller
	state   *callerState
}

// Release frees the caller's concurrency slot.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.release.Do(func() {
		p.ctrl.mu.Lock()
		p.state.inflight--
		p.ctrl.mu.Unlock()
		p.state.slots.Release(1)
	})
}

// TryAcquire admits one new execution for the caller or returns a
// *domain.DeniedError with a retry-after hint. It never blocks.
func (c *Controller) TryAcquire(callerKey string) (*Permit, error) {
	state := c.state(callerKey)

	if !state.slots.TryAcquire(1) {
		return nil, domain.ErrDenied(callerKey, time.Second,
			"caller %q has too many executions in flight", callerKey)
	}

	reservation := state.limiter.Reserve()
	if !reservation.OK() {
		state.slots.Release(1)
		return nil, domain.ErrDenied(callerKey, time.Second,
			"caller %q exceeded submission rate", callerKey)
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		state.slots.Release(1)
		return nil, domain.ErrDenied(callerKey, delay,
			"caller %q exceeded submission rate", callerKey)
	}

	c.mu.Lock()
	state.inflight++
	c.mu.Unlock()
	return &Permit{ctrl: c, state: state}, nil
}

func (c *Controller) state(callerKey string) *callerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.callers[callerKey]
	if !ok {
		state = &callerState{
			limiter: rate.NewLimiter(rate.Limit(c.cfg.RefillPerSecond), c.cfg.BucketCapacity),
			slots:   semaphore.NewWeighted(c.cfg.MaxConcurrent),
		}
		c.callers[callerKey] = state
	}
	state.lastSeen = time.Now()
	return state
}

// Start runs the idle-caller sweep until ctx is cancelled. Callers unseen for
// ten minutes are dropped; their limiters rebuild full on next use.
func (c *Controller) Start(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(10 * time.Minute)
		}
	}
}

func (c *Controller) sweep(maxIdle time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, state := range c.callers {
		if state.inflight == 0 && time.Since(state.lastSeen) > maxIdle {
			delete(c.callers, key)
		}
	}
}
