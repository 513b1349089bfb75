// Package admission decides whether a unit of work may proceed right
// now. A Limiter enforces nested sliding-window quotas (second,
// minute, hour, day) over one shared request log and applies
// exponential backoff with jitter to identities that keep failing.
//
// Window quotas are process-wide: every accepted request counts
// against every window regardless of identity. Backoff is per
// identity, so one caller's failure streak never throttles another.
// All state lives in memory for the life of the process; a restart
// starts the counters from zero.
package admission

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// DefaultIdentity is used when a caller does not supply an identity.
const DefaultIdentity = "default"

// ErrBadConfig is wrapped by every configuration error returned by New.
var ErrBadConfig = errors.New("invalid admission config")

// Scope names the check that denied a request.
type Scope string

const (
	ScopeSecond  Scope = "second"
	ScopeMinute  Scope = "minute"
	ScopeHour    Scope = "hour"
	ScopeDay     Scope = "day"
	ScopeBackoff Scope = "backoff"
)

// Config holds the quota thresholds and backoff parameters. All
// fields are read at construction only; a Limiter never mutates or
// re-reads its Config.
type Config struct {
	PerSecond int
	PerMinute int
	PerHour   int
	PerDay    int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultConfig returns the conservative defaults: 2/s, 10/min,
// 100/h, 1000/day, backoff 1s doubling up to 60s with jitter.
func DefaultConfig() Config {
	return Config{
		PerSecond:         2,
		PerMinute:         10,
		PerHour:           100,
		PerDay:            1000,
		InitialBackoff:    time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Validate rejects configs that would produce nonsensical denials:
// non-positive thresholds, a finer window allowed more than a coarser
// one, or degenerate backoff parameters.
func (c Config) Validate() error {
	if c.PerSecond <= 0 || c.PerMinute <= 0 || c.PerHour <= 0 || c.PerDay <= 0 {
		return fmt.Errorf("%w: window thresholds must be positive", ErrBadConfig)
	}
	if c.PerSecond > c.PerMinute || c.PerMinute > c.PerHour || c.PerHour > c.PerDay {
		return fmt.Errorf("%w: thresholds must be non-decreasing from second to day", ErrBadConfig)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("%w: initial_backoff must be positive", ErrBadConfig)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: max_backoff must be >= initial_backoff", ErrBadConfig)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff_multiplier must be >= 1", ErrBadConfig)
	}
	return nil
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Scope   Scope  // which check denied; empty when allowed
	Reason  string // human-readable denial reason; empty when allowed
	// RetryAfter estimates when the denied check could next succeed:
	// the remaining backoff, or the time until the oldest in-window
	// record ages out. Zero when allowed.
	RetryAfter time.Duration
}

// WindowUsage is one window's current count against its limit.
type WindowUsage struct {
	Scope Scope `json:"scope"`
	Count int   `json:"count"`
	Limit int   `json:"limit"`
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	Total          int           `json:"total"` // records currently retained (trailing 24h)
	Windows        []WindowUsage `json:"windows"`
	ActiveBackoffs int           `json:"active_backoffs"`
}

// Limiter enforces the nested window quotas and per-identity backoff.
// One mutex covers the request log and the backoff table: every
// mutation and every read that depends on a consistent prune runs
// under it. Safe for concurrent use.
//
// Check and Record are split for inspection and for callers that
// commit work they could not refuse; concurrent admission must go
// through TryAcquire, which runs both in one critical section. Two
// goroutines calling Check then Record independently can both observe
// "under limit" and overshoot the quota.
type Limiter struct {
	cfg Config
	now func() time.Time
	// jitter returns a sample in [0,1); swapped out in tests.
	jitter func() float64

	pollMin time.Duration
	pollMax time.Duration

	mu      sync.Mutex
	log     requestLog
	backoff map[string]backoffState
}

// Option adjusts a Limiter at construction.
type Option func(*Limiter)

// WithClock injects the time source. All timestamps must come from
// one monotonic clock and must not decrease across calls.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithJitterSource injects the jitter sample source ([0,1)).
func WithJitterSource(f func() float64) Option {
	return func(l *Limiter) { l.jitter = f }
}

// WithPollBounds overrides the waiter's sleep clamp (default 1s..5s).
// Intended for tests; the 5s cap bounds cancellation latency.
func WithPollBounds(min, max time.Duration) Option {
	return func(l *Limiter) { l.pollMin, l.pollMax = min, max }
}

// New builds a Limiter, failing fast on a bad config.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		jitter:  rand.Float64,
		pollMin: time.Second,
		pollMax: 5 * time.Second,
		backoff: make(map[string]backoffState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

type windowCheck struct {
	scope   Scope
	horizon time.Duration
	limit   int
}

// windows returns the checks in ascending granularity. Denials report
// the finest violated window, so order matters.
func (l *Limiter) windows() [4]windowCheck {
	return [4]windowCheck{
		{ScopeSecond, time.Second, l.cfg.PerSecond},
		{ScopeMinute, time.Minute, l.cfg.PerMinute},
		{ScopeHour, time.Hour, l.cfg.PerHour},
		{ScopeDay, 24 * time.Hour, l.cfg.PerDay},
	}
}

// Check reports whether a request for identity would be admitted now.
// It never blocks and consumes no quota. Pair with Record only when
// no other goroutine races for the same quota; otherwise use
// TryAcquire.
func (l *Limiter) Check(identity string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(ident(identity), l.now())
}

// TryAcquire checks identity and, if admitted, records the request in
// the same critical section. This is the race-free admission path.
func (l *Limiter) TryAcquire(identity, endpoint string) Decision {
	id := ident(identity)
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	d := l.checkLocked(id, now)
	if d.Allowed {
		l.recordLocked(id, endpoint, now)
	}
	return d
}

// Record notes an accepted request and clears the identity's failure
// streak and backoff deadline.
func (l *Limiter) Record(identity, endpoint string) {
	id := ident(identity)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(id, endpoint, l.now())
}

// RecordFailure bumps the identity's failure streak and pushes its
// backoff deadline out: min(initial * multiplier^(streak-1), max),
// scaled by a uniform factor in [0.5,1.0] when jitter is enabled.
// Only the failing identity is affected.
func (l *Limiter) RecordFailure(identity string) {
	id := ident(identity)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff[id] = l.backoff[id].fail(l.cfg, l.now(), l.jitter())
}

// Stats returns current per-window counts, the configured limits and
// the number of identities with an active backoff deadline.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.log.prune(now.Add(-retention))

	s := Stats{Total: l.log.len()}
	for _, w := range l.windows() {
		s.Windows = append(s.Windows, WindowUsage{
			Scope: w.scope,
			Count: l.log.countSince(now.Add(-w.horizon)),
			Limit: w.limit,
		})
	}
	for _, b := range l.backoff {
		if b.active(now) {
			s.ActiveBackoffs++
		}
	}
	return s
}

// Reset clears one identity's records, failure streak and backoff
// deadline. Other identities are untouched.
func (l *Limiter) Reset(identity string) {
	id := ident(identity)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.removeIdentity(id)
	delete(l.backoff, id)
}

// ResetAll clears every identity's state.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.clear()
	l.backoff = make(map[string]backoffState)
}

func (l *Limiter) checkLocked(id string, now time.Time) Decision {
	l.log.prune(now.Add(-retention))

	if b, ok := l.backoff[id]; ok && b.active(now) {
		wait := b.until.Sub(now)
		return Decision{
			Scope:      ScopeBackoff,
			Reason:     fmt.Sprintf("backoff active, retry in %.1fs", wait.Seconds()),
			RetryAfter: wait,
		}
	}

	for _, w := range l.windows() {
		cutoff := now.Add(-w.horizon)
		if l.log.countSince(cutoff) >= w.limit {
			d := Decision{
				Scope:  w.scope,
				Reason: fmt.Sprintf("per-%s rate limit exceeded", w.scope),
			}
			if oldest, ok := l.log.oldestSince(cutoff); ok {
				d.RetryAfter = oldest.ts.Add(w.horizon).Sub(now)
			}
			return d
		}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) recordLocked(id, endpoint string, now time.Time) {
	l.log.append(record{ts: now, identity: id, endpoint: endpoint})
	// Success ends the backoff episode outright, deadline included.
	delete(l.backoff, id)
}

func ident(identity string) string {
	if identity == "" {
		return DefaultIdentity
	}
	return identity
}
