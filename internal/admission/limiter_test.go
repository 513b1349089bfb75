package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, cfg Config, clk *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append([]Option{WithClock(clk.now)}, opts...)
	l, err := New(cfg, opts...)
	require.NoError(t, err)
	return l
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Jitter = false
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero per_second", func(c *Config) { c.PerSecond = 0 }},
		{"negative per_day", func(c *Config) { c.PerDay = -1 }},
		{"second above minute", func(c *Config) { c.PerSecond = 50; c.PerMinute = 10 }},
		{"hour above day", func(c *Config) { c.PerHour = 5000; c.PerDay = 1000 }},
		{"zero initial backoff", func(c *Config) { c.InitialBackoff = 0 }},
		{"max below initial", func(c *Config) { c.MaxBackoff = c.InitialBackoff / 2 }},
		{"multiplier below one", func(c *Config) { c.BackoffMultiplier = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrBadConfig)
		})
	}

	_, err := New(DefaultConfig())
	require.NoError(t, err)
}

func TestCheckAllowsUpToPerSecondLimit(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk) // per-second: 2

	for i := 0; i < 2; i++ {
		d := l.Check("")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		l.Record("", "")
		clk.advance(100 * time.Millisecond)
	}

	d := l.Check("")
	require.False(t, d.Allowed)
	assert.Equal(t, ScopeSecond, d.Scope)
	assert.Contains(t, d.Reason, "per-second")
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestSecondWindowSlides(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	l.Record("", "")
	l.Record("", "")
	require.False(t, l.Check("").Allowed)

	// 1.1s later both records have left the 1s window
	clk.advance(1100 * time.Millisecond)
	require.True(t, l.Check("").Allowed)
}

func TestHierarchicalEnforcement(t *testing.T) {
	cfg := testConfig() // per-second: 2, per-minute: 10
	clk := newFakeClock()
	l := newTestLimiter(t, cfg, clk)

	// one request per second stays inside the per-second limit but
	// must trip the minute window on the 11th attempt
	for i := 0; i < 10; i++ {
		d := l.TryAcquire("", "")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		clk.advance(time.Second)
	}

	d := l.TryAcquire("", "")
	require.False(t, d.Allowed)
	assert.Equal(t, ScopeMinute, d.Scope, "finest violated window should be reported")
}

func TestDenyReportsFinestViolatedWindow(t *testing.T) {
	// scenario: {second:2, minute:10}; two records at t=0 deny with
	// "second" at t=0.1; allowed again at t=1.1; 10 records total by
	// t=30 deny with "minute" at t=31
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	l.Record("", "")
	l.Record("", "")
	clk.advance(100 * time.Millisecond)
	d := l.Check("")
	require.False(t, d.Allowed)
	assert.Equal(t, ScopeSecond, d.Scope)

	clk.advance(time.Second) // t=1.1
	require.True(t, l.Check("").Allowed)

	// accumulate 10 total by t=30, spaced out
	for i := 0; i < 8; i++ {
		clk.advance(3 * time.Second)
		l.Record("", "")
	}

	clk.advance(5 * time.Second) // ~t=31, >1s after the last record
	d = l.Check("")
	require.False(t, d.Allowed)
	assert.Equal(t, ScopeMinute, d.Scope)
}

func TestTryAcquireConsumesAtomically(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	require.True(t, l.TryAcquire("", "").Allowed)
	require.True(t, l.TryAcquire("", "").Allowed)

	d := l.TryAcquire("", "")
	require.False(t, d.Allowed)
	// a denied TryAcquire must not have consumed quota
	assert.Equal(t, 2, l.Stats().Windows[0].Count)
}

func TestBackoffDeniesBeforeWindows(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	l.RecordFailure("crew-1")

	d := l.Check("crew-1")
	require.False(t, d.Allowed)
	assert.Equal(t, ScopeBackoff, d.Scope)
	assert.Contains(t, d.Reason, "backoff active")

	// other identities are not punished
	require.True(t, l.Check("crew-2").Allowed)

	// once the deadline lapses the identity is admitted again
	clk.advance(2 * time.Second)
	require.True(t, l.Check("crew-1").Allowed)
}

func TestStats(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	l.Record("a", "generate")
	l.Record("b", "generate")
	l.RecordFailure("c")

	s := l.Stats()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.ActiveBackoffs)

	require.Len(t, s.Windows, 4)
	assert.Equal(t, ScopeSecond, s.Windows[0].Scope)
	assert.Equal(t, 2, s.Windows[0].Count)
	assert.Equal(t, 2, s.Windows[0].Limit)
	assert.Equal(t, ScopeDay, s.Windows[3].Scope)
	assert.Equal(t, 1000, s.Windows[3].Limit)

	// expired backoffs drop out of the active count
	clk.advance(time.Minute)
	assert.Equal(t, 0, l.Stats().ActiveBackoffs)
}

func TestStatsPrunesRetiredRecords(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	l.Record("", "")
	clk.advance(25 * time.Hour)
	assert.Equal(t, 0, l.Stats().Total)
}

func TestResetSingleIdentity(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	l.Record("a", "")
	l.Record("a", "")
	l.Record("b", "")
	l.RecordFailure("a")
	l.RecordFailure("b")

	l.Reset("a")

	require.True(t, l.Check("a").Allowed, "a's backoff should be gone")
	d := l.Check("b")
	require.False(t, d.Allowed, "b's backoff must survive a's reset")
	assert.Equal(t, ScopeBackoff, d.Scope)
	assert.Equal(t, 1, l.Stats().Total, "only b's record should remain")
}

func TestResetAll(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	l.Record("a", "")
	l.Record("b", "")
	l.RecordFailure("c")

	l.ResetAll()

	s := l.Stats()
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, 0, s.ActiveBackoffs)
	require.True(t, l.Check("c").Allowed)
}

func TestConcurrentTryAcquireNeverOvershoots(t *testing.T) {
	cfg := testConfig()
	cfg.PerSecond = 5
	cfg.PerMinute = 5
	cfg.PerHour = 5
	cfg.PerDay = 5
	l, err := New(cfg) // real clock; the whole test runs inside one second
	require.NoError(t, err)

	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() {
			results <- l.TryAcquire("crew", "").Allowed
		}()
	}

	allowed := 0
	for i := 0; i < 50; i++ {
		if <-results {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestEmptyIdentityMapsToDefault(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	l.RecordFailure("")
	d := l.Check(DefaultIdentity)
	require.False(t, d.Allowed)
	assert.Equal(t, ScopeBackoff, d.Scope)
}
