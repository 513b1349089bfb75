package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	cfg := testConfig() // initial 1s, multiplier 2, max 60s, no jitter

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for k, w := range want {
		assert.Equal(t, w, cfg.nextBackoff(k+1), "streak %d", k+1)
	}
}

func TestBackoffDeadlineMonotonic(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	var prev time.Time
	for k := 0; k < 8; k++ {
		l.RecordFailure("x")
		until := l.backoff["x"].until
		require.False(t, until.Before(prev), "deadline regressed at streak %d", k+1)
		prev = until
	}

	// deadline never exceeds now + max_backoff at the moment it is set
	assert.False(t, prev.After(clk.now().Add(60*time.Second)))
}

func TestSuccessResetsStreak(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, testConfig(), clk)

	for i := 0; i < 5; i++ {
		l.RecordFailure("x")
	}
	require.Equal(t, 5, l.backoff["x"].failures)

	l.Record("x", "")
	_, ok := l.backoff["x"]
	require.False(t, ok, "success must clear streak and deadline")

	// the next failure starts over at the k=1 backoff
	l.RecordFailure("x")
	assert.Equal(t, 1, l.backoff["x"].failures)
	assert.Equal(t, clk.now().Add(time.Second), l.backoff["x"].until)
}

func TestJitteredDeadlineNeverMovesBackward(t *testing.T) {
	cfg := testConfig()
	cfg.Jitter = true

	clk := newFakeClock()
	samples := []float64{1, 0} // long delay first, then the shortest possible
	i := 0
	l := newTestLimiter(t, cfg, clk, WithJitterSource(func() float64 {
		s := samples[i]
		i++
		return s
	}))

	l.RecordFailure("x") // 1s * 1.0
	first := l.backoff["x"].until
	l.RecordFailure("x") // 2s * 0.5 = 1s, same instant: would tie, must not regress
	assert.False(t, l.backoff["x"].until.Before(first))
}

func TestJitterScalesIntoLowerHalf(t *testing.T) {
	cfg := testConfig()
	cfg.Jitter = true

	clk := newFakeClock()

	// jitter sample 0 -> 0.5x, sample just under 1 -> ~1.0x
	l := newTestLimiter(t, cfg, clk, WithJitterSource(func() float64 { return 0 }))
	l.RecordFailure("x")
	assert.Equal(t, clk.now().Add(500*time.Millisecond), l.backoff["x"].until)

	l = newTestLimiter(t, cfg, clk, WithJitterSource(func() float64 { return 0.999 }))
	l.RecordFailure("x")
	until := l.backoff["x"].until
	assert.True(t, until.After(clk.now().Add(990*time.Millisecond)))
	assert.False(t, until.After(clk.now().Add(time.Second)))
}
