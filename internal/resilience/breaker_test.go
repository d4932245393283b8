package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         25 * time.Millisecond,
		Interval:         0,
	}
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		gen, err := b.Allow()
		require.NoError(t, err)
		b.Record(gen, false)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("jira", testBreakerConfig(), zaptest.NewLogger(t))
	assert.Equal(t, BreakerClosed, b.State())

	failN(t, b, 2)
	assert.Equal(t, BreakerClosed, b.State())

	failN(t, b, 1)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := NewBreaker("jira", testBreakerConfig(), zaptest.NewLogger(t))
	failN(t, b, 3)

	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("jira", testBreakerConfig(), zaptest.NewLogger(t))
	failN(t, b, 2)

	gen, err := b.Allow()
	require.NoError(t, err)
	b.Record(gen, true)

	failN(t, b, 2)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker("jira", cfg, zaptest.NewLogger(t))
	failN(t, b, 3)

	time.Sleep(cfg.Cooldown + 10*time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker("jira", cfg, zaptest.NewLogger(t))
	failN(t, b, 3)
	time.Sleep(cfg.Cooldown + 10*time.Millisecond)

	_, err := b.Allow()
	require.NoError(t, err)

	// Second concurrent probe is rejected until the trial reports.
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker("jira", cfg, zaptest.NewLogger(t))
	failN(t, b, 3)
	time.Sleep(cfg.Cooldown + 10*time.Millisecond)

	gen, err := b.Allow()
	require.NoError(t, err)
	b.Record(gen, true)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker("jira", cfg, zaptest.NewLogger(t))
	failN(t, b, 3)
	time.Sleep(cfg.Cooldown + 10*time.Millisecond)

	gen, err := b.Allow()
	require.NoError(t, err)
	b.Record(gen, false)
	assert.Equal(t, BreakerOpen, b.State())

	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreakerStaleGenerationIgnored(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker("jira", cfg, zaptest.NewLogger(t))

	gen, err := b.Allow()
	require.NoError(t, err)

	// Breaker opens and rolls the generation while this call is in
	// flight.
	failN(t, b, 3)
	b.Record(gen, true)

	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []BreakerState
	cfg := testBreakerConfig()
	cfg.OnStateChange = func(source string, from, to BreakerState) {
		assert.Equal(t, "jira", source)
		transitions = append(transitions, to)
	}
	b := NewBreaker("jira", cfg, zaptest.NewLogger(t))
	failN(t, b, 3)

	time.Sleep(cfg.Cooldown + 10*time.Millisecond)
	gen, err := b.Allow()
	require.NoError(t, err)
	b.Record(gen, true)

	assert.Equal(t, []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}, transitions)
}
