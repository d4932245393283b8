// Package resilience wraps source clients with retry, backoff, rate
// limiting and a per-source circuit breaker so callers never see a
// retry policy and one failing source cannot stall the run.
package resilience

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/metrics"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when the breaker rejects a call without
// touching the source.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig holds per-source circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in the
	// closed state that opens the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before allowing a
	// single half-open trial call.
	Cooldown time.Duration
	// Interval clears the failure counter in the closed state; zero
	// keeps counts forever.
	Interval time.Duration
	// OnStateChange is invoked outside locks held by the caller but
	// inside the breaker's own; keep it fast.
	OnStateChange func(source string, from, to BreakerState)
}

// DefaultBreakerConfig returns the defaults used for every source.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Interval:         60 * time.Second,
	}
}

// BreakerCounts holds breaker statistics for health snapshots.
type BreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Breaker is a per-source circuit breaker. In the half-open state it
// admits exactly one trial call: success closes the breaker and resets
// counters, failure re-opens it and restarts the cooldown.
type Breaker struct {
	source string
	config BreakerConfig
	logger *zap.Logger

	mu         sync.Mutex
	state      BreakerState
	generation uint64
	counts     BreakerCounts
	expiry     time.Time
	openedAt   time.Time
	lastFail   time.Time
}

// NewBreaker creates a closed breaker for one source.
func NewBreaker(source string, config BreakerConfig, logger *zap.Logger) *Breaker {
	b := &Breaker{
		source: source,
		config: config,
		logger: logger,
		state:  BreakerClosed,
	}
	if config.Interval > 0 {
		b.expiry = time.Now().Add(config.Interval)
	}
	metrics.BreakerState.WithLabelValues(source).Set(0)
	return b
}

// Allow checks whether a call may proceed. On acceptance it returns the
// current generation, which must be passed back to Record. Calls
// rejected while open or during an in-flight half-open trial return
// ErrBreakerOpen.
func (b *Breaker) Allow() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == BreakerOpen {
		metrics.BreakerRejections.WithLabelValues(b.source).Inc()
		return generation, ErrBreakerOpen
	}
	if state == BreakerHalfOpen && b.counts.Requests >= 1 {
		// Only one trial call is admitted while half-open.
		metrics.BreakerRejections.WithLabelValues(b.source).Inc()
		return generation, ErrBreakerOpen
	}

	b.counts.Requests++
	return generation, nil
}

// Record reports the outcome of a call admitted by Allow. Outcomes from
// a previous generation are discarded.
func (b *Breaker) Record(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.currentState(now)
	if current != generation {
		return
	}
	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns the current statistics.
func (b *Breaker) Counts() BreakerCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// currentState returns the state after applying expiry transitions.
func (b *Breaker) currentState(now time.Time) (BreakerState, uint64) {
	switch b.state {
	case BreakerClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.toNewGeneration(now)
		}
	case BreakerOpen:
		if b.expiry.Before(now) {
			b.setState(BreakerHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) onSuccess(state BreakerState, now time.Time) {
	switch state {
	case BreakerClosed:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
	case BreakerHalfOpen:
		// Trial succeeded; resume normal service.
		b.setState(BreakerClosed, now)
	}
}

func (b *Breaker) onFailure(state BreakerState, now time.Time) {
	b.lastFail = now
	switch state {
	case BreakerClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(BreakerOpen, now)
		}
	case BreakerHalfOpen:
		// Trial failed; restart the cooldown.
		b.setState(BreakerOpen, now)
	}
}

func (b *Breaker) setState(state BreakerState, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	if state == BreakerOpen {
		b.openedAt = now
	}
	b.toNewGeneration(now)

	metrics.BreakerState.WithLabelValues(b.source).Set(float64(state))
	metrics.BreakerTransitions.WithLabelValues(b.source, state.String()).Inc()
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.source, prev, state)
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("source", b.source),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

// toNewGeneration resets counters and schedules the next expiry.
func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts = BreakerCounts{}

	switch b.state {
	case BreakerClosed:
		if b.config.Interval == 0 {
			b.expiry = time.Time{}
		} else {
			b.expiry = now.Add(b.config.Interval)
		}
	case BreakerOpen:
		b.expiry = now.Add(b.config.Cooldown)
	default: // BreakerHalfOpen
		b.expiry = time.Time{}
	}
}
