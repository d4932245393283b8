package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quarry-ai/quarry/internal/metrics"
	"github.com/quarry-ai/quarry/internal/source"
)

// RetryPolicy controls retry and backoff for one source.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BackoffBase is the exponential backoff base delay d0; attempt n
	// waits d0*2^n plus jitter in [0, d0).
	BackoffBase time.Duration
	// BackoffMax caps the computed delay before jitter.
	BackoffMax time.Duration
}

// DefaultRetryPolicy returns the standard policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
}

// delay computes the backoff before retry number attempt (0-based),
// honoring a rate-limit hint when it exceeds the computed backoff.
func (p RetryPolicy) delay(attempt int, hint time.Duration) time.Duration {
	d := p.BackoffBase << uint(attempt)
	if d > p.BackoffMax || d <= 0 {
		d = p.BackoffMax
	}
	if p.BackoffBase > 0 {
		d += time.Duration(rand.Int64N(int64(p.BackoffBase)))
	}
	if hint > d {
		d = hint
	}
	return d
}

// Wrapper makes one source client resilient: retry with jittered
// exponential backoff for transient and rate-limited failures, a
// per-source rate limiter, and a circuit breaker that fails fast while
// the source is down.
type Wrapper struct {
	client  source.Client
	breaker *Breaker
	limiter *rate.Limiter
	policy  RetryPolicy
	logger  *zap.Logger
}

// NewWrapper wraps a source client. limiter may be nil to disable rate
// limiting.
func NewWrapper(client source.Client, policy RetryPolicy, breakerCfg BreakerConfig, limiter *rate.Limiter, logger *zap.Logger) *Wrapper {
	return &Wrapper{
		client:  client,
		breaker: NewBreaker(client.Name(), breakerCfg, logger),
		limiter: limiter,
		policy:  policy,
		logger:  logger,
	}
}

// Name returns the wrapped source's name.
func (w *Wrapper) Name() string { return w.client.Name() }

// Breaker exposes the wrapper's circuit breaker for health snapshots.
func (w *Wrapper) Breaker() *Breaker { return w.breaker }

// Invoke executes the operation under the full resilience discipline.
// A breaker rejection surfaces immediately as a circuit-open failure
// without consuming any retry budget. One admitted call, however many
// attempts it takes, records exactly one outcome on the breaker.
func (w *Wrapper) Invoke(ctx context.Context, op string, params map[string]any) (source.Payload, error) {
	gen, err := w.breaker.Allow()
	if err != nil {
		return nil, source.NewError(source.FailureCircuitOpen, w.Name(), op, err)
	}

	payload, err := w.invokeWithRetry(ctx, op, params)
	w.breaker.Record(gen, err == nil)
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(w.Name(), source.KindOf(err).String()).Inc()
		return nil, err
	}
	metrics.FetchesTotal.WithLabelValues(w.Name(), "success").Inc()
	return payload, nil
}

func (w *Wrapper) invokeWithRetry(ctx context.Context, op string, params map[string]any) (source.Payload, error) {
	var lastErr error
	for attempt := 0; attempt < w.policy.MaxAttempts; attempt++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil, source.NewError(source.FailureTimeout, w.Name(), op, err)
			}
		}

		start := time.Now()
		payload, err := w.client.Invoke(ctx, op, params)
		metrics.FetchDuration.WithLabelValues(w.Name()).Observe(time.Since(start).Seconds())
		if err == nil {
			return payload, nil
		}
		lastErr = err

		kind := source.KindOf(err)
		if !kind.Retryable() || attempt == w.policy.MaxAttempts-1 {
			break
		}

		delay := w.policy.delay(attempt, source.DelayHintOf(err))
		w.logger.Debug("Retrying source call",
			zap.String("source", w.Name()),
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.String("failure", kind.String()),
			zap.Duration("backoff", delay),
		)
		metrics.RetriesTotal.WithLabelValues(w.Name()).Inc()

		select {
		case <-ctx.Done():
			return nil, source.NewError(source.FailureTimeout, w.Name(), op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
