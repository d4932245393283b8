package resilience

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quarry-ai/quarry/internal/source"
)

// Health is a point-in-time view of one source's breaker.
type Health struct {
	Source              string       `json:"source"`
	State               BreakerState `json:"-"`
	StateName           string       `json:"state"`
	ConsecutiveFailures uint32       `json:"consecutive_failures"`
	TotalFailures       uint32       `json:"total_failures"`
}

// SourceLimits configures the optional per-source rate limiter.
type SourceLimits struct {
	RPS   float64
	Burst int
}

// Registry owns one resilience wrapper per source. It is the only
// breaker/failure state shared across concurrent tasks; each wrapper
// synchronizes its own breaker internally.
type Registry struct {
	mu       sync.RWMutex
	wrappers map[string]*Wrapper
	order    []string
}

// NewRegistry builds wrappers for the given clients. Sources missing
// from limits run without a rate limiter.
func NewRegistry(clients []source.Client, policy RetryPolicy, breakerCfg BreakerConfig, limits map[string]SourceLimits, logger *zap.Logger) *Registry {
	r := &Registry{wrappers: make(map[string]*Wrapper, len(clients))}
	for _, c := range clients {
		var limiter *rate.Limiter
		if l, ok := limits[c.Name()]; ok && l.RPS > 0 {
			burst := l.Burst
			if burst <= 0 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(l.RPS), burst)
		}
		r.wrappers[c.Name()] = NewWrapper(c, policy, breakerCfg, limiter, logger)
		r.order = append(r.order, c.Name())
	}
	sort.Strings(r.order)
	return r
}

// Get returns the wrapper for a source.
func (r *Registry) Get(name string) (*Wrapper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wrappers[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	return w, nil
}

// Sources lists registered source names in stable order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot returns per-source health in stable order.
func (r *Registry) Snapshot() []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Health, 0, len(r.order))
	for _, name := range r.order {
		w := r.wrappers[name]
		st := w.Breaker().State()
		counts := w.Breaker().Counts()
		out = append(out, Health{
			Source:              name,
			State:               st,
			StateName:           st.String(),
			ConsecutiveFailures: counts.ConsecutiveFailures,
			TotalFailures:       counts.TotalFailures,
		})
	}
	return out
}

// AllOpen reports whether every registered source's breaker is open.
// Used by the graph to detect total unavailability.
func (r *Registry) AllOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.wrappers) == 0 {
		return false
	}
	for _, w := range r.wrappers {
		if w.Breaker().State() != BreakerOpen {
			return false
		}
	}
	return true
}
