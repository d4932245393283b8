// Package events provides in-memory pub/sub for research run progress.
// Subscribers receive a finite stream: the channel closes when the run
// reaches a terminal status.
package events

import (
	"sync"
	"time"

	"github.com/quarry-ai/quarry/internal/research"
)

// Type names the progress event kinds emitted during a run.
const (
	TypeRunStarted    = "run_started"
	TypePlanReady     = "plan_ready"
	TypeFetchProgress = "fetch_progress"
	TypeCycleComplete = "cycle_complete"
	TypeExpansion     = "expansion"
	TypeSynthesis     = "synthesis"
	TypeRunCompleted  = "run_completed"
)

// Event is one progress notification.
type Event struct {
	RunID            string          `json:"run_id"`
	Type             string          `json:"type"`
	Cycle            int             `json:"cycle"`
	SourcesCompleted int             `json:"sources_completed,omitempty"`
	SourcesTotal     int             `json:"sources_total,omitempty"`
	Status           research.Status `json:"status"`
	Message          string          `json:"message,omitempty"`
	Seq              uint64          `json:"seq"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Manager provides per-run pub/sub with a bounded replay buffer. It is
// passed explicitly to the graph engine; there is no process-global
// instance.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager with the given replay capacity per run.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe registers a buffered channel for a run's events. Events
// already published are replayed first. The channel is closed when the
// run completes; the caller must drain it.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()

	if rg := m.history[runID]; rg != nil {
		for _, evt := range rg.snapshot() {
			select {
			case ch <- evt:
			default:
			}
		}
		if rg.closed {
			close(ch)
			return ch
		}
	}
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the channel if still registered.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, registered := subs[ch]; registered {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns a sequence number and delivers the event to all
// subscribers without blocking; slow subscribers drop events. Sends
// happen under the lock so they cannot race a close from Complete or
// Unsubscribe.
func (m *Manager) Publish(evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg := m.history[evt.RunID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.RunID] = rg
	}
	evt.Seq = rg.next()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	rg.append(evt)
	for ch := range m.subscribers[evt.RunID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Complete marks the run finished and closes all subscriber channels,
// ending their event sequence.
func (m *Manager) Complete(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rg := m.history[runID]; rg != nil {
		rg.closed = true
	}
	for ch := range m.subscribers[runID] {
		close(ch)
	}
	delete(m.subscribers, runID)
}

// History returns the buffered events for a run in order.
func (m *Manager) History(runID string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rg := m.history[runID]; rg != nil {
		return rg.snapshot()
	}
	return nil
}

// ring is a fixed-capacity event buffer for replay.
type ring struct {
	buf    []Event
	start  int
	count  int
	seq    uint64
	closed bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) next() uint64 {
	r.seq++
	return r.seq
}

func (r *ring) append(evt Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = evt
		r.count++
		return
	}
	r.buf[r.start] = evt
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) snapshot() []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
