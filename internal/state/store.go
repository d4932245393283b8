// Package state implements the research state store: a serialized
// merge point with per-field reducers so concurrent fan-out writers
// never overwrite each other's contributions.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/metrics"
	"github.com/quarry-ai/quarry/internal/research"
)

// Delta is one batch of contributions to merge into the state. Zero
// fields are skipped by their reducers; merging the same delta twice is
// a no-op beyond the first application.
type Delta struct {
	Findings    []research.Finding
	Identifiers []string
	Attempts    map[research.AttemptKey]research.Outcome
	// Status, when non-empty, requests a lifecycle transition. Once
	// the state is terminal further transitions are ignored.
	Status research.Status
	// AdvanceCycle increments the cycle counter when true.
	AdvanceCycle bool
	// Partial marks the run as having abandoned work.
	Partial    bool
	Unresolved []research.AttemptKey
}

// Store owns one run's research state. All mutation goes through Merge,
// which is serialized; Snapshot hands out deep copies only.
type Store struct {
	mu     sync.Mutex
	st     research.State
	seq    uint64
	logger *zap.Logger
}

// New creates a store for a fresh run.
func New(query string, normalize research.Normalizer, logger *zap.Logger) *Store {
	now := time.Now()
	return &Store{
		st: research.State{
			RunID:       uuid.New().String(),
			Query:       query,
			Identifiers: research.NewIdentifierSet(normalize),
			Attempts:    make(research.AttemptMap),
			Status:      research.StatusPlanning,
			StartedAt:   now,
			UpdatedAt:   now,
		},
		logger: logger,
	}
}

// RunID returns the run identifier.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RunID
}

// Merge applies the delta atomically with respect to other merges.
// Commit order is merge-call order, not dispatch order.
func (s *Store) Merge(d Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mergeIdentifiers(d.Identifiers)
	s.mergeAttempts(d.Attempts)
	s.mergeFindings(d.Findings)

	if d.AdvanceCycle {
		s.st.Cycle++
	}
	if d.Partial {
		s.st.Partial = true
	}
	for _, key := range d.Unresolved {
		if !containsKey(s.st.Unresolved, key) {
			s.st.Unresolved = append(s.st.Unresolved, key)
		}
	}
	if d.Status != "" && !s.st.Status.Terminal() {
		if s.st.Status != d.Status {
			s.logger.Debug("State transition",
				zap.String("run_id", s.st.RunID),
				zap.String("from", string(s.st.Status)),
				zap.String("to", string(d.Status)),
			)
		}
		s.st.Status = d.Status
	}
	s.st.UpdatedAt = time.Now()
	metrics.MergesTotal.Inc()
}

// mergeIdentifiers unions with normalized-key dedup.
func (s *Store) mergeIdentifiers(ids []string) {
	for _, id := range ids {
		s.st.Identifiers.Add(id)
	}
}

// mergeAttempts is last-write-wins per key, except success is never
// demoted to failure or pending.
func (s *Store) mergeAttempts(attempts map[research.AttemptKey]research.Outcome) {
	for key, outcome := range attempts {
		if s.st.Attempts[key] == research.OutcomeSuccess && outcome != research.OutcomeSuccess {
			continue
		}
		s.st.Attempts[key] = outcome
	}
}

// mergeFindings appends new findings, drops exact duplicates by
// (source, identifier), assigns arrival sequence numbers, and re-sorts
// by (identifier, source, seq).
func (s *Store) mergeFindings(findings []research.Finding) {
	seen := make(map[research.AttemptKey]struct{}, len(s.st.Findings))
	for _, f := range s.st.Findings {
		seen[f.Key()] = struct{}{}
	}
	for _, f := range findings {
		if _, dup := seen[f.Key()]; dup {
			continue
		}
		seen[f.Key()] = struct{}{}
		s.seq++
		f.Seq = s.seq
		s.st.Findings = append(s.st.Findings, f)
		metrics.FindingsTotal.WithLabelValues(f.Source).Inc()
	}
	sort.SliceStable(s.st.Findings, func(i, j int) bool {
		a, b := s.st.Findings[i], s.st.Findings[j]
		if a.Identifier != b.Identifier {
			return a.Identifier < b.Identifier
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Seq < b.Seq
	})
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() research.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st
	snap.Identifiers = s.st.Identifiers.Clone()
	snap.Findings = make([]research.Finding, len(s.st.Findings))
	copy(snap.Findings, s.st.Findings)
	snap.Attempts = s.st.Attempts.Clone()
	snap.Unresolved = append([]research.AttemptKey(nil), s.st.Unresolved...)
	return snap
}

// Restore replaces the store's state, used when resuming from a
// checkpoint. Terminal states are restored as-is.
func (s *Store) Restore(st research.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Identifiers == nil {
		st.Identifiers = research.NewIdentifierSet(nil)
	}
	if st.Attempts == nil {
		st.Attempts = make(research.AttemptMap)
	}
	s.st = st
	var maxSeq uint64
	for _, f := range st.Findings {
		if f.Seq > maxSeq {
			maxSeq = f.Seq
		}
	}
	s.seq = maxSeq
}

func containsKey(keys []research.AttemptKey, key research.AttemptKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
