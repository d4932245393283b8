package research

import "time"

// Status represents the lifecycle phase of a research run.
type Status string

const (
	StatusPlanning     Status = "planning"
	StatusFetching     Status = "fetching"
	StatusExpanding    Status = "expanding"
	StatusSynthesizing Status = "synthesizing"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Outcome records the result of one fetch attempt for a (source, identifier) pair.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AttemptKey identifies one fetch attempt slot. Identifier holds the
// normalized key so lookups are stable across spellings.
type AttemptKey struct {
	Source     string `json:"source"`
	Identifier string `json:"identifier"`
}

// Finding is one unit of evidence retrieved from an external source.
type Finding struct {
	Source     string         `json:"source"`
	Identifier string         `json:"identifier"`
	Payload    map[string]any `json:"payload"`
	Relevance  float64        `json:"relevance"`
	Cycle      int            `json:"cycle"`
	Seq        uint64         `json:"seq"`
}

// Key returns the dedup key for the finding.
func (f Finding) Key() AttemptKey {
	return AttemptKey{Source: f.Source, Identifier: f.Identifier}
}

// SubQuery is one unit of fan-out work: a named operation against one
// source for one identifier. Identifier may be empty for free-text
// searches seeded directly from the user query.
type SubQuery struct {
	Source     string         `json:"source"`
	Identifier string         `json:"identifier"`
	Operation  string         `json:"operation"`
	Params     map[string]any `json:"params,omitempty"`
	Relevance  float64        `json:"relevance"`
}

// Key returns the dispatch dedup key for the sub-query.
func (q SubQuery) Key() AttemptKey {
	return AttemptKey{Source: q.Source, Identifier: q.Identifier}
}

// State is the shared research state threaded through the orchestration
// graph. It is owned by the graph engine and mutated only through the
// state store's reducers; everything handed out is a deep copy.
type State struct {
	RunID       string         `json:"run_id"`
	Query       string         `json:"query"`
	Identifiers *IdentifierSet `json:"identifiers"`
	Findings    []Finding      `json:"findings"`
	Attempts    AttemptMap     `json:"attempts"`
	Cycle       int            `json:"cycle"`
	Status      Status         `json:"status"`
	Partial     bool           `json:"partial"`
	Unresolved  []AttemptKey   `json:"unresolved,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// FindingsForCycle returns the findings merged during the given cycle.
func (s *State) FindingsForCycle(cycle int) []Finding {
	var out []Finding
	for _, f := range s.Findings {
		if f.Cycle == cycle {
			out = append(out, f)
		}
	}
	return out
}

// Attempted reports the recorded outcome for a pair, if any.
func (s *State) Attempted(key AttemptKey) (Outcome, bool) {
	o, ok := s.Attempts[key]
	return o, ok
}
