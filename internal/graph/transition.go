// Package graph drives a research run through its node sequence:
// Plan, Fetch, Expand (looping back to Fetch), Synthesize, then Done or
// Failed. The transition function is pure so the control flow can be
// tested without any execution machinery.
package graph

import "fmt"

// Node is one named capability unit in the orchestration graph.
type Node string

const (
	NodePlan       Node = "plan"
	NodeFetch      Node = "fetch"
	NodeExpand     Node = "expand"
	NodeSynthesize Node = "synthesize"
	NodeDone       Node = "done"
	NodeFailed     Node = "failed"
)

// Terminal reports whether the node ends the run.
func (n Node) Terminal() bool {
	return n == NodeDone || n == NodeFailed
}

// Event is a control-flow event produced by executing a node.
type Event string

const (
	// EventPlanReady carries the initial sub-query set.
	EventPlanReady Event = "plan_ready"
	// EventPlanFailed is fatal: nothing to dispatch.
	EventPlanFailed Event = "plan_failed"
	// EventRoundComplete means the fan-out round returned, fully or
	// partially.
	EventRoundComplete Event = "round_complete"
	// EventSourcesDown means every breaker is open and no findings
	// exist yet: total unavailability.
	EventSourcesDown Event = "sources_down"
	// EventCandidatesReady means expansion produced new sub-queries
	// and the termination policy is not met.
	EventCandidatesReady Event = "candidates_ready"
	// EventExhausted means the termination policy is met: no new
	// candidates, cycle cap reached, or time budget spent.
	EventExhausted Event = "exhausted"
	// EventSynthesized means a report exists, possibly the degraded
	// fallback.
	EventSynthesized Event = "synthesized"
)

// Transition is the pure control-flow function (node, event) -> node.
// Unknown combinations are an error rather than a silent self-loop.
func Transition(n Node, e Event) (Node, error) {
	switch n {
	case NodePlan:
		switch e {
		case EventPlanReady:
			return NodeFetch, nil
		case EventPlanFailed:
			return NodeFailed, nil
		}
	case NodeFetch:
		switch e {
		case EventRoundComplete:
			return NodeExpand, nil
		case EventSourcesDown:
			return NodeFailed, nil
		}
	case NodeExpand:
		switch e {
		case EventCandidatesReady:
			return NodeFetch, nil
		case EventExhausted:
			return NodeSynthesize, nil
		}
	case NodeSynthesize:
		if e == EventSynthesized {
			return NodeDone, nil
		}
	}
	return n, fmt.Errorf("no transition from %s on %s", n, e)
}
