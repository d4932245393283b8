// Package planner defines the language-model collaborators the
// orchestration core consumes: the planner that derives initial
// sub-queries from a query, and the synthesizer that turns accumulated
// findings into a report. Both are black boxes to the core.
package planner

import (
	"context"
	"errors"

	"github.com/quarry-ai/quarry/internal/research"
)

// ErrPlanningFailed marks a planner failure; it is fatal to the run
// because there is nothing to dispatch.
var ErrPlanningFailed = errors.New("planning failed")

// ErrSynthesisFailed marks a synthesizer failure; the run degrades to a
// raw findings dump instead of failing.
var ErrSynthesisFailed = errors.New("synthesis failed")

// Planner derives the initial sub-query set for a research query.
type Planner interface {
	Plan(ctx context.Context, query string) ([]research.SubQuery, error)
}

// Synthesizer produces the final report text from the run's state.
type Synthesizer interface {
	Synthesize(ctx context.Context, st research.State) (string, error)
}
