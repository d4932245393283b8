package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/events"
	"github.com/quarry-ai/quarry/internal/expansion"
	"github.com/quarry-ai/quarry/internal/fanout"
	"github.com/quarry-ai/quarry/internal/metrics"
	"github.com/quarry-ai/quarry/internal/planner"
	"github.com/quarry-ai/quarry/internal/research"
	"github.com/quarry-ai/quarry/internal/resilience"
	"github.com/quarry-ai/quarry/internal/state"
)

// Config carries the per-run knobs the caller controls. Expansion
// scoring knobs live in expansion.Config; the engine does not keep
// copies of them.
type Config struct {
	MaxCycles        int
	PerRoundDeadline time.Duration
	OverallDeadline  time.Duration
	MaxConcurrency   int
	Normalizer       research.Normalizer
}

// Validate fills defaults and rejects nonsense.
func (c *Config) Validate() error {
	if c.MaxCycles <= 0 {
		c.MaxCycles = 3
	}
	if c.PerRoundDeadline <= 0 {
		c.PerRoundDeadline = 60 * time.Second
	}
	if c.OverallDeadline <= 0 {
		c.OverallDeadline = 5 * time.Minute
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.Normalizer == nil {
		c.Normalizer = research.NormalizeIdentifier
	}
	return nil
}

// Checkpointer persists state snapshots between cycles; optional.
type Checkpointer interface {
	Save(ctx context.Context, st research.State) error
}

// Result is what the caller receives for every run, terminal in all
// cases: a report (possibly degraded), the final state snapshot, and
// the terminal status.
type Result struct {
	Report  string
	State   research.State
	Status  research.Status
	Partial bool
}

// Engine owns the orchestration graph for research runs. It is the only
// component that decides cycle termination; everything else is pure
// functions over state plus I/O confined to the source layer.
type Engine struct {
	planner    planner.Planner
	fallback   planner.Planner
	synth      planner.Synthesizer
	registry   *resilience.Registry
	expander   *expansion.Engine
	events     *events.Manager
	checkpoint Checkpointer
	cfg        Config
	logger     *zap.Logger
}

// New creates an engine. fallback and checkpoint may be nil; evs may be
// nil to disable progress notifications.
func New(pl planner.Planner, fallback planner.Planner, synth planner.Synthesizer,
	registry *resilience.Registry, expander *expansion.Engine, evs *events.Manager,
	checkpoint Checkpointer, cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		planner:    pl,
		fallback:   fallback,
		synth:      synth,
		registry:   registry,
		expander:   expander,
		events:     evs,
		checkpoint: checkpoint,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run executes one research query to a terminal status. Partial
// findings yield Done with the partial flag set; the run fails only
// when planning fails or every source is down before any finding
// arrived.
func (e *Engine) Run(ctx context.Context, query string) (Result, error) {
	return e.run(ctx, state.New(query, e.cfg.Normalizer, e.logger))
}

// Resume continues a run from a checkpointed snapshot. Planning starts
// over from the original query, but pairs that already succeeded are
// not re-fetched and the cycle counter carries on from where it
// stopped. A terminal snapshot is rejected.
func (e *Engine) Resume(ctx context.Context, st research.State) (Result, error) {
	if st.Status.Terminal() {
		return Result{}, fmt.Errorf("run %s already finished with status %s", st.RunID, st.Status)
	}
	store := state.New(st.Query, e.cfg.Normalizer, e.logger)
	store.Restore(st)
	return e.run(ctx, store)
}

func (e *Engine) run(ctx context.Context, store *state.Store) (Result, error) {
	runID := store.RunID()
	query := store.Snapshot().Query

	metrics.RunsStarted.Inc()
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.OverallDeadline)
	defer cancel()

	coordinator := fanout.New(e.registry, store, e.cfg.MaxConcurrency, e.progressFunc(store), e.logger)

	e.publish(store, events.TypeRunStarted, "")
	e.logger.Info("Research run started",
		zap.String("run_id", runID),
		zap.String("query", query),
	)

	var (
		node    = NodePlan
		subs    []research.SubQuery
		report  string
		runErr  error
		fetches int
	)
	for !node.Terminal() {
		var event Event
		switch node {
		case NodePlan:
			store.Merge(state.Delta{Status: research.StatusPlanning})
			planned, err := e.plan(runCtx, query)
			if err != nil {
				runErr = err
				event = EventPlanFailed
				break
			}
			subs = planned
			event = EventPlanReady
			e.publish(store, events.TypePlanReady, fmt.Sprintf("%d sub-queries", len(subs)))

		case NodeFetch:
			store.Merge(state.Delta{Status: research.StatusFetching, AdvanceCycle: true})
			snap := store.Snapshot()
			fetches++
			round := coordinator.Dispatch(runCtx, snap.Cycle, subs, e.roundDeadline(runCtx))
			e.publish(store, events.TypeCycleComplete,
				fmt.Sprintf("cycle %d: %d/%d completed", snap.Cycle, round.Completed, round.Total))

			after := store.Snapshot()
			if e.registry.AllOpen() && len(after.Findings) == 0 {
				runErr = errors.New("all sources unavailable before any finding arrived")
				event = EventSourcesDown
				break
			}
			e.saveCheckpoint(runCtx, store)
			event = EventRoundComplete

		case NodeExpand:
			store.Merge(state.Delta{Status: research.StatusExpanding})
			snap := store.Snapshot()
			if snap.Cycle >= e.cfg.MaxCycles || runCtx.Err() != nil {
				event = EventExhausted
				break
			}
			next := e.expander.Expand(snap)
			e.publish(store, events.TypeExpansion, fmt.Sprintf("%d follow-up sub-queries", len(next)))
			if len(next) == 0 {
				event = EventExhausted
				break
			}
			subs = next
			event = EventCandidatesReady

		case NodeSynthesize:
			store.Merge(state.Delta{Status: research.StatusSynthesizing})
			report = e.synthesize(ctx, store)
			event = EventSynthesized
		}

		next, err := Transition(node, event)
		if err != nil {
			// A wiring bug, not a runtime condition; abort the run.
			runErr = err
			next = NodeFailed
		}
		node = next
	}

	final := e.finish(store, node, runErr, start, fetches)
	return Result{
		Report:  report,
		State:   final,
		Status:  final.Status,
		Partial: final.Partial,
	}, runErr
}

// Events exposes the progress manager for subscription by the caller.
func (e *Engine) Events() *events.Manager { return e.events }

// plan tries the primary planner, then the fallback. Both failing is
// fatal.
func (e *Engine) plan(ctx context.Context, query string) ([]research.SubQuery, error) {
	subs, err := e.planner.Plan(ctx, query)
	if err == nil && len(subs) > 0 {
		return subs, nil
	}
	if e.fallback != nil {
		e.logger.Warn("Primary planner failed, using fallback", zap.Error(err))
		subs, ferr := e.fallback.Plan(ctx, query)
		if ferr == nil && len(subs) > 0 {
			return subs, nil
		}
	}
	if err == nil {
		err = planner.ErrPlanningFailed
	}
	return nil, err
}

// synthesize delegates to the external synthesizer, degrading to the
// raw findings dump on failure. It deliberately uses the caller's
// context rather than the run deadline so a run that spent its whole
// budget fetching still gets a report out.
func (e *Engine) synthesize(ctx context.Context, store *state.Store) string {
	snap := store.Snapshot()
	report, err := e.synth.Synthesize(ctx, snap)
	if err != nil {
		e.logger.Warn("Synthesis failed, emitting findings dump", zap.Error(err))
		e.publish(store, events.TypeSynthesis, "degraded to findings dump")
		return planner.FallbackReport(snap)
	}
	e.publish(store, events.TypeSynthesis, "report ready")
	return report
}

// roundDeadline bounds a fan-out round by the configured per-round
// deadline and whatever remains of the overall budget.
func (e *Engine) roundDeadline(ctx context.Context) time.Duration {
	d := e.cfg.PerRoundDeadline
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < d {
			d = remaining
		}
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

func (e *Engine) finish(store *state.Store, node Node, runErr error, start time.Time, fetches int) research.State {
	status := research.StatusDone
	if node == NodeFailed {
		status = research.StatusFailed
	}
	store.Merge(state.Delta{Status: status})
	final := store.Snapshot()

	metrics.RunsCompleted.WithLabelValues(string(status)).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	metrics.RunCycles.Observe(float64(fetches))

	e.publish(store, events.TypeRunCompleted, string(status))
	if e.events != nil {
		e.events.Complete(final.RunID)
	}
	e.logger.Info("Research run finished",
		zap.String("run_id", final.RunID),
		zap.String("status", string(status)),
		zap.Bool("partial", final.Partial),
		zap.Int("findings", len(final.Findings)),
		zap.Int("cycles", final.Cycle),
		zap.Error(runErr),
	)
	return final
}

func (e *Engine) saveCheckpoint(ctx context.Context, store *state.Store) {
	if e.checkpoint == nil {
		return
	}
	snap := store.Snapshot()
	if err := e.checkpoint.Save(ctx, snap); err != nil {
		e.logger.Warn("Checkpoint save failed",
			zap.String("run_id", snap.RunID),
			zap.Error(err),
		)
	}
}

func (e *Engine) progressFunc(store *state.Store) fanout.ProgressFunc {
	if e.events == nil {
		return nil
	}
	return func(completed, total int, key research.AttemptKey, outcome research.Outcome) {
		snap := store.Snapshot()
		e.events.Publish(events.Event{
			RunID:            snap.RunID,
			Type:             events.TypeFetchProgress,
			Cycle:            snap.Cycle,
			SourcesCompleted: completed,
			SourcesTotal:     total,
			Status:           snap.Status,
			Message:          fmt.Sprintf("%s/%s: %s", key.Source, key.Identifier, outcome),
		})
	}
}

func (e *Engine) publish(store *state.Store, eventType, msg string) {
	if e.events == nil {
		return
	}
	snap := store.Snapshot()
	e.events.Publish(events.Event{
		RunID:   snap.RunID,
		Type:    eventType,
		Cycle:   snap.Cycle,
		Status:  snap.Status,
		Message: msg,
	})
}
