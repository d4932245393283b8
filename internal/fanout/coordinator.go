// Package fanout dispatches independent sub-queries concurrently
// through the resilience layer, streaming each result into the state
// store as it completes so slow sources never block fast ones.
package fanout

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/quarry-ai/quarry/internal/research"
	"github.com/quarry-ai/quarry/internal/resilience"
	"github.com/quarry-ai/quarry/internal/state"
)

// ProgressFunc is invoked after each sub-query terminates, with the
// number of completed and total sub-queries in the round.
type ProgressFunc func(completed, total int, key research.AttemptKey, outcome research.Outcome)

// RoundResult summarizes one fan-out round.
type RoundResult struct {
	Total      int
	Completed  int
	Succeeded  int
	Failed     int
	Skipped    int
	Partial    bool
	Unresolved []research.AttemptKey
}

// Coordinator bounds in-flight concurrency and enforces the per-round
// deadline. It holds no mutable state of its own across rounds; all
// outcome bookkeeping lives in the state store.
type Coordinator struct {
	registry       *resilience.Registry
	store          *state.Store
	maxConcurrency int64
	logger         *zap.Logger
	onProgress     ProgressFunc
}

// New creates a coordinator. maxConcurrency values below 1 are clamped
// to 1. onProgress may be nil.
func New(registry *resilience.Registry, store *state.Store, maxConcurrency int, onProgress ProgressFunc, logger *zap.Logger) *Coordinator {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Coordinator{
		registry:       registry,
		store:          store,
		maxConcurrency: int64(maxConcurrency),
		logger:         logger,
		onProgress:     onProgress,
	}
}

// Dispatch fans the sub-queries out concurrently and returns when every
// one has terminated or the round deadline expires. Sub-queries whose
// (source, identifier) pair already succeeded, or is still pending from
// an earlier round, are skipped. Work still in flight at the deadline
// is abandoned: its eventual result is discarded on arrival and the
// pair is reported unresolved.
func (c *Coordinator) Dispatch(ctx context.Context, cycle int, subs []research.SubQuery, deadline time.Duration) RoundResult {
	snap := c.store.Snapshot()

	var result RoundResult
	pending := make(map[research.AttemptKey]research.SubQuery)
	for _, sq := range subs {
		key := sq.Key()
		if _, dup := pending[key]; dup {
			result.Skipped++
			continue
		}
		if outcome, ok := snap.Attempted(key); ok && outcome != research.OutcomeFailure {
			result.Skipped++
			continue
		}
		pending[key] = sq
	}
	result.Total = len(pending)
	if result.Total == 0 {
		return result
	}

	// Record pending outcomes and newly targeted identifiers before
	// any work starts, so a second dispatch within the run cannot
	// double-send the same pair.
	mark := state.Delta{Attempts: make(map[research.AttemptKey]research.Outcome, len(pending))}
	for key, sq := range pending {
		mark.Attempts[key] = research.OutcomePending
		if sq.Identifier != "" {
			mark.Identifiers = append(mark.Identifiers, sq.Identifier)
		}
	}
	c.store.Merge(mark)

	roundCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		closed    bool
		completed int
	)
	sem := semaphore.NewWeighted(c.maxConcurrency)
	resolved := make(map[research.AttemptKey]bool, len(pending))

	// commit merges a terminal outcome unless the round summary has
	// already been taken; after that the result is discarded and the
	// pair stays pending. Merging under the lock keeps the store and
	// the unresolved list consistent with each other.
	commit := func(key research.AttemptKey, delta state.Delta, outcome research.Outcome) {
		mu.Lock()
		if closed {
			mu.Unlock()
			return
		}
		c.store.Merge(delta)
		resolved[key] = true
		completed++
		done, total := completed, len(pending)
		mu.Unlock()

		if c.onProgress != nil {
			c.onProgress(done, total, key, outcome)
		}
	}

	for key, sq := range pending {
		wg.Add(1)
		go func(key research.AttemptKey, sq research.SubQuery) {
			defer wg.Done()
			if err := sem.Acquire(roundCtx, 1); err != nil {
				return // deadline hit while queued; stays pending
			}
			defer sem.Release(1)

			c.execute(roundCtx, cycle, sq, commit)
		}(key, sq)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-roundCtx.Done():
		// Abandon in-flight work. The goroutines observe the expired
		// context and discard their results on arrival, so the round
		// can be reported without waiting for slow sources.
	}

	mu.Lock()
	defer mu.Unlock()
	closed = true
	result.Completed = completed
	for key := range pending {
		if resolved[key] {
			continue
		}
		result.Unresolved = append(result.Unresolved, key)
	}
	sort.Slice(result.Unresolved, func(i, j int) bool {
		a, b := result.Unresolved[i], result.Unresolved[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Identifier < b.Identifier
	})
	if len(result.Unresolved) > 0 {
		result.Partial = true
		c.store.Merge(state.Delta{Partial: true, Unresolved: result.Unresolved})
		c.logger.Warn("Fan-out round completed partially",
			zap.Int("cycle", cycle),
			zap.Int("completed", completed),
			zap.Int("unresolved", len(result.Unresolved)),
		)
	}

	final := c.store.Snapshot()
	for key := range pending {
		if outcome, ok := final.Attempted(key); ok && outcome == research.OutcomeSuccess {
			result.Succeeded++
		} else if resolved[key] {
			result.Failed++
		}
	}
	return result
}

// execute runs one sub-query and commits its terminal outcome through
// the round's commit function. Results arriving after the deadline are
// discarded and the pair stays pending.
func (c *Coordinator) execute(ctx context.Context, cycle int, sq research.SubQuery, commit func(research.AttemptKey, state.Delta, research.Outcome)) {
	wrapper, err := c.registry.Get(sq.Source)
	if err != nil {
		commit(sq.Key(), state.Delta{Attempts: map[research.AttemptKey]research.Outcome{
			sq.Key(): research.OutcomeFailure,
		}}, research.OutcomeFailure)
		return
	}

	payload, err := wrapper.Invoke(ctx, sq.Operation, sq.Params)
	if ctx.Err() != nil {
		// Abandoned at the deadline; the pair stays pending and is
		// reported unresolved by the caller, even when the result
		// arrived just after the cutoff.
		return
	}
	if err != nil {
		c.logger.Debug("Sub-query failed",
			zap.String("source", sq.Source),
			zap.String("identifier", sq.Identifier),
			zap.Error(err),
		)
		commit(sq.Key(), state.Delta{Attempts: map[research.AttemptKey]research.Outcome{
			sq.Key(): research.OutcomeFailure,
		}}, research.OutcomeFailure)
		return
	}

	commit(sq.Key(), state.Delta{
		Findings: []research.Finding{{
			Source:     sq.Source,
			Identifier: sq.Identifier,
			Payload:    payload,
			Relevance:  sq.Relevance,
			Cycle:      cycle,
		}},
		Attempts: map[research.AttemptKey]research.Outcome{
			sq.Key(): research.OutcomeSuccess,
		},
	}, research.OutcomeSuccess)
}
