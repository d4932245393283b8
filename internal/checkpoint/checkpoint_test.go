package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quarry-ai/quarry/internal/research"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStoreWithClient(client, time.Hour, zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	return store, mr
}

func sampleState(runID string) research.State {
	st := research.State{
		RunID:       runID,
		Query:       "boot loop on VIT-100",
		Identifiers: research.NewIdentifierSet(nil),
		Attempts:    make(research.AttemptMap),
		Findings: []research.Finding{{
			Source:     "jira",
			Identifier: "VIT-100",
			Payload:    map[string]any{"summary": "watchdog timeout"},
			Relevance:  1,
			Cycle:      1,
			Seq:        1,
		}},
		Cycle:  1,
		Status: research.StatusFetching,
	}
	st.Identifiers.Add("VIT-100")
	st.Attempts[research.AttemptKey{Source: "jira", Identifier: "VIT-100"}] = research.OutcomeSuccess
	return st
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	st := sampleState("run-1")
	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, st.Query, loaded.Query)
	assert.Equal(t, st.Cycle, loaded.Cycle)
	assert.Equal(t, []string{"VIT-100"}, loaded.Identifiers.Values())
	require.Len(t, loaded.Findings, 1)
	assert.Equal(t, "watchdog timeout", loaded.Findings[0].Payload["summary"])

	outcome, ok := loaded.Attempted(research.AttemptKey{Source: "jira", Identifier: "VIT-100"})
	require.True(t, ok)
	assert.Equal(t, research.OutcomeSuccess, outcome)
}

func TestSaveRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("run-1")))
	assert.Greater(t, mr.TTL(stateKey("run-1")), time.Duration(0))

	mr.FastForward(30 * time.Minute)
	require.NoError(t, store.Save(ctx, sampleState("run-1")))
	assert.Equal(t, time.Hour, mr.TTL(stateKey("run-1")))
}

func TestLoadMissingRun(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestCheckpointExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("run-1")))
	mr.FastForward(2 * time.Hour)

	_, err := store.Load(ctx, "run-1")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("run-1")))
	require.NoError(t, store.Delete(ctx, "run-1"))

	_, err := store.Load(ctx, "run-1")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRunsIsolatedByKey(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a := sampleState("run-a")
	b := sampleState("run-b")
	b.Cycle = 3
	require.NoError(t, store.Save(ctx, a))
	require.NoError(t, store.Save(ctx, b))

	loadedA, err := store.Load(ctx, "run-a")
	require.NoError(t, err)
	loadedB, err := store.Load(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, 1, loadedA.Cycle)
	assert.Equal(t, 3, loadedB.Cycle)
}
