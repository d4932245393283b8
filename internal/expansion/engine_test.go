package expansion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quarry-ai/quarry/internal/research"
	"github.com/quarry-ai/quarry/internal/source"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	return New(nil, cfg, zaptest.NewLogger(t))
}

func stateWith(query string, cycle int, findings ...research.Finding) research.State {
	st := research.State{
		Query:       query,
		Cycle:       cycle,
		Identifiers: research.NewIdentifierSet(nil),
		Attempts:    make(research.AttemptMap),
		Findings:    findings,
	}
	for _, f := range findings {
		st.Identifiers.Add(f.Identifier)
	}
	return st
}

func finding(src, id string, cycle int, text string) research.Finding {
	return research.Finding{
		Source:     src,
		Identifier: id,
		Cycle:      cycle,
		Payload:    map[string]any{"description": text},
	}
}

func TestCandidatesDiscoversCrossReferences(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := stateWith("boot loop on VIT-100", 1,
		finding("jira", "VIT-100", 1, "Boot loop introduced by CL 1234567, see also VIT-200"),
	)

	candidates := e.Candidates(st)
	require.Len(t, candidates, 2)
	ids := []string{candidates[0].Identifier, candidates[1].Identifier}
	assert.Contains(t, ids, "CL-1234567")
	assert.Contains(t, ids, "VIT-200")
}

func TestCandidatesSkipsKnownIdentifiers(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "Duplicate of VIT-100, related to VIT-200"),
	)

	candidates := e.Candidates(st)
	require.Len(t, candidates, 1)
	assert.Equal(t, "VIT-200", candidates[0].Identifier)
}

func TestCandidatesSkipsAttempted(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "See VIT-200 and VIT-300"),
	)
	st.Attempts[research.AttemptKey{Source: "jira", Identifier: "VIT-200"}] = research.OutcomeFailure

	candidates := e.Candidates(st)
	require.Len(t, candidates, 1)
	assert.Equal(t, "VIT-300", candidates[0].Identifier)
}

func TestCandidatesOnlyLatestCycleHarvested(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := stateWith("boot loop", 2,
		finding("jira", "VIT-100", 1, "Old finding mentioning VIT-999"),
		finding("perforce", "CL-1234567", 2, "New finding mentioning VIT-200"),
	)

	candidates := e.Candidates(st)
	require.Len(t, candidates, 1)
	assert.Equal(t, "VIT-200", candidates[0].Identifier)
}

func TestCandidatesNormalizedDedup(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "Fixed in VIT200, duplicate of vit-200"),
	)

	candidates := e.Candidates(st)
	require.Len(t, candidates, 1)
	assert.Equal(t, "VIT-200", candidates[0].Identifier)
	assert.Equal(t, 1, candidates[0].Mentions)
}

func TestScoreMonotoneInMentions(t *testing.T) {
	prev := -1.0
	for mentions := 1; mentions <= 20; mentions++ {
		s := score(mentions, false)
		assert.GreaterOrEqual(t, s, prev, "score must never drop as mentions grow")
		assert.LessOrEqual(t, s, 1.0)
		prev = s
	}
	assert.Greater(t, score(3, true), score(3, false))
	assert.LessOrEqual(t, score(100, true), 1.0)
}

func TestCorroborationAcrossFindingsRaisesScore(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})

	single := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "See CL 1234567"),
	)
	multi := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "See CL 1234567"),
		finding("confluence", "PAGE-1", 1, "Postmortem covers CL-1234567"),
		finding("jira", "VIT-101", 1, "Regressed by CL 1234567"),
	)

	one := e.Candidates(single)
	many := e.Candidates(multi)
	require.NotEmpty(t, one)
	require.NotEmpty(t, many)
	assert.Greater(t, many[0].Score, one[0].Score)
	assert.Equal(t, 3, many[0].Mentions)
}

func TestExpandThresholdExcludesWeakCandidates(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0.9})
	st := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "See VIT-200"),
	)

	assert.Empty(t, e.Expand(st))
	// The candidate is still visible below the threshold.
	assert.Len(t, e.Candidates(st), 1)
}

func TestExpandWidthCap(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0, MaxWidth: 2})
	st := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "Chain: VIT-201 VIT-202 VIT-203 VIT-204 VIT-205"),
	)

	subs := e.Expand(st)
	seen := make(map[string]bool)
	for _, sq := range subs {
		seen[sq.Identifier] = true
	}
	assert.Len(t, seen, 2)
}

func TestExpandTicketFansOutAcrossSources(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := stateWith("boot loop", 1,
		finding("perforce", "CL-1234567", 1, "Fixes VIT-200"),
	)

	subs := e.Expand(st)
	require.Len(t, subs, 3)
	ops := make(map[string]string)
	for _, sq := range subs {
		assert.Equal(t, "VIT-200", sq.Identifier)
		ops[sq.Source] = sq.Operation
	}
	assert.Equal(t, source.OpGetIssueDetails, ops[source.SourceJira])
	assert.Equal(t, source.OpSearchChangelists, ops[source.SourcePerforce])
	assert.Equal(t, source.OpSearchPages, ops[source.SourceConfluence])
}

func TestExpandChangelistFollowUps(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "Introduced by CL 7654321"),
	)

	subs := e.Expand(st)
	require.Len(t, subs, 2)
	assert.Equal(t, source.SourcePerforce, subs[0].Source)
	assert.Equal(t, source.OpGetChangelistDetails, subs[0].Operation)
	assert.Equal(t, "CL-7654321", subs[0].Identifier)
}

func TestExpandConvergesWhenNothingNew(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := stateWith("boot loop", 1,
		finding("jira", "VIT-100", 1, "No references here at all"),
	)
	assert.Empty(t, e.Expand(st))

	empty := stateWith("boot loop", 1)
	assert.Empty(t, e.Expand(empty))
}

func TestNestedPayloadScanned(t *testing.T) {
	e := newEngine(t, Config{RelevanceThreshold: 0})
	st := research.State{
		Query:       "boot loop",
		Cycle:       1,
		Identifiers: research.NewIdentifierSet(nil),
		Attempts:    make(research.AttemptMap),
		Findings: []research.Finding{{
			Source:     "jira",
			Identifier: "VIT-100",
			Cycle:      1,
			Payload: map[string]any{
				"comments": []any{
					map[string]any{"body": "root cause tracked in INC-42"},
				},
			},
		}},
	}
	st.Identifiers.Add("VIT-100")

	candidates := e.Candidates(st)
	require.Len(t, candidates, 1)
	assert.Equal(t, "INC-42", candidates[0].Identifier)
}
