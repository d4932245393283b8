package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPlanning.Terminal())
	assert.False(t, StatusFetching.Terminal())
	assert.False(t, StatusExpanding.Terminal())
	assert.False(t, StatusSynthesizing.Terminal())
}

func TestFindingAndSubQueryKeys(t *testing.T) {
	f := Finding{Source: "jira", Identifier: "VIT-100"}
	sq := SubQuery{Source: "jira", Identifier: "VIT-100", Operation: "get_issue_details"}
	assert.Equal(t, f.Key(), sq.Key())
	assert.Equal(t, AttemptKey{Source: "jira", Identifier: "VIT-100"}, f.Key())
}

func TestFindingsForCycle(t *testing.T) {
	st := State{Findings: []Finding{
		{Source: "jira", Identifier: "VIT-1", Cycle: 1},
		{Source: "perforce", Identifier: "CL-123456", Cycle: 2},
		{Source: "jira", Identifier: "VIT-2", Cycle: 2},
	}}

	latest := st.FindingsForCycle(2)
	require.Len(t, latest, 2)
	for _, f := range latest {
		assert.Equal(t, 2, f.Cycle)
	}
	assert.Empty(t, st.FindingsForCycle(3))
}

func TestAttempted(t *testing.T) {
	st := State{Attempts: AttemptMap{
		{Source: "jira", Identifier: "VIT-1"}: OutcomeSuccess,
	}}

	outcome, ok := st.Attempted(AttemptKey{Source: "jira", Identifier: "VIT-1"})
	require.True(t, ok)
	assert.Equal(t, OutcomeSuccess, outcome)

	_, ok = st.Attempted(AttemptKey{Source: "jira", Identifier: "VIT-2"})
	assert.False(t, ok)
}
