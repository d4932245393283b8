package mcpsource

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quarry-ai/quarry/internal/source"
)

type issueQuery struct {
	Key string `json:"key"`
}

type issueDetails struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
}

// startFakeJira serves a minimal jira-shaped MCP tool server over an
// in-memory transport and returns a connected source client.
func startFakeJira(t *testing.T, handler func(ctx context.Context, req *mcp.CallToolRequest, in issueQuery) (*mcp.CallToolResult, issueDetails, error)) *Client {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	server := mcp.NewServer(&mcp.Implementation{Name: "fake-jira", Version: "0.1.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "get_jira_issue_details", Description: "fetch one issue"}, handler)

	_, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client, err := New(ctx, source.SourceJira, clientTransport,
		DefaultToolMaps()[source.SourceJira], zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return client
}

func TestInvokeDecodesStructuredContent(t *testing.T) {
	client := startFakeJira(t, func(ctx context.Context, req *mcp.CallToolRequest, in issueQuery) (*mcp.CallToolResult, issueDetails, error) {
		return nil, issueDetails{Key: in.Key, Summary: "watchdog timeout during boot"}, nil
	})

	payload, err := client.Invoke(context.Background(), source.OpGetIssueDetails, map[string]any{"key": "VIT-100"})
	require.NoError(t, err)
	assert.Equal(t, "VIT-100", payload["key"])
	assert.Equal(t, "watchdog timeout during boot", payload["summary"])
}

func TestInvokeUnknownOperationIsPermanent(t *testing.T) {
	client := startFakeJira(t, func(ctx context.Context, req *mcp.CallToolRequest, in issueQuery) (*mcp.CallToolResult, issueDetails, error) {
		return nil, issueDetails{}, nil
	})

	_, err := client.Invoke(context.Background(), source.OpGetChangelistDetails, nil)
	require.Error(t, err)
	assert.Equal(t, source.FailurePermanent, source.KindOf(err))
}

func TestInvokeToolErrorRateLimited(t *testing.T) {
	client := startFakeJira(t, func(ctx context.Context, req *mcp.CallToolRequest, in issueQuery) (*mcp.CallToolResult, issueDetails, error) {
		return nil, issueDetails{}, errors.New("rate limit exceeded, slow down")
	})

	_, err := client.Invoke(context.Background(), source.OpGetIssueDetails, map[string]any{"key": "VIT-100"})
	require.Error(t, err)
	assert.Equal(t, source.FailureRateLimited, source.KindOf(err))
}

func TestInvokeToolErrorPermanent(t *testing.T) {
	client := startFakeJira(t, func(ctx context.Context, req *mcp.CallToolRequest, in issueQuery) (*mcp.CallToolResult, issueDetails, error) {
		return nil, issueDetails{}, errors.New("no issue with key VIT-999")
	})

	_, err := client.Invoke(context.Background(), source.OpGetIssueDetails, map[string]any{"key": "VIT-999"})
	require.Error(t, err)
	assert.Equal(t, source.FailurePermanent, source.KindOf(err))
}

func TestInvokeAfterCloseIsUnavailable(t *testing.T) {
	client := startFakeJira(t, func(ctx context.Context, req *mcp.CallToolRequest, in issueQuery) (*mcp.CallToolResult, issueDetails, error) {
		return nil, issueDetails{}, nil
	})
	require.NoError(t, client.Close())

	_, err := client.Invoke(context.Background(), source.OpGetIssueDetails, map[string]any{"key": "VIT-100"})
	require.Error(t, err)
	assert.Equal(t, source.FailureUnavailable, source.KindOf(err))
}

func TestOperationsListsMappedOps(t *testing.T) {
	client := startFakeJira(t, func(ctx context.Context, req *mcp.CallToolRequest, in issueQuery) (*mcp.CallToolResult, issueDetails, error) {
		return nil, issueDetails{}, nil
	})

	ops := client.Operations()
	assert.ElementsMatch(t, []string{source.OpSearchIssues, source.OpGetIssueDetails}, ops)
}

func TestDefaultToolMapsCoverAllSources(t *testing.T) {
	maps := DefaultToolMaps()
	require.Contains(t, maps, source.SourcePerforce)
	require.Contains(t, maps, source.SourceJira)
	require.Contains(t, maps, source.SourceConfluence)
	assert.Equal(t, "search_perforce_changelists", maps[source.SourcePerforce][source.OpSearchChangelists])
	assert.Equal(t, "get_jira_issue_details", maps[source.SourceJira][source.OpGetIssueDetails])
	assert.Equal(t, "search_confluence_pages", maps[source.SourceConfluence][source.OpSearchPages])
}
