// Package mcpsource adapts an MCP tool server into a source client.
// The enterprise systems expose their search operations as MCP tools
// (search_jira_issues, get_perforce_changelist_details, ...); this
// adapter maps the orchestrator's operation names onto those tools and
// classifies transport failures for the resilience layer.
package mcpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/source"
)

var clientImpl = &mcp.Implementation{Name: "quarry-orchestrator", Version: "0.1.0"}

// Client is one source backed by an MCP session. Operations map 1:1 to
// tool names on the server.
type Client struct {
	name    string
	toolMap map[string]string // operation -> tool name
	logger  *zap.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

// New connects to the MCP server over the given transport and returns
// a source client for it. toolMap maps orchestrator operation names to
// the server's tool names.
func New(ctx context.Context, name string, transport mcp.Transport, toolMap map[string]string, logger *zap.Logger) (*Client, error) {
	client := mcp.NewClient(clientImpl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp source %s: %w", name, err)
	}
	return &Client{
		name:    name,
		toolMap: toolMap,
		logger:  logger,
		session: session,
	}, nil
}

// Name returns the source name.
func (c *Client) Name() string { return c.name }

// Operations lists the mapped operation names.
func (c *Client) Operations() []string {
	ops := make([]string, 0, len(c.toolMap))
	for op := range c.toolMap {
		ops = append(ops, op)
	}
	return ops
}

// Invoke calls the mapped tool and decodes its result into a payload.
func (c *Client) Invoke(ctx context.Context, operation string, params map[string]any) (source.Payload, error) {
	tool, ok := c.toolMap[operation]
	if !ok {
		return nil, source.NewError(source.FailurePermanent, c.name, operation,
			fmt.Errorf("source does not expose operation %q", operation))
	}

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, source.NewError(source.FailureUnavailable, c.name, operation,
			errors.New("mcp session closed"))
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: params,
	})
	if err != nil {
		return nil, c.classify(operation, err)
	}
	if err := result.GetError(); err != nil {
		return nil, c.classifyToolError(operation, err)
	}
	return decodeResult(result)
}

// Close shuts down the MCP session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// classify maps transport-level errors onto the failure taxonomy:
// context expiry is transient, a dead connection is unavailable.
func (c *Client) classify(operation string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return source.NewError(source.FailureTransient, c.name, operation, err)
	default:
		return source.NewError(source.FailureUnavailable, c.name, operation, err)
	}
}

// classifyToolError maps an in-band tool error onto the taxonomy based
// on the server's message. Rate limiting is the only retryable in-band
// failure; everything else is treated as a bad request.
func (c *Client) classifyToolError(operation string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return source.NewRateLimited(c.name, operation, 0, err)
	}
	if strings.Contains(msg, "unavailable") || strings.Contains(msg, "connection") {
		return source.NewError(source.FailureUnavailable, c.name, operation, err)
	}
	return source.NewError(source.FailurePermanent, c.name, operation, err)
}

// decodeResult extracts a payload from the tool result: structured
// content when present, otherwise JSON text content, otherwise the raw
// text.
func decodeResult(result *mcp.CallToolResult) (source.Payload, error) {
	if m, ok := result.StructuredContent.(map[string]any); ok && len(m) > 0 {
		return source.Payload(m), nil
	}
	for _, content := range result.Content {
		tc, ok := content.(*mcp.TextContent)
		if !ok {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(tc.Text), &m); err == nil {
			return source.Payload(m), nil
		}
		return source.Payload{"text": tc.Text}, nil
	}
	return source.Payload{}, nil
}

// DefaultToolMaps returns the operation-to-tool mappings for the three
// standard enterprise sources.
func DefaultToolMaps() map[string]map[string]string {
	return map[string]map[string]string{
		source.SourcePerforce: {
			source.OpSearchChangelists:    "search_perforce_changelists",
			source.OpGetChangelistDetails: "get_perforce_changelist_details",
		},
		source.SourceJira: {
			source.OpSearchIssues:    "search_jira_issues",
			source.OpGetIssueDetails: "get_jira_issue_details",
		},
		source.SourceConfluence: {
			source.OpSearchPages:    "search_confluence_pages",
			source.OpGetPageContent: "get_confluence_page_content",
		},
	}
}
