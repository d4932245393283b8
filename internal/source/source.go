// Package source defines the uniform client contract for the external
// enterprise systems and the failure taxonomy shared by every layer
// above it.
package source

import "context"

// Payload is the structured content returned by a source operation.
// The orchestration core treats it as opaque.
type Payload map[string]any

// Client issues named read-only operations against one external source.
// Implementations validate parameters themselves; the core only routes.
type Client interface {
	// Name returns the source identifier (e.g. "jira", "perforce").
	Name() string
	// Operations lists the operation names the source exposes.
	Operations() []string
	// Invoke executes one operation. Errors must be classified via
	// this package's Error type so the resilience layer can decide
	// whether to retry.
	Invoke(ctx context.Context, operation string, params map[string]any) (Payload, error)
}

// Well-known source names, matching the enterprise systems the research
// runs against.
const (
	SourcePerforce   = "perforce"
	SourceJira       = "jira"
	SourceConfluence = "confluence"
)

// Operation names exposed by the standard adapters.
const (
	OpSearchChangelists    = "search_changelists"
	OpGetChangelistDetails = "get_changelist_details"
	OpSearchIssues         = "search_issues"
	OpGetIssueDetails      = "get_issue_details"
	OpSearchPages          = "search_pages"
	OpGetPageContent       = "get_page_content"
)
