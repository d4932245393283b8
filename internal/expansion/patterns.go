package expansion

import (
	"regexp"

	"github.com/quarry-ai/quarry/internal/research"
	"github.com/quarry-ai/quarry/internal/source"
)

// Pattern recognizes one shape of cross-reference identifier inside
// free text.
type Pattern struct {
	// Kind names the identifier family ("ticket", "release",
	// "changelist").
	Kind string
	// Re matches candidate tokens; the whole match is the raw
	// identifier, normalized before dedup.
	Re *regexp.Regexp
}

// DefaultPatterns returns the identifier shapes the enterprise sources
// embed in descriptions and page bodies.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Kind: "ticket", Re: regexp.MustCompile(`(?i)\b(?:VIT|VFIT|CR|INC)-?\d+\b`)},
		{Kind: "release", Re: regexp.MustCompile(`(?i)\bMTV\d{3,}\b`)},
		{Kind: "changelist", Re: regexp.MustCompile(`(?i)\b(?:CL|changelist)[\s:#-]*\d{6,8}\b`)},
	}
}

// subQueriesFor maps a scored candidate to the follow-up sub-queries
// that chase it. A reference found in one source is searched across the
// others too: a ticket seen in a changelist description is looked up in
// the tracker and searched in the wiki.
func subQueriesFor(kind, id string, score float64) []research.SubQuery {
	switch kind {
	case "ticket":
		return []research.SubQuery{
			{Source: source.SourceJira, Identifier: id, Operation: source.OpGetIssueDetails,
				Params: map[string]any{"key": id}, Relevance: score},
			{Source: source.SourcePerforce, Identifier: id, Operation: source.OpSearchChangelists,
				Params: map[string]any{"query": id}, Relevance: score},
			{Source: source.SourceConfluence, Identifier: id, Operation: source.OpSearchPages,
				Params: map[string]any{"query": id}, Relevance: score},
		}
	case "release":
		return []research.SubQuery{
			{Source: source.SourcePerforce, Identifier: id, Operation: source.OpSearchChangelists,
				Params: map[string]any{"query": id}, Relevance: score},
			{Source: source.SourceJira, Identifier: id, Operation: source.OpSearchIssues,
				Params: map[string]any{"query": id}, Relevance: score},
			{Source: source.SourceConfluence, Identifier: id, Operation: source.OpSearchPages,
				Params: map[string]any{"query": id}, Relevance: score},
		}
	case "changelist":
		return []research.SubQuery{
			{Source: source.SourcePerforce, Identifier: id, Operation: source.OpGetChangelistDetails,
				Params: map[string]any{"changelist": id}, Relevance: score},
			{Source: source.SourceJira, Identifier: id, Operation: source.OpSearchIssues,
				Params: map[string]any{"query": id}, Relevance: score},
		}
	default:
		return nil
	}
}
