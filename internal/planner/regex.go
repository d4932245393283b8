package planner

import (
	"context"

	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/expansion"
	"github.com/quarry-ai/quarry/internal/research"
	"github.com/quarry-ai/quarry/internal/source"
)

// RegexPlanner seeds sub-queries from the identifiers embedded in the
// query text itself, one fan-out per identifier kind. When the query
// carries no identifiers it falls back to a free-text search against
// every source. It needs no model and serves as the fallback when the
// LLM planner is unreachable.
type RegexPlanner struct {
	patterns  []expansion.Pattern
	normalize research.Normalizer
	sources   []string
	logger    *zap.Logger
}

// NewRegexPlanner creates a planner over the given source names. nil
// patterns and normalizer fall back to the defaults.
func NewRegexPlanner(patterns []expansion.Pattern, normalize research.Normalizer, sources []string, logger *zap.Logger) *RegexPlanner {
	if patterns == nil {
		patterns = expansion.DefaultPatterns()
	}
	if normalize == nil {
		normalize = research.NormalizeIdentifier
	}
	return &RegexPlanner{patterns: patterns, normalize: normalize, sources: sources, logger: logger}
}

// Plan extracts identifiers from the query and emits their sub-queries
// at full relevance.
func (p *RegexPlanner) Plan(_ context.Context, query string) ([]research.SubQuery, error) {
	seen := make(map[string]struct{})
	var subs []research.SubQuery
	for _, pat := range p.patterns {
		for _, raw := range pat.Re.FindAllString(query, -1) {
			id := p.normalize(raw)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			subs = append(subs, SeedSubQueries(pat.Kind, id)...)
		}
	}
	if len(subs) > 0 {
		p.logger.Info("Planned from query identifiers",
			zap.Int("identifiers", len(seen)),
			zap.Int("sub_queries", len(subs)),
		)
		return subs, nil
	}

	// No structured identifiers: free-text search on every source.
	for _, src := range p.sources {
		subs = append(subs, research.SubQuery{
			Source:    src,
			Operation: searchOpFor(src),
			Params:    map[string]any{"query": query},
			Relevance: 1.0,
		})
	}
	p.logger.Info("Planned free-text search", zap.Int("sub_queries", len(subs)))
	return subs, nil
}

// SeedSubQueries maps an identifier found in the original query to its
// initial fan-out at full relevance.
func SeedSubQueries(kind, id string) []research.SubQuery {
	switch kind {
	case "ticket":
		return []research.SubQuery{
			{Source: source.SourceJira, Identifier: id, Operation: source.OpGetIssueDetails,
				Params: map[string]any{"key": id}, Relevance: 1.0},
			{Source: source.SourcePerforce, Identifier: id, Operation: source.OpSearchChangelists,
				Params: map[string]any{"query": id}, Relevance: 1.0},
		}
	case "release":
		return []research.SubQuery{
			{Source: source.SourcePerforce, Identifier: id, Operation: source.OpSearchChangelists,
				Params: map[string]any{"query": id}, Relevance: 1.0},
			{Source: source.SourceJira, Identifier: id, Operation: source.OpSearchIssues,
				Params: map[string]any{"query": id}, Relevance: 1.0},
			{Source: source.SourceConfluence, Identifier: id, Operation: source.OpSearchPages,
				Params: map[string]any{"query": id}, Relevance: 1.0},
		}
	case "changelist":
		return []research.SubQuery{
			{Source: source.SourcePerforce, Identifier: id, Operation: source.OpGetChangelistDetails,
				Params: map[string]any{"changelist": id}, Relevance: 1.0},
		}
	default:
		return nil
	}
}

func searchOpFor(src string) string {
	switch src {
	case source.SourcePerforce:
		return source.OpSearchChangelists
	case source.SourceConfluence:
		return source.OpSearchPages
	default:
		return source.OpSearchIssues
	}
}
