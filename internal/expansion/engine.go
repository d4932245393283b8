// Package expansion scans freshly merged findings for cross-reference
// identifiers not yet searched and turns the best candidates into the
// next round of sub-queries.
package expansion

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/metrics"
	"github.com/quarry-ai/quarry/internal/research"
)

// Candidate is one scored expansion candidate.
type Candidate struct {
	Identifier string
	Kind       string
	// Mentions counts occurrences across all fetched findings, not
	// just the cycle that surfaced the candidate.
	Mentions int
	Score    float64
}

// Config controls candidate qualification.
type Config struct {
	// RelevanceThreshold drops candidates scoring below it.
	RelevanceThreshold float64
	// MaxWidth caps qualifying candidates per cycle to bound growth.
	MaxWidth int
}

// Engine discovers and scores secondary-expansion candidates. It is a
// pure function over the state snapshot; all I/O stays in the fan-out
// layer.
type Engine struct {
	patterns []Pattern
	cfg      Config
	logger   *zap.Logger
}

// New creates an engine with the given patterns; nil falls back to
// DefaultPatterns.
func New(patterns []Pattern, cfg Config, logger *zap.Logger) *Engine {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 12
	}
	return &Engine{patterns: patterns, cfg: cfg, logger: logger}
}

// Expand scans the latest cycle's findings and returns follow-up
// sub-queries for candidates that qualify. An empty result means the
// expansion loop has converged.
func (e *Engine) Expand(st research.State) []research.SubQuery {
	candidates := e.Candidates(st)

	qualifying := 0
	var subs []research.SubQuery
	for _, c := range candidates {
		if c.Score < e.cfg.RelevanceThreshold {
			// Low-confidence candidates are excluded, never guessed at.
			continue
		}
		if qualifying >= e.cfg.MaxWidth {
			break
		}
		qualifying++
		subs = append(subs, subQueriesFor(c.Kind, c.Identifier, c.Score)...)
	}
	metrics.ExpansionCandidates.Observe(float64(qualifying))

	e.logger.Debug("Expansion scan complete",
		zap.Int("cycle", st.Cycle),
		zap.Int("candidates", len(candidates)),
		zap.Int("qualifying", qualifying),
	)
	return subs
}

// Candidates returns all new candidates ordered by descending score,
// including those below the threshold. Candidates already present in
// the identifier set or already attempted are excluded.
func (e *Engine) Candidates(st research.State) []Candidate {
	recent := st.FindingsForCycle(st.Cycle)
	if len(recent) == 0 {
		return nil
	}

	// Harvest raw tokens from the latest cycle only; corroboration is
	// counted across everything fetched so far.
	found := make(map[string]string) // normalized id -> kind
	for _, f := range recent {
		text := flatten(f.Payload)
		for _, p := range e.patterns {
			for _, raw := range p.Re.FindAllString(text, -1) {
				id := st.Identifiers.Normalize(raw)
				if id == "" || st.Identifiers.Contains(id) {
					continue
				}
				if attempted(st, id) {
					continue
				}
				if _, ok := found[id]; !ok {
					found[id] = p.Kind
				}
			}
		}
	}
	if len(found) == 0 {
		return nil
	}

	allTexts := make([]string, 0, len(st.Findings))
	for _, f := range st.Findings {
		allTexts = append(allTexts, flatten(f.Payload))
	}
	queryTerms := significantTerms(st.Query)

	candidates := make([]Candidate, 0, len(found))
	for id, kind := range found {
		mentions, nearQuery := corroborate(id, allTexts, queryTerms, st.Identifiers.Normalize)
		candidates = append(candidates, Candidate{
			Identifier: id,
			Kind:       kind,
			Mentions:   mentions,
			Score:      score(mentions, nearQuery),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Identifier < candidates[j].Identifier
	})
	return candidates
}

// score combines mention frequency with query proximity. It is
// monotone: more corroborating mentions never lower the score.
func score(mentions int, nearQuery bool) float64 {
	s := float64(mentions) / (float64(mentions) + 2)
	if nearQuery {
		s += 0.2
	}
	if s > 1 {
		s = 1
	}
	return s
}

// corroborate counts how many fetched findings mention the identifier
// and whether any mentioning text also carries a term from the original
// query.
func corroborate(id string, texts []string, queryTerms []string, normalize research.Normalizer) (int, bool) {
	mentions := 0
	nearQuery := false
	needle := strings.ToUpper(id)
	// Identifiers normalize with a hyphen; sources often write them
	// without. Match both spellings.
	bare := strings.ReplaceAll(needle, "-", "")
	for _, text := range texts {
		upper := strings.ToUpper(text)
		compact := strings.ReplaceAll(strings.ReplaceAll(upper, "-", ""), " ", "")
		if !strings.Contains(upper, needle) && !strings.Contains(compact, bare) {
			continue
		}
		mentions++
		for _, term := range queryTerms {
			if strings.Contains(upper, term) {
				nearQuery = true
				break
			}
		}
	}
	return mentions, nearQuery
}

// significantTerms extracts query words worth matching against payload
// text (longer than three runes, uppercased).
func significantTerms(query string) []string {
	var out []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if len(w) > 3 {
			out = append(out, strings.ToUpper(w))
		}
	}
	return out
}

// attempted reports whether any source already has an outcome recorded
// for the identifier.
func attempted(st research.State, id string) bool {
	for key := range st.Attempts {
		if key.Identifier == id {
			return true
		}
	}
	return false
}

// flatten walks a payload collecting every string value into one
// searchable text.
func flatten(payload map[string]any) string {
	var b strings.Builder
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			b.WriteString(t)
			b.WriteByte('\n')
		case map[string]any:
			for _, val := range t {
				walk(val)
			}
		case []any:
			for _, val := range t {
				walk(val)
			}
		}
	}
	walk(payload)
	return b.String()
}
