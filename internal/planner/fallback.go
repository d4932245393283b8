package planner

import (
	"fmt"
	"strings"

	"github.com/quarry-ai/quarry/internal/research"
)

// FallbackReport renders the raw findings list as a degraded report,
// used when synthesis fails. Partial runs are labeled as such so the
// caller never mistakes them for complete results.
func FallbackReport(st research.State) string {
	var b strings.Builder
	b.WriteString("# Research findings (unsynthesized)\n\n")
	fmt.Fprintf(&b, "Query: %s\n", st.Query)
	fmt.Fprintf(&b, "Cycles: %d, findings: %d\n", st.Cycle, len(st.Findings))
	if st.Partial {
		b.WriteString("\nNOTE: results are PARTIAL; some sources did not respond in time.\n")
		for _, key := range st.Unresolved {
			fmt.Fprintf(&b, "  unresolved: %s (%s)\n", key.Identifier, key.Source)
		}
	}
	b.WriteString("\n")
	for _, f := range st.Findings {
		fmt.Fprintf(&b, "## %s [%s] (relevance %.2f, cycle %d)\n", f.Identifier, f.Source, f.Relevance, f.Cycle)
		for k, v := range f.Payload {
			if s, ok := v.(string); ok && s != "" {
				fmt.Fprintf(&b, "- %s: %s\n", k, s)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
