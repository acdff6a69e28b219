package ai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = "You are an expert application security engineer reviewing static-analysis findings."

// buildPrompt renders the shared analysis prompt for all providers.
func buildPrompt(req Request) string {
	issuesJSON, _ := json.MarshalIndent(req.Issues, "", "  ")

	var sb strings.Builder
	fmt.Fprintf(&sb, `The following security issues were found in a repository
(%d critical, %d high, %d medium, %d low), ordered most severe first:

%s
`, req.Summary.Critical, req.Summary.High, req.Summary.Medium, req.Summary.Low, string(issuesJSON))

	if len(req.Excerpts) > 0 {
		paths := make([]string, 0, len(req.Excerpts))
		for p := range req.Excerpts {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		sb.WriteString("\nRelevant source excerpts:\n")
		for _, p := range paths {
			fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", p, req.Excerpts[p])
		}
	}

	sb.WriteString(`
Return a JSON object with:
- "summary": a 2-3 sentence executive summary of the overall risk
- "fixes": an array, one entry per issue you can concretely fix, each with:
  - "file": the file path exactly as given in the issue
  - "line_number": the line from the issue
  - "vulnerability_type": the issue type
  - "root_cause": why the code is vulnerable
  - "security_impact": what an attacker gains
  - "original_code": the vulnerable line(s) if an excerpt was provided
  - "fixed_code": the corrected code
  - "explanation": a concise explanation of the change
- "recommendations": an array of repository-level improvements, each with:
  - "title", "description", and "priority" ("high", "medium" or "low")

Respond ONLY with valid JSON, no markdown code blocks.`)

	return sb.String()
}
