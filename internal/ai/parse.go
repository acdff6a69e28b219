package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CosmoTheDev/scanpipe/models"
)

// analysisWire mirrors the JSON schema providers are asked to return.
type analysisWire struct {
	Summary string `json:"summary"`
	Fixes   []struct {
		File              string `json:"file"`
		LineNumber        int    `json:"line_number"`
		VulnerabilityType string `json:"vulnerability_type"`
		Severity          string `json:"severity"`
		RootCause         string `json:"root_cause"`
		SecurityImpact    string `json:"security_impact"`
		OriginalCode      string `json:"original_code"`
		FixedCode         string `json:"fixed_code"`
		Explanation       string `json:"explanation"`
	} `json:"fixes"`
	Recommendations []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
	} `json:"recommendations"`
}

// extractJSON strips an optional markdown code fence from a model
// response and returns the JSON body.
func extractJSON(resp string) string {
	s := strings.TrimSpace(resp)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// decodeAnalysis validates a raw model response. Fixes without a file
// and positive line number cannot be re-tagged against a source issue
// and are dropped; the model-reported severity is ignored entirely
// (the coordinator reassigns it from the source issue).
func decodeAnalysis(resp string) (*Analysis, error) {
	var wire analysisWire
	if err := json.Unmarshal([]byte(extractJSON(resp)), &wire); err != nil {
		return nil, fmt.Errorf("malformed provider response: %w", err)
	}

	out := &Analysis{Summary: strings.TrimSpace(wire.Summary)}

	for _, f := range wire.Fixes {
		if f.File == "" || f.LineNumber <= 0 {
			slog.Warn("Dropping fix without location", "file", f.File, "line", f.LineNumber)
			continue
		}
		if f.FixedCode == "" && f.Explanation == "" {
			slog.Warn("Dropping empty fix", "file", f.File, "line", f.LineNumber)
			continue
		}
		out.Fixes = append(out.Fixes, models.Fix{
			File:              f.File,
			Line:              f.LineNumber,
			VulnerabilityType: f.VulnerabilityType,
			RootCause:         f.RootCause,
			SecurityImpact:    f.SecurityImpact,
			OriginalCode:      f.OriginalCode,
			FixedCode:         f.FixedCode,
			Explanation:       f.Explanation,
		})
	}

	for _, r := range wire.Recommendations {
		if r.Title == "" {
			continue
		}
		out.Recommendations = append(out.Recommendations, models.Recommendation{
			Title:       r.Title,
			Description: r.Description,
			Priority:    models.NormalizePriority(r.Priority),
		})
	}

	return out, nil
}
