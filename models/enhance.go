package models

import "time"

// EnhanceStatus is the state of the AI enhancement pass for a job.
// It is independent of the parent job's status.
type EnhanceStatus string

const (
	EnhanceNotTriggered EnhanceStatus = "not_triggered"
	EnhancePending      EnhanceStatus = "pending"
	EnhanceRunning      EnhanceStatus = "running"
	EnhanceComplete     EnhanceStatus = "complete"
	EnhanceFailed       EnhanceStatus = "failed"
	EnhanceSkipped      EnhanceStatus = "skipped"
)

// Terminal reports whether the enhancement pass has finished.
// A failed pass may still be retriggered.
func (s EnhanceStatus) Terminal() bool {
	switch s {
	case EnhanceComplete, EnhanceFailed, EnhanceSkipped:
		return true
	default:
		return false
	}
}

// Fix is one AI-suggested remediation. Severity and VulnerabilityType
// always come from the source Issue, never from the model.
type Fix struct {
	File              string   `json:"file"`
	Line              int      `json:"line"`
	Severity          Severity `json:"severity"`
	VulnerabilityType string   `json:"vulnerability_type"`
	RootCause         string   `json:"root_cause,omitempty"`
	SecurityImpact    string   `json:"security_impact,omitempty"`
	OriginalCode      string   `json:"original_code,omitempty"`
	FixedCode         string   `json:"fixed_code,omitempty"`
	Explanation       string   `json:"explanation,omitempty"`
}

// Recommendation is a repository-level improvement suggested by the provider.
type Recommendation struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

// AIAnalysis is the enhancement result attached to a report. The
// by-severity and by-priority maps are an exact partition of the flat
// lists: every element appears in exactly one bucket.
type AIAnalysis struct {
	Status                    EnhanceStatus                 `json:"status"`
	Provider                  string                        `json:"provider,omitempty"`
	Summary                   string                        `json:"summary,omitempty"`
	Fixes                     []Fix                         `json:"fixes"`
	FixesBySeverity           map[Severity][]Fix            `json:"fixes_by_severity,omitempty"`
	Recommendations           []Recommendation              `json:"recommendations"`
	RecommendationsByPriority map[Priority][]Recommendation `json:"recommendations_by_priority,omitempty"`
	// Errors records non-fatal degradations such as input truncation,
	// and the failure reason when Status is failed.
	Errors      []string   `json:"errors,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// EnhancedReport is a report plus its AI analysis.
type EnhancedReport struct {
	Report
	AIAnalysis AIAnalysis `json:"ai_analysis"`
}
