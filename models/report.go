package models

import "time"

// Issue is one normalized finding produced by an analyzer adapter.
type Issue struct {
	Tool       string   `json:"tool"`
	RuleID     string   `json:"rule_id"`
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// FileReport groups all issues found in one file.
type FileReport struct {
	Path   string  `json:"path"`
	Issues []Issue `json:"issues"`
}

// Summary counts issues per severity across the whole report.
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Add increments the bucket for sev.
func (s *Summary) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		s.Critical++
	case SeverityHigh:
		s.High++
	case SeverityMedium:
		s.Medium++
	default:
		s.Low++
	}
}

// Total returns the sum of all buckets.
func (s Summary) Total() int {
	return s.Critical + s.High + s.Medium + s.Low
}

// ReportMeta carries provenance for a report.
type ReportMeta struct {
	// Tools that ran to completion.
	Tools []string `json:"tools"`
	// Degraded lists tools that failed or timed out; their results are absent.
	Degraded    []string          `json:"degraded,omitempty"`
	Source      SourceInfo        `json:"source"`
	GeneratedAt time.Time         `json:"generated_at"`
	DurationMS  int64             `json:"duration_ms"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Report is the merged, deduplicated scan result for one job.
type Report struct {
	JobID   string     `json:"job_id"`
	Meta    ReportMeta `json:"meta"`
	Summary Summary    `json:"summary"`
	Files   []FileReport `json:"files"`
}

// JobRecord is the database index row for a terminal job. Times are
// stored as RFC 3339 strings for cross-driver portability.
type JobRecord struct {
	ID          string `db:"id"           json:"id"`
	Status      string `db:"status"       json:"status"`
	SourceKind  string `db:"source_kind"  json:"source_kind"`
	SourceURL   string `db:"source_url"   json:"source_url,omitempty"`
	Tools       string `db:"tools"        json:"tools"`
	Critical    int    `db:"critical"     json:"critical"`
	High        int    `db:"high"         json:"high"`
	Medium      int    `db:"medium"       json:"medium"`
	Low         int    `db:"low"          json:"low"`
	SubmittedAt string `db:"submitted_at" json:"submitted_at"`
	FinishedAt  string `db:"finished_at"  json:"finished_at,omitempty"`
	DurationMS  int64  `db:"duration_ms"  json:"duration_ms"`
	Error       string `db:"error"        json:"error,omitempty"`
}
