package models

import "time"

// JobStatus is the lifecycle state of a scan job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
	JobExpired   JobStatus = "expired"
)

// Terminal reports whether no further transitions can occur from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled, JobExpired:
		return true
	default:
		return false
	}
}

// Phase labels for progress reporting. The analyze phase is per-tool,
// see AnalyzePhase.
const (
	PhaseInit      = "init"
	PhaseIngest    = "ingest"
	PhaseAggregate = "aggregate"
	PhasePersist   = "persist"
	PhaseComplete  = "complete"
)

// AnalyzePhase returns the progress label for a running tool, e.g. "analyze:semgrep".
func AnalyzePhase(tool string) string {
	return "analyze:" + tool
}

// Progress pairs the current phase with a percentage. Percent only ever
// moves forward and reaches 100 exactly when the job completes.
type Progress struct {
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
}

// Source kinds accepted by the ingestion layer.
const (
	SourceGit     = "git"
	SourceArchive = "archive"
)

// SourceInfo describes where the scanned tree came from.
type SourceInfo struct {
	Kind        string `json:"kind"`
	URL         string `json:"url,omitempty"`
	Ref         string `json:"ref,omitempty"`
	Commit      string `json:"commit,omitempty"`
	ArchivePath string `json:"archive_path,omitempty"`
}

// ScanRequest is the validated submission payload for a scan job.
type ScanRequest struct {
	Source SourceInfo `json:"source"`
	// Tools to run; empty means the configured default set.
	Tools []string `json:"tools,omitempty"`
	// ToolTimeoutSeconds overrides the per-adapter timeout for this job.
	ToolTimeoutSeconds int               `json:"tool_timeout_seconds,omitempty"`
	Labels             map[string]string `json:"labels,omitempty"`
}

// Job is the orchestrator's record of one scan request.
type Job struct {
	ID          string      `json:"id"`
	Status      JobStatus   `json:"status"`
	Progress    Progress    `json:"progress"`
	Request     ScanRequest `json:"request"`
	SubmittedAt time.Time   `json:"submitted_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Clone returns a copy safe to hand to readers while the pipeline keeps
// mutating the original.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	cp.Request.Tools = append([]string(nil), j.Request.Tools...)
	if j.Request.Labels != nil {
		cp.Request.Labels = make(map[string]string, len(j.Request.Labels))
		for k, v := range j.Request.Labels {
			cp.Request.Labels[k] = v
		}
	}
	return &cp
}
