// Package events carries job progress notifications from the pipeline
// and enhancement coordinator to subscribers such as the SSE gateway.
package events

import "github.com/CosmoTheDev/scanpipe/models"

// Event types emitted over the publisher.
const (
	TypeJobQueued    = "job.queued"
	TypeJobStarted   = "job.started"
	TypeJobProgress  = "job.progress"
	TypeJobFinished  = "job.finished"
	TypeEnhanceState = "enhance.state"
)

// Event is one notification about a job.
type Event struct {
	JobID   string      `json:"job_id"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ProgressPayload accompanies TypeJobProgress events.
type ProgressPayload struct {
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
}

// FinishedPayload accompanies TypeJobFinished events.
type FinishedPayload struct {
	Status models.JobStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// EnhancePayload accompanies TypeEnhanceState events.
type EnhancePayload struct {
	Status models.EnhanceStatus `json:"status"`
}

// Queued builds a job.queued event.
func Queued(jobID string) Event {
	return Event{JobID: jobID, Type: TypeJobQueued}
}

// Started builds a job.started event.
func Started(jobID string) Event {
	return Event{JobID: jobID, Type: TypeJobStarted}
}

// Progress builds a job.progress event.
func Progress(jobID string, p models.Progress) Event {
	return Event{JobID: jobID, Type: TypeJobProgress, Payload: ProgressPayload{Phase: p.Phase, Percent: p.Percent}}
}

// Finished builds a job.finished event.
func Finished(jobID string, status models.JobStatus, errMsg string) Event {
	return Event{JobID: jobID, Type: TypeJobFinished, Payload: FinishedPayload{Status: status, Error: errMsg}}
}

// EnhanceState builds an enhance.state event.
func EnhanceState(jobID string, status models.EnhanceStatus) Event {
	return Event{JobID: jobID, Type: TypeEnhanceState, Payload: EnhancePayload{Status: status}}
}
