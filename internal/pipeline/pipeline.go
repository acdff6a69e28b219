// Package pipeline schedules and executes scan jobs: a bounded worker
// pool drains a FIFO queue, driving each job through ingest, analysis,
// aggregation and persistence while reporting phase progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/internal/database"
	"github.com/CosmoTheDev/scanpipe/internal/events"
	"github.com/CosmoTheDev/scanpipe/internal/ingest"
	"github.com/CosmoTheDev/scanpipe/internal/report"
	"github.com/CosmoTheDev/scanpipe/internal/store"
	"github.com/CosmoTheDev/scanpipe/models"
)

// ErrQueueFull is returned by Submit when the job queue is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// Fetcher is the slice of the ingest layer the pipeline needs.
type Fetcher interface {
	Validate(ctx context.Context, src models.SourceInfo) error
	Fetch(ctx context.Context, src models.SourceInfo, dest string) (models.SourceInfo, error)
}

// Runner is the slice of the analyzer dispatcher the pipeline needs.
type Runner interface {
	Resolve(requested []string) ([]string, error)
	Applicable(workspace string, tools []string) (run, skipped []string)
	RunTool(ctx context.Context, name, workspace string, timeout time.Duration) ([]models.Issue, error)
}

// Pipeline owns the job queue and worker pool.
type Pipeline struct {
	cfg       config.PipelineConfig
	fetcher   Fetcher
	runner    Runner
	jobs      *store.JobStore
	artifacts *store.Artifacts
	index     *database.Index
	pub       *events.Publisher
	exclude   []string

	// OnComplete, when set, is invoked with the job ID after a job
	// reaches completed. Used to auto-trigger enhancement.
	OnComplete func(jobID string)

	queue   chan string
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a pipeline. exclude carries sanitizer glob patterns from the
// analyzer profile.
func New(cfg config.PipelineConfig, fetcher Fetcher, runner Runner, jobs *store.JobStore, artifacts *store.Artifacts, index *database.Index, pub *events.Publisher, exclude []string) *Pipeline {
	depth := cfg.QueueDepth
	if depth < 1 {
		depth = 64
	}
	return &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		runner:    runner,
		jobs:      jobs,
		artifacts: artifacts,
		index:     index,
		pub:       pub,
		exclude:   exclude,
		queue:     make(chan string, depth),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled;
// Wait blocks until they have drained.
func (p *Pipeline) Start(ctx context.Context) {
	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	slog.Info("pipeline started", "workers", workers, "queue_depth", cap(p.queue))
}

// Wait blocks until all workers have stopped.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Submit validates the request, registers a queued job and enqueues it.
// The returned ID is usable immediately for status polling and SSE.
func (p *Pipeline) Submit(ctx context.Context, req models.ScanRequest) (string, error) {
	tools, err := p.runner.Resolve(req.Tools)
	if err != nil {
		return "", err
	}
	req.Tools = tools

	if err := p.fetcher.Validate(ctx, req.Source); err != nil {
		return "", err
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		Status:      models.JobQueued,
		Progress:    models.Progress{Phase: models.PhaseInit, Percent: 0},
		Request:     req,
		SubmittedAt: time.Now().UTC(),
	}
	p.jobs.Put(job)

	select {
	case p.queue <- job.ID:
	default:
		p.jobs.Delete(job.ID)
		return "", ErrQueueFull
	}

	p.pub.Publish(events.Queued(job.ID))
	slog.Info("job queued", "job", job.ID, "kind", req.Source.Kind, "tools", tools)
	return job.ID, nil
}

// Cancel stops a job. Queued jobs go terminal without running anything;
// running jobs get their context canceled and wind down at the next
// phase boundary. Returns false for unknown or already terminal jobs.
func (p *Pipeline) Cancel(id string) bool {
	canceled := false
	p.jobs.Mutate(id, func(j *models.Job) {
		if j.Status == models.JobQueued {
			now := time.Now().UTC()
			j.Status = models.JobCanceled
			j.FinishedAt = &now
			canceled = true
		}
	})
	if canceled {
		p.pub.Publish(events.Finished(id, models.JobCanceled, ""))
		p.record(id, nil)
		return true
	}

	p.mu.Lock()
	cancel, running := p.cancels[id]
	p.mu.Unlock()
	if running {
		cancel()
		return true
	}
	return false
}

func (p *Pipeline) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.runJob(ctx, id)
		}
	}
}

// runJob drives one job through all phases. Analyzer failures degrade
// the report; only ingestion failures and internal faults fail the job.
func (p *Pipeline) runJob(ctx context.Context, id string) {
	started := time.Now().UTC()
	jobCtx, cancel := context.WithCancel(ctx)

	// Claim the job and register its cancel func under the same lock, so
	// Cancel never observes a running job without a func to call.
	var claimed bool
	var req models.ScanRequest
	p.mu.Lock()
	p.jobs.Mutate(id, func(j *models.Job) {
		if j.Status != models.JobQueued {
			return
		}
		j.Status = models.JobRunning
		j.StartedAt = &started
		req = j.Clone().Request
		claimed = true
	})
	if claimed {
		p.cancels[id] = cancel
	}
	p.mu.Unlock()
	if !claimed {
		// Canceled while queued.
		cancel()
		return
	}

	defer func() {
		p.mu.Lock()
		delete(p.cancels, id)
		p.mu.Unlock()
		cancel()
	}()

	p.pub.Publish(events.Started(id))
	p.setProgress(id, models.PhaseInit, 0)

	workspace := p.artifacts.WorkDir(id)

	// INGEST
	p.setProgress(id, models.PhaseIngest, 10)
	resolved, err := p.fetcher.Fetch(jobCtx, req.Source, workspace)
	if err != nil {
		if jobCtx.Err() != nil {
			p.finish(id, models.JobCanceled, "", nil, workspace, false)
			return
		}
		p.finish(id, models.JobFailed, fmt.Sprintf("ingest: %v", err), nil, workspace, false)
		return
	}
	if err := ingest.Sanitize(workspace, p.exclude); err != nil {
		p.finish(id, models.JobFailed, fmt.Sprintf("sanitize: %v", err), nil, workspace, false)
		return
	}
	p.jobs.Mutate(id, func(j *models.Job) { j.Request.Source = resolved })
	p.setProgress(id, models.PhaseIngest, 20)
	if p.checkCanceled(jobCtx, id, workspace) {
		return
	}

	// ANALYZE
	run, skipped := p.runner.Applicable(workspace, req.Tools)
	if len(skipped) > 0 {
		slog.Info("tools skipped, nothing to scan", "job", id, "tools", skipped)
	}
	timeout := time.Duration(req.ToolTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(p.cfg.ToolTimeoutSeconds) * time.Second
	}

	var issues []models.Issue
	var completed, degraded []string
	for i, tool := range run {
		p.setProgress(id, models.AnalyzePhase(tool), 20+(70*i)/len(run))
		toolIssues, err := p.runner.RunTool(jobCtx, tool, workspace, timeout)
		if jobCtx.Err() != nil && errors.Is(jobCtx.Err(), context.Canceled) {
			p.finish(id, models.JobCanceled, "", nil, workspace, false)
			return
		}
		if err != nil {
			slog.Warn("analyzer degraded", "job", id, "tool", tool, "error", err)
			degraded = append(degraded, tool)
			continue
		}
		issues = append(issues, toolIssues...)
		completed = append(completed, tool)
	}
	if p.checkCanceled(jobCtx, id, workspace) {
		return
	}

	// AGGREGATE
	p.setProgress(id, models.PhaseAggregate, 90)
	res := report.Aggregate(issues)
	rep := &models.Report{
		JobID: id,
		Meta: models.ReportMeta{
			Tools:       completed,
			Degraded:    degraded,
			Source:      resolved,
			GeneratedAt: time.Now().UTC(),
			DurationMS:  time.Since(started).Milliseconds(),
			Labels:      req.Labels,
		},
		Summary: res.Summary,
		Files:   res.Files,
	}
	p.setProgress(id, models.PhaseAggregate, 95)
	if p.checkCanceled(jobCtx, id, workspace) {
		return
	}

	// PERSIST
	p.setProgress(id, models.PhasePersist, 95)
	if err := p.artifacts.WriteReport(rep); err != nil {
		p.finish(id, models.JobFailed, fmt.Sprintf("persisting report: %v", err), nil, workspace, false)
		return
	}

	p.finish(id, models.JobCompleted, "", &rep.Summary, workspace, true)

	if p.OnComplete != nil {
		p.OnComplete(id)
	}
}

// finish applies the terminal transition and records the job in the
// index. The workspace is kept for completed jobs so the enhancement
// coordinator can read source excerpts; retention cleans it up later.
func (p *Pipeline) finish(id string, status models.JobStatus, errMsg string, summary *models.Summary, workspace string, keepWorkspace bool) {
	now := time.Now().UTC()
	p.jobs.Mutate(id, func(j *models.Job) {
		j.Status = status
		j.FinishedAt = &now
		j.Error = errMsg
		if status == models.JobCompleted {
			j.Progress = models.Progress{Phase: models.PhaseComplete, Percent: 100}
		}
	})
	if status == models.JobCompleted {
		p.pub.Publish(events.Progress(id, models.Progress{Phase: models.PhaseComplete, Percent: 100}))
	}
	p.pub.Publish(events.Finished(id, status, errMsg))

	if !keepWorkspace {
		if err := p.artifacts.RemoveWorkDir(id); err != nil {
			slog.Warn("removing workspace", "job", id, "error", err)
		}
	}
	p.record(id, summary)

	slog.Info("job finished", "job", id, "status", status, "error", errMsg)
}

// record upserts the index row and job artifact for a terminal job.
func (p *Pipeline) record(id string, summary *models.Summary) {
	job := p.jobs.Get(id)
	if job == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.index.RecordJob(ctx, job, summary); err != nil {
		slog.Error("recording job in index", "job", id, "error", err)
	}
	if err := p.artifacts.WriteJob(job); err != nil {
		slog.Error("persisting job record", "job", id, "error", err)
	}
}

func (p *Pipeline) checkCanceled(ctx context.Context, id, workspace string) bool {
	if ctx.Err() == nil {
		return false
	}
	p.finish(id, models.JobCanceled, "", nil, workspace, false)
	return true
}

// setProgress advances the job's progress and publishes it. Percent
// never moves backwards even if phases report out of order.
func (p *Pipeline) setProgress(id, phase string, percent int) {
	var prog models.Progress
	p.jobs.Mutate(id, func(j *models.Job) {
		if percent < j.Progress.Percent {
			percent = j.Progress.Percent
		}
		j.Progress = models.Progress{Phase: phase, Percent: percent}
		prog = j.Progress
	})
	p.pub.Publish(events.Progress(id, prog))
}
