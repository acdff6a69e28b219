// Package enhance coordinates AI enhancement passes over finished scan
// reports. Each job carries its own enhancement state machine,
// independent of the job's own status, and passes run on a bounded pool
// separate from the scan pipeline's workers.
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/CosmoTheDev/scanpipe/internal/ai"
	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/internal/events"
	"github.com/CosmoTheDev/scanpipe/internal/store"
	"github.com/CosmoTheDev/scanpipe/models"
)

// Status is the observable enhancement state for one job.
type Status struct {
	Status models.EnhanceStatus `json:"status"`
	Error  string               `json:"error,omitempty"`
}

// Coordinator runs enhancement passes. All transitions for a job happen
// under the coordinator's lock; the provider call itself does not.
type Coordinator struct {
	cfg       config.EnhanceConfig
	provider  ai.Provider
	artifacts *store.Artifacts
	pub       *events.Publisher
	sem       *semaphore.Weighted

	mu     sync.Mutex
	states map[string]*Status

	wg sync.WaitGroup
}

// NewCoordinator wires the coordinator. Workers below 1 are clamped to 1.
func NewCoordinator(cfg config.EnhanceConfig, provider ai.Provider, artifacts *store.Artifacts, pub *events.Publisher) *Coordinator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		cfg:       cfg,
		provider:  provider,
		artifacts: artifacts,
		pub:       pub,
		sem:       semaphore.NewWeighted(int64(workers)),
		states:    make(map[string]*Status),
	}
}

// Available reports whether the configured provider can serve requests.
func (c *Coordinator) Available(ctx context.Context) bool {
	return c.provider.IsAvailable(ctx)
}

// Status returns the enhancement state for jobID. Jobs never triggered
// report not_triggered; a persisted artifact from a previous process
// restores its recorded status.
func (c *Coordinator) Status(jobID string) Status {
	c.mu.Lock()
	if st, ok := c.states[jobID]; ok {
		out := *st
		c.mu.Unlock()
		return out
	}
	c.mu.Unlock()

	if enhanced, err := c.artifacts.LoadEnhanced(jobID); err == nil {
		return Status{Status: enhanced.AIAnalysis.Status}
	}
	return Status{Status: models.EnhanceNotTriggered}
}

// Get returns the persisted enhanced report for jobID.
func (c *Coordinator) Get(jobID string) (*models.EnhancedReport, error) {
	return c.artifacts.LoadEnhanced(jobID)
}

// Trigger starts an enhancement pass for jobID if one is not already
// underway. Complete and skipped passes are cached: retriggering them
// returns the recorded state without a provider call. A failed pass is
// retried from scratch, discarding any partial artifact first.
func (c *Coordinator) Trigger(jobID string) (Status, error) {
	report, err := c.artifacts.LoadReport(jobID)
	if err != nil {
		return Status{}, fmt.Errorf("loading report for %s: %w", jobID, err)
	}

	c.mu.Lock()
	st, ok := c.states[jobID]
	if !ok {
		// Recover terminal state persisted by a previous process.
		if enhanced, loadErr := c.artifacts.LoadEnhanced(jobID); loadErr == nil {
			st = &Status{Status: enhanced.AIAnalysis.Status}
			c.states[jobID] = st
		}
	}
	if st != nil {
		switch st.Status {
		case models.EnhancePending, models.EnhanceRunning, models.EnhanceComplete, models.EnhanceSkipped:
			out := *st
			c.mu.Unlock()
			return out, nil
		case models.EnhanceFailed:
			if err := c.artifacts.RemoveEnhanced(jobID); err != nil {
				c.mu.Unlock()
				return Status{}, fmt.Errorf("clearing failed enhancement for %s: %w", jobID, err)
			}
		}
	}

	if !c.qualifies(report) {
		c.setLocked(jobID, models.EnhanceSkipped, "")
		out := *c.states[jobID]
		c.mu.Unlock()
		c.persistSkipped(report)
		return out, nil
	}

	c.setLocked(jobID, models.EnhancePending, "")
	out := *c.states[jobID]
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(report)

	return out, nil
}

// Forget drops in-memory state for a job, typically after its artifacts
// have been removed by retention.
func (c *Coordinator) Forget(jobID string) {
	c.mu.Lock()
	delete(c.states, jobID)
	c.mu.Unlock()
}

// Wait blocks until all in-flight passes finish. Used at shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(report *models.Report) {
	defer c.wg.Done()
	jobID := report.JobID

	// The pass stays pending while waiting for a pool slot.
	if err := c.sem.Acquire(context.Background(), 1); err != nil {
		c.set(jobID, models.EnhanceFailed, fmt.Sprintf("acquiring enhancement slot: %v", err))
		return
	}
	defer c.sem.Release(1)

	c.set(jobID, models.EnhanceRunning, "")

	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	started := time.Now()
	enhanced, err := c.pass(ctx, report)
	if err != nil {
		slog.Warn("enhancement failed", "job", jobID, "error", err, "duration", time.Since(started).Round(time.Millisecond))
		c.set(jobID, models.EnhanceFailed, err.Error())
		return
	}

	if err := c.artifacts.WriteEnhanced(enhanced); err != nil {
		slog.Error("persisting enhanced report", "job", jobID, "error", err)
		c.set(jobID, models.EnhanceFailed, err.Error())
		return
	}

	slog.Info("enhancement complete",
		"job", jobID,
		"provider", c.provider.Name(),
		"fixes", len(enhanced.AIAnalysis.Fixes),
		"recommendations", len(enhanced.AIAnalysis.Recommendations),
		"duration", time.Since(started).Round(time.Millisecond),
	)
	c.set(jobID, models.EnhanceComplete, "")
}

// pass executes one full enhancement: prepare the issue set, call the
// provider, validate and re-tag the result.
func (c *Coordinator) pass(ctx context.Context, report *models.Report) (*models.EnhancedReport, error) {
	prep := prepareIssues(report, c.cfg.MaxIssues, c.cfg.MaxIssuesPerFile)
	excerpts, excerptNotices := c.collectExcerpts(report.JobID, prep.Issues)

	analysis, err := c.provider.AnalyzeIssues(ctx, ai.Request{
		Issues:   prep.Issues,
		Excerpts: excerpts,
		Summary:  report.Summary,
	})
	if err != nil {
		return nil, err
	}

	fixes := retagFixes(analysis.Fixes, prep.Issues)
	now := time.Now().UTC()

	aa := models.AIAnalysis{
		Status:          models.EnhanceComplete,
		Provider:        c.provider.Name(),
		Summary:         analysis.Summary,
		Fixes:           fixes,
		Recommendations: analysis.Recommendations,
		Errors:          append(prep.Notices, excerptNotices...),
		GeneratedAt:     &now,
	}
	aa.FixesBySeverity, aa.RecommendationsByPriority = bucket(fixes, analysis.Recommendations)

	return &models.EnhancedReport{Report: *report, AIAnalysis: aa}, nil
}

func (c *Coordinator) persistSkipped(report *models.Report) {
	now := time.Now().UTC()
	enhanced := &models.EnhancedReport{
		Report: *report,
		AIAnalysis: models.AIAnalysis{
			Status:      models.EnhanceSkipped,
			Errors:      []string{fmt.Sprintf("no issue at or above %s severity", c.minSeverity())},
			GeneratedAt: &now,
		},
	}
	if err := c.artifacts.WriteEnhanced(enhanced); err != nil {
		slog.Error("persisting skipped enhancement", "job", report.JobID, "error", err)
	}
}

func (c *Coordinator) minSeverity() models.Severity {
	s := models.Severity(c.cfg.MinSeverity)
	if !s.Valid() {
		return models.SeverityLow
	}
	return s
}

// qualifies reports whether the report has at least one issue at or
// above the configured minimum severity.
func (c *Coordinator) qualifies(report *models.Report) bool {
	min := c.minSeverity().Weight()
	for _, f := range report.Files {
		for _, is := range f.Issues {
			if is.Severity.Weight() >= min {
				return true
			}
		}
	}
	return false
}

func (c *Coordinator) set(jobID string, status models.EnhanceStatus, errMsg string) {
	c.mu.Lock()
	c.setLocked(jobID, status, errMsg)
	c.mu.Unlock()
}

func (c *Coordinator) setLocked(jobID string, status models.EnhanceStatus, errMsg string) {
	st, ok := c.states[jobID]
	if !ok {
		st = &Status{}
		c.states[jobID] = st
	}
	st.Status = status
	st.Error = errMsg
	c.pub.Publish(events.EnhanceState(jobID, status))
}
