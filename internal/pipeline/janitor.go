package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/internal/database"
	"github.com/CosmoTheDev/scanpipe/internal/store"
	"github.com/CosmoTheDev/scanpipe/models"
)

// Janitor expires terminal jobs past the retention window and removes
// their artifacts and workspaces on a cron schedule.
type Janitor struct {
	retention time.Duration
	schedule  string
	index     *database.Index
	artifacts *store.Artifacts
	jobs      *store.JobStore

	// OnExpire, when set, is invoked with each expired job ID so other
	// components can drop their per-job state.
	OnExpire func(jobID string)

	cron *cron.Cron
}

// NewJanitor builds a janitor from the pipeline config.
func NewJanitor(cfg config.PipelineConfig, index *database.Index, artifacts *store.Artifacts, jobs *store.JobStore) *Janitor {
	retention := time.Duration(cfg.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 168 * time.Hour
	}
	schedule := cfg.JanitorSchedule
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Janitor{
		retention: retention,
		schedule:  schedule,
		index:     index,
		artifacts: artifacts,
		jobs:      jobs,
	}
}

// Start registers the sweep on the cron schedule and starts it.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	slog.Info("retention janitor started", "schedule", j.schedule, "retention", j.retention.String())
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep expires every terminal job that finished before the retention
// cutoff. Each job is marked expired in the index first, so a crash
// mid-sweep never leaves an unexpired row pointing at removed artifacts
// without being retried on the next sweep.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	ids, err := j.index.ExpiredBefore(ctx, cutoff)
	if err != nil {
		slog.Error("janitor: listing expired jobs", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		if err := j.index.MarkExpired(ctx, id); err != nil {
			slog.Error("janitor: marking job expired", "job", id, "error", err)
			continue
		}
		if err := j.artifacts.RemoveJob(id); err != nil {
			slog.Warn("janitor: removing artifacts", "job", id, "error", err)
		}
		j.jobs.Mutate(id, func(job *models.Job) {
			job.Status = models.JobExpired
		})
		if j.OnExpire != nil {
			j.OnExpire(id)
		}
	}
	slog.Info("janitor: expired jobs cleaned", "count", len(ids), "cutoff", cutoff.UTC().Format(time.RFC3339))
}
