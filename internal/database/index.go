package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CosmoTheDev/scanpipe/models"
)

// ErrNotFound is returned by Index lookups for unknown job IDs.
var ErrNotFound = errors.New("job not found in index")

// Index provides typed access to the jobs table. It records terminal
// jobs so completed reports can be listed and filtered without loading
// every artifact from disk.
type Index struct {
	db DB
}

// NewIndex wraps db. Migrate must have been called on db already.
func NewIndex(db DB) *Index {
	return &Index{db: db}
}

// RecordJob upserts the index row for a terminal job. summary may be
// nil for jobs that produced no report (failed, canceled, expired).
func (ix *Index) RecordJob(ctx context.Context, job *models.Job, summary *models.Summary) error {
	rec := models.JobRecord{
		ID:          job.ID,
		Status:      string(job.Status),
		SourceKind:  job.Request.Source.Kind,
		SourceURL:   job.Request.Source.URL,
		Tools:       strings.Join(job.Request.Tools, ","),
		SubmittedAt: job.SubmittedAt.UTC().Format(time.RFC3339),
		Error:       job.Error,
	}
	if job.FinishedAt != nil {
		rec.FinishedAt = job.FinishedAt.UTC().Format(time.RFC3339)
		if job.StartedAt != nil {
			rec.DurationMS = job.FinishedAt.Sub(*job.StartedAt).Milliseconds()
		}
	}
	if summary != nil {
		rec.Critical = summary.Critical
		rec.High = summary.High
		rec.Medium = summary.Medium
		rec.Low = summary.Low
	}
	if err := ix.db.Upsert(ctx, "jobs", rec, []string{"id"}); err != nil {
		return fmt.Errorf("recording job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the index row for id.
func (ix *Index) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	var rec models.JobRecord
	err := ix.db.Get(ctx, &rec, `SELECT * FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return &rec, nil
}

// ListFilter narrows and pages ListJobs results.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// ListJobs returns index rows newest-first.
func (ix *Index) ListJobs(ctx context.Context, f ListFilter) ([]models.JobRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT * FROM jobs`
	args := []interface{}{}
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY submitted_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	var recs []models.JobRecord
	if err := ix.db.Select(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return recs, nil
}

// CountJobs returns the number of rows matching status ("" = all).
func (ix *Index) CountJobs(ctx context.Context, status string) (int, error) {
	var row struct {
		N int `db:"n"`
	}
	if status != "" {
		if err := ix.db.Get(ctx, &row, `SELECT COUNT(*) AS n FROM jobs WHERE status = ?`, status); err != nil {
			return 0, err
		}
		return row.N, nil
	}
	if err := ix.db.Get(ctx, &row, `SELECT COUNT(*) AS n FROM jobs`); err != nil {
		return 0, err
	}
	return row.N, nil
}

// ExpiredBefore returns IDs of terminal jobs whose finished_at is older
// than cutoff. Used by the retention janitor.
func (ix *Index) ExpiredBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var recs []models.JobRecord
	err := ix.db.Select(ctx, &recs,
		`SELECT * FROM jobs WHERE finished_at != '' AND finished_at < ? AND status != ?`,
		cutoff.UTC().Format(time.RFC3339), string(models.JobExpired))
	if err != nil {
		return nil, fmt.Errorf("listing expired jobs: %w", err)
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// MarkExpired flips the status of id to expired.
func (ix *Index) MarkExpired(ctx context.Context, id string) error {
	return ix.db.Exec(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, string(models.JobExpired), id)
}
