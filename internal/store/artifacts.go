package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/CosmoTheDev/scanpipe/models"
)

// ErrNoArtifact is returned when a report or job artifact does not exist.
var ErrNoArtifact = errors.New("artifact not found")

// Artifacts persists reports, enhanced reports and job records under a
// base directory:
//
//	<base>/reports/<job>.json
//	<base>/reports/<job>_enhanced.json
//	<base>/jobs/<job>.json
//	<base>/work/<job>/          (scratch workspace, removed after the run)
//
// Every write goes to a temp file in the same directory followed by a
// rename, so readers never see a partial artifact.
type Artifacts struct {
	base string
}

// NewArtifacts creates the directory layout under base.
func NewArtifacts(base string) (*Artifacts, error) {
	for _, d := range []string{base, filepath.Join(base, "reports"), filepath.Join(base, "jobs"), filepath.Join(base, "work")} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("creating artifact directory %s: %w", d, err)
		}
	}
	return &Artifacts{base: base}, nil
}

// WorkDir returns the scratch workspace path for a job (not created).
func (a *Artifacts) WorkDir(jobID string) string {
	return filepath.Join(a.base, "work", jobID)
}

// RemoveWorkDir deletes the job's scratch workspace.
func (a *Artifacts) RemoveWorkDir(jobID string) error {
	return os.RemoveAll(a.WorkDir(jobID))
}

func (a *Artifacts) reportPath(jobID string) string {
	return filepath.Join(a.base, "reports", jobID+".json")
}

func (a *Artifacts) enhancedPath(jobID string) string {
	return filepath.Join(a.base, "reports", jobID+"_enhanced.json")
}

func (a *Artifacts) jobPath(jobID string) string {
	return filepath.Join(a.base, "jobs", jobID+".json")
}

// WriteReport persists the report atomically.
func (a *Artifacts) WriteReport(r *models.Report) error {
	return writeJSONAtomic(a.reportPath(r.JobID), r)
}

// LoadReport reads a previously written report.
func (a *Artifacts) LoadReport(jobID string) (*models.Report, error) {
	var r models.Report
	if err := readJSON(a.reportPath(jobID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// HasReport reports whether a report artifact exists for jobID.
func (a *Artifacts) HasReport(jobID string) bool {
	_, err := os.Stat(a.reportPath(jobID))
	return err == nil
}

// WriteEnhanced persists the enhanced report atomically.
func (a *Artifacts) WriteEnhanced(r *models.EnhancedReport) error {
	return writeJSONAtomic(a.enhancedPath(r.JobID), r)
}

// LoadEnhanced reads a previously written enhanced report.
func (a *Artifacts) LoadEnhanced(jobID string) (*models.EnhancedReport, error) {
	var r models.EnhancedReport
	if err := readJSON(a.enhancedPath(jobID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RemoveEnhanced deletes the enhanced artifact, if present. Used when a
// failed enhancement is retriggered so no partial state survives.
func (a *Artifacts) RemoveEnhanced(jobID string) error {
	err := os.Remove(a.enhancedPath(jobID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteJob persists the job record atomically.
func (a *Artifacts) WriteJob(job *models.Job) error {
	return writeJSONAtomic(a.jobPath(job.ID), job)
}

// LoadJob reads a previously written job record.
func (a *Artifacts) LoadJob(jobID string) (*models.Job, error) {
	var j models.Job
	if err := readJSON(a.jobPath(jobID), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// RemoveJob deletes every artifact belonging to jobID.
func (a *Artifacts) RemoveJob(jobID string) error {
	var firstErr error
	for _, p := range []string{a.reportPath(jobID), a.enhancedPath(jobID), a.jobPath(jobID)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.RemoveWorkDir(jobID); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoArtifact
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
