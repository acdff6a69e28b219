// Package store holds the in-memory job table and the on-disk report
// artifacts. The pipeline is the only writer; the gateway and the
// enhancement coordinator read snapshots.
package store

import (
	"sort"
	"sync"

	"github.com/CosmoTheDev/scanpipe/models"
)

// JobStore is the authoritative in-memory record of all known jobs.
// All access goes through the lock; Get and List return copies so
// callers never observe a job mid-mutation.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewJobStore returns an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*models.Job)}
}

// Put registers or replaces a job.
func (s *JobStore) Put(job *models.Job) {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
}

// Get returns a snapshot of the job, or nil if unknown.
func (s *JobStore) Get(id string) *models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	return job.Clone()
}

// Mutate applies fn to the job under the write lock. Returns false if
// the job is unknown. fn must not block.
func (s *JobStore) Mutate(id string, fn func(*models.Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// List returns snapshots of all jobs ordered by submission time, newest first.
func (s *JobStore) List() []*models.Job {
	s.mu.RLock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Delete removes a job from the store.
func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// Len returns the number of known jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
