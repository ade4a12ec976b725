// Package memstore provides an in-memory implementation of batch.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/warden/internal/batch"
)

// Store holds batch job records in memory. Suitable for dev/testing.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*batch.BatchJob
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{jobs: make(map[string]*batch.BatchJob)}
}

// Get retrieves a job by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*batch.BatchJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return copyJob(job), true, nil
}

// Put stores a copy of the job, overwriting any previous snapshot.
func (s *Store) Put(_ context.Context, job *batch.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// List returns copies of all stored jobs.
func (s *Store) List(_ context.Context) ([]*batch.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*batch.BatchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, copyJob(job))
	}
	return out, nil
}

func copyJob(job *batch.BatchJob) *batch.BatchJob {
	cp := *job
	cp.Failures = append([]batch.ItemFailure(nil), job.Failures...)
	return &cp
}
