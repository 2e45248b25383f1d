package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the process-local Store used in inline mode. Records live
// until they expire or the process exits; other processes cannot see them.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]Job
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]Job),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if deadline, ok := s.expires[id]; ok && !s.now().Before(deadline) {
		delete(s.jobs, id)
		delete(s.expires, id)
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (s *MemoryStore) Set(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// Expire schedules removal of id after ttl. A non-positive ttl keeps the
// record for the process lifetime.
func (s *MemoryStore) Expire(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	if ttl <= 0 {
		delete(s.expires, id)
		return nil
	}
	s.expires[id] = s.now().Add(ttl)
	return nil
}

// Len returns the number of records currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
