// Package memory provides an in-memory JobStore for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/snapfeed/postshot/internal/capture"
)

// buildLockLease bounds how long a crashed archive builder can hold the
// lock before another finisher may retry.
const buildLockLease = 120 * time.Second

type jobState struct {
	job       capture.Job
	items     []capture.Item
	lockUntil time.Time
}

// JobStore keeps jobs and items in process memory. All counter mutations
// happen under one mutex, which stands in for the atomic-increment
// primitive a durable store must provide.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*jobState
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*jobState),
		now:  time.Now,
	}
}

// InitJob creates the job and all its items atomically.
func (s *JobStore) InitJob(_ context.Context, job capture.Job, items []capture.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	copied := make([]capture.Item, len(items))
	copy(copied, items)
	job.Items = nil
	s.jobs[job.ID] = &jobState{job: job, items: copied}
	return nil
}

// GetJob returns a snapshot of the job with items ordered by index.
func (s *JobStore) GetJob(_ context.Context, jobID string) (capture.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[jobID]
	if !ok {
		return capture.Job{}, capture.ErrNotFound
	}
	snapshot := state.job
	snapshot.Items = make([]capture.Item, len(state.items))
	copy(snapshot.Items, state.items)
	return snapshot, nil
}

// MarkItemStarted transitions an item to processing.
func (s *JobStore) MarkItemStarted(_ context.Context, jobID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.item(jobID, index)
	if err != nil {
		return err
	}
	item.Status = capture.ItemStatusProcessing
	return nil
}

// MarkItemFinished writes the item's terminal fields and bumps the job
// counters as one atomic sequence. It reports true to exactly the caller
// whose increment crosses the completion threshold.
func (s *JobStore) MarkItemFinished(
	_ context.Context,
	jobID string,
	index int,
	outcome capture.Outcome,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[jobID]
	if !ok {
		return false, capture.ErrNotFound
	}
	item, err := s.item(jobID, index)
	if err != nil {
		return false, err
	}

	if outcome.OK {
		item.Status = capture.ItemStatusSuccess
		item.ImagePath = outcome.ImagePath
		item.FileName = outcome.FileName
		item.ErrorCode = ""
		item.ErrorMessage = ""
		item.DebugImagePath = ""
		state.job.Success++
	} else {
		item.Status = capture.ItemStatusFailed
		item.ErrorCode = outcome.ErrorCode
		item.ErrorMessage = outcome.ErrorMessage
		item.DebugImagePath = outcome.DebugImagePath
		item.ImagePath = ""
		item.FileName = ""
		state.job.Failed++
	}
	state.job.Completed++

	if state.job.Completed >= state.job.Total && state.job.Status != capture.JobStatusCompleted {
		state.job.Status = capture.JobStatusCompleted
		return true, nil
	}
	return false, nil
}

// SetZipPath records the archive location; once set it never changes.
func (s *JobStore) SetZipPath(_ context.Context, jobID string, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[jobID]
	if !ok {
		return capture.ErrNotFound
	}
	if state.job.ZipPath == "" {
		state.job.ZipPath = path
	}
	return nil
}

// TryAcquireBuildLock grants the archive-build lock with a bounded lease.
func (s *JobStore) TryAcquireBuildLock(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[jobID]
	if !ok {
		return false, capture.ErrNotFound
	}
	now := s.now()
	if now.Before(state.lockUntil) {
		return false, nil
	}
	state.lockUntil = now.Add(buildLockLease)
	return true, nil
}

func (s *JobStore) item(jobID string, index int) (*capture.Item, error) {
	state, ok := s.jobs[jobID]
	if !ok {
		return nil, capture.ErrNotFound
	}
	if index < 0 || index >= len(state.items) {
		return nil, fmt.Errorf("item index %d out of range for job %s", index, jobID)
	}
	return &state.items[index], nil
}
