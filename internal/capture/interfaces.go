package capture

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by JobStore lookups for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// ErrQueueClosed is returned by Queue operations after shutdown; workers
// treat it as a terminal dequeue result.
var ErrQueueClosed = errors.New("queue closed")

// JobStore persists jobs and their items. Counter mutations must be atomic
// relative to concurrent finishers: MarkItemFinished reports true to exactly
// one caller per job, the one whose increment crosses the completion
// threshold.
type JobStore interface {
	// InitJob creates the job and all items as a single atomic write; no
	// partially initialized job is ever visible.
	InitJob(ctx context.Context, job Job, items []Item) error
	// GetJob returns the full job with items ordered by index, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (Job, error)
	MarkItemStarted(ctx context.Context, jobID string, index int) error
	// MarkItemFinished writes the item's terminal fields, bumps the job
	// counters, and reports whether this call observed completed == total.
	MarkItemFinished(ctx context.Context, jobID string, index int, outcome Outcome) (bool, error)
	SetZipPath(ctx context.Context, jobID string, path string) error
	// TryAcquireBuildLock takes a time-bounded exclusive lock guarding the
	// archive build; it reports whether the caller won the race.
	TryAcquireBuildLock(ctx context.Context, jobID string) (bool, error)
}

// Queue provides capture task scheduling for the worker pool.
type Queue interface {
	EnqueueBatch(ctx context.Context, tasks []Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Executor drives one capture attempt end-to-end: navigate, resolve the
// post target, extract text, and write the screenshot to the output path.
type Executor interface {
	Capture(ctx context.Context, req Request) (Result, error)
}

// Publisher pushes job-completion events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
	Close() error
}

// ArtifactStore writes finished archives to remote storage and returns a URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
