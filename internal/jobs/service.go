// Package jobs orchestrates job creation and lookup over the job store and
// the capture queue.
package jobs

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/snapfeed/postshot/internal/capture"
	"github.com/snapfeed/postshot/internal/platform"
)

// DefaultMaxBatch bounds how many URLs a single job may carry.
const DefaultMaxBatch = 200

// ValidationError describes a rejected batch submission.
type ValidationError struct {
	Message     string
	Unsupported []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NormalizeURLs trims every entry and drops the empty ones.
func NormalizeURLs(raw []string) []string {
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ValidateURLs normalizes the batch and rejects it when empty, oversized, or
// containing URLs no supported platform claims. The unsupported entries are
// reported back so callers can surface them.
func ValidateURLs(raw []string, maxBatch int) ([]string, *ValidationError) {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}

	urls := NormalizeURLs(raw)
	if len(urls) == 0 {
		return nil, &ValidationError{Message: "urls must be a non-empty array"}
	}
	if len(urls) > maxBatch {
		return nil, &ValidationError{Message: fmt.Sprintf("urls length must be <= %d", maxBatch)}
	}

	var unsupported []string
	for _, u := range urls {
		if _, ok := platform.Detect(u); !ok {
			unsupported = append(unsupported, u)
		}
	}
	if len(unsupported) > 0 {
		return nil, &ValidationError{Message: "unsupported URLs found", Unsupported: unsupported}
	}

	return urls, nil
}

// Service coordinates job persistence and task scheduling.
type Service struct {
	store  capture.JobStore
	queue  capture.Queue
	ids    capture.IDGenerator
	clock  capture.Clock
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(
	store capture.JobStore,
	queue capture.Queue,
	ids capture.IDGenerator,
	clock capture.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}
}

// CreateJob persists a job with one item per URL, in submission order, and
// enqueues a capture task for each. URLs must already be validated.
func (s *Service) CreateJob(ctx context.Context, urls []string) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	items := make([]capture.Item, 0, len(urls))
	tasks := make([]capture.Task, 0, len(urls))
	for i, u := range urls {
		p, _ := platform.Detect(u)
		items = append(items, capture.Item{
			Index:    i,
			URL:      u,
			Platform: p,
			Status:   capture.ItemStatusQueued,
		})
		tasks = append(tasks, capture.Task{
			JobID:    id,
			Index:    i,
			URL:      u,
			Platform: p,
		})
	}

	job := capture.Job{
		ID:        id,
		Status:    capture.JobStatusQueued,
		CreatedAt: s.clock.Now(),
		Total:     len(urls),
	}
	if err := s.store.InitJob(ctx, job, items); err != nil {
		return "", fmt.Errorf("init job: %w", err)
	}

	if err := s.queue.EnqueueBatch(ctx, tasks); err != nil {
		return "", fmt.Errorf("enqueue tasks: %w", err)
	}

	s.logger.Info("job created", zap.String("job_id", id), zap.Int("urls", len(urls)))
	return id, nil
}

// GetJob returns the job with its items, or capture.ErrNotFound.
func (s *Service) GetJob(ctx context.Context, jobID string) (capture.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return capture.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// GetZipPath returns the job's archive path, empty when the archive has not
// been assembled, or capture.ErrNotFound for unknown jobs.
func (s *Service) GetZipPath(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job.ZipPath, nil
}
