// Package worker implements the capture pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/snapfeed/postshot/internal/archive"
	"github.com/snapfeed/postshot/internal/capture"
	"github.com/snapfeed/postshot/internal/metrics"
	"github.com/snapfeed/postshot/internal/storage"
)

// Config controls Worker behavior.
type Config struct {
	// PageTimeout bounds a single capture attempt.
	PageTimeout time.Duration
	// MaxAttempts is the total attempt budget for infrastructure failures.
	// Page-level failures (login wall, missing post) are terminal on the
	// first attempt.
	MaxAttempts int
}

// Worker consumes capture tasks and executes the screenshot pipeline.
type Worker struct {
	queue     capture.Queue
	store     capture.JobStore
	executor  capture.Executor
	publisher capture.Publisher
	artifacts capture.ArtifactStore
	layout    storage.Layout
	clock     capture.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher and artifacts may be nil when
// completion events or remote archive mirroring are not configured.
func New(
	queue capture.Queue,
	store capture.JobStore,
	executor capture.Executor,
	publisher capture.Publisher,
	artifacts capture.ArtifactStore,
	layout storage.Layout,
	clock capture.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 45 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Worker{
		queue:     queue,
		store:     store,
		executor:  executor,
		publisher: publisher,
		artifacts: artifacts,
		layout:    layout,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming capture tasks until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, capture.ErrQueueClosed) {
				w.logger.Info("queue closed, worker stopping")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("job_id", task.JobID), zap.Int("index", task.Index))
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task capture.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	// Status updates are advisory; a failed write must not prevent the
	// capture from running and finishing the item.
	if err := w.store.MarkItemStarted(ctx, task.JobID, task.Index); err != nil {
		w.logger.Error("mark item started failed",
			zap.String("job_id", task.JobID), zap.Int("index", task.Index), zap.Error(err))
	}

	if _, err := w.layout.EnsureJobDir(task.JobID); err != nil {
		w.logger.Error("job dir create failed", zap.String("job_id", task.JobID), zap.Error(err))
		w.finishItem(ctx, task, capture.FailureOutcome(capture.NewError(capture.CodeUnknown, err.Error())))
		return
	}

	req := capture.Request{
		URL:        task.URL,
		Platform:   task.Platform,
		OutputPath: w.layout.ScreenshotPath(task.JobID, task.Index),
		DebugPath:  w.layout.DebugScreenshotPath(task.JobID, task.Index),
		Timeout:    w.cfg.PageTimeout,
	}

	start := w.clock.Now()
	res, err := w.executor.Capture(ctx, req)
	duration := w.clock.Now().Sub(start)

	if err != nil {
		cerr := capture.Classify(err)
		if w.maybeRetry(ctx, task, cerr) {
			metrics.ObserveCapture(string(task.Platform), "retry", duration)
			return
		}
		w.logger.Warn("capture failed",
			zap.String("job_id", task.JobID),
			zap.Int("index", task.Index),
			zap.String("url", task.URL),
			zap.String("code", string(cerr.Code)),
			zap.Error(cerr),
		)
		metrics.ObserveCapture(string(task.Platform), "failed", duration)
		w.finishItem(ctx, task, capture.FailureOutcome(cerr))
		return
	}

	fileName := capture.BuildImageFilename(res.ContentText, task.Index)
	w.logger.Info("capture succeeded",
		zap.String("job_id", task.JobID),
		zap.Int("index", task.Index),
		zap.String("file_name", fileName),
		zap.Duration("duration", duration),
	)
	metrics.ObserveCapture(string(task.Platform), "success", duration)
	w.finishItem(ctx, task, capture.SuccessOutcome(req.OutputPath, fileName))
}

// maybeRetry re-enqueues the task when the failure looks like browser
// infrastructure rather than the page itself. Reports whether a retry was
// scheduled.
func (w *Worker) maybeRetry(ctx context.Context, task capture.Task, cerr *capture.Error) bool {
	if cerr.Code != capture.CodeBrowserLaunchFailed {
		return false
	}
	return w.retryTask(ctx, task, "browser launch failed")
}

// retryTask re-enqueues the task with a bumped attempt count, within the
// MaxAttempts budget. Reports whether a retry was scheduled.
func (w *Worker) retryTask(ctx context.Context, task capture.Task, reason string) bool {
	if task.Attempt+1 >= w.cfg.MaxAttempts {
		return false
	}

	task.Attempt++
	if err := w.queue.EnqueueBatch(ctx, []capture.Task{task}); err != nil {
		w.logger.Error("capture retry enqueue failed",
			zap.String("job_id", task.JobID), zap.Int("index", task.Index), zap.Error(err))
		return false
	}
	w.logger.Warn("capture retry scheduled",
		zap.String("job_id", task.JobID),
		zap.Int("index", task.Index),
		zap.Int("attempt", task.Attempt),
		zap.String("reason", reason),
	)
	return true
}

func (w *Worker) finishItem(ctx context.Context, task capture.Task, outcome capture.Outcome) {
	triggered, err := w.store.MarkItemFinished(ctx, task.JobID, task.Index, outcome)
	if err != nil {
		// A dropped write would strand the item in processing and the job
		// short of its completion edge, so store failures re-run the task.
		if w.retryTask(ctx, task, "finish write failed") {
			return
		}
		w.logger.Error("mark item finished failed",
			zap.String("job_id", task.JobID), zap.Int("index", task.Index), zap.Error(err))
		return
	}
	if triggered {
		w.finalizeJob(ctx, task.JobID)
	}
}

// finalizeJob runs on the completion edge: the single finisher whose write
// crossed completed == total. The build lock keeps the archive assembly
// exclusive even if another process observes the same edge.
func (w *Worker) finalizeJob(ctx context.Context, jobID string) {
	won, err := w.store.TryAcquireBuildLock(ctx, jobID)
	if err != nil {
		w.logger.Error("build lock acquire failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if !won {
		w.logger.Debug("archive build already in progress", zap.String("job_id", jobID))
		return
	}

	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		w.logger.Error("load job for archive failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	zipPath := w.layout.ZipPath(jobID)
	if _, err := archive.Build(job, zipPath); err != nil {
		if errors.Is(err, archive.ErrNoImages) {
			w.logger.Info("job completed without captured images", zap.String("job_id", jobID))
		} else {
			w.logger.Error("archive build failed", zap.String("job_id", jobID), zap.Error(err))
		}
	} else {
		if err := w.store.SetZipPath(ctx, jobID, zipPath); err != nil {
			w.logger.Error("set zip path failed", zap.String("job_id", jobID), zap.Error(err))
		}
		metrics.ObserveArchiveBuilt()
		w.mirrorArchive(ctx, jobID, zipPath)
	}

	metrics.ObserveJobCompleted()
	w.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.Int("success", job.Success),
		zap.Int("failed", job.Failed),
	)

	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, jobID); err != nil {
			w.logger.Warn("completion publish failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// mirrorArchive uploads the finished archive to remote storage, best effort.
func (w *Worker) mirrorArchive(ctx context.Context, jobID, zipPath string) {
	if w.artifacts == nil {
		return
	}

	data, err := os.ReadFile(zipPath)
	if err != nil {
		w.logger.Warn("archive read for mirror failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	uri, err := w.artifacts.PutObject(ctx, jobID+"/screenshots.zip", "application/zip", data)
	if err != nil {
		w.logger.Warn("archive mirror failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	w.logger.Info("archive mirrored", zap.String("job_id", jobID), zap.String("uri", uri))
}
