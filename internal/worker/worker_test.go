package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapfeed/postshot/internal/capture"
	systemclock "github.com/snapfeed/postshot/internal/clock/system"
	queuememory "github.com/snapfeed/postshot/internal/queue/memory"
	"github.com/snapfeed/postshot/internal/storage"
	storememory "github.com/snapfeed/postshot/internal/storage/memory"
)

type fakeExecutor struct {
	mu       sync.Mutex
	attempts map[string]int
	// fail maps URL to the error each attempt should return; nil means
	// success. failOnce fails only the first attempt.
	fail     map[string]error
	failOnce map[string]error
}

func (f *fakeExecutor) Capture(_ context.Context, req capture.Request) (capture.Result, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[req.URL]++
	attempt := f.attempts[req.URL]
	f.mu.Unlock()

	if err := f.failOnce[req.URL]; err != nil && attempt == 1 {
		return capture.Result{}, err
	}
	if err := f.fail[req.URL]; err != nil {
		return capture.Result{}, err
	}

	if err := os.WriteFile(req.OutputPath, []byte("png-bytes"), 0o644); err != nil {
		return capture.Result{}, err
	}
	return capture.Result{ContentText: "今天天氣真好大家出來玩"}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	calls  atomic.Int32
	jobIDs []string
}

func (f *fakePublisher) Publish(_ context.Context, jobID string) error {
	f.mu.Lock()
	f.jobIDs = append(f.jobIDs, jobID)
	f.mu.Unlock()
	f.calls.Add(1)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func newTestJob(t *testing.T, store *storememory.JobStore, urls []string) (capture.Job, []capture.Task) {
	t.Helper()

	job := capture.Job{
		ID:        "job-1",
		Status:    capture.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
		Total:     len(urls),
	}
	items := make([]capture.Item, 0, len(urls))
	tasks := make([]capture.Task, 0, len(urls))
	for i, url := range urls {
		items = append(items, capture.Item{
			Index:    i,
			URL:      url,
			Platform: capture.PlatformThreads,
			Status:   capture.ItemStatusQueued,
		})
		tasks = append(tasks, capture.Task{
			JobID:    job.ID,
			Index:    i,
			URL:      url,
			Platform: capture.PlatformThreads,
		})
	}
	require.NoError(t, store.InitJob(context.Background(), job, items))
	return job, tasks
}

func runWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestWorker_JobCompletion(t *testing.T) {
	store := storememory.NewJobStore()
	queue := queuememory.NewQueue(16)
	layout := storage.NewLayout(t.TempDir())
	exec := &fakeExecutor{
		fail: map[string]error{
			"https://www.threads.net/@u/post/2": capture.NewError(capture.CodePostNotFound, "could not locate post container"),
		},
	}
	pub := &fakePublisher{}

	w := New(queue, store, exec, pub, nil, layout, systemclock.Clock{}, Config{PageTimeout: time.Second, MaxAttempts: 2}, zap.NewNop())
	runWorker(t, w)

	_, tasks := newTestJob(t, store, []string{
		"https://www.threads.net/@u/post/1",
		"https://www.threads.net/@u/post/2",
		"https://www.threads.net/@u/post/3",
	})
	require.NoError(t, queue.EnqueueBatch(context.Background(), tasks))

	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == capture.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 3, job.Total)
	require.Equal(t, 3, job.Completed)
	require.Equal(t, 2, job.Success)
	require.Equal(t, 1, job.Failed)
	require.Equal(t, layout.ZipPath("job-1"), job.ZipPath)
	require.FileExists(t, job.ZipPath)

	require.Equal(t, capture.ItemStatusFailed, job.Items[1].Status)
	require.Equal(t, string(capture.CodePostNotFound), job.Items[1].ErrorCode)
	require.Equal(t, capture.ItemStatusSuccess, job.Items[2].Status)
	require.NotEmpty(t, job.Items[2].FileName)

	require.Eventually(t, func() bool { return pub.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"job-1"}, pub.jobIDs)
}

func TestWorker_AllItemsFail_NoArchive(t *testing.T) {
	store := storememory.NewJobStore()
	queue := queuememory.NewQueue(16)
	layout := storage.NewLayout(t.TempDir())
	exec := &fakeExecutor{
		fail: map[string]error{
			"https://www.threads.net/@u/post/1": capture.NewError(capture.CodeLoginWall, "detected login wall"),
			"https://www.threads.net/@u/post/2": errors.New("tab crashed"),
		},
	}
	pub := &fakePublisher{}

	w := New(queue, store, exec, pub, nil, layout, systemclock.Clock{}, Config{PageTimeout: time.Second, MaxAttempts: 2}, zap.NewNop())
	runWorker(t, w)

	_, tasks := newTestJob(t, store, []string{
		"https://www.threads.net/@u/post/1",
		"https://www.threads.net/@u/post/2",
	})
	require.NoError(t, queue.EnqueueBatch(context.Background(), tasks))

	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == capture.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 2, job.Failed)
	require.Empty(t, job.ZipPath)
	require.NoFileExists(t, layout.ZipPath("job-1"))
	require.Equal(t, string(capture.CodeLoginWall), job.Items[0].ErrorCode)
	require.Equal(t, string(capture.CodeUnknown), job.Items[1].ErrorCode)

	// Completion events fire even when nothing could be captured.
	require.Eventually(t, func() bool { return pub.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWorker_RetriesBrowserLaunchFailure(t *testing.T) {
	store := storememory.NewJobStore()
	queue := queuememory.NewQueue(16)
	layout := storage.NewLayout(t.TempDir())
	exec := &fakeExecutor{
		failOnce: map[string]error{
			"https://www.threads.net/@u/post/1": capture.NewError(capture.CodeBrowserLaunchFailed, "browser has been closed"),
		},
	}

	w := New(queue, store, exec, nil, nil, layout, systemclock.Clock{}, Config{PageTimeout: time.Second, MaxAttempts: 2}, zap.NewNop())
	runWorker(t, w)

	_, tasks := newTestJob(t, store, []string{"https://www.threads.net/@u/post/1"})
	require.NoError(t, queue.EnqueueBatch(context.Background(), tasks))

	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == capture.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, job.Success)
	require.Equal(t, 0, job.Failed)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Equal(t, 2, exec.attempts["https://www.threads.net/@u/post/1"])
}

// flakyFinishStore fails the first N MarkItemFinished writes, then defers
// to the wrapped store.
type flakyFinishStore struct {
	*storememory.JobStore
	failuresLeft atomic.Int32
}

func (s *flakyFinishStore) MarkItemFinished(ctx context.Context, jobID string, index int, outcome capture.Outcome) (bool, error) {
	if s.failuresLeft.Add(-1) >= 0 {
		return false, errors.New("connection refused")
	}
	return s.JobStore.MarkItemFinished(ctx, jobID, index, outcome)
}

func TestWorker_RetriesFinishWriteFailure(t *testing.T) {
	store := &flakyFinishStore{JobStore: storememory.NewJobStore()}
	store.failuresLeft.Store(1)
	queue := queuememory.NewQueue(16)
	layout := storage.NewLayout(t.TempDir())
	exec := &fakeExecutor{}

	w := New(queue, store, exec, nil, nil, layout, systemclock.Clock{}, Config{PageTimeout: time.Second, MaxAttempts: 2}, zap.NewNop())
	runWorker(t, w)

	_, tasks := newTestJob(t, store.JobStore, []string{"https://www.threads.net/@u/post/1"})
	require.NoError(t, queue.EnqueueBatch(context.Background(), tasks))

	// A transient store failure on the finishing write must not strand the
	// item in processing; the task re-runs and the job still completes.
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == capture.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, job.Completed)
	require.Equal(t, 1, job.Success)
	require.Equal(t, layout.ZipPath("job-1"), job.ZipPath)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Equal(t, 2, exec.attempts["https://www.threads.net/@u/post/1"])
}

func TestWorker_StopsWhenQueueClosed(t *testing.T) {
	store := storememory.NewJobStore()
	queue := queuememory.NewQueue(4)
	layout := storage.NewLayout(t.TempDir())

	w := New(queue, store, &fakeExecutor{}, nil, nil, layout, systemclock.Clock{}, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()

	queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestWorker_ExhaustedRetriesFailItem(t *testing.T) {
	store := storememory.NewJobStore()
	queue := queuememory.NewQueue(16)
	layout := storage.NewLayout(t.TempDir())
	exec := &fakeExecutor{
		fail: map[string]error{
			"https://www.threads.net/@u/post/1": capture.NewError(capture.CodeBrowserLaunchFailed, "failed to launch"),
		},
	}

	w := New(queue, store, exec, nil, nil, layout, systemclock.Clock{}, Config{PageTimeout: time.Second, MaxAttempts: 2}, zap.NewNop())
	runWorker(t, w)

	_, tasks := newTestJob(t, store, []string{"https://www.threads.net/@u/post/1"})
	require.NoError(t, queue.EnqueueBatch(context.Background(), tasks))

	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), "job-1")
		return err == nil && job.Status == capture.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, job.Failed)
	require.Equal(t, string(capture.CodeBrowserLaunchFailed), job.Items[0].ErrorCode)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Equal(t, 2, exec.attempts["https://www.threads.net/@u/post/1"])
}
