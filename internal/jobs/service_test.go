package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapfeed/postshot/internal/capture"
	systemclock "github.com/snapfeed/postshot/internal/clock/system"
	uuidgen "github.com/snapfeed/postshot/internal/id/uuid"
	queuememory "github.com/snapfeed/postshot/internal/queue/memory"
	storememory "github.com/snapfeed/postshot/internal/storage/memory"
)

func newService(t *testing.T) (*Service, *storememory.JobStore, *queuememory.Queue) {
	t.Helper()
	store := storememory.NewJobStore()
	queue := queuememory.NewQueue(64)
	svc := NewService(store, queue, uuidgen.New(), systemclock.Clock{}, zap.NewNop())
	return svc, store, queue
}

func TestValidateURLs(t *testing.T) {
	t.Parallel()

	urls, verr := ValidateURLs([]string{
		"  https://www.threads.net/@u/post/C1  ",
		"",
		"https://www.instagram.com/p/C2/",
	}, 0)
	require.Nil(t, verr)
	require.Equal(t, []string{
		"https://www.threads.net/@u/post/C1",
		"https://www.instagram.com/p/C2/",
	}, urls)

	_, verr = ValidateURLs(nil, 0)
	require.NotNil(t, verr)
	require.Equal(t, "urls must be a non-empty array", verr.Message)

	_, verr = ValidateURLs([]string{"   ", ""}, 0)
	require.NotNil(t, verr)
	require.Equal(t, "urls must be a non-empty array", verr.Message)

	big := make([]string, 3)
	for i := range big {
		big[i] = "https://www.threads.net/@u/post/C1"
	}
	_, verr = ValidateURLs(big, 2)
	require.NotNil(t, verr)
	require.Equal(t, "urls length must be <= 2", verr.Message)

	_, verr = ValidateURLs([]string{
		"https://www.threads.net/@u/post/C1",
		"https://example.com/whatever",
		"https://twitter.com/u/status/1",
	}, 0)
	require.NotNil(t, verr)
	require.Equal(t, "unsupported URLs found", verr.Message)
	require.Equal(t, []string{"https://example.com/whatever", "https://twitter.com/u/status/1"}, verr.Unsupported)
}

func TestServiceCreateJob(t *testing.T) {
	t.Parallel()

	svc, store, queue := newService(t)
	urls := []string{
		"https://www.facebook.com/page/posts/1",
		"https://www.instagram.com/p/C2/",
		"https://www.threads.net/@u/post/C3",
	}

	id, err := svc.CreateJob(context.Background(), urls)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusQueued, job.Status)
	require.Equal(t, 3, job.Total)
	require.Zero(t, job.Completed)
	require.Len(t, job.Items, 3)
	require.Equal(t, capture.PlatformFacebook, job.Items[0].Platform)
	require.Equal(t, capture.PlatformInstagram, job.Items[1].Platform)
	require.Equal(t, capture.PlatformThreads, job.Items[2].Platform)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, u := range urls {
		task, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, id, task.JobID)
		require.Equal(t, i, task.Index)
		require.Equal(t, u, task.URL)
	}
}

func TestServiceGetJob_NotFound(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)

	_, err := svc.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, capture.ErrNotFound)

	_, err = svc.GetZipPath(context.Background(), "missing")
	require.ErrorIs(t, err, capture.ErrNotFound)
}

func TestServiceGetZipPath(t *testing.T) {
	t.Parallel()

	svc, store, _ := newService(t)
	id, err := svc.CreateJob(context.Background(), []string{"https://www.threads.net/@u/post/C1"})
	require.NoError(t, err)

	path, err := svc.GetZipPath(context.Background(), id)
	require.NoError(t, err)
	require.Empty(t, path)

	require.NoError(t, store.SetZipPath(context.Background(), id, "/data/"+id+"/screenshots.zip"))
	path, err = svc.GetZipPath(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "/data/"+id+"/screenshots.zip", path)
}
