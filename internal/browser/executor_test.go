package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapfeed/postshot/internal/capture"
)

func TestAnchorResolveScript(t *testing.T) {
	t.Parallel()

	script, ok := anchorResolveScript(capture.PlatformThreads, "https://www.threads.net/@user/post/C12345/")
	require.True(t, ok)
	require.Contains(t, script, `a[href*="/@user/post/C12345"]`)
	require.Contains(t, script, "data-pressable-container")

	script, ok = anchorResolveScript(capture.PlatformInstagram, "https://www.instagram.com/p/C98765/")
	require.True(t, ok)
	require.Contains(t, script, `a[href*="/p/C98765"]`)
	require.Contains(t, script, "closest")

	script, ok = anchorResolveScript(capture.PlatformInstagram, "https://www.instagram.com/reel/DRstuv/")
	require.True(t, ok)
	require.Contains(t, script, `a[href*="/reel/DRstuv"]`)

	script, ok = anchorResolveScript(capture.PlatformFacebook, "https://www.facebook.com/somepage/posts/pfbid0abc")
	require.True(t, ok)
	require.Contains(t, script, `a[href*="pfbid0abc"]`)
}

func TestAnchorResolveScript_NoStrategy(t *testing.T) {
	t.Parallel()

	// Threads profile URL without /post/ segment has nothing to anchor on.
	_, ok := anchorResolveScript(capture.PlatformThreads, "https://www.threads.net/@user")
	require.False(t, ok)

	// Instagram URL without a p/reel shortcode.
	_, ok = anchorResolveScript(capture.PlatformInstagram, "https://www.instagram.com/someuser/")
	require.False(t, ok)

	// Facebook root URL has no last path segment.
	_, ok = anchorResolveScript(capture.PlatformFacebook, "https://www.facebook.com/")
	require.False(t, ok)
}

func TestGenericResolveScript(t *testing.T) {
	t.Parallel()

	script := genericResolveScript([]string{"article", "main article"})
	require.Contains(t, script, `"article"`)
	require.Contains(t, script, `"main article"`)
	require.Contains(t, script, "rect.width < 20")
	require.Contains(t, script, targetAttr)
}

func TestContentTextScript(t *testing.T) {
	t.Parallel()

	for _, p := range []capture.Platform{capture.PlatformFacebook, capture.PlatformInstagram, capture.PlatformThreads} {
		script := contentTextScript(p)
		require.Contains(t, script, targetSelector)
		require.Contains(t, script, "innerText")
	}

	// Instagram joins every caption node; the others take the first match.
	require.Contains(t, contentTextScript(capture.PlatformInstagram), "candidates.join")
	require.NotContains(t, contentTextScript(capture.PlatformThreads), "candidates.join")
}

func TestSplitPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"p", "C98765"}, splitPath("/p/C98765/"))
	require.Empty(t, splitPath("/"))
}

func TestClassifyMissingTargetExpiredDeadline(t *testing.T) {
	t.Parallel()

	e := &Executor{logger: zap.NewNop()}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	// When the task deadline dies while the target is still resolving, the
	// failure is a timeout, not a missing post.
	err := e.classifyMissingTarget(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, capture.CodeTimeout, capture.Classify(err).Code)
}

func TestExecutorCapture(t *testing.T) {
	exec, err := NewExecutor(Config{Concurrency: 1, Headless: true}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer exec.Close(context.Background())

	srv := newPostServer(t)
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "001.png")

	res, err := exec.Capture(context.Background(), capture.Request{
		URL:        srv.URL + "/@user/post/C1",
		Platform:   capture.PlatformThreads,
		OutputPath: out,
		DebugPath:  filepath.Join(dir, "001.debug.png"),
		Timeout:    15 * time.Second,
	})
	if err != nil {
		t.Skipf("capture failed: %v", err)
	}

	require.True(t, strings.Contains(res.ContentText, "hello from the post"))
	info, statErr := os.Stat(out)
	require.NoError(t, statErr)
	require.Greater(t, info.Size(), int64(0))
}

// newPostServer serves a minimal page shaped like a Threads post so the
// anchored resolver and content extraction have something to find.
func newPostServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body>
			<div data-pressable-container="true" style="width:360px;height:200px">
				<a href="/@user/post/C1">permalink</a>
				<span>hello from the post</span>
			</div>
		</body></html>`)
	}))
}
