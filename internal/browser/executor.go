// Package browser captures post screenshots with headless Chrome via chromedp.
package browser

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/snapfeed/postshot/internal/capture"
	"github.com/snapfeed/postshot/internal/platform"
)

const (
	// Mobile-sized viewport. The phone layout renders posts as compact
	// single columns, which frames much better than the desktop feed.
	viewportWidth  = 390
	viewportHeight = 844
	deviceScale    = 2.0

	defaultTimeout      = 45 * time.Second
	navigateRetryPause  = 1200 * time.Millisecond
	domReadyBudget      = 10 * time.Second
	settleDelay         = 450 * time.Millisecond
	resolvePollInterval = 800 * time.Millisecond
	resolveBudget       = 30 * time.Second
	mediaReadyBudget    = 12 * time.Second
	debugShotBudget     = 10 * time.Second

	// Instagram post containers can stretch past the carousel into endless
	// comments. Cap the capture so the engagement row stays in frame
	// without producing abnormally tall images.
	instagramMaxHeight = 1500
)

// Config controls the shared Chrome process and per-capture behavior.
type Config struct {
	Concurrency int
	UserAgent   string
	ExecPath    string
	Headless    bool
}

// Executor captures post screenshots using a shared headless Chrome process
// with one tab per capture.
type Executor struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
}

// NewExecutor launches the shared browser process and warms it up. Launch
// failures come back classified so callers can map them onto item outcomes.
func NewExecutor(cfg Config, logger *zap.Logger) (*Executor, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Executor{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.Concurrency),
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (e *Executor) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.browserCancel()
	e.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// Capture renders the post and writes its screenshot to req.OutputPath.
// Failures return a *capture.Error; when a debug screenshot could be saved
// its path is attached to the error.
func (e *Executor) Capture(ctx context.Context, req capture.Request) (capture.Result, error) {
	release, err := e.acquireSlot(ctx)
	if err != nil {
		return capture.Result{}, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	e.blockHeavyResources(tabCtx)

	res, err := e.capture(taskCtx, req, timeout)
	if err != nil {
		cerr := capture.Classify(err)
		// The tab context carries no deadline, so the debug shot can
		// still run after the capture deadline fired.
		if debugPath := e.saveDebugScreenshot(tabCtx, req); debugPath != "" {
			cerr.DebugPath = debugPath
		}
		return capture.Result{}, cerr
	}
	return res, nil
}

func (e *Executor) capture(ctx context.Context, req capture.Request, timeout time.Duration) (capture.Result, error) {
	targetURL := platform.NormalizeURL(req.URL, req.Platform)

	if err := chromedp.Run(ctx,
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}),
		emulation.SetDeviceMetricsOverride(viewportWidth, viewportHeight, deviceScale, false),
	); err != nil {
		return capture.Result{}, fmt.Errorf("prepare tab: %w", err)
	}

	if err := e.navigate(ctx, targetURL, timeout); err != nil {
		return capture.Result{}, fmt.Errorf("navigate %s: %w", targetURL, err)
	}

	switch req.Platform {
	case capture.PlatformFacebook:
		e.eval(ctx, dismissFacebookTopBarsJS)
	case capture.PlatformInstagram:
		e.eval(ctx, dismissInstagramLoginPromptJS)
	}

	if !e.resolveTarget(ctx, req.Platform, targetURL, timeout) {
		return capture.Result{}, e.classifyMissingTarget(ctx)
	}

	contentText := e.contentText(ctx, req.Platform)

	e.eval(ctx, scrollIntoViewJS)
	_ = chromedp.Run(ctx, chromedp.Sleep(settleDelay))
	if req.Platform == capture.PlatformFacebook {
		e.eval(ctx, dismissFacebookTopBarsJS)
	}
	e.eval(ctx, dismissBottomConsentOverlaysJS)
	e.waitMediaReady(ctx, timeout)
	if req.Platform == capture.PlatformInstagram {
		e.eval(ctx, dismissInstagramLoginPromptJS)
		e.eval(ctx, dismissInstagramMaskLayerJS)
	}

	if err := e.screenshotTarget(ctx, req.Platform, req.OutputPath); err != nil {
		return capture.Result{}, fmt.Errorf("screenshot: %w", err)
	}

	return capture.Result{ContentText: contentText}, nil
}

// navigate commits navigation with one retry, then waits for the DOM on a
// best-effort basis. Social feeds keep loading subresources long after the
// post is renderable, so a full load wait would burn most of the budget.
func (e *Executor) navigate(ctx context.Context, targetURL string, timeout time.Duration) error {
	const attempts = 2
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := chromedp.Run(ctx, chromedp.Sleep(navigateRetryPause)); err != nil {
				return err
			}
		}

		lastErr = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errText, _, err := page.Navigate(targetURL).Do(ctx)
			if err != nil {
				return err
			}
			if errText != "" {
				return fmt.Errorf("navigation failed: %s", errText)
			}
			return nil
		}))
		if lastErr == nil {
			readyCtx, cancel := context.WithTimeout(ctx, minDuration(domReadyBudget, timeout))
			_ = chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery))
			cancel()
			return nil
		}
	}
	return lastErr
}

// resolveTarget tags the post container in the DOM. The anchored strategy
// (find a link to the post itself, walk up to its container) is tried once;
// the generic selector list is then polled until found or the budget runs out.
func (e *Executor) resolveTarget(ctx context.Context, p capture.Platform, targetURL string, timeout time.Duration) bool {
	if script, ok := anchorResolveScript(p, targetURL); ok {
		var found bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err == nil && found {
			return true
		}
	}

	generic := genericResolveScript(platform.TargetSelectors(p))
	deadline := time.Now().Add(minDuration(timeout, resolveBudget))
	for {
		var found bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(generic, &found)); err == nil && found {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if err := chromedp.Run(ctx, chromedp.Sleep(resolvePollInterval)); err != nil {
			return false
		}
	}
}

// classifyMissingTarget decides whether an unresolved post means a login
// wall or a missing post, based on what the page actually shows.
func (e *Executor) classifyMissingTarget(ctx context.Context) error {
	// A dead task context means the deadline expired mid-resolution, not
	// that the page lacks the post.
	if err := ctx.Err(); err != nil {
		return err
	}

	var loc, title, text string
	_ = chromedp.Run(ctx,
		chromedp.Location(&loc),
		chromedp.Title(&title),
		chromedp.Evaluate(pageTextJS, &text),
	)

	if platform.IsLikelyLoginWall(platform.PageSignals{URL: loc, Title: title, Text: text}) {
		return capture.NewError(capture.CodeLoginWall, "detected login wall")
	}
	return capture.NewError(capture.CodePostNotFound, "could not locate post container")
}

func (e *Executor) contentText(ctx context.Context, p capture.Platform) string {
	var text string
	if err := chromedp.Run(ctx, chromedp.Evaluate(contentTextScript(p), &text)); err != nil {
		return ""
	}
	return text
}

func (e *Executor) waitMediaReady(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(minDuration(timeout, mediaReadyBudget))
	for time.Now().Before(deadline) {
		var ready bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(mediaReadyJS, &ready)); err == nil && ready {
			return
		}
		if err := chromedp.Run(ctx, chromedp.Sleep(settleDelay)); err != nil {
			return
		}
	}
}

type clipRect struct {
	OK     bool    `json:"ok"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (e *Executor) screenshotTarget(ctx context.Context, p capture.Platform, outputPath string) error {
	switch p {
	case capture.PlatformFacebook:
		var clip clipRect
		if err := chromedp.Run(ctx, chromedp.Evaluate(facebookClipJS, &clip)); err == nil && clip.OK {
			return e.captureClip(ctx, clip, outputPath)
		}
		return e.captureElement(ctx, outputPath)
	case capture.PlatformInstagram:
		var box clipRect
		if err := chromedp.Run(ctx, chromedp.Evaluate(targetRectJS, &box)); err == nil && box.OK {
			box.Height = math.Min(box.Height, instagramMaxHeight)
			return e.captureClip(ctx, box, outputPath)
		}
		return e.captureElement(ctx, outputPath)
	default:
		return e.captureElement(ctx, outputPath)
	}
}

func (e *Executor) captureClip(ctx context.Context, r clipRect, outputPath string) error {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithClip(&page.Viewport{
				X:      math.Max(0, r.X),
				Y:      math.Max(0, r.Y),
				Width:  math.Max(1, r.Width),
				Height: math.Max(1, r.Height),
				Scale:  1,
			}).
			Do(ctx)
		return err
	}))
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, buf, 0o644)
}

func (e *Executor) captureElement(ctx context.Context, outputPath string) error {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.Screenshot(targetSelector, &buf, chromedp.ByQuery)); err != nil {
		return err
	}
	return os.WriteFile(outputPath, buf, 0o644)
}

// saveDebugScreenshot writes a full-page screenshot next to the output file
// so failed captures can be diagnosed. Best effort: a failure here never
// masks the original capture error.
func (e *Executor) saveDebugScreenshot(tabCtx context.Context, req capture.Request) string {
	debugPath := req.DebugPath
	if debugPath == "" && req.OutputPath != "" {
		debugPath = strings.TrimSuffix(req.OutputPath, ".png") + ".debug.png"
	}
	if debugPath == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(tabCtx, debugShotBudget)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		e.logger.Debug("debug screenshot failed", zap.Error(err))
		return ""
	}
	if err := os.WriteFile(debugPath, buf, 0o644); err != nil {
		e.logger.Debug("debug screenshot write failed", zap.String("path", debugPath), zap.Error(err))
		return ""
	}
	return debugPath
}

// blockHeavyResources aborts media and font requests in the tab. Videos and
// webfonts dominate transfer on social pages and never appear in the final
// screenshot frame.
func (e *Executor) blockHeavyResources(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		pe, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(tabCtx)
			ectx := cdp.WithExecutor(tabCtx, c.Target)
			switch pe.ResourceType {
			case network.ResourceTypeMedia, network.ResourceTypeFont:
				_ = fetch.FailRequest(pe.RequestID, network.ErrorReasonBlockedByClient).Do(ectx)
			default:
				_ = fetch.ContinueRequest(pe.RequestID).Do(ectx)
			}
		}()
	})
}

// eval runs a best-effort page script, such as overlay dismissal. Failures
// are logged and swallowed.
func (e *Executor) eval(ctx context.Context, script string) {
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		e.logger.Debug("page script failed", zap.Error(err))
	}
}

func (e *Executor) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire capture slot: %w", ctx.Err())
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
