package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// launchFlags keep the browser small enough for constrained containers.
var launchFlags = []flags.Flag{
	"disable-setuid-sandbox",
	"disable-dev-shm-usage",
	"disable-gpu",
	"disable-software-rasterizer",
	"disable-extensions",
	"disable-background-networking",
	"disable-default-apps",
	"disable-sync",
	"disable-translate",
	"hide-scrollbars",
	"metrics-recording-only",
	"mute-audio",
	"no-first-run",
	"safebrowsing-disable-auto-update",
	"disable-breakpad",
	"disable-crash-reporter",
}

// closeTimeout bounds the graceful close before the process is killed.
const closeTimeout = 5 * time.Second

// snapshotScript serializes the whole document, doctype included.
const snapshotScript = `() => {
	let html = '';
	if (document.doctype) html = new XMLSerializer().serializeToString(document.doctype);
	if (document.documentElement) html += document.documentElement.outerHTML;
	return html;
}`

// statusGrace is how long to wait for the main document status after the DOM
// is ready; both arrive on separate event streams.
const statusGrace = 500 * time.Millisecond

// RodEngine launches Chromium through go-rod.
type RodEngine struct {
	logger *slog.Logger
}

// NewRodEngine creates a RodEngine.
func NewRodEngine(logger *slog.Logger) *RodEngine {
	return &RodEngine{logger: logger.With("component", "rod_engine")}
}

// Launch starts a headless browser and connects to it. On error nothing is
// left running.
func (e *RodEngine) Launch(ctx context.Context, opts LaunchOptions) (Process, error) {
	l := newLauncher(ctx, opts)

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	e.logger.Debug("browser launched", "pid", l.PID())
	return &rodProcess{launcher: l, browser: b, logger: e.logger}, nil
}

// newLauncher configures, but does not start, a headless browser.
func newLauncher(ctx context.Context, opts LaunchOptions) *launcher.Launcher {
	l := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true)
	if opts.Path != "" {
		l = l.Bin(opts.Path)
	}
	for _, f := range launchFlags {
		l = l.Set(f)
	}
	l = l.Set("disable-features", "site-per-process,TranslateUI,Translate")
	if opts.JSHeapMB > 0 {
		l = l.Set("js-flags", fmt.Sprintf("--max-old-space-size=%d", opts.JSHeapMB))
	}
	if opts.SingleProcess {
		l = l.Set("single-process")
	}
	return l
}

type rodProcess struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	routers  []*rod.HijackRouter
	logger   *slog.Logger
}

func (p *rodProcess) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	page, err := p.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page = page.Context(ctx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.ViewportWidth,
		Height:            opts.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}

	if opts.IgnoreHTTPSErrors {
		if err := (proto.SecuritySetIgnoreCertificateErrors{Ignore: true}).Call(page); err != nil {
			return nil, fmt.Errorf("ignore certificate errors: %w", err)
		}
	}

	if len(opts.BlockedResources) > 0 {
		router, err := blockResources(page, opts.BlockedResources)
		if err != nil {
			return nil, err
		}
		p.routers = append(p.routers, router)
	}

	return &rodPage{page: page}, nil
}

// blockResources fails requests of the given resource types and lets
// everything else through.
func blockResources(page *rod.Page, types []string) (*rod.HijackRouter, error) {
	blocked := make(map[proto.NetworkResourceType]bool, len(types))
	for _, t := range types {
		blocked[proto.NetworkResourceType(t)] = true
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, fmt.Errorf("intercept requests: %w", err)
	}
	go router.Run()
	return router, nil
}

// Close stops interception, asks the browser to exit, then kills the process
// tree regardless of how the graceful close went.
func (p *rodProcess) Close() error {
	for _, r := range p.routers {
		_ = r.Stop()
	}

	var errs []error
	if err := p.browser.Context(context.Background()).Timeout(closeTimeout).Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	p.launcher.Kill()
	p.launcher.Cleanup()

	p.logger.Debug("browser closed")
	return errors.Join(errs...)
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) (int, error) {
	page := p.page.Context(ctx)

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return 0, fmt.Errorf("enable network events: %w", err)
	}

	statusCh := make(chan int, 1)
	waitStatus := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if !isMainDocument(e, page.FrameID) {
			return false
		}
		statusCh <- e.Response.Status
		return true
	})
	go waitStatus()

	waitDOM := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		return receiveStatus(ctx, statusCh, 0), err
	}
	waitDOM()
	if err := ctx.Err(); err != nil {
		return receiveStatus(ctx, statusCh, 0), err
	}

	return receiveStatus(ctx, statusCh, statusGrace), nil
}

// isMainDocument reports whether e is the document response of the page's
// own frame rather than an iframe.
func isMainDocument(e *proto.NetworkResponseReceived, frame proto.PageFrameID) bool {
	if e.Type != proto.NetworkResourceTypeDocument {
		return false
	}
	return frame == "" || e.FrameID == frame
}

// receiveStatus returns the main document status, waiting at most grace for
// it to arrive. 0 means no status was seen.
func receiveStatus(ctx context.Context, ch <-chan int, grace time.Duration) int {
	select {
	case s := <-ch:
		return s
	default:
	}
	if grace <= 0 {
		return 0
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case s := <-ch:
		return s
	case <-t.C:
		return 0
	case <-ctx.Done():
		return 0
	}
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(snapshotScript)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}
