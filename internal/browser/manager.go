package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"frame-proxy-go/internal/config"
	"frame-proxy-go/internal/metrics"
)

var errNoResponse = errors.New("no response for main document")

// Result is the outcome of a successful render.
type Result struct {
	Status int
	HTML   string
}

// Manager runs headless renders with a bounded number of concurrent browser
// processes. Each render launches its own process and tears it down before
// Render returns.
type Manager struct {
	engine  Engine
	launch  LaunchOptions
	page    PageOptions
	timeout time.Duration
	settle  time.Duration
	slots   *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewManager creates a Manager. The metrics parameter is optional.
func NewManager(engine Engine, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	b := cfg.Browser
	maxConcurrent := int64(b.MaxConcurrent)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Manager{
		engine: engine,
		launch: LaunchOptions{
			Path:          b.Path,
			JSHeapMB:      b.JSHeapMB,
			SingleProcess: b.SingleProcess,
		},
		page: PageOptions{
			UserAgent:         b.UserAgent,
			ViewportWidth:     b.ViewportWidth,
			ViewportHeight:    b.ViewportHeight,
			IgnoreHTTPSErrors: b.IgnoreHTTPS(),
			BlockedResources:  DefaultBlockedResources,
		},
		timeout: b.Timeout(),
		settle:  b.Settle(),
		slots:   semaphore.NewWeighted(maxConcurrent),
		logger:  logger.With("component", "browser_manager"),
		metrics: m,
	}
}

// Render loads target in a fresh browser process and returns the serialized
// DOM. userAgent overrides the configured fallback when non-empty. The whole
// render, including waiting for a free slot, is bounded by the configured
// timeout.
func (m *Manager) Render(ctx context.Context, target, userAgent string) (*Result, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := m.slots.Acquire(ctx, 1); err != nil {
		m.observe("busy", start)
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	defer m.slots.Release(1)

	opts := m.page
	if userAgent != "" {
		opts.UserAgent = userAgent
	}

	s := m.newSession(target)
	defer func() { _ = s.Close() }()

	res, err := s.run(ctx, m.launch, opts, m.settle)
	if err != nil {
		m.logger.Debug("render failed",
			"target", target,
			"state", s.State().String(),
			"launched", s.proc != nil,
			"err", err,
		)
		m.observe(outcome(s, err), start)
		return nil, err
	}
	m.observe("ok", start)
	return res, nil
}

func (m *Manager) observe(outcome string, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.BrowserRenders.WithLabelValues(outcome).Inc()
	m.metrics.BrowserRenderDuration.Observe(time.Since(start).Seconds())
}

// outcome labels a failed render by the state it failed in. A session still
// in Launching with a live process failed while opening its page.
func outcome(s *Session, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	switch s.State() {
	case Launching:
		if s.proc != nil {
			return "page_error"
		}
		return "launch_error"
	case NavigationInFlight:
		return "navigation_error"
	default:
		return "snapshot_error"
	}
}

func (m *Manager) newSession(target string) *Session {
	s := &Session{
		engine: m.engine,
		target: target,
		logger: m.logger.With("target", target),
	}
	if m.metrics != nil {
		s.onLaunch = m.metrics.BrowserSessionsActive.Inc
		s.onClose = m.metrics.BrowserSessionsActive.Dec
	}
	return s
}

// Session is one browser process and its page for the duration of a single
// render. It is not safe for concurrent use.
type Session struct {
	engine Engine
	target string
	state  State
	proc   Process
	page   Page
	logger *slog.Logger

	onLaunch func()
	onClose  func()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

func (s *Session) transition(to State) {
	s.logger.Debug("browser session transition", "from", s.state.String(), "to", to.String())
	s.state = to
}

func (s *Session) run(ctx context.Context, launch LaunchOptions, opts PageOptions, settle time.Duration) (*Result, error) {
	s.transition(Launching)
	proc, err := s.engine.Launch(ctx, launch)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	s.proc = proc
	if s.onLaunch != nil {
		s.onLaunch()
	}

	page, err := proc.NewPage(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	s.page = page
	s.transition(PageCreated)

	s.transition(NavigationInFlight)
	status, err := page.Navigate(ctx, s.target)
	if err != nil {
		return nil, &NavigationError{URL: s.target, Status: status, Err: err}
	}
	if status == 0 {
		return nil, &NavigationError{URL: s.target, Err: errNoResponse}
	}
	if status < 200 || status > 299 {
		return nil, &NavigationError{URL: s.target, Status: status}
	}
	s.transition(ContentReady)

	// Give deferred scripts a moment to mutate the DOM before the snapshot.
	if settle > 0 {
		t := time.NewTimer(settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("settle: %w", ctx.Err())
		case <-t.C:
		}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	return &Result{Status: status, HTML: html}, nil
}

// Close terminates the browser process. It is idempotent; close failures are
// logged and returned but never change the render result.
func (s *Session) Close() error {
	if s.state == Closed {
		return nil
	}
	s.transition(Closed)
	if s.proc == nil {
		return nil
	}

	err := s.proc.Close()
	if s.onClose != nil {
		s.onClose()
	}
	if err != nil {
		s.logger.Error("closing browser", "err", err)
	}
	return err
}
