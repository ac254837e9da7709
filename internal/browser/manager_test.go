package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"frame-proxy-go/internal/config"
	"frame-proxy-go/internal/metrics"
)

type fakeEngine struct {
	launchErr error
	pageErr   error
	navigate  func(ctx context.Context, url string) (int, error)
	html      string
	htmlErr   error

	launches atomic.Int32
	closes   atomic.Int32

	mu       sync.Mutex
	lastOpts PageOptions
}

func (f *fakeEngine) Launch(ctx context.Context, _ LaunchOptions) (Process, error) {
	f.launches.Add(1)
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	return &fakeProcess{engine: f}, nil
}

type fakeProcess struct {
	engine *fakeEngine
}

func (p *fakeProcess) NewPage(_ context.Context, opts PageOptions) (Page, error) {
	p.engine.mu.Lock()
	p.engine.lastOpts = opts
	p.engine.mu.Unlock()
	if p.engine.pageErr != nil {
		return nil, p.engine.pageErr
	}
	return &fakePage{engine: p.engine}, nil
}

func (p *fakeProcess) Close() error {
	p.engine.closes.Add(1)
	return nil
}

type fakePage struct {
	engine *fakeEngine
}

func (p *fakePage) Navigate(ctx context.Context, url string) (int, error) {
	if p.engine.navigate != nil {
		return p.engine.navigate(ctx, url)
	}
	return 200, nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	return p.engine.html, p.engine.htmlErr
}

func hangUntilDone(ctx context.Context, _ string) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func testConfig() *config.Config {
	return &config.Config{
		Browser: config.BrowserConfig{
			TimeoutSeconds: 10,
			MaxConcurrent:  1,
			ViewportWidth:  1024,
			ViewportHeight: 768,
			UserAgent:      "fallback-agent",
		},
	}
}

func newTestManager(engine Engine, m *metrics.Metrics) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(engine, testConfig(), logger, m)
}

func TestRender_Success(t *testing.T) {
	engine := &fakeEngine{html: "<html><body>ok</body></html>"}
	mgr := newTestManager(engine, nil)

	res, err := mgr.Render(context.Background(), "https://example.com/", "")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Status != 200 {
		t.Errorf("Status = %d, want 200", res.Status)
	}
	if res.HTML != engine.html {
		t.Errorf("HTML = %q, want %q", res.HTML, engine.html)
	}
	if got := engine.closes.Load(); got != 1 {
		t.Errorf("process closed %d times, want 1", got)
	}
	if engine.lastOpts.UserAgent != "fallback-agent" {
		t.Errorf("UserAgent = %q, want fallback-agent", engine.lastOpts.UserAgent)
	}
}

func TestRender_CallerUserAgent(t *testing.T) {
	engine := &fakeEngine{}
	mgr := newTestManager(engine, nil)

	if _, err := mgr.Render(context.Background(), "https://example.com/", "caller-agent"); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if engine.lastOpts.UserAgent != "caller-agent" {
		t.Errorf("UserAgent = %q, want caller-agent", engine.lastOpts.UserAgent)
	}
	if len(engine.lastOpts.BlockedResources) == 0 {
		t.Error("expected sub-resource blocking to be configured")
	}
}

func TestRender_NavigationTimeout(t *testing.T) {
	engine := &fakeEngine{navigate: hangUntilDone}
	m := metrics.New()
	mgr := newTestManager(engine, m)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := mgr.Render(ctx, "https://slow.example/", "")
	if err == nil {
		t.Fatal("Render() expected error, got nil")
	}

	var navErr *NavigationError
	if !errors.As(err, &navErr) {
		t.Fatalf("error = %v, want *NavigationError", err)
	}
	if got := navErr.HTTPStatus(); got != 500 {
		t.Errorf("HTTPStatus() = %d, want 500", got)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if got := engine.closes.Load(); got != 1 {
		t.Errorf("process closed %d times, want 1", got)
	}
	if got := testutil.ToFloat64(m.BrowserRenders.WithLabelValues("timeout")); got != 1 {
		t.Errorf("timeout renders = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BrowserSessionsActive); got != 0 {
		t.Errorf("active sessions = %v, want 0", got)
	}
}

func TestRender_StatusForwarded(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantStatus int
	}{
		{"not found", 404, 404},
		{"server error", 503, 503},
		{"redirect", 301, 301},
		{"no response", 0, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{
				navigate: func(context.Context, string) (int, error) { return tt.status, nil },
			}
			mgr := newTestManager(engine, nil)

			_, err := mgr.Render(context.Background(), "https://example.com/missing", "")
			var navErr *NavigationError
			if !errors.As(err, &navErr) {
				t.Fatalf("error = %v, want *NavigationError", err)
			}
			if got := navErr.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
			if got := engine.closes.Load(); got != 1 {
				t.Errorf("process closed %d times, want 1", got)
			}
		})
	}
}

func TestRender_LaunchFailure(t *testing.T) {
	engine := &fakeEngine{launchErr: errors.New("no chromium")}
	m := metrics.New()
	mgr := newTestManager(engine, m)

	_, err := mgr.Render(context.Background(), "https://example.com/", "")
	if err == nil {
		t.Fatal("Render() expected error, got nil")
	}
	var navErr *NavigationError
	if errors.As(err, &navErr) {
		t.Errorf("launch failure reported as navigation error: %v", err)
	}
	if got := engine.closes.Load(); got != 0 {
		t.Errorf("process closed %d times, want 0", got)
	}
	if got := testutil.ToFloat64(m.BrowserRenders.WithLabelValues("launch_error")); got != 1 {
		t.Errorf("launch_error renders = %v, want 1", got)
	}
}

func TestRender_PageFailureClosesProcess(t *testing.T) {
	engine := &fakeEngine{pageErr: errors.New("target crashed")}
	m := metrics.New()
	mgr := newTestManager(engine, m)

	if _, err := mgr.Render(context.Background(), "https://example.com/", ""); err == nil {
		t.Fatal("Render() expected error, got nil")
	}
	if got := engine.closes.Load(); got != 1 {
		t.Errorf("process closed %d times, want 1", got)
	}
	if got := testutil.ToFloat64(m.BrowserRenders.WithLabelValues("page_error")); got != 1 {
		t.Errorf("page_error renders = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BrowserRenders.WithLabelValues("launch_error")); got != 0 {
		t.Errorf("launch_error renders = %v, want 0", got)
	}
}

func TestRender_SnapshotFailure(t *testing.T) {
	engine := &fakeEngine{htmlErr: errors.New("detached")}
	m := metrics.New()
	mgr := newTestManager(engine, m)

	if _, err := mgr.Render(context.Background(), "https://example.com/", ""); err == nil {
		t.Fatal("Render() expected error, got nil")
	}
	if got := testutil.ToFloat64(m.BrowserRenders.WithLabelValues("snapshot_error")); got != 1 {
		t.Errorf("snapshot_error renders = %v, want 1", got)
	}
}

func TestRender_Busy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	engine := &fakeEngine{
		navigate: func(ctx context.Context, _ string) (int, error) {
			close(started)
			select {
			case <-release:
				return 200, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		},
	}
	mgr := newTestManager(engine, nil)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.Render(context.Background(), "https://example.com/a", "")
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := mgr.Render(ctx, "https://example.com/b", "")
	if !errors.Is(err, ErrBusy) {
		t.Errorf("error = %v, want ErrBusy", err)
	}
	if got := engine.launches.Load(); got != 1 {
		t.Errorf("launches = %d, want 1", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first Render() error = %v", err)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var closed int
	s := &Session{engine: engine, target: "https://example.com/", logger: logger, onClose: func() { closed++ }}

	if _, err := s.run(context.Background(), LaunchOptions{}, PageOptions{}, 0); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if s.State() != ContentReady {
		t.Errorf("State() = %v, want %v", s.State(), ContentReady)
	}

	for range 3 {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}
	if s.State() != Closed {
		t.Errorf("State() = %v, want %v", s.State(), Closed)
	}
	if got := engine.closes.Load(); got != 1 {
		t.Errorf("process closed %d times, want 1", got)
	}
	if closed != 1 {
		t.Errorf("onClose called %d times, want 1", closed)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Uninitialized, "uninitialized"},
		{Launching, "launching"},
		{PageCreated, "page_created"},
		{NavigationInFlight, "navigation_in_flight"},
		{ContentReady, "content_ready"},
		{Closed, "closed"},
		{State(42), "state(42)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestNavigationError(t *testing.T) {
	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	err := &NavigationError{URL: "https://nowhere.example/", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if got := err.HTTPStatus(); got != 500 {
		t.Errorf("HTTPStatus() = %d, want 500", got)
	}

	withStatus := &NavigationError{URL: "https://example.com/", Status: 404}
	if got := withStatus.HTTPStatus(); got != 404 {
		t.Errorf("HTTPStatus() = %d, want 404", got)
	}
}
