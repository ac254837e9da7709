package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"frame-proxy-go/internal/browser"
	"frame-proxy-go/internal/service"
)

type fakeEngine struct {
	status    int
	navErr    error
	hang      bool
	html      string
	launchErr error

	launches atomic.Int32
	closes   atomic.Int32
}

func (f *fakeEngine) Launch(context.Context, browser.LaunchOptions) (browser.Process, error) {
	f.launches.Add(1)
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	return &fakeProcess{f: f}, nil
}

type fakeProcess struct{ f *fakeEngine }

func (p *fakeProcess) NewPage(context.Context, browser.PageOptions) (browser.Page, error) {
	return p, nil
}

func (p *fakeProcess) Close() error {
	p.f.closes.Add(1)
	return nil
}

func (p *fakeProcess) Navigate(ctx context.Context, _ string) (int, error) {
	if p.f.hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return p.f.status, p.f.navErr
}

func (p *fakeProcess) HTML(context.Context) (string, error) {
	return p.f.html, nil
}

func newHeadlessHandler(engine browser.Engine) *HeadlessHandler {
	cfg := testConfig()
	logger := testLogger()
	mgr := browser.NewManager(engine, cfg, logger, nil)
	return NewHeadlessHandler(service.NewRenderService(mgr, logger), logger, nil)
}

func serveHeadless(ctx context.Context, h *HeadlessHandler, target string) *httptest.ResponseRecorder {
	e := echo.New()
	path := "/proxy-headless"
	if target != "" {
		path += "?url=" + url.QueryEscape(target)
	}
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h.Handle(c)
	return rec
}

func TestHeadlessHandler_Success(t *testing.T) {
	engine := &fakeEngine{status: 200, html: "<html><body>rendered</body></html>"}
	rec := serveHeadless(context.Background(), newHeadlessHandler(engine), "https://spa.example/")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != engine.html {
		t.Errorf("body = %q, want %q", got, engine.html)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "" {
		t.Errorf("X-Frame-Options = %q, want none", got)
	}
	if n := engine.closes.Load(); n != 1 {
		t.Errorf("browser closed %d times, want 1", n)
	}
}

func TestHeadlessHandler_MissingTarget(t *testing.T) {
	engine := &fakeEngine{status: 200}
	rec := serveHeadless(context.Background(), newHeadlessHandler(engine), "")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := rec.Body.String(); got != "Missing target URL parameter" {
		t.Errorf("body = %q, want %q", got, "Missing target URL parameter")
	}
	if n := engine.launches.Load(); n != 0 {
		t.Errorf("browser launches = %d, want 0", n)
	}
}

func TestHeadlessHandler_InvalidTarget(t *testing.T) {
	engine := &fakeEngine{status: 200}
	rec := serveHeadless(context.Background(), newHeadlessHandler(engine), "javascript:alert(1)")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := rec.Body.String(); got != "Invalid target URL parameter" {
		t.Errorf("body = %q, want %q", got, "Invalid target URL parameter")
	}
	if n := engine.launches.Load(); n != 0 {
		t.Errorf("browser launches = %d, want 0", n)
	}
}

func TestHeadlessHandler_NavigationTimeout(t *testing.T) {
	engine := &fakeEngine{hang: true}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := serveHeadless(ctx, newHeadlessHandler(engine), "https://slow.example/")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.HasPrefix(rec.Body.String(), "Headless proxy error: ") {
		t.Errorf("body = %q, want Headless proxy error prefix", rec.Body.String())
	}
	if n := engine.closes.Load(); n != 1 {
		t.Errorf("browser closed %d times, want 1", n)
	}
}

func TestHeadlessHandler_StatusForwarded(t *testing.T) {
	engine := &fakeEngine{status: http.StatusForbidden}
	rec := serveHeadless(context.Background(), newHeadlessHandler(engine), "https://private.example/")

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if got := rec.Body.String(); got != "Failed to load page: Status 403" {
		t.Errorf("body = %q, want %q", got, "Failed to load page: Status 403")
	}
	if n := engine.closes.Load(); n != 1 {
		t.Errorf("browser closed %d times, want 1", n)
	}
}

func TestHeadlessHandler_LaunchFailure(t *testing.T) {
	engine := &fakeEngine{launchErr: errors.New("executable not found")}
	rec := serveHeadless(context.Background(), newHeadlessHandler(engine), "https://spa.example/")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Body.String(), "executable not found") {
		t.Errorf("body = %q, want launch error message", rec.Body.String())
	}
}

func TestHeadlessHandler_NavigationFailure(t *testing.T) {
	engine := &fakeEngine{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	rec := serveHeadless(context.Background(), newHeadlessHandler(engine), "https://nowhere.example/")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Body.String(), "ERR_NAME_NOT_RESOLVED") {
		t.Errorf("body = %q, want navigation error message", rec.Body.String())
	}
}
