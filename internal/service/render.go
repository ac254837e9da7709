package service

import (
	"log/slog"
	"net/http"

	"frame-proxy-go/internal/browser"
	"frame-proxy-go/internal/model"
)

// RenderService serves the post-script DOM of a target page.
type RenderService struct {
	manager *browser.Manager
	logger  *slog.Logger
}

// NewRenderService creates a RenderService.
func NewRenderService(m *browser.Manager, logger *slog.Logger) *RenderService {
	return &RenderService{
		manager: m,
		logger:  logger.With("component", "render_service"),
	}
}

// Render loads pr.Target in a headless browser. Links in the snapshot are
// left as they are. Errors are returned as produced by the browser package
// so callers can inspect *browser.NavigationError and browser.ErrBusy.
func (s *RenderService) Render(pr *model.ProxyRequest) (*model.RewrittenResponse, error) {
	target := pr.Target.String()
	s.logger.Info("rendering target", "target", target)

	res, err := s.manager.Render(pr.Ctx, target, pr.Header.Get("User-Agent"))
	if err != nil {
		return nil, err
	}

	var h model.Header
	h.Set("Content-Type", "text/html; charset=utf-8")

	return &model.RewrittenResponse{
		StatusCode: http.StatusOK,
		Header:     h,
		Body:       res.HTML,
	}, nil
}
