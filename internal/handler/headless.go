package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"frame-proxy-go/internal/browser"
	"frame-proxy-go/internal/metrics"
	"frame-proxy-go/internal/model"
	"frame-proxy-go/internal/sanitize"
	"frame-proxy-go/internal/service"
)

// HeadlessHandler serves GET /proxy-headless: the target rendered in a
// headless browser and returned as a DOM snapshot.
type HeadlessHandler struct {
	service *service.RenderService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHeadlessHandler creates a HeadlessHandler. The metrics parameter is optional.
func NewHeadlessHandler(svc *service.RenderService, logger *slog.Logger, m *metrics.Metrics) *HeadlessHandler {
	return &HeadlessHandler{
		service: svc,
		logger:  logger.With("component", "headless_handler"),
		metrics: m,
	}
}

// Handle renders the url query parameter and writes the snapshot.
func (h *HeadlessHandler) Handle(c echo.Context) error {
	pr, err := proxyRequest(c)
	if err != nil {
		h.logger.Warn("rejected headless request", "err", err, "url", c.QueryParam("url"))
		return writeError(c, h.logger, http.StatusBadRequest, targetMessage(err))
	}

	resp, err := h.service.Render(pr)
	if err != nil {
		return h.mapError(c, pr, err)
	}

	header, err := sanitize.Snapshot.Apply(resp.Header, pr.Target)
	if err != nil {
		h.logger.Warn("header policy failed, passing headers through", "err", err, "target", pr.Target.String())
		if h.metrics != nil {
			h.metrics.HeaderPolicyFailures.Inc()
		}
	}
	resp.Header = header

	if err := writeResponse(c, resp); err != nil {
		h.logger.Error("writing headless response", "err", err, "target", pr.Target.String())
	}
	return nil
}

func (h *HeadlessHandler) mapError(c echo.Context, pr *model.ProxyRequest, err error) error {
	h.logger.Error("headless proxy error",
		"err", err,
		"target", pr.Target.String(),
	)

	if errors.Is(err, browser.ErrBusy) {
		return writeError(c, h.logger, http.StatusServiceUnavailable, "Headless proxy error: "+err.Error())
	}

	var navErr *browser.NavigationError
	if errors.As(err, &navErr) && navErr.Err == nil {
		return writeError(c, h.logger, navErr.HTTPStatus(), fmt.Sprintf("Failed to load page: Status %d", navErr.Status))
	}

	return writeError(c, h.logger, http.StatusInternalServerError, "Headless proxy error: "+err.Error())
}
