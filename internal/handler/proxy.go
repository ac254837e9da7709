package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"frame-proxy-go/internal/model"
	"frame-proxy-go/internal/service"
)

// ProxyHandler serves GET /proxy: a single direct fetch of the target with
// framing headers removed and same-origin links rewritten.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle fetches the url query parameter and writes the result.
func (h *ProxyHandler) Handle(c echo.Context) error {
	pr, err := proxyRequest(c)
	if err != nil {
		h.logger.Warn("rejected proxy request", "err", err, "url", c.QueryParam("url"))
		return writeError(c, h.logger, http.StatusBadRequest, targetMessage(err))
	}

	resp, err := h.service.Fetch(pr)
	if err != nil {
		return h.mapError(c, pr, err)
	}

	if err := writeResponse(c, resp); err != nil {
		h.logger.Error("writing proxy response", "err", err, "target", pr.Target.String())
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, pr *model.ProxyRequest, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"target", pr.Target.String(),
	)

	return writeError(c, h.logger, http.StatusInternalServerError, "Proxy error: "+err.Error())
}
