package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"frame-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status          string   `json:"status"`
	Version         string   `json:"version"`
	RewriteAliases  []string `json:"rewrite_aliases"`
	BrowserPath     string   `json:"browser_path,omitempty"`
	BrowserTimeout  string   `json:"browser_timeout"`
	MaxRenders      int      `json:"max_concurrent_renders"`
	UpstreamTimeout string   `json:"upstream_timeout"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:          "ok",
		Version:         string(h.version),
		RewriteAliases:  h.cfg.Rewrite.Aliases,
		BrowserPath:     h.cfg.Browser.Path,
		BrowserTimeout:  h.cfg.Browser.Timeout().String(),
		MaxRenders:      h.cfg.Browser.MaxConcurrent,
		UpstreamTimeout: h.cfg.Upstream.Timeout().String(),
	})
}
