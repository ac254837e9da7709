package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"frame-proxy-go/internal/model"
)

const (
	msgMissingTarget = "Missing target URL parameter"
	msgInvalidTarget = "Invalid target URL parameter"
)

// targetMessage is the 400 body for a url parameter rejected by ParseTarget.
func targetMessage(err error) string {
	if errors.Is(err, model.ErrInvalidTarget) {
		return msgInvalidTarget
	}
	return msgMissingTarget
}

// proxyRequest builds the service request from the url query parameter.
func proxyRequest(c echo.Context) (*model.ProxyRequest, error) {
	target, err := model.ParseTarget(c.QueryParam("url"))
	if err != nil {
		return nil, err
	}
	req := c.Request()
	return &model.ProxyRequest{
		Ctx:       req.Context(),
		Target:    target,
		Header:    req.Header,
		Host:      req.Host,
		ProxyBase: c.Scheme() + "://" + req.Host,
	}, nil
}

// writeResponse writes resp as the single response of c.
func writeResponse(c echo.Context, resp *model.RewrittenResponse) error {
	resp.Header.WriteTo(c.Response().Header())

	if resp.Redirect != "" {
		return c.Redirect(resp.StatusCode, resp.Redirect)
	}
	if !bodyAllowed(resp.StatusCode) {
		return c.NoContent(resp.StatusCode)
	}

	ct := resp.Header.Get(echo.HeaderContentType)
	if ct == "" {
		ct = echo.MIMETextHTMLCharsetUTF8
	}
	return c.Blob(resp.StatusCode, ct, []byte(resp.Body))
}

// writeError sends a plain text error unless a response was already started,
// in which case the failure is only logged.
func writeError(c echo.Context, logger *slog.Logger, code int, msg string) error {
	if c.Response().Committed {
		logger.Error("response already sent, dropping error",
			"status", code,
			"message", msg,
			"path", c.Request().URL.Path,
		)
		return nil
	}
	return c.String(code, msg)
}

func bodyAllowed(code int) bool {
	switch {
	case code >= 100 && code <= 199:
		return false
	case code == http.StatusNoContent, code == http.StatusNotModified:
		return false
	}
	return true
}
