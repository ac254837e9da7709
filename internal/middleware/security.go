package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// in both directions and marks responses nosniff.
//
// Responses from this service exist to be embedded, so X-Frame-Options is
// removed rather than set, whatever a handler copied into the response.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			res := c.Response()
			res.Before(func() {
				h := res.Header()
				for _, name := range hopByHopHeaders {
					h.Del(name)
				}
				h.Del("X-Frame-Options")
				h.Set("X-Content-Type-Options", "nosniff")
			})

			return next(c)
		}
	}
}
