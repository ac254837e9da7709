package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CORS returns the cross-origin policy for the proxy routes. Only GET is
// offered; credentials are never allowed since cookies are not forwarded.
// An empty list allows any origin.
func CORS(allowOrigins []string) echo.MiddlewareFunc {
	origins := slices.Clone(allowOrigins)
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderAccept,
			echo.HeaderAcceptEncoding,
			"Accept-Language",
			echo.HeaderContentType,
		},
		ExposeHeaders: []string{echo.HeaderXRequestID},
		MaxAge:        600,
	})
}
