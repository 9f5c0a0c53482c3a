package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"security-proxy-go/internal/headers"
)

// DefaultSecurityHeaders are set on every response the proxy writes.
var DefaultSecurityHeaders = headers.NewStaticProvider(nil, []headers.Header{
	headers.New("X-Content-Type-Options", "nosniff"),
	headers.New("X-Frame-Options", "DENY"),
})

// SecurityHeaders returns an Echo middleware that sets the provider's
// response headers on every response, including local ones such as /healthz
// and error pages. Headers are set just before the status line is written.
func SecurityHeaders(p headers.Provider, logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := c.Response()
			res.Before(func() {
				hs, err := p.ResponseHeaders()
				if err != nil {
					logger.Error("security headers", "err", err)
					return
				}
				for _, h := range hs {
					res.Header().Set(h.Name, h.Value)
				}
			})
			return next(c)
		}
	}
}
