// Package middleware provides Echo middleware for logging, metrics and
// response security headers.
package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// MountPrefixer reports the mount prefix currently served.
type MountPrefixer interface {
	MountPrefix() string
}

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests under the current mount prefix also carry the proxied application
// name.
func RequestLogger(logger *slog.Logger, mount MountPrefixer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if app := appName(req.URL.Path, mount.MountPrefix()); app != "" {
				attrs = append(attrs, "app", app)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}

// appName returns the first path segment below mountPrefix, or "".
func appName(path, mountPrefix string) string {
	rest, ok := strings.CutPrefix(path, mountPrefix)
	if !ok {
		return ""
	}
	app, _, _ := strings.Cut(rest, "/")
	return app
}
