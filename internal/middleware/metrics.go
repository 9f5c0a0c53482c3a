package middleware

import (
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"security-proxy-go/internal/metrics"
)

// RequestMetrics returns an Echo middleware that records Prometheus metrics
// for each inbound request. Requests to skip paths (typically the scrape
// endpoint) are not counted.
func RequestMetrics(m *metrics.Metrics, skip ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if slices.Contains(skip, path) {
				return next(c)
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			status := strconv.Itoa(statusOf(c, err))
			method := metrics.NormalizeMethod(c.Request().Method)
			prefix := m.NormalizePath(path)

			m.RequestsTotal.WithLabelValues(method, status, prefix).Inc()
			m.RequestDuration.WithLabelValues(method, status, prefix).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// statusOf resolves the status the client will see. An *echo.HTTPError has
// not been written yet when the middleware unwinds.
func statusOf(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
