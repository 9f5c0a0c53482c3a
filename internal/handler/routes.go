package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"security-proxy-go/internal/config"
	"security-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Everything
// that is not a reserved route goes to the proxy, which answers 404 for paths
// outside the mount prefix. This keeps a reloaded mount prefix routable.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", proxy.Handle)
}
