package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"security-proxy-go/internal/config"
	"security-proxy-go/internal/headers"
)

// Version is a string type for dependency injection of the build version.
type Version string

// StrategySource exposes the header strategy currently in use.
type StrategySource interface {
	Strategy() *headers.Strategy
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	version  Version
	strategy StrategySource
}

// NewHealthHandler creates a HealthHandler. The proxy service is passed as the
// strategy source so the status reflects reloaded forwarding settings.
func NewHealthHandler(cfg *config.Config, v Version, src StrategySource) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, strategy: src}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	mount := h.cfg.Forwarding.MountPrefix
	if h.strategy != nil {
		if s := h.strategy.Strategy(); s != nil {
			mount = s.MountPrefix()
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
		"mount_prefix": mount,
	})
}
