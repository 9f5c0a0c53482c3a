package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"security-proxy-go/internal/client"
	"security-proxy-go/internal/config"
	"security-proxy-go/internal/handler"
	"security-proxy-go/internal/metrics"
	"security-proxy-go/internal/middleware"
	"security-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("security-proxy"),
		kong.Description("Header-rewriting reverse proxy for applications behind a security gateway."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			config.NewReloader,
			newLogger,
			newMetrics,
			newEcho,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			newHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startReloader, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Forwarding.MountPrefix, cfg.Metrics.Path)
}

func newHealthHandler(cfg *config.Config, v handler.Version, svc *service.ProxyService) *handler.HealthHandler {
	return handler.NewHealthHandler(cfg, v, svc)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, svc *service.ProxyService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Streamed upstream responses may legitimately run long; the upstream
	// client timeout bounds them instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger, svc))
	if cfg.Metrics.Enabled {
		e.Use(middleware.RequestMetrics(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeaders, logger))

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startReloader(lc fx.Lifecycle, r *config.Reloader, svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Reload.WatchFile {
		return
	}
	if cfg.FilePath() == "" {
		logger.Warn("reload.watch_file set but no config file was loaded; not watching")
		return
	}
	r.Register(svc)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return r.Start(context.Background())
		},
		OnStop: func(_ context.Context) error {
			r.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"mount_prefix", cfg.Forwarding.MountPrefix,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
