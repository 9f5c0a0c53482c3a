// Package service implements the proxy forwarding logic around the header strategy.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"

	"security-proxy-go/internal/client"
	"security-proxy-go/internal/config"
	"security-proxy-go/internal/headers"
	"security-proxy-go/internal/metrics"
	"security-proxy-go/internal/model"
)

// ErrOutsideMount is returned for request paths that are not under the mount prefix.
var ErrOutsideMount = errors.New("request path is outside the mount prefix")

// ErrHeaderPolicy marks failures raised by a header filter or provider.
var ErrHeaderPolicy = errors.New("header policy failure")

// ProxyService forwards requests to the upstream, applying the header strategy
// in both directions.
type ProxyService struct {
	client   *client.UpstreamClient
	base     *slog.Logger
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   headers.Tracer
	baseURL  *url.URL
	strategy atomic.Pointer[headers.Strategy]
}

// NewProxyService creates a ProxyService. m is optional; when set, header
// decisions are counted.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	s := &ProxyService{
		client:  c,
		base:    logger,
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
		baseURL: u,
	}
	if m != nil {
		s.tracer = metrics.NewHeaderTracer(m)
	}

	strategy, err := BuildStrategy(cfg.Forwarding, logger, s.tracer)
	if err != nil {
		return nil, err
	}
	s.strategy.Store(strategy)
	return s, nil
}

// MountPrefix returns the mount prefix of the strategy currently in use.
func (s *ProxyService) MountPrefix() string {
	return s.strategy.Load().MountPrefix()
}

// Strategy returns the header strategy currently in use.
func (s *ProxyService) Strategy() *headers.Strategy {
	return s.strategy.Load()
}

// OnConfigReload swaps in a strategy built from the new forwarding section.
// Requests already in flight finish with the strategy they started with.
func (s *ProxyService) OnConfigReload(cfg *config.Config) error {
	strategy, err := BuildStrategy(cfg.Forwarding, s.base, s.tracer)
	if err != nil {
		return err
	}
	if cfg.Upstream.BaseURL != s.baseURL.String() {
		s.logger.Warn("upstream.base_url changed; restart required to apply",
			"current", s.baseURL.Redacted(),
		)
	}
	s.strategy.Store(strategy)
	if s.metrics != nil {
		s.metrics.SetMountPrefix(strategy.MountPrefix())
	}
	s.logger.Info("header strategy reloaded",
		"mount_prefix", cfg.Forwarding.MountPrefix,
		"filters", len(cfg.Forwarding.Filters),
		"providers", len(cfg.Forwarding.Providers),
	)
	return nil
}

// Forward sends a ProxyRequest to the upstream and returns the response with
// its client-facing headers. The caller is responsible for closing the body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	strategy := s.strategy.Load()

	upstreamURL, err := s.buildUpstreamURL(strategy.MountPrefix(), pr.Path, pr.RawQuery)
	if err != nil {
		return nil, err
	}

	reqHeaders, err := strategy.ForwardRequestHeaders(&headers.Request{Path: pr.Path, Header: pr.Header})
	if err != nil {
		return nil, fmt.Errorf("%w: request: %w", ErrHeaderPolicy, err)
	}
	header := make(http.Header, len(reqHeaders))
	headers.Apply(header, reqHeaders)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, pr.ContentLength, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	respHeaders, err := strategy.ForwardResponseHeaders(pr.Path, resp.Header)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: response: %w", ErrHeaderPolicy, err)
	}
	final := make(http.Header, len(respHeaders))
	headers.Apply(final, respHeaders)
	resp.Header = final

	return resp, nil
}

// buildUpstreamURL maps /<mount>/<rest> to <base_url>/<rest>. rest is cleaned
// on its own before joining, so dot segments cannot climb out of the upstream
// base path. Percent-encoded dot segments are rejected.
func (s *ProxyService) buildUpstreamURL(mountPrefix, reqPath, rawQuery string) (string, error) {
	rest, ok := strings.CutPrefix(reqPath, mountPrefix)
	if !ok {
		if reqPath != strings.TrimSuffix(mountPrefix, "/") {
			return "", fmt.Errorf("%w: %q", ErrOutsideMount, reqPath)
		}
		rest = ""
	}

	for _, seg := range strings.Split(rest, "/") {
		if !strings.Contains(seg, "%") {
			continue
		}
		if dec, err := url.PathUnescape(seg); err != nil || dec == "." || dec == ".." {
			return "", fmt.Errorf("%w: %q", ErrOutsideMount, reqPath)
		}
	}

	cleaned := strings.TrimPrefix(path.Clean("/"+rest), "/")
	if cleaned != "" && strings.HasSuffix(rest, "/") {
		cleaned += "/"
	}

	u := s.baseURL.JoinPath(cleaned)
	u.RawQuery = rawQuery
	return u.String(), nil
}
