package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"security-proxy-go/internal/model"
	"security-proxy-go/internal/service"
)

// secretParamPattern matches credential-like query parameter values in URLs
// embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)((?:api_?key|access_token|token|secret|password)=)[^&\s"]+`)

// userinfoPattern matches user:password@ in URLs embedded in error messages.
var userinfoPattern = regexp.MustCompile(`(://)[^/@\s"]+@`)

// ProxyHandler forwards requests under the mount prefix to the upstream.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream and streams the response back
// with the rewritten headers.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		ContentLength: req.ContentLength,
		Body:          req.Body,
	}
	// Go moves Host out of the header map; put it back so the strategy sees it.
	if req.Host != "" && req.Header.Get("Host") == "" {
		pr.Header = req.Header.Clone()
		pr.Header.Set("Host", req.Host)
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already on the wire, so a mid-stream failure leaves the
	// client with a truncated body. Log it and move on.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, service.ErrOutsideMount) {
		h.logger.Debug("request outside mount prefix", "path", path)
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	}

	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", path,
	)

	if errors.Is(err, service.ErrHeaderPolicy) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "header policy failure",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

// sanitizeError redacts credentials from error messages that may contain
// upstream URLs.
func sanitizeError(err error) string {
	s := secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
	return userinfoPattern.ReplaceAllString(s, "${1}[REDACTED]@")
}
