// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string // original escaped path, including the mount prefix
	RawQuery      string
	Header        http.Header
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// ProxyResponse represents the upstream response to be streamed back.
// Header holds the final client-facing headers, already rewritten.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
