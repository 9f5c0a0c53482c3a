package metrics

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"security-proxy-go/internal/headers"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New("/sec/")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	// Verify our custom metrics exist by incrementing one and gathering again.
	m.RequestsTotal.WithLabelValues("GET", "200", "/sec").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "security_proxy_http_requests_total" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected security_proxy_http_requests_total in gathered metrics")
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	m := New("/sec/", "/metrics")

	tests := []struct {
		path string
		want string
	}{
		{"/sec/geoserver/wms", "/sec"},
		{"/sec", "/sec"},
		{"/secret", "other"},
		{"/healthz", "/healthz"},
		{"/proxy/status", "/proxy/status"},
		{"/metrics", "/metrics"},
		{"/unknown", "other"},
		{"/", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := m.NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizePath_FollowsMountChange(t *testing.T) {
	m := New("/sec/")
	m.SetMountPrefix("/apps/")

	if got := m.NormalizePath("/apps/geoserver/wms"); got != "/apps" {
		t.Errorf("NormalizePath() = %q, want %q", got, "/apps")
	}
	if got := m.NormalizePath("/sec/geoserver/wms"); got != "other" {
		t.Errorf("NormalizePath() = %q, want %q", got, "other")
	}
}

func TestHeaderTracer(t *testing.T) {
	m := New("/sec/")

	s, err := headers.NewStrategy(headers.Options{
		MountPrefix: "/sec/",
		Filters:     []headers.Filter{headers.NewNameFilter("X-Drop"), headers.NewReplaceFilter("User-Agent", "security-proxy")},
		Providers:   []headers.Provider{headers.NewStaticProvider([]headers.Header{headers.New("X-Inj", "1")}, nil)},
		Tracer:      NewHeaderTracer(m),
	})
	if err != nil {
		t.Fatalf("NewStrategy() error = %v", err)
	}

	_, err = s.ForwardRequestHeaders(&headers.Request{
		Path:   "/sec/app",
		Header: http.Header{"Accept": {"*/*"}, "X-Drop": {"1"}, "Host": {"h"}, "User-Agent": {"curl/8"}},
	})
	if err != nil {
		t.Fatalf("ForwardRequestHeaders() error = %v", err)
	}
	_, err = s.ForwardResponseHeaders("/sec/app", http.Header{"Transfer-Encoding": {"chunked"}})
	if err != nil {
		t.Fatalf("ForwardResponseHeaders() error = %v", err)
	}

	tests := []struct {
		labels []string
		want   float64
	}{
		{[]string{"request", "copied", ""}, 1},
		{[]string{"request", "suppressed", "filter"}, 2},
		{[]string{"request", "injected", "filter"}, 1},
		{[]string{"request", "suppressed", "host"}, 1},
		{[]string{"request", "injected", ""}, 1},
		{[]string{"response", "suppressed", "chunked"}, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.HeadersTotal.WithLabelValues(tt.labels...)); got != tt.want {
			t.Errorf("headers_total%v = %v, want %v", tt.labels, got, tt.want)
		}
	}
}
