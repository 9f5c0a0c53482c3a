package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type mountPrefix string

func (p *mountPrefix) MountPrefix() string { return string(*p) }

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mount := mountPrefix("/sec/")
	e := echo.New()
	e.Use(RequestLogger(logger, &mount))
	e.GET("/sec/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/sec/geoserver/wms", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	for _, want := range []string{"path=/sec/geoserver/wms", "status=200", "app=geoserver"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log output missing %q: %s", want, buf.String())
		}
	}
}

func TestRequestLogger_FollowsMountChange(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mount := mountPrefix("/sec/")
	e := echo.New()
	e.Use(RequestLogger(logger, &mount))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	mount = "/apps/"
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/apps/geoserver/wms", http.NoBody))

	if !strings.Contains(buf.String(), "app=geoserver") {
		t.Errorf("log output missing app after mount change: %s", buf.String())
	}
}

func TestAppName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/sec/geoserver/wms", "geoserver"},
		{"/sec/mapfishapp", "mapfishapp"},
		{"/sec/", ""},
		{"/healthz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := appName(tt.path, "/sec/"); got != tt.want {
				t.Errorf("appName(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
