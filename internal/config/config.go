// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"security-proxy-go/internal/headers"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/security-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and cannot be shadowed.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream string `kong:"help='Upstream base URL (overrides config).',env='UPSTREAM_URL'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Upstream   UpstreamConfig   `toml:"upstream" yaml:"upstream"`
	Forwarding ForwardingConfig `toml:"forwarding" yaml:"forwarding"`
	Log        LogConfig        `toml:"log" yaml:"log"`
	Metrics    MetricsConfig    `toml:"metrics" yaml:"metrics"`
	Reload     ReloadConfig     `toml:"reload" yaml:"reload"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url" yaml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections" yaml:"idle_connections"`
}

// ForwardingConfig controls which headers cross the proxy hop.
type ForwardingConfig struct {
	// MountPrefix is the externally visible path the upstream is served under.
	MountPrefix            string           `toml:"mount_prefix" yaml:"mount_prefix"`
	SuppressAcceptEncoding bool             `toml:"suppress_accept_encoding" yaml:"suppress_accept_encoding"`
	Trace                  bool             `toml:"trace" yaml:"trace"`
	Redact                 []string         `toml:"redact" yaml:"redact"`
	Filters                []FilterConfig   `toml:"filters" yaml:"filters"`
	Providers              []ProviderConfig `toml:"providers" yaml:"providers"`
}

// Filter types.
const (
	FilterNames    = "names"
	FilterPrefix   = "prefix"
	FilterRegex    = "regex"
	FilterHopByHop = "hop_by_hop"
	FilterReplace  = "replace"
)

// FilterConfig describes one request header filter.
type FilterConfig struct {
	Type    string   `toml:"type" yaml:"type"`
	Values  []string `toml:"values" yaml:"values"`   // names / prefix
	Pattern string   `toml:"pattern" yaml:"pattern"` // regex
	Name    string   `toml:"name" yaml:"name"`       // replace
	Value   string   `toml:"value" yaml:"value"`     // replace
}

// Provider types.
const (
	ProviderStatic    = "static"
	ProviderTimestamp = "timestamp"
	ProviderSignature = "signature"
)

// ProviderConfig describes one header provider.
type ProviderConfig struct {
	Type string `toml:"type" yaml:"type"`

	// static: "Name: value" lines.
	Request  []string `toml:"request" yaml:"request"`
	Response []string `toml:"response" yaml:"response"`

	// timestamp
	RequestHeader  string `toml:"request_header" yaml:"request_header"`
	ResponseHeader string `toml:"response_header" yaml:"response_header"`
	Format         string `toml:"format" yaml:"format"`

	// signature
	Header     string `toml:"header" yaml:"header"`
	Secret     string `toml:"secret" yaml:"secret"`
	Issuer     string `toml:"issuer" yaml:"issuer"`
	Audience   string `toml:"audience" yaml:"audience"`
	TTLSeconds int    `toml:"ttl_seconds" yaml:"ttl_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// ReloadConfig controls config file watching.
type ReloadConfig struct {
	WatchFile  bool `toml:"watch_file" yaml:"watch_file"`
	DebounceMS int  `toml:"debounce_ms" yaml:"debounce_ms"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/security-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// readFile decodes path as YAML when it has a .yaml/.yml extension, TOML otherwise.
func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.filePath = path
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Upstream.BaseURL = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL: required, http or https.
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("upstream.base_url must use http or https; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Reload.DebounceMS < 0 {
		return fmt.Errorf("reload.debounce_ms must be non-negative; got %d", c.Reload.DebounceMS)
	}

	if err := c.Forwarding.validate(); err != nil {
		return err
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := append([]string{strings.TrimSuffix(c.Forwarding.mountPrefix(), "/")}, reservedRoutes...)
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

func (f *ForwardingConfig) validate() error {
	if p := f.MountPrefix; p != "" {
		if p[0] != '/' || p[len(p)-1] != '/' || p == "/" {
			return fmt.Errorf("forwarding.mount_prefix must start and end with '/' and not be the root; got %q", p)
		}
		for _, r := range reservedRoutes {
			if strings.HasPrefix(r+"/", p) {
				return fmt.Errorf("forwarding.mount_prefix %q conflicts with reserved route %q", p, r)
			}
		}
	}

	for i, fc := range f.Filters {
		switch fc.Type {
		case FilterNames, FilterPrefix:
			if len(fc.Values) == 0 {
				return fmt.Errorf("forwarding.filters[%d]: %s filter needs at least one value", i, fc.Type)
			}
		case FilterRegex:
			if _, err := regexp.Compile(fc.Pattern); err != nil || fc.Pattern == "" {
				return fmt.Errorf("forwarding.filters[%d]: invalid pattern %q", i, fc.Pattern)
			}
		case FilterHopByHop:
		case FilterReplace:
			if fc.Name == "" {
				return fmt.Errorf("forwarding.filters[%d]: replace filter needs a name", i)
			}
		default:
			return fmt.Errorf("forwarding.filters[%d]: unknown type %q", i, fc.Type)
		}
	}

	for i, pc := range f.Providers {
		switch pc.Type {
		case ProviderStatic:
			for _, line := range append(slices.Clone(pc.Request), pc.Response...) {
				if _, ok := headers.ParseLine(line); !ok {
					return fmt.Errorf("forwarding.providers[%d]: header %q must be \"Name: value\"", i, line)
				}
			}
		case ProviderTimestamp:
			if pc.RequestHeader == "" && pc.ResponseHeader == "" {
				return fmt.Errorf("forwarding.providers[%d]: timestamp provider needs request_header or response_header", i)
			}
			switch pc.Format {
			case "", headers.FormatRFC3339, headers.FormatUnix, headers.FormatHTTPDate:
			default:
				return fmt.Errorf("forwarding.providers[%d]: format must be one of: rfc3339, unix, http; got %q", i, pc.Format)
			}
		case ProviderSignature:
			if pc.Header == "" {
				return fmt.Errorf("forwarding.providers[%d]: signature provider needs a header", i)
			}
			if len(pc.Secret) < 32 {
				return fmt.Errorf("forwarding.providers[%d]: signature secret must be at least 32 bytes", i)
			}
			if pc.TTLSeconds < 0 {
				return fmt.Errorf("forwarding.providers[%d]: ttl_seconds must be non-negative; got %d", i, pc.TTLSeconds)
			}
		default:
			return fmt.Errorf("forwarding.providers[%d]: unknown type %q", i, pc.Type)
		}
	}

	return nil
}

// mountPrefix returns the configured prefix or the default.
func (f *ForwardingConfig) mountPrefix() string {
	if f.MountPrefix == "" {
		return "/sec/"
	}
	return f.MountPrefix
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	c.Forwarding.MountPrefix = c.Forwarding.mountPrefix()
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Reload.DebounceMS == 0 {
		c.Reload.DebounceMS = 500
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the path the config was loaded from.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may hold signing secrets.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
