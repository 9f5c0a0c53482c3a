package headers

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// ErrMountPrefixRequired is returned by NewStrategy when no mount prefix is set.
var ErrMountPrefixRequired = errors.New("mount prefix is required")

// CapabilityError wraps an error returned by a Filter or Provider.
type CapabilityError struct {
	Kind  string // "filter" or "provider"
	Index int
	Err   error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Kind, e.Index, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Options configures a Strategy.
type Options struct {
	// MountPrefix is the path under which the upstream is exposed, e.g. "/sec/".
	// Cookie paths are rewritten relative to it.
	MountPrefix string

	// SuppressAcceptEncoding drops Accept-Encoding from proxied requests.
	SuppressAcceptEncoding bool

	// Filters are consulted in order; the first match suppresses the header.
	Filters []Filter

	// Providers are asked in order; all of their headers are appended.
	Providers []Provider

	// Tracer receives a record per call. Optional.
	Tracer Tracer
}

// Strategy copies headers across the proxy hop. It is immutable once built
// and safe for concurrent use, provided its filters and providers are.
type Strategy struct {
	mountPrefix            string
	suppressAcceptEncoding bool
	filters                []Filter
	providers              []Provider
	tracer                 Tracer
}

// NewStrategy builds a Strategy from opts.
func NewStrategy(opts Options) (*Strategy, error) {
	if opts.MountPrefix == "" {
		return nil, ErrMountPrefixRequired
	}
	if opts.MountPrefix[0] != '/' {
		return nil, fmt.Errorf("mount prefix must start with '/'; got %q", opts.MountPrefix)
	}
	return &Strategy{
		mountPrefix:            opts.MountPrefix,
		suppressAcceptEncoding: opts.SuppressAcceptEncoding,
		filters:                slices.Clone(opts.Filters),
		providers:              slices.Clone(opts.Providers),
		tracer:                 opts.Tracer,
	}, nil
}

// MountPrefix returns the configured mount prefix.
func (s *Strategy) MountPrefix() string {
	return s.mountPrefix
}

// ForwardRequestHeaders returns the headers to set on the proxied request.
//
// Each request header is copied with a single value (the first one); other
// values of a multi-valued header are dropped. Content-Length and Host are
// never copied, nor is Accept-Encoding when suppression is enabled, nor any
// header a filter vetoes. Provider headers follow, unfiltered.
func (s *Strategy) ForwardRequestHeaders(req *Request) ([]Header, error) {
	out := &Outbound{}
	tr := s.newTrace(DirectionRequest, req.Path)

	for _, name := range req.Names() {
		if strings.EqualFold(name, "Content-Length") {
			tr.add(name, req.Get(name), ActionSuppressed, ReasonContentLength)
			continue
		}
		added := len(out.headers)
		skip, err := s.filter(name, req, out)
		if err != nil {
			return nil, err
		}
		if skip {
			tr.add(name, req.Get(name), ActionSuppressed, ReasonFilter)
		}
		for _, h := range out.headers[added:] {
			tr.add(h.Name, h.Value, ActionInjected, ReasonFilter)
		}
		if skip {
			continue
		}
		if s.suppressAcceptEncoding && strings.EqualFold(name, "Accept-Encoding") {
			tr.add(name, req.Get(name), ActionSuppressed, ReasonAcceptEncoding)
			continue
		}
		if strings.EqualFold(name, "Host") {
			tr.add(name, req.Get(name), ActionSuppressed, ReasonHost)
			continue
		}

		value := req.Get(name)
		out.Add(name, value)
		tr.add(name, value, ActionCopied, "")
	}

	for i, p := range s.providers {
		hs, err := p.RequestHeaders()
		if err != nil {
			return nil, &CapabilityError{Kind: "provider", Index: i, Err: err}
		}
		for _, h := range hs {
			out.Add(h.Name, h.Value)
			tr.add(h.Name, h.Value, ActionInjected, "")
		}
	}

	s.emit(tr)
	return out.Headers(), nil
}

func (s *Strategy) filter(name string, req *Request, out *Outbound) (bool, error) {
	for i, f := range s.filters {
		skip, err := f.Filter(name, req, out)
		if err != nil {
			return false, &CapabilityError{Kind: "filter", Index: i, Err: fmt.Errorf("header %q: %w", name, err)}
		}
		if skip {
			return true, nil
		}
	}
	return false, nil
}

// ForwardResponseHeaders returns the headers to set on the client response.
//
// A chunked Transfer-Encoding is dropped, Set-Cookie paths are re-anchored
// under the first segment of originalPath below the mount prefix, and
// everything else is copied verbatim. Provider headers follow.
func (s *Strategy) ForwardResponseHeaders(originalPath string, resp http.Header) ([]Header, error) {
	names := make([]string, 0, len(resp))
	for name := range resp {
		names = append(names, name)
	}
	slices.Sort(names)

	var out []Header
	tr := s.newTrace(DirectionResponse, originalPath)

	for _, name := range names {
		for _, value := range resp[name] {
			switch {
			case strings.EqualFold(name, "Transfer-Encoding") && strings.EqualFold(strings.TrimSpace(value), "chunked"):
				tr.add(name, value, ActionSuppressed, ReasonChunked)
			case strings.EqualFold(name, "Set-Cookie"):
				rewritten, changed := s.rewriteCookiePath(value, originalPath)
				out = append(out, New(name, rewritten))
				if changed {
					tr.add(name, rewritten, ActionRewritten, "")
				} else {
					tr.add(name, rewritten, ActionCopied, "")
				}
			default:
				out = append(out, New(name, value))
				tr.add(name, value, ActionCopied, "")
			}
		}
	}

	for i, p := range s.providers {
		hs, err := p.ResponseHeaders()
		if err != nil {
			return nil, &CapabilityError{Kind: "provider", Index: i, Err: err}
		}
		for _, h := range hs {
			out = append(out, h)
			tr.add(h.Name, h.Value, ActionInjected, "")
		}
	}

	s.emit(tr)
	return out, nil
}

const pathAttr = "Path="

// rewriteCookiePath replaces the value of the first Path attribute in a
// Set-Cookie value. Values without a Path attribute are returned unchanged.
func (s *Strategy) rewriteCookiePath(value, originalPath string) (string, bool) {
	i := indexFold(value, pathAttr)
	if i < 0 {
		return value, false
	}
	rest := value[i+len(pathAttr):]
	var tail string
	if j := strings.IndexByte(rest, ';'); j >= 0 {
		tail = rest[j:]
	}
	return value[:i] + pathAttr + s.cookiePath(originalPath) + tail, true
}

// cookiePath returns "/" followed by the first segment of path below the
// mount prefix: "/sec/myapp/page" with prefix "/sec/" yields "/myapp".
func (s *Strategy) cookiePath(path string) string {
	switch {
	case strings.HasPrefix(path, s.mountPrefix):
		path = path[len(s.mountPrefix):]
	case path == strings.TrimSuffix(s.mountPrefix, "/"):
		path = ""
	}
	path = strings.TrimLeft(path, "/")
	segment, _, _ := strings.Cut(path, "/")
	return "/" + segment
}

// indexFold is strings.Index with ASCII case folding.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

// trace accumulates entries only when a tracer is configured.
type trace struct {
	rec     TraceRecord
	enabled bool
}

func (s *Strategy) newTrace(dir Direction, path string) *trace {
	return &trace{
		rec:     TraceRecord{Direction: dir, Path: path},
		enabled: s.tracer != nil,
	}
}

func (t *trace) add(name, value string, action Action, reason string) {
	if !t.enabled {
		return
	}
	t.rec.Entries = append(t.rec.Entries, TraceEntry{Name: name, Value: value, Action: action, Reason: reason})
}

func (s *Strategy) emit(t *trace) {
	if s.tracer != nil {
		s.tracer.Trace(t.rec)
	}
}
