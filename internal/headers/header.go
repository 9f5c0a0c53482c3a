// Package headers decides which HTTP headers cross the proxy hop.
//
// A Strategy copies inbound request headers to the proxied request and
// proxied response headers to the client response, applying built-in rules,
// an ordered set of Filters and an ordered set of Providers. It returns the
// headers to add instead of writing them anywhere; callers apply the result
// to their transport objects with Apply.
package headers

import (
	"net/http"
	"slices"
	"strings"
)

// Header is a single name/value pair.
type Header struct {
	Name  string
	Value string
}

// New returns a Header. It never fails.
func New(name, value string) Header {
	return Header{Name: name, Value: value}
}

// Is reports whether the header name matches name, ignoring case.
func (h Header) Is(name string) bool {
	return strings.EqualFold(h.Name, name)
}

// Request is the per-call view of the original client request.
type Request struct {
	Path   string
	Header http.Header
}

// Names returns the request header names in enumeration order. http.Header
// is a map, so names are sorted to keep the order deterministic.
func (r *Request) Names() []string {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get returns the first value of the named header, matching the name
// case-insensitively. Missing headers yield "".
func (r *Request) Get(name string) string {
	if vals, ok := r.Header[name]; ok && len(vals) > 0 {
		return vals[0]
	}
	for key, vals := range r.Header {
		if strings.EqualFold(key, name) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// Outbound is the ordered header list being built for the proxied request.
// Filters may append substitutes to it.
type Outbound struct {
	headers []Header
}

// Add appends a header.
func (o *Outbound) Add(name, value string) {
	o.headers = append(o.headers, New(name, value))
}

// Headers returns the headers added so far.
func (o *Outbound) Headers() []Header {
	return o.headers
}

// Apply adds every header in hs to dst, in order. Duplicate names become
// multiple values.
func Apply(dst http.Header, hs []Header) {
	for _, h := range hs {
		dst.Add(h.Name, h.Value)
	}
}

// ParseLine parses a "Name: value" line. ok is false when the colon is
// missing or the name is blank.
func ParseLine(line string) (h Header, ok bool) {
	name, value, found := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return Header{}, false
	}
	return New(name, strings.TrimSpace(value)), true
}
