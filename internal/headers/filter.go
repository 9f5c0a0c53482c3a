package headers

import (
	"regexp"
	"strings"
)

// Filter vetoes forwarding of a request header. Returning true skips the
// default copy. A filter may add its own substitute to out.
type Filter interface {
	Filter(name string, req *Request, out *Outbound) (bool, error)
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(name string, req *Request, out *Outbound) (bool, error)

// Filter calls f.
func (f FilterFunc) Filter(name string, req *Request, out *Outbound) (bool, error) {
	return f(name, req, out)
}

// hopByHopHeaders are connection-scoped headers (RFC 7230 section 6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NameFilter suppresses a fixed set of header names.
type NameFilter struct {
	names []string
}

// NewNameFilter returns a NameFilter for names, compared case-insensitively.
func NewNameFilter(names ...string) *NameFilter {
	return &NameFilter{names: names}
}

// HopByHopFilter suppresses hop-by-hop headers.
func HopByHopFilter() *NameFilter {
	return NewNameFilter(hopByHopHeaders...)
}

func (f *NameFilter) Filter(name string, _ *Request, _ *Outbound) (bool, error) {
	for _, n := range f.names {
		if strings.EqualFold(n, name) {
			return true, nil
		}
	}
	return false, nil
}

// PrefixFilter suppresses header names starting with any of its prefixes.
// It keeps clients from spoofing headers the proxy injects itself.
type PrefixFilter struct {
	prefixes []string
}

// NewPrefixFilter returns a PrefixFilter. Prefixes compare case-insensitively.
func NewPrefixFilter(prefixes ...string) *PrefixFilter {
	lower := make([]string, len(prefixes))
	for i, p := range prefixes {
		lower[i] = strings.ToLower(p)
	}
	return &PrefixFilter{prefixes: lower}
}

func (f *PrefixFilter) Filter(name string, _ *Request, _ *Outbound) (bool, error) {
	lname := strings.ToLower(name)
	for _, p := range f.prefixes {
		if strings.HasPrefix(lname, p) {
			return true, nil
		}
	}
	return false, nil
}

// RegexFilter suppresses header names matching a regular expression.
type RegexFilter struct {
	re *regexp.Regexp
}

// NewRegexFilter compiles pattern into a RegexFilter.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexFilter{re: re}, nil
}

func (f *RegexFilter) Filter(name string, _ *Request, _ *Outbound) (bool, error) {
	return f.re.MatchString(name), nil
}

// ReplaceFilter suppresses one header and substitutes a fixed value for it.
// The substitute is only added when the client actually sent the header.
type ReplaceFilter struct {
	name  string
	value string
}

// NewReplaceFilter returns a ReplaceFilter.
func NewReplaceFilter(name, value string) *ReplaceFilter {
	return &ReplaceFilter{name: name, value: value}
}

func (f *ReplaceFilter) Filter(name string, _ *Request, out *Outbound) (bool, error) {
	if !strings.EqualFold(name, f.name) {
		return false, nil
	}
	out.Add(name, f.value)
	return true, nil
}
