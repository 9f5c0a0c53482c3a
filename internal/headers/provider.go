package headers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Provider injects extra headers independent of what was copied. The
// strategy appends the returned headers itself; providers must not depend on
// forwarding decisions and must be safe for concurrent use.
type Provider interface {
	RequestHeaders() ([]Header, error)
	ResponseHeaders() ([]Header, error)
}

// StaticProvider returns the same headers on every call.
type StaticProvider struct {
	request  []Header
	response []Header
}

// NewStaticProvider returns a StaticProvider. Either list may be empty.
func NewStaticProvider(request, response []Header) *StaticProvider {
	return &StaticProvider{request: request, response: response}
}

func (p *StaticProvider) RequestHeaders() ([]Header, error) {
	return p.request, nil
}

func (p *StaticProvider) ResponseHeaders() ([]Header, error) {
	return p.response, nil
}

// Timestamp formats accepted by NewTimestampProvider.
const (
	FormatRFC3339  = "rfc3339"
	FormatUnix     = "unix"
	FormatHTTPDate = "http"
)

// TimestampProvider stamps the current time into a request header and,
// optionally, into a response header.
type TimestampProvider struct {
	requestName  string
	responseName string
	format       string
	now          func() time.Time
}

// NewTimestampProvider returns a TimestampProvider. An empty header name
// disables that direction.
func NewTimestampProvider(requestName, responseName, format string) (*TimestampProvider, error) {
	switch format {
	case "":
		format = FormatRFC3339
	case FormatRFC3339, FormatUnix, FormatHTTPDate:
	default:
		return nil, fmt.Errorf("unknown timestamp format %q", format)
	}
	return &TimestampProvider{
		requestName:  requestName,
		responseName: responseName,
		format:       format,
		now:          time.Now,
	}, nil
}

func (p *TimestampProvider) RequestHeaders() ([]Header, error) {
	return p.stamp(p.requestName), nil
}

func (p *TimestampProvider) ResponseHeaders() ([]Header, error) {
	return p.stamp(p.responseName), nil
}

func (p *TimestampProvider) stamp(name string) []Header {
	if name == "" {
		return nil
	}
	t := p.now().UTC()
	var v string
	switch p.format {
	case FormatUnix:
		v = strconv.FormatInt(t.Unix(), 10)
	case FormatHTTPDate:
		v = t.Format(http.TimeFormat)
	default:
		v = t.Format(time.RFC3339)
	}
	return []Header{New(name, v)}
}
