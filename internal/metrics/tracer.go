package metrics

import (
	"security-proxy-go/internal/headers"
)

// HeaderTracer counts header forwarding decisions. It implements headers.Tracer.
type HeaderTracer struct {
	m *Metrics
}

// NewHeaderTracer returns a HeaderTracer recording into m.
func NewHeaderTracer(m *Metrics) *HeaderTracer {
	return &HeaderTracer{m: m}
}

func (t *HeaderTracer) Trace(rec headers.TraceRecord) {
	dir := string(rec.Direction)
	for _, e := range rec.Entries {
		t.m.HeadersTotal.WithLabelValues(dir, string(e.Action), e.Reason).Inc()
	}
}
