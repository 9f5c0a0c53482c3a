package headers

import (
	"context"
	"log/slog"
	"strings"
)

// Direction tells which side of the hop a trace record describes.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Action is what happened to a single header.
type Action string

const (
	ActionCopied     Action = "copied"
	ActionRewritten  Action = "rewritten"
	ActionInjected   Action = "injected"
	ActionSuppressed Action = "suppressed"
)

// Reasons. Suppressed entries always carry one; injected entries carry
// ReasonFilter when a filter added the header and none when a provider did.
const (
	ReasonContentLength  = "content_length"
	ReasonFilter         = "filter"
	ReasonAcceptEncoding = "accept_encoding"
	ReasonHost           = "host"
	ReasonChunked        = "chunked"
)

// TraceEntry records the fate of one header.
type TraceEntry struct {
	Name   string
	Value  string
	Action Action
	Reason string
}

// TraceRecord lists every header decision of one forwarding call, in order.
type TraceRecord struct {
	Direction Direction
	Path      string
	Entries   []TraceEntry
}

// Tracer receives trace records. It must not block for long and cannot
// influence forwarding.
type Tracer interface {
	Trace(rec TraceRecord)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(rec TraceRecord)

// Trace calls f.
func (f TracerFunc) Trace(rec TraceRecord) { f(rec) }

// MultiTracer fans a record out to several tracers.
type MultiTracer []Tracer

func (m MultiTracer) Trace(rec TraceRecord) {
	for _, t := range m {
		t.Trace(rec)
	}
}

// DefaultRedacted lists headers whose values LogTracer hides unless told
// otherwise.
var DefaultRedacted = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
}

const redacted = "[REDACTED]"

// LogTracer writes trace records to slog at debug level.
type LogTracer struct {
	logger *slog.Logger
	redact []string
}

// NewLogTracer returns a LogTracer. A nil redact list means DefaultRedacted.
func NewLogTracer(logger *slog.Logger, redact []string) *LogTracer {
	if redact == nil {
		redact = DefaultRedacted
	}
	return &LogTracer{logger: logger, redact: redact}
}

func (t *LogTracer) Trace(rec TraceRecord) {
	ctx := context.Background()
	if !t.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	lines := make([]string, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		var b strings.Builder
		b.WriteString(e.Name)
		b.WriteByte('=')
		b.WriteString(t.value(e))
		b.WriteString(" [")
		b.WriteString(string(e.Action))
		if e.Reason != "" {
			b.WriteByte(':')
			b.WriteString(e.Reason)
		}
		b.WriteByte(']')
		lines = append(lines, b.String())
	}

	t.logger.LogAttrs(ctx, slog.LevelDebug, "headers",
		slog.String("direction", string(rec.Direction)),
		slog.String("path", rec.Path),
		slog.Any("headers", lines),
	)
}

func (t *LogTracer) value(e TraceEntry) string {
	for _, name := range t.redact {
		if strings.EqualFold(name, e.Name) {
			return redacted
		}
	}
	return e.Value
}
