package observe

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// redactedAudioValue replaces any log attribute keyed by a raw-audio field
// name, regardless of its actual value.
const redactedAudioValue = "[REDACTED_AUDIO]"

// redactedBase64Value replaces string values that look like long, unbroken
// base64 payloads even when logged under an unrelated key.
const redactedBase64Value = "[REDACTED_BASE64]"

// audioFieldNames are the exact attribute keys whose values are always
// audio and must never reach a log line.
var audioFieldNames = map[string]struct{}{
	"audio":   {},
	"payload": {},
	"pcm":     {},
	"pcm16":   {},
	"mulaw":   {},
}

// base64Heuristic matches a long unbroken run of base64 alphabet characters,
// the shape a raw audio or key payload takes when it leaks into a field
// that isn't one of audioFieldNames.
var base64Heuristic = regexp.MustCompile(`^[A-Za-z0-9+/=]{256,}$`)

// secretPattern matches bearer tokens and token=/api_key= style credential
// substrings anywhere inside a string value.
var secretPattern = regexp.MustCompile(`(?i)(bearer\s+[A-Za-z0-9._-]+|(?:token|api_key)=[^\s&]+)`)

// NewRedactingHandler wraps next so that any attribute whose key is in
// audioFieldNames is replaced outright, and any string value matching the
// long-base64 heuristic or a bearer/token/api_key pattern is masked before
// reaching next. It is meant to sit directly above the sink handler
// (text or JSON) in the slog handler chain.
func NewRedactingHandler(next slog.Handler) slog.Handler {
	return &redactingHandler{next: next}
}

type redactingHandler struct {
	next  slog.Handler
	group string
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	redacted := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted), group: h.group}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), group: name}
}

func redactAttr(a slog.Attr) slog.Attr {
	if _, sensitive := audioFieldNames[a.Key]; sensitive {
		return slog.String(a.Key, redactedAudioValue)
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, redactString(a.Value.String()))
	}
	return a
}

func redactString(s string) string {
	if base64Heuristic.MatchString(strings.TrimSpace(s)) {
		return redactedBase64Value
	}
	return secretPattern.ReplaceAllString(s, "[REDACTED_SECRET]")
}

// SeedTraceID picks the trace id for a new call session per the seed
// policy: a carrier-supplied stable call identifier is preferred, falling
// back to a random 128-bit id when the carrier gives none.
func SeedTraceID(carrierCallID string) string {
	if carrierCallID != "" {
		return carrierCallID
	}
	return uuid.New().String()
}

// SeedSpanContext builds a remote [trace.SpanContext] carrying traceID so
// that downstream StartSpan/CorrelationID calls report a consistent id for
// the lifetime of the call, even when traceID did not originate from this
// process's own tracer.
func SeedSpanContext(traceID string) (trace.SpanContext, bool) {
	tid, err := trace.TraceIDFromHex(normalizeTraceIDHex(traceID))
	if err != nil {
		return trace.SpanContext{}, false
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     seedSpanID(traceID),
		Remote:     true,
		TraceFlags: trace.FlagsSampled,
	})
	if !sc.IsValid() {
		return trace.SpanContext{}, false
	}
	return sc, true
}

// seedSpanID derives a non-zero SpanID from traceID so the SpanContext
// SeedSpanContext returns is valid. trace.SpanContext.IsValid requires both
// a non-zero TraceID and a non-zero SpanID; a literal zero SpanID would
// make every seeded context invalid, which the OTel SDK's tracer.Start
// treats as "no parent" and so mints a fresh random trace ID instead of
// inheriting the carrier-seeded one.
func seedSpanID(traceID string) trace.SpanID {
	sum := sha256.Sum256([]byte(traceID))
	var sid trace.SpanID
	copy(sid[:], sum[:len(sid)])
	return sid
}

// normalizeTraceIDHex pads or truncates an arbitrary carrier-supplied
// identifier to the 32 hex characters trace.TraceIDFromHex requires. This
// only affects propagation of a foreign id into OTel's span context; the
// original carrier value is always used verbatim in log lines and wire
// frames.
func normalizeTraceIDHex(id string) string {
	const want = 32
	hex := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			return r
		case r >= 'A' && r <= 'F':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, id)
	if len(hex) >= want {
		return hex[:want]
	}
	return hex + strings.Repeat("0", want-len(hex))
}
