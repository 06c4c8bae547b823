package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxRedactedBytes = 512
	truncatedSuffix  = "...[truncated]"
	redactedMarker   = "<redacted>"
)

type redaction struct {
	pattern *regexp.Regexp
	replace string
}

var redactions = []redaction{
	{regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret|authorization)\s*[:=]\s*([^\s,;]+)`), "$1=" + redactedMarker},
	{regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`), "bearer " + redactedMarker},
	{regexp.MustCompile(`\b(sk-(ant-)?[A-Za-z0-9_\-]{10,}|AIza[0-9A-Za-z_\-]{20,})\b`), redactedMarker},
}

// ModelCall describes one model request.
type ModelCall struct {
	Provider  string
	Model     string
	Operation string
	Prompt    string
	Images    int
}

// ModelSpan is an open llm.call span. Methods are safe on a nil receiver.
type ModelSpan struct {
	span         trace.Span
	started      time.Time
	promptTokens int

	mu       sync.Mutex
	failures int
	finished bool
}

// StartModelCall opens an llm.call span. The prompt itself is never
// recorded, only its estimated size and a hash of its redacted form.
func StartModelCall(ctx context.Context, call ModelCall) (context.Context, *ModelSpan) {
	if ctx == nil {
		ctx = context.Background()
	}
	promptTokens := EstimateTokens(call.Prompt)
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", orUnknown(call.Provider)),
		attribute.String("llm.model", orUnknown(call.Model)),
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.String("llm.prompt_sha256", promptDigest(call.Prompt)),
	}
	if op := strings.TrimSpace(call.Operation); op != "" {
		attrs = append(attrs, attribute.String("llm.operation", op))
	}
	if call.Images > 0 {
		attrs = append(attrs, attribute.Int("llm.images", call.Images))
	}

	ctx, span := otel.Tracer("feedpilot/llm").Start(ctx, "llm.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &ModelSpan{span: span, started: time.Now(), promptTokens: promptTokens}
}

// Retry records a failed attempt as an llm.retry event.
func (s *ModelSpan) Retry(kind string, err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.failures++
	attempt := s.failures
	s.mu.Unlock()

	s.span.AddEvent("llm.retry", trace.WithAttributes(
		attribute.String("error.kind", orUnknown(kind)),
		attribute.String("error.message", Redact(err.Error())),
		attribute.Int("llm.attempt", attempt),
	))
}

// Finish ends the span. When responseTokens is nil the count is estimated
// from text. Only the first call has an effect.
func (s *ModelSpan) Finish(text string, responseTokens *int, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	attempts := s.failures + 1
	s.mu.Unlock()

	tokens := EstimateTokens(text)
	if responseTokens != nil && *responseTokens >= 0 {
		tokens = *responseTokens
	}
	s.span.SetAttributes(
		attribute.Int64("llm.latency_ms", max(time.Since(s.started).Milliseconds(), 0)),
		attribute.Int("llm.attempts", attempts),
		attribute.Int("llm.response_tokens", tokens),
		attribute.Int("llm.total_tokens", s.promptTokens+tokens),
	)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, Redact(err.Error()))
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Redact masks credentials in free-form text and caps its length.
func Redact(input string) string {
	out := scrub(input)
	if len(out) > maxRedactedBytes {
		out = out[:maxRedactedBytes-len(truncatedSuffix)] + truncatedSuffix
	}
	return out
}

func scrub(input string) string {
	out := strings.TrimSpace(input)
	for _, r := range redactions {
		out = r.pattern.ReplaceAllString(out, r.replace)
	}
	return out
}

func promptDigest(prompt string) string {
	sum := sha256.Sum256([]byte(scrub(prompt)))
	return hex.EncodeToString(sum[:])
}

func orUnknown(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return "unknown"
	}
	return value
}
