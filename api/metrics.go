package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"notepad-api/domain"
)

const (
	tasksEventName   = "notepad.tasks.request"
	tasksEventDomain = "notepad"
	tasksSpanName    = "GET /api/tasks"
)

type taskRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	encodeDuration time.Duration
	filterMode     string
	tasksReturned  int
	errorStage     string
}

func newTaskRequestMetrics(ctx context.Context, logger *log.Logger) (*taskRequestMetrics, context.Context) {
	m := &taskRequestMetrics{
		logger: logger,
		start:  time.Now(),
	}
	spanCtx, span := otel.Tracer("notepad-api/api").Start(ctx, tasksSpanName,
		trace.WithSpanKind(trace.SpanKindServer))
	m.span = span
	return m, spanCtx
}

func (m *taskRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *taskRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *taskRequestMetrics) SetFilterMode(mode domain.FilterMode) {
	m.filterMode = mode.String()
}

func (m *taskRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *taskRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log emits a single observability event for the request, both as a
// structured log line and as an event on the request span, then ends
// the span.
func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		"http.route":             "/api/tasks",
		"http.status_code":       status,
		"notepad.tasks.total_ms": totalMs,
		"notepad.tasks.returned": m.tasksReturned,
	}
	if m.filterMode != "" {
		attrs["notepad.tasks.filter"] = m.filterMode
	}
	if m.authDuration > 0 {
		attrs["notepad.tasks.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.encodeDuration > 0 {
		attrs["notepad.tasks.encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		attrs["notepad.tasks.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	fields := log.Fields{
		"event.name":      tasksEventName,
		"event.domain":    tasksEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
	}

	if m.span != nil {
		sc := m.span.SpanContext()
		if sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			fields["span_id"] = sc.SpanID().String()
		}
		m.recordSpan(status, err, severityText, totalMs)
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func (m *taskRequestMetrics) recordSpan(status int, err error, severityText string, totalMs float64) {
	spanAttrs := []attribute.KeyValue{
		attribute.String("http.route", "/api/tasks"),
		attribute.Int("http.status_code", status),
	}
	if m.errorStage != "" {
		spanAttrs = append(spanAttrs, attribute.String("notepad.tasks.error_stage", m.errorStage))
	}
	m.span.SetAttributes(spanAttrs...)

	eventAttrs := []attribute.KeyValue{
		attribute.String("event.name", tasksEventName),
		attribute.String("event.domain", tasksEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Float64("notepad.tasks.total_ms", totalMs),
		attribute.Int("notepad.tasks.returned", m.tasksReturned),
	}
	if m.filterMode != "" {
		eventAttrs = append(eventAttrs, attribute.String("notepad.tasks.filter", m.filterMode))
	}
	if m.errorStage != "" {
		eventAttrs = append(eventAttrs, attribute.String("notepad.tasks.error_stage", m.errorStage))
	}
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))

	if err != nil || status >= 500 {
		desc := "request failed"
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
