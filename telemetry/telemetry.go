// Package telemetry installs the process tracer provider. Finished spans are
// written to the logrus logger as structured observability events.
package telemetry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const eventMessage = "observability.event"

// LogExporter is a span exporter that logs one entry per span.
type LogExporter struct {
	logger *log.Logger
}

func NewLogExporter(logger *log.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := make(map[string]any, len(s.Attributes()))
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		fields := log.Fields{
			"event.name":  s.Name(),
			"trace_id":    s.SpanContext().TraceID().String(),
			"span_id":     s.SpanContext().SpanID().String(),
			"duration_ms": float64(s.EndTime().Sub(s.StartTime())) / float64(time.Millisecond),
			"attributes":  attrs,
		}
		entry := e.logger.WithFields(fields)
		if s.Status().Code == codes.Error {
			entry.WithField("error.message", s.Status().Description).Error(eventMessage)
			continue
		}
		entry.Debug(eventMessage)
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }

// Setup registers a global tracer provider exporting to logger and returns
// its shutdown function.
func Setup(logger *log.Logger) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(logger)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
