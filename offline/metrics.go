package offline

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName    = "prism-todo/offline"
	fetchSpanName = "offline.fetch"
	fetchLogEvent = "offline.fetch"
)

// Strategy is how a request was handled.
type Strategy string

const (
	StrategyPassthrough  Strategy = "passthrough"
	StrategyNetworkFirst Strategy = "network-first"
	StrategyCacheFirst   Strategy = "cache-first"
)

// Source tells where the returned response came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceFallback    Source = "fallback"
	SourceSynthesized Source = "synthesized"
)

// fetchMetrics records one intercepted request as a span and a log entry.
type fetchMetrics struct {
	logger      *log.Logger
	span        trace.Span
	start       time.Time
	route       string
	strategy    Strategy
	source      Source
	networkErr  error
	cacheWrite  bool
	revalidated bool
}

func newFetchMetrics(ctx context.Context, logger *log.Logger, req *http.Request) (*fetchMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, fetchSpanName, trace.WithSpanKind(trace.SpanKindClient))
	return &fetchMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  req.URL.Path,
	}, ctx
}

func (m *fetchMetrics) SetStrategy(s Strategy) { m.strategy = s }

func (m *fetchMetrics) SetSource(s Source) { m.source = s }

func (m *fetchMetrics) ObserveNetworkError(err error) { m.networkErr = err }

func (m *fetchMetrics) SetCacheWrite(ok bool) { m.cacheWrite = ok }

func (m *fetchMetrics) SetRevalidationQueued(ok bool) { m.revalidated = ok }

// Log ends the span and writes the log entry. err is set only when the
// request failed without producing a response.
func (m *fetchMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	totalMs := durationToMillis(time.Since(m.start))
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.String("offline.strategy", string(m.strategy)),
		attribute.String("offline.source", string(m.source)),
		attribute.Bool("offline.cache_write", m.cacheWrite),
		attribute.Bool("offline.revalidation_queued", m.revalidated),
		attribute.Float64("offline.total_ms", totalMs),
	}
	if m.networkErr != nil {
		attrs = append(attrs, attribute.String("offline.network_error", m.networkErr.Error()))
	}
	m.span.SetAttributes(attrs...)
	switch {
	case err != nil:
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    m.route,
		"strategy": string(m.strategy),
		"source":   string(m.source),
		"status":   status,
		"total_ms": totalMs,
	}
	if m.cacheWrite {
		fields["cache_write"] = true
	}
	if m.revalidated {
		fields["revalidation_queued"] = true
	}
	if m.networkErr != nil {
		fields["network_error"] = m.networkErr.Error()
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Error(fetchLogEvent)
		return
	}
	if status >= http.StatusInternalServerError {
		entry.Warn(fetchLogEvent)
		return
	}
	entry.Info(fetchLogEvent)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
