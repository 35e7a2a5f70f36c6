// Package observe provides application-wide observability primitives for
// liveguide: OpenTelemetry metrics, tracing, trace-aware structured logging
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider], which also builds the [Metrics] set. Tests
// use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all liveguide metrics.
const meterName = "github.com/MrWong99/liveguide"

// Outbound chunk statuses used with [Metrics.RecordOutbound].
const (
	OutboundSent            = "sent"
	OutboundDroppedNotReady = "dropped_not_ready"
	OutboundDroppedFull     = "dropped_full"
	OutboundFailed          = "failed"
)

// Playback item outcomes used with [Metrics.RecordPlayback].
const (
	PlaybackScheduled = "scheduled"
	PlaybackEnded     = "ended"
	PlaybackFlushed   = "flushed"
)

// Metrics holds all OpenTelemetry instruments of the voice pipeline.
// All fields are safe for concurrent use.
type Metrics struct {
	// SessionTransitions counts state machine transitions. Attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// ActiveSessions is 1 while a session holds audio resources.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks the time from Start until the remote channel
	// reports open.
	ConnectDuration metric.Float64Histogram

	// OutboundChunks counts captured chunks by status (see Outbound*).
	OutboundChunks metric.Int64Counter

	// PlaybackItems counts scheduled audio by outcome (see Playback*).
	PlaybackItems metric.Int64Counter

	// DecodeFailures counts inbound audio payloads that could not be decoded.
	DecodeFailures metric.Int64Counter

	// Interruptions counts barge-in flushes.
	Interruptions metric.Int64Counter

	// ScheduleLead tracks how far in the future each item was scheduled
	// relative to the output clock, in seconds.
	ScheduleLead metric.Float64Histogram

	// ProviderErrors counts live provider errors. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for connect
// and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// leadBuckets covers the playback queue depth, from "barely ahead" to several
// seconds of buffered speech.
var leadBuckets = []float64{
	0, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionTransitions, err = m.Int64Counter("liveguide.session.transitions",
		metric.WithDescription("Session state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("liveguide.active_sessions",
		metric.WithDescription("Number of sessions currently holding audio resources."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("liveguide.session.connect.duration",
		metric.WithDescription("Latency from session start until the remote channel is open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OutboundChunks, err = m.Int64Counter("liveguide.outbound.chunks",
		metric.WithDescription("Captured audio chunks by delivery status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackItems, err = m.Int64Counter("liveguide.playback.items",
		metric.WithDescription("Playback items by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("liveguide.playback.decode_failures",
		metric.WithDescription("Inbound audio payloads that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("liveguide.playback.interruptions",
		metric.WithDescription("Playback flushes caused by remote interruption."),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLead, err = m.Float64Histogram("liveguide.playback.schedule_lead",
		metric.WithDescription("Distance between an item's start time and the output clock when scheduled."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("liveguide.provider.errors",
		metric.WithDescription("Live provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("liveguide.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordTransition records one session state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordOutbound records one captured chunk with the given status.
func (m *Metrics) RecordOutbound(ctx context.Context, status string) {
	m.OutboundChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordPlayback records n playback items with the given outcome.
func (m *Metrics) RecordPlayback(ctx context.Context, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.PlaybackItems.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordScheduleLead records how far ahead of the output clock an item was
// scheduled.
func (m *Metrics) RecordScheduleLead(ctx context.Context, lead time.Duration) {
	m.ScheduleLead.Record(ctx, lead.Seconds())
}

// RecordProviderError records a live provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
