package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CollabMetricsMeterName is the meter scope for collaboration metrics
const CollabMetricsMeterName = "github.com/stacklok/notes-collab-server/collab"

// CollabMetrics holds the instruments recorded by the collaboration coordinator.
// A nil *CollabMetrics records nothing.
type CollabMetrics struct {
	activeConnections metric.Int64UpDownCounter
	activeRooms       metric.Int64UpDownCounter
	eventsTotal       metric.Int64Counter
	deniedTotal       metric.Int64Counter
	broadcastFanout   metric.Int64Histogram
}

// NewCollabMetrics creates the collaboration instruments. A nil provider returns nil metrics.
func NewCollabMetrics(provider metric.MeterProvider) (*CollabMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CollabMetricsMeterName)

	activeConnections, err := meter.Int64UpDownCounter(
		"notes_collab_active_connections",
		metric.WithDescription("Number of authenticated realtime connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	activeRooms, err := meter.Int64UpDownCounter(
		"notes_collab_active_rooms",
		metric.WithDescription("Number of notes with at least one present participant"),
		metric.WithUnit("{room}"),
	)
	if err != nil {
		return nil, err
	}

	eventsTotal, err := meter.Int64Counter(
		"notes_collab_events_total",
		metric.WithDescription("Inbound collaboration events handled"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	deniedTotal, err := meter.Int64Counter(
		"notes_collab_denied_total",
		metric.WithDescription("Inbound events rejected by authorization or availability checks"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	broadcastFanout, err := meter.Int64Histogram(
		"notes_collab_broadcast_recipients",
		metric.WithDescription("Connections reached by a single broadcast"),
		metric.WithUnit("{connection}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return nil, err
	}

	return &CollabMetrics{
		activeConnections: activeConnections,
		activeRooms:       activeRooms,
		eventsTotal:       eventsTotal,
		deniedTotal:       deniedTotal,
		broadcastFanout:   broadcastFanout,
	}, nil
}

// ConnectionOpened counts a newly authenticated connection
func (m *CollabMetrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, 1)
}

// ConnectionClosed removes a connection from the active count
func (m *CollabMetrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, -1)
}

// RoomsChanged adjusts the active room count by delta
func (m *CollabMetrics) RoomsChanged(ctx context.Context, delta int64) {
	if m == nil || delta == 0 {
		return
	}
	m.activeRooms.Add(ctx, delta)
}

// RecordEvent counts one handled inbound event
func (m *CollabMetrics) RecordEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordDenied counts a rejected inbound event with the rejection reason
func (m *CollabMetrics) RecordDenied(ctx context.Context, event, reason string) {
	if m == nil {
		return
	}
	m.deniedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("reason", reason),
	))
}

// RecordBroadcast records how many connections an outbound event was sent to
func (m *CollabMetrics) RecordBroadcast(ctx context.Context, event string, recipients int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Record(ctx, int64(recipients), metric.WithAttributes(attribute.String("event", event)))
}
