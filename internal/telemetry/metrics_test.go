package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != CollabMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewCollabMetrics_NilProvider(t *testing.T) {
	t.Parallel()

	metrics, err := NewCollabMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)

	// every recorder must tolerate a nil receiver
	ctx := context.Background()
	assert.NotPanics(t, func() {
		metrics.ConnectionOpened(ctx)
		metrics.ConnectionClosed(ctx)
		metrics.RoomsChanged(ctx, 1)
		metrics.RecordEvent(ctx, "join-note")
		metrics.RecordDenied(ctx, "join-note", "read_denied")
		metrics.RecordBroadcast(ctx, "user-joined", 3)
	})
}

func TestCollabMetrics_Records(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := NewCollabMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.ConnectionOpened(ctx)
	metrics.ConnectionOpened(ctx)
	metrics.ConnectionClosed(ctx)
	metrics.RoomsChanged(ctx, 2)
	metrics.RoomsChanged(ctx, -1)
	metrics.RecordEvent(ctx, "note-change")
	metrics.RecordEvent(ctx, "note-change")
	metrics.RecordDenied(ctx, "note-change", "write_denied")
	metrics.RecordBroadcast(ctx, "note-change", 4)

	got := collect(t, reader)

	connections, ok := got["notes_collab_active_connections"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, connections.DataPoints, 1)
	assert.Equal(t, int64(1), connections.DataPoints[0].Value)

	rooms, ok := got["notes_collab_active_rooms"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, rooms.DataPoints, 1)
	assert.Equal(t, int64(1), rooms.DataPoints[0].Value)

	events, ok := got["notes_collab_events_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, events.DataPoints, 1)
	assert.Equal(t, int64(2), events.DataPoints[0].Value)
	event, _ := events.DataPoints[0].Attributes.Value(attribute.Key("event"))
	assert.Equal(t, "note-change", event.AsString())

	denied, ok := got["notes_collab_denied_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, denied.DataPoints, 1)
	reason, _ := denied.DataPoints[0].Attributes.Value(attribute.Key("reason"))
	assert.Equal(t, "write_denied", reason.AsString())

	fanout, ok := got["notes_collab_broadcast_recipients"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, fanout.DataPoints, 1)
	assert.Equal(t, uint64(1), fanout.DataPoints[0].Count)
	assert.Equal(t, int64(4), fanout.DataPoints[0].Sum)
}
