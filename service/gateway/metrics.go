package gateway

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are no-ops until the process installs a MeterProvider.
type metrics struct {
	connections metric.Int64UpDownCounter
	presence    metric.Int64Counter
	delivered   metric.Int64Counter
	drops       metric.Int64Counter
	revoked     metric.Int64Counter
	relayed     metric.Int64Counter
}

var gatewayMetrics = newMetrics()

func newMetrics() *metrics {
	meter := otel.Meter("PPresence/gateway")
	m := &metrics{}
	m.connections, _ = meter.Int64UpDownCounter("gateway_connections",
		metric.WithDescription("Live websocket connections on this node"))
	m.presence, _ = meter.Int64Counter("gateway_presence_transitions_total",
		metric.WithDescription("User online/offline zero crossings"))
	m.delivered, _ = meter.Int64Counter("gateway_frames_delivered_total",
		metric.WithDescription("Frames queued to local sockets"))
	m.drops, _ = meter.Int64Counter("gateway_frames_dropped_total",
		metric.WithDescription("Frames dropped because a send queue was full"))
	m.revoked, _ = meter.Int64Counter("gateway_revoked_connections_total",
		metric.WithDescription("Connections closed by administrative revocation"))
	m.relayed, _ = meter.Int64Counter("gateway_backplane_messages_total",
		metric.WithDescription("Envelopes received from other nodes"))
	return m
}

func tenantAttr(tenantID int64) metric.MeasurementOption {
	return metric.WithAttributes(attribute.Int64("tenant_id", tenantID))
}

func (m *metrics) connOpened(tenantID int64) {
	m.connections.Add(context.Background(), 1, tenantAttr(tenantID))
}

func (m *metrics) connClosed(tenantID int64) {
	m.connections.Add(context.Background(), -1, tenantAttr(tenantID))
}

func (m *metrics) transition(tenantID int64, online bool) {
	m.presence.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Int64("tenant_id", tenantID), attribute.Bool("online", online)))
}

func (m *metrics) deliveredN(event string, n int) {
	if n > 0 {
		m.delivered.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("event", event)))
	}
}

func (m *metrics) dropped(tenantID int64) {
	m.drops.Add(context.Background(), 1, tenantAttr(tenantID))
}

func (m *metrics) revokedN(kind string, n int) {
	if n > 0 {
		m.revoked.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *metrics) relay(topic string) {
	m.relayed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", topic)))
}
