package websocket

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName scopes the hub instruments.
const MeterName = "dmsdk/websocket"

// Metrics instruments the hub. A nil *Metrics records nothing.
type Metrics struct {
	ActiveClients metric.Int64UpDownCounter
	Connections   metric.Int64Counter
	MessagesSent  metric.Int64Counter
	Dropped       metric.Int64Counter
}

// NewMetrics creates the hub instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	active, err := meter.Int64UpDownCounter("websocket_clients_active",
		metric.WithDescription("Connected WebSocket clients"))
	if err != nil {
		return nil, err
	}
	connections, err := meter.Int64Counter("websocket_connections_total",
		metric.WithDescription("WebSocket connections accepted"))
	if err != nil {
		return nil, err
	}
	sent, err := meter.Int64Counter("websocket_messages_sent_total",
		metric.WithDescription("Messages queued to WebSocket clients"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("websocket_clients_dropped_total",
		metric.WithDescription("Clients disconnected because their send buffer was full"))
	if err != nil {
		return nil, err
	}
	return &Metrics{ActiveClients: active, Connections: connections, MessagesSent: sent, Dropped: dropped}, nil
}

func (m *Metrics) connected(ctx context.Context) {
	if m == nil {
		return
	}
	m.Connections.Add(ctx, 1)
	m.ActiveClients.Add(ctx, 1)
}

func (m *Metrics) disconnected(ctx context.Context, dropped bool) {
	if m == nil {
		return
	}
	m.ActiveClients.Add(ctx, -1)
	if dropped {
		m.Dropped.Add(ctx, 1)
	}
}

func (m *Metrics) sent(ctx context.Context, msgType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MessagesSent.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", msgType)))
}
