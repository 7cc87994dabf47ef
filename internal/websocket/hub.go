package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"dmsdk/internal/infrastructure"
	"dmsdk/internal/updater"
	"dmsdk/pkg/contracts/events"
)

// ErrHubStopped is returned when publishing to a hub whose Run has ended.
var ErrHubStopped = errors.New("websocket hub stopped")

type envelope struct {
	msgType string
	data    []byte
}

// Hub fans messages out to connected clients. All client bookkeeping happens
// on the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}

	clients map[*Client]struct{}
	count   atomic.Int64
	sent    atomic.Uint64

	logger  *slog.Logger
	metrics *Metrics
}

// NewHub creates a hub. Nothing is delivered until Run is called.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 16),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		logger:     infrastructure.ComponentLogger(logger, "websocket.hub"),
		metrics:    metrics,
	}
}

// Run services the hub until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.remove(ctx, client, false)
		}
		h.logger.Info("Hub shutting down")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.metrics.connected(ctx)
			h.logger.Info("Client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", len(h.clients)),
			)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(ctx, client, false)
			}

		case msg := <-h.broadcast:
			delivered := 0
			for client := range h.clients {
				select {
				case client.send <- msg.data:
					delivered++
				default:
					h.logger.Warn("Client send buffer full, disconnecting",
						slog.String("client_id", client.id))
					h.remove(ctx, client, true)
				}
			}
			h.sent.Add(uint64(delivered))
			h.metrics.sent(ctx, msg.msgType, delivered)
			h.logger.Debug("Broadcast message",
				slog.String("type", msg.msgType),
				slog.Int("delivered", delivered),
				slog.Int("size", len(msg.data)),
			)
		}
	}
}

func (h *Hub) remove(ctx context.Context, client *Client, dropped bool) {
	delete(h.clients, client)
	close(client.send)
	h.count.Store(int64(len(h.clients)))
	h.metrics.disconnected(ctx, dropped)
	h.logger.Info("Client unregistered",
		slog.String("client_id", client.id),
		slog.Duration("connection_duration", time.Since(client.connectedAt)),
		slog.Int("total_clients", len(h.clients)),
	)
}

// Register hands client to the hub. It reports false when the hub has
// stopped, in which case the caller owns the client's connection.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client. It is safe to call after the hub stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish broadcasts one message of msgType to every client.
func (h *Hub) Publish(ctx context.Context, msgType events.MessageType, data any) error {
	payload, err := Encode(ctx, msgType, data)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- envelope{msgType: string(msgType), data: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishUpdateState broadcasts an update:state message for state.
func (h *Hub) PublishUpdateState(ctx context.Context, state updater.State) error {
	return h.Publish(ctx, events.MessageTypeUpdateState, UpdateStateEvent(state))
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int { return int(h.count.Load()) }

// MessagesSent returns how many messages were queued to clients.
func (h *Hub) MessagesSent() uint64 { return h.sent.Load() }

// UpdateStateEvent converts a tracker state into its wire event.
func UpdateStateEvent(state updater.State) events.UpdateStateEvent {
	return events.UpdateStateEvent{
		Sequence: state.Sequence,
		Status:   state.RawStatus,
		Terminal: state.Status.Terminal(),
		Detail:   state.Detail,
	}
}

// Encode renders a message with a fresh ID and the trace ID carried by ctx.
func Encode(ctx context.Context, msgType events.MessageType, data any) ([]byte, error) {
	return json.Marshal(events.WebSocketMessage{
		BaseMessage: events.BaseMessage{
			ID:        uuid.NewString(),
			Type:      msgType,
			Timestamp: time.Now().UTC(),
			TraceID:   infrastructure.GetTraceID(ctx),
		},
		Data: data,
	})
}
