package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"dmsdk/internal/config"
	"dmsdk/internal/infrastructure"
	"dmsdk/pkg/contracts/events"
)

// SnapshotFunc returns the messages a new subscriber receives before any
// broadcast, typically the current update state.
type SnapshotFunc func(ctx context.Context) []events.WebSocketMessage

// Handler upgrades requests and attaches the connections to a hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     Options
	snapshot SnapshotFunc
	logger   *slog.Logger
}

// NewHandler creates the upgrade handler. snapshot may be nil.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, snapshot SnapshotFunc, logger *slog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     loopbackOrigin,
		},
		opts:     OptionsFrom(cfg),
		snapshot: snapshot,
		logger:   infrastructure.ComponentLogger(logger, "websocket.handler"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.WarnContext(ctx, "WebSocket upgrade failed",
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("error", err.Error()),
		)
		return
	}

	client := NewClient(h.hub, WrapConn(conn), h.opts, h.logger)
	if msg, err := Encode(ctx, events.MessageTypeConnect, map[string]any{"client_id": client.id}); err == nil {
		client.queue(msg)
	}
	if h.snapshot != nil {
		for _, m := range h.snapshot(ctx) {
			if msg, err := Encode(ctx, m.Type, m.Data); err == nil {
				client.queue(msg)
			}
		}
	}

	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}

// loopbackOrigin accepts requests without an Origin header and browser
// pages served from the same host or from localhost.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}
