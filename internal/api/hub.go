package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Hub fans out telemetry snapshots to every connected /ws client. It is
// grounded on the teacher's broadcast-style OLED/msg-log update pattern
// (one producer, many passive readers) generalized to a websocket
// client set, using github.com/coder/websocket for the wire protocol.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	send chan []byte
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{log: logger, clients: make(map[*hubClient]struct{})}
}

// Broadcast sends body to every currently connected client, dropping it
// for any client whose outbound buffer is full rather than blocking the
// producer.
func (h *Hub) Broadcast(body []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- body:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams broadcasts
// to it until the client disconnects or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("api:ws-accept-failed", slog.Any("err", err))
		}
		return
	}
	defer conn.CloseNow()

	client := &hubClient{send: make(chan []byte, 16)}
	h.register(client)
	defer h.unregister(client)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case body, ok := <-client.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, body)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}
