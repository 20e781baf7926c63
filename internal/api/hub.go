package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantagrify/terrafactor/pkg/logger"
)

// RunEvent is pushed to every websocket subscriber when a pipeline run
// completes.
type RunEvent struct {
	Type      string    `json:"type"` // "run_complete"
	Symbol    string    `json:"symbol"`
	Align     bool      `json:"align"`
	Factors   bool      `json:"factors"`
	Composite bool      `json:"composite"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans pipeline run events out to connected websocket clients.
// Slow clients are dropped rather than allowed to block a broadcast.
// SSOT: websocket connections are managed here only
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan RunEvent
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]chan RunEvent),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// HandleWS upgrades the connection and streams run events until the
// client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	events := make(chan RunEvent, 8)
	h.mu.Lock()
	h.clients[conn] = events
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(map[string]interface{}{
		"clients": count,
	}).Debug("Websocket client connected")

	// Reader goroutine: drains control frames and detects disconnect.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			h.remove(conn)
			return
		}
	}
}

// Broadcast pushes an event to every connected client. Clients with a
// full buffer are dropped.
func (h *Hub) Broadcast(event RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, events := range h.clients {
		select {
		case events <- event:
		default:
			delete(h.clients, conn)
			close(events)
			conn.Close()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, events := range h.clients {
		delete(h.clients, conn)
		close(events)
		conn.Close()
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if events, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(events)
	}
	conn.Close()
}
