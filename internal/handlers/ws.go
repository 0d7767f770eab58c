package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	syncengine "github.com/casebridge/casebridge/internal/sync"
)

// SyncFeedMessage is one WebSocket message pushed to feed subscribers
type SyncFeedMessage struct {
	Type   string                  `json:"type"`
	Cycle  *syncengine.CycleResult `json:"cycle,omitempty"`
	SentAt time.Time               `json:"sent_at"`
}

// feedClient wraps one subscriber connection. gorilla/websocket allows a
// single concurrent writer per connection, and cycles for different
// integrations finish concurrently, so every write goes through writeMu.
type feedClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *feedClient) send(msg SyncFeedMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// SyncFeedHandler pushes sync cycle results to connected WebSocket clients.
// Operators watch the feed instead of polling the events API.
type SyncFeedHandler struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*websocket.Conn]*feedClient
}

// NewSyncFeedHandler creates a new sync feed handler
func NewSyncFeedHandler() *SyncFeedHandler {
	return &SyncFeedHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for internal communication
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]*feedClient),
	}
}

// SetupRoutes configures WebSocket routes
func (h *SyncFeedHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/sync", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and registers the client
func (h *SyncFeedHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Sync feed upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = &feedClient{conn: conn}
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("Sync feed client connected (%d total)", count)

	// Drain reads so close frames are processed; the feed is write-only
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// BroadcastCycle pushes a cycle result to all connected clients
func (h *SyncFeedHandler) BroadcastCycle(result syncengine.CycleResult) {
	msg := SyncFeedMessage{
		Type:   "cycle_finished",
		Cycle:  &result,
		SentAt: time.Now(),
	}

	h.mu.RLock()
	targets := make([]*feedClient, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.send(msg); err != nil {
			log.Printf("Sync feed write failed, dropping client: %v", err)
			h.removeClient(client.conn)
		}
	}
}

// ClientCount returns the number of connected feed clients
func (h *SyncFeedHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *SyncFeedHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}
