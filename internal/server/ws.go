package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/egomotion/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// LiveHandler broadcasts trajectory records to WebSocket clients as the
// pipeline produces them. The pipeline pushes records via Publish from its
// sink; slow clients are dropped rather than allowed to stall the feed.
type LiveHandler struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewLiveHandler creates a LiveHandler with no connected clients.
func NewLiveHandler() *LiveHandler {
	return &LiveHandler{
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

type liveRecord struct {
	FrameIndex  int         `json:"frame_index"`
	Missing     bool        `json:"missing"`
	Rotation    *[9]float64 `json:"rotation,omitempty"`
	Translation *[3]float64 `json:"translation,omitempty"`
	Inliers     int         `json:"inliers"`
	Confidence  float64     `json:"confidence"`
	Timestamp   int64       `json:"timestamp"`
}

// Publish sends one trajectory record to every connected client.
func (h *LiveHandler) Publish(rec pipeline.Record) {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 {
		return
	}

	out := liveRecord{
		FrameIndex: rec.FrameIndex,
		Missing:    rec.Missing,
		Inliers:    rec.Inliers,
		Confidence: rec.Confidence,
		Timestamp:  time.Now().UnixMilli(),
	}
	if rec.Pose != nil {
		rot := rec.Pose.Rotation()
		out.Rotation = &rot
		out.Translation = &[3]float64{rec.Pose.T.X, rec.Pose.T.Y, rec.Pose.T.Z}
	}

	msg, _ := json.Marshal(out)

	h.mu.Lock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
	h.mu.Unlock()
}
