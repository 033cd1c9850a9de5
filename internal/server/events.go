package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/logging"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 5 * time.Second

	// Maximum message size accepted from a peer
	maxMessageSize = 512
)

// Event kinds sent on /events
const (
	EventProgress = "progress"
	EventComplete = "complete"
)

// ProgressEvent is one message of the /events feed
type ProgressEvent struct {
	Type       string    `json:"type"`
	Remote     string    `json:"remote,omitempty"`
	Offset     int64     `json:"offset"`
	Size       int64     `json:"size"`
	Percentage int       `json:"percentage"`
	Time       time.Time `json:"time"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tool; any page may watch progress
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventHub fans progress events out to websocket subscribers
type eventHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	last  *ProgressEvent
}

func newEventHub() *eventHub {
	return &eventHub{conns: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request and registers the subscriber
func (h *eventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("Event subscriber upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	if h.last != nil {
		// Late subscribers start from the latest state
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(h.last); err != nil {
			delete(h.conns, conn)
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
	}
	h.mu.Unlock()

	logging.Debug("Event subscriber connected", zap.String("remote_addr", r.RemoteAddr))

	// Drain reads so control frames are processed and closes are noticed
	go func() {
		defer h.remove(conn)
		conn.SetReadLimit(maxMessageSize)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends ev to every subscriber, dropping those that fail
func (h *eventHub) Broadcast(ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &ev
	for conn := range h.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			delete(h.conns, conn)
			_ = conn.Close()
		}
	}
}

// Subscribers returns the number of connected subscribers
func (h *eventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *eventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// Close disconnects all subscribers
func (h *eventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		delete(h.conns, conn)
	}
}
