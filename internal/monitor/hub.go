package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/holotrack/internal/cycle"
	"github.com/banshee-data/holotrack/internal/monitoring"
)

const (
	clientBuffer = 32
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans delta poses out to WebSocket viewers. A viewer that cannot keep
// up loses messages instead of slowing the control loop.
type Hub struct {
	session string

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	dropped atomic.Uint64
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*hubClient]struct{})}
}

// SetSession labels subsequent messages with a session id.
func (h *Hub) SetSession(id string) {
	h.mu.Lock()
	h.session = id
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams poses until the viewer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Tagf("monitor", "websocket upgrade: %v", err)
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register(c)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	monitoring.Tagf("monitor", "pose viewer connected (%d total)", n)
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.once.Do(func() { close(c.send) })
	if ok {
		monitoring.Tagf("monitor", "pose viewer disconnected (%d total)", n)
	}
}

// readPump discards inbound messages; it exists to notice the viewer
// going away and to process pongs.
func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues msg for every viewer without blocking.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// ObservePose implements cycle.PoseObserver.
func (h *Hub) ObservePose(s cycle.Sample) {
	h.mu.RLock()
	n, session := len(h.clients), h.session
	h.mu.RUnlock()
	if n == 0 {
		return
	}
	msg, err := json.Marshal(s.Message(session))
	if err != nil {
		return
	}
	h.Broadcast(msg)
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of messages not delivered to slow viewers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}
