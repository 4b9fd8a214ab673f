package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pdm-project/pdm/pkg/logging"
	"github.com/pdm-project/pdm/pkg/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Identity is established by the bearer token, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans vault events out to connected websocket clients. It implements
// vault.Notifier; Publish never blocks the publishing operation.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	logger     *logging.Logger
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]*wsClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logging.WithFields(map[string]any{"component": "ws_hub"}),
	}
	go h.run()
	return h
}

// Publish broadcasts one vault event to every connected client.
func (h *Hub) Publish(e model.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.ErrorErr("marshal event", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("event dropped, broadcast buffer full",
			map[string]any{"type": string(e.Type)})
	}
}

// Close stops the dispatch loop and disconnects every client.
func (h *Hub) Close() {
	close(h.done)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Debug("client connected", map[string]any{"client_id": client.id})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", map[string]any{"client_id": client.id})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the hub.
					delete(h.clients, id)
					close(client.send)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorErr("websocket upgrade", err)
		return
	}
	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- client:
	case <-h.done:
		// Hub already shut down; refuse the late connection.
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump discards client messages; the stream is one-way. Reading is still
// required to process pongs and detect disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
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
