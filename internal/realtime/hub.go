package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
)

const (
	// EventNotificationChange is the frame type carrying a domain.ChangeEvent.
	EventNotificationChange = "notification_change"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

// Event is the frame written to websocket clients.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client is one websocket connection of a user. A user may hold several (one per device/tab).
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans change events out to the connections of the affected user only.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Map userID to list of active clients (for multi-device support)
	userClients map[uuid.UUID]map[*Client]bool
	mu          sync.RWMutex
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		userClients: make(map[uuid.UUID]map[*Client]bool),
		logger:      logger,
	}
}

// Run owns registration until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for userID, clients := range h.userClients {
				for c := range clients {
					close(c.send)
				}
				delete(h.userClients, userID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.userClients[client.UserID]; !ok {
				h.userClients[client.UserID] = make(map[*Client]bool)
			}
			h.userClients[client.UserID][client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("userID", client.UserID.String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if userMap, ok := h.userClients[client.UserID]; ok && userMap[client] {
				delete(userMap, client)
				if len(userMap) == 0 {
					delete(h.userClients, client.UserID)
				}
				close(client.send)
				h.logger.Debug("Client unregistered", zap.String("userID", client.UserID.String()))
			}
			h.mu.Unlock()
		}
	}
}

// Attach registers conn for userID and starts its pumps. It returns once the client is registered.
func (h *Hub) Attach(conn *websocket.Conn, userID uuid.UUID) *Client {
	c := &Client{
		ID:     uuid.New(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return c
	}
	go c.writePump()
	go c.readPump(h)
	return c
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// SendToUser sends a message to a specific user's connected clients. Clients whose buffer is
// full are disconnected; they resync on reconnect.
func (h *Hub) SendToUser(userID uuid.UUID, message interface{}) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.userClients[userID] {
		select {
		case client.send <- jsonMsg:
		default:
			h.logger.Warn("dropping slow websocket client", zap.String("userID", userID.String()))
			go h.remove(client)
		}
	}
}

// HandleChange forwards a change event to its user's connections.
func (h *Hub) HandleChange(ev domain.ChangeEvent) {
	h.SendToUser(ev.UserID, Event{Type: EventNotificationChange, Payload: ev})
}

// ConnectedUsers reports how many users hold at least one connection.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients)
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Server to client only; inbound frames are discarded.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.String("userID", c.UserID.String()), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
