package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bikaxh01/toothsi-bot/internal/model"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
)

// Client represents a WebSocket subscriber of one batch
type Client struct {
	BatchID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by batch ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Broadcast messages to batch subscribers
	broadcast chan *BroadcastMessage

	// Closed once Run returns
	done chan struct{}

	mu  sync.RWMutex
	log logrus.FieldLogger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	BatchID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BatchID] == nil {
				h.clients[client.BatchID] = make(map[*Client]bool)
			}
			h.clients[client.BatchID][client] = true
			h.mu.Unlock()
			h.log.WithField("batch_id", client.BatchID).Debug("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.log.WithField("batch_id", client.BatchID).Debug("Client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.BatchID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow subscriber; drop it rather than stall the hub.
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.BatchID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.BatchID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns the number of clients watching batchID.
func (h *Hub) Subscribers(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[batchID])
}

// BroadcastView sends a view-state snapshot to the batch's subscribers
func (h *Hub) BroadcastView(batchID string, view interface{}) {
	if batchID == "" {
		return
	}
	h.send(batchID, model.WSViewMessage{
		Type:    model.WSMessageTypeView,
		BatchID: batchID,
		View:    view,
	})
}

// BroadcastNotice sends a user-visible notice to the batch's subscribers
func (h *Hub) BroadcastNotice(notice model.WSNoticeMessage) {
	if notice.BatchID == "" {
		return
	}
	notice.Type = model.WSMessageTypeNotice
	h.send(notice.BatchID, notice)
}

// send never blocks the caller; a full queue drops the message.
func (h *Hub) send(batchID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Warn("Failed to marshal websocket message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{BatchID: batchID, Message: data}:
	default:
		h.log.WithField("batch_id", batchID).Warn("Websocket broadcast queue full, message dropped")
	}
}

// reply queues a message for one client if it is still registered.
func (h *Hub) reply(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client.BatchID][client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// HandleConnection serves a WebSocket connection until it closes
func (h *Hub) HandleConnection(c *websocket.Conn, batchID string, initial interface{}) {
	client := &Client{
		BatchID: batchID,
		Conn:    c,
		Send:    make(chan []byte, sendBuffer),
	}

	h.Register(client)
	defer h.Unregister(client)

	if initial != nil {
		if data, err := json.Marshal(model.WSViewMessage{Type: model.WSMessageTypeView, BatchID: batchID, View: initial}); err == nil {
			h.reply(client, data)
		}
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).WithField("batch_id", batchID).Warn("WebSocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.reply(client, data)
		}
	}
}
