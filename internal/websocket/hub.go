// Package websocket pushes standings updates to connected browsers. A client
// subscribes to a room; each subscription holds a refresh view open, so a
// room stops being pulled once its last watcher disconnects.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/puzzleboard/internal/domain"
)

// Message types
const (
	MessageTypeStandingsUpdate = "standings_update"
	MessageTypeSubscribe       = "subscribe"
	MessageTypeUnsubscribe     = "unsubscribe"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
	MessageTypeError           = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	RoomID    string      `json:"room_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// StandingsUpdate carries a room's recomputed standings to its watchers
type StandingsUpdate struct {
	RoomID      string                  `json:"room_id"`
	Entries     []domain.StandingsEntry `json:"entries"`
	Stale       bool                    `json:"stale"`
	RefreshedAt time.Time               `json:"refreshed_at"`
}

// ViewManager ties subscriptions to the refresh lifecycle
type ViewManager interface {
	OpenView(roomID string)
	CloseView(roomID string)
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by room id
	rooms map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Inbound messages to broadcast
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Mutex for thread-safe operations
	mu sync.RWMutex

	views ViewManager

	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	roomID string
}

// NewHub creates a new Hub. views may be nil in tests.
func NewHub(views ViewManager, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		views:       views,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			var released []string
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Drop every room subscription the client held
				for roomID, clients := range h.rooms {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						released = append(released, roomID)
						if len(clients) == 0 {
							delete(h.rooms, roomID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			for _, roomID := range released {
				h.closeView(roomID)
			}
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.rooms[req.roomID]; !ok {
				h.rooms[req.roomID] = make(map[*Client]bool)
			}
			already := h.rooms[req.roomID][req.client]
			h.rooms[req.roomID][req.client] = true
			h.mu.Unlock()
			if !already {
				h.openView(req.roomID)
			}
			h.logger.Debug("client subscribed", "client_id", req.client.id, "room_id", req.roomID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			var held bool
			if clients, ok := h.rooms[req.roomID]; ok {
				held = clients[req.client]
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.rooms, req.roomID)
				}
			}
			h.mu.Unlock()
			if held {
				h.closeView(req.roomID)
			}
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "room_id", req.roomID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) openView(roomID string) {
	if h.views != nil {
		h.views.OpenView(roomID)
	}
}

func (h *Hub) closeView(roomID string) {
	if h.views != nil {
		h.views.CloseView(roomID)
	}
}

// broadcastMessage sends a message to the room's subscribers, or to everyone
// when no room is set
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	if message.RoomID != "" {
		if clients, ok := h.rooms[message.RoomID]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client's buffer is full, skip
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
	} else {
		for client := range h.allClients {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// BroadcastStandingsUpdate pushes recomputed standings to a room's watchers
func (h *Hub) BroadcastStandingsUpdate(update StandingsUpdate) {
	message := &Message{
		Type:      MessageTypeStandingsUpdate,
		RoomID:    update.RoomID,
		Data:      update,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a room subscription
func (h *Hub) Subscribe(client *Client, roomID string) {
	h.subscribe <- &subscriptionRequest{client: client, roomID: roomID}
}

// Unsubscribe removes a client from a room subscription
func (h *Hub) Unsubscribe(client *Client, roomID string) {
	h.unsubscribe <- &subscriptionRequest{client: client, roomID: roomID}
}

// GetSubscriberCount returns the number of watchers a room has
func (h *Hub) GetSubscriberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.rooms[roomID]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
