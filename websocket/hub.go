package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"

	"safety-service/models"
)

// Hub manages WebSocket connections and broadcasting
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages to all clients
	broadcast chan []byte

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Mutex for thread-safe operations
	mutex sync.RWMutex

	// Statistics
	connectedClients int
	alertsBroadcast  int
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mutex.Lock()
			h.clients[client] = true
			h.connectedClients = len(h.clients)
			total := h.connectedClients
			h.mutex.Unlock()
			log.Infof("Client connected. Total clients: %d", total)

		case client := <-h.Unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.connectedClients = len(h.clients)
			}
			total := h.connectedClients
			h.mutex.Unlock()
			log.Infof("Client disconnected. Total clients: %d", total)

		case message := <-h.broadcast:
			// Slow clients get dropped here, so this case mutates the
			// client set and needs the write lock.
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
		}
	}
}

// EmitAlert pushes one alert to every subscribed dashboard. It
// satisfies the dispatcher's sink interface so subscribers get events
// instead of polling.
func (h *Hub) EmitAlert(_ context.Context, alert *models.Alert) error {
	message := models.BroadcastMessage{
		Type:      "alert",
		Data:      alert,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Errorf("Failed to marshal broadcast message: %v", err)
		return err
	}

	h.mutex.Lock()
	h.alertsBroadcast++
	subscribers := h.connectedClients
	h.mutex.Unlock()

	h.broadcast <- data
	log.Infof("Broadcasted %s alert %s to %d clients", alert.Severity, alert.Id, subscribers)
	return nil
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() (int, int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients, h.alertsBroadcast
}
