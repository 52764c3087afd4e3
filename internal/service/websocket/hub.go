package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"diginetra/internal/logger"

	"github.com/gorilla/websocket"
)

// Message types pushed to status clients.
const (
	TypeCamera    = "camera"
	TypeDetection = "detection"
	TypeAlert     = "alert"
)

const writeWait = 2 * time.Second

// Message is the JSON envelope sent to every client.
type Message struct {
	Type   string      `json:"type"`
	Camera string      `json:"camera,omitempty"`
	Time   time.Time   `json:"time"`
	Data   interface{} `json:"data"`
}

// HubService fans status messages out to connected websocket clients.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     *logger.Logger
	done       chan struct{}
}

// NewHubService creates a hub; buffer bounds the pending broadcast backlog.
func NewHubService(buffer int, logger *logger.Logger) *HubService {
	if buffer <= 0 {
		buffer = 64
	}
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, buffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run serves register/unregister/broadcast until ctx is done, then closes
// every client.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *HubService) send(message []byte) {
	var failed []*websocket.Conn

	h.mutex.RLock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	if len(failed) == 0 {
		return
	}
	h.mutex.Lock()
	for _, client := range failed {
		delete(h.clients, client)
		client.Close()
	}
	h.mutex.Unlock()
}

// Register adds a client. It returns false once the hub has stopped.
func (h *HubService) Register(client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes and closes a client.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish encodes and queues a message without blocking; it is dropped when
// the backlog is full.
func (h *HubService) Publish(msgType, camera string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Camera: camera, Time: time.Now(), Data: data})
	if err != nil {
		h.logger.Error("Error encoding %s message: %v", msgType, err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warning("Status backlog full, dropping %s message for %s", msgType, camera)
	}
}

// GetClientCount returns the number of connected clients.
func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
