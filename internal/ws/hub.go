// Package ws streams live pipeline progress to subscribed clients. Each
// task id is a room; clients subscribe to one task or to the global feed.
package ws

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// GlobalRoom receives every task's events alongside the task's own room.
const GlobalRoom = "global"

// Event is one progress message pushed to subscribers.
type Event struct {
	TaskID    string         `json:"task_id"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Hub maintains active subscriber connections keyed by task room.
type Hub struct {
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	events     chan Event
	shutdown   chan struct{}

	log *zap.Logger
	mu  sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		allowed := []string{"http://localhost:3000", "http://localhost:5173"}
		if env := os.Getenv("CORS_ALLOWED_ORIGINS"); env != "" {
			allowed = strings.Split(env, ",")
		}
		for _, a := range allowed {
			if strings.TrimSpace(a) == origin {
				return true
			}
		}

		// Empty origin is tolerated outside production for curl and test tools.
		return origin == "" && os.Getenv("ENVIRONMENT") != "production"
	},
}

// NewHub creates a progress hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan Event, 64),
		shutdown:   make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's main loop. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for _, room := range h.rooms {
				for client := range room {
					close(client.send)
				}
			}
			h.rooms = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			h.log.Info("websocket hub shutdown complete")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.events:
			h.fanOut(event)
		}
	}
}

// Shutdown stops the hub loop and disconnects all clients.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

// Publish queues a task event for fan-out. Never blocks the pipeline: a full
// event queue drops the message.
func (h *Hub) Publish(taskID string, payload map[string]any) {
	event := Event{TaskID: taskID, Payload: payload, Timestamp: time.Now()}
	select {
	case h.events <- event:
	default:
		h.log.Warn("event queue full, dropping progress event",
			zap.String("task_id", taskID))
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.room] == nil {
		h.rooms[client.room] = make(map[*Client]bool)
	}
	h.rooms[client.room][client] = true

	h.log.Debug("websocket client subscribed",
		zap.String("room", client.room), zap.Int("room_size", len(h.rooms[client.room])))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[client.room]
	if room == nil || !room[client] {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, client.room)
	}
	close(client.send)
}

// fanOut delivers an event to the task's room and the global room. Slow
// subscribers are dropped instead of blocking delivery.
func (h *Hub) fanOut(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to marshal progress event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, roomID := range []string{event.TaskID, GlobalRoom} {
		room := h.rooms[roomID]
		for client := range room {
			select {
			case client.send <- payload:
			default:
				delete(room, client)
				close(client.send)
			}
		}
		if room != nil && len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// SubscriberCount returns the number of connected clients across all rooms.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, room := range h.rooms {
		total += len(room)
	}
	return total
}

// HandleWebSocket upgrades the connection and subscribes it to a task room.
// A missing task_id query parameter subscribes to the global feed.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	room := c.Query("task_id")
	if room == "" {
		room = GlobalRoom
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		room: room,
		send: make(chan []byte, 256),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}
