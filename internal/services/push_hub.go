package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is a message pushed to connected UI clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Event types pushed by the daemon.
const (
	EventConnectionState = "connection_state"
	EventSyncFinished    = "sync_finished"
)

// Topics clients can subscribe to.
const (
	TopicConnection = "connection"
	TopicSync       = "sync"
)

// PushClient is one connected WebSocket consumer.
type PushClient struct {
	id     string
	topics map[string]bool
	conn   *websocket.Conn
	send   chan []byte
	hub    *PushHub
	once   sync.Once
}

// PushHub fans daemon events out to WebSocket clients so local UIs can
// react to connectivity and sync changes without polling.
type PushHub struct {
	log        *zap.Logger
	mu         sync.RWMutex
	clients    map[*PushClient]bool
	topics     map[string]map[*PushClient]bool
	register   chan *PushClient
	unregister chan *PushClient
	broadcast  chan *pushMsg
}

type pushMsg struct {
	topic   string
	message []byte
}

// NewPushHub creates an idle hub; call Run to start it.
func NewPushHub(log *zap.Logger) *PushHub {
	return &PushHub{
		log:        log,
		clients:    make(map[*PushClient]bool),
		topics:     make(map[string]map[*PushClient]bool),
		register:   make(chan *PushClient),
		unregister: make(chan *PushClient),
		broadcast:  make(chan *pushMsg, 256),
	}
}

// Run processes registrations and broadcasts until the process exits.
func (h *PushHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("push client connected", zap.String("client_id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, client)
			for topic := range client.topics {
				if subscribers, ok := h.topics[topic]; ok {
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.topics, topic)
					}
				}
			}
			close(client.send)
			h.mu.Unlock()
			h.log.Debug("push client disconnected", zap.String("client_id", client.id))

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := h.clients
			if msg.topic != "" {
				targets = h.topics[msg.topic]
			}
			for client := range targets {
				select {
				case client.send <- msg.message:
				default:
					// Slow consumer; drop the connection rather than
					// block the hub.
					go func(c *PushClient) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Subscribe adds the client to a topic.
func (h *PushHub) Subscribe(client *PushClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.topics[topic] = true
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*PushClient]bool)
	}
	h.topics[topic][client] = true
}

// Publish sends an event to a topic's subscribers, or to everyone when
// topic is empty.
func (h *PushHub) Publish(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to encode push event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &pushMsg{topic: topic, message: data}:
	default:
		h.log.Warn("push buffer full, event dropped", zap.String("type", event.Type))
	}
}

// NewClient wraps a WebSocket connection for this hub and registers it.
func (h *PushHub) NewClient(id string, conn *websocket.Conn) *PushClient {
	client := &PushClient{
		id:     id,
		topics: make(map[string]bool),
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    h,
	}
	h.register <- client
	return client
}

// Close unregisters the client and closes its connection.
func (c *PushClient) Close() {
	c.once.Do(func() {
		c.hub.unregister <- c
		c.conn.Close()
	})
}

// WritePump drains the send buffer onto the wire and keeps the
// connection alive with pings.
func (c *PushClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump consumes inbound frames, handling topic subscriptions.
func (c *PushClient) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var inbound struct {
			Type  string `json:"type"`
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(message, &inbound); err != nil {
			continue
		}
		if inbound.Type == "subscribe" && inbound.Topic != "" {
			c.hub.Subscribe(c, inbound.Topic)
		}
	}
}
