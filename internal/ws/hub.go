package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/metrics"
	"github.com/lucra/lucra-backend/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1024
	idleTimeout    = 2 * pongWait
)

// relayPatterns covers every channel the engine and oracle publish on.
var relayPatterns = []string{"lcr:*"}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	cache      *store.Cache
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu         sync.RWMutex
	topics     map[string]bool
	loan       string
	lastActive time.Time
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// SubscriptionRequest is what clients send to change their topics. Topics
// accept the names understood by TopicChannels.
type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
	Loan   string   `json:"loan,omitempty"`
}

func NewHub(cache *store.Cache, logger *zap.SugaredLogger, m *metrics.Metrics, allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		cache:      cache,
		logger:     logger,
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Same-origin requests carry no Origin header
				return origin == "" || allowed[origin]
			},
		},
	}
}

func (h *Hub) Run(ctx context.Context) {
	go h.relay(ctx)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.IncrementConnections(ctx)
			h.logger.Debugw("Client registered", "remote", client.conn.RemoteAddr().String())

		case client := <-h.unregister:
			if h.drop(client) {
				h.logger.Debugw("Client unregistered", "loan", client.loanFilter())
			}
		}
	}
}

// drop removes client and closes its send queue once.
func (h *Hub) drop(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropLocked(client)
}

func (h *Hub) dropLocked(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.DecrementConnections(context.Background())
	return true
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) relay(ctx context.Context) {
	updates, closeFeed := feed(ctx, h.cache, relayPatterns)
	defer closeFeed()
	if updates == nil {
		h.logger.Warnw("No PubSub available; skipping WebSocket subscriptions")
		return
	}
	h.logger.Debugw("WebSocket hub relaying", "patterns", relayPatterns, "inMemory", h.cache.IsInMemoryMode())

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(u.Channel, json.RawMessage(u.Payload))
		}
	}
}

// Broadcast sends payload to every client subscribed to topic.
func (h *Hub) Broadcast(topic string, payload json.RawMessage) {
	messageBytes, err := json.Marshal(Message{
		Type:      "update",
		Topic:     topic,
		Data:      payload,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "topic", topic, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.isSubscribed(topic) {
			continue
		}
		select {
		case client.send <- messageBytes:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		if h.drop(client) {
			h.logger.Debugw("Dropped slow client", "topic", topic)
		}
	}
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients(time.Now().Add(-idleTimeout))
		}
	}
}

func (h *Hub) cleanupInactiveClients(cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.idleSince(cutoff) {
			h.dropLocked(client)
			h.logger.Debugw("Cleaned up inactive client", "loan", client.loanFilter())
		}
	}
}

// HandleWebSocket upgrades the request and serves one client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		topics:     make(map[string]bool),
		lastActive: time.Now(),
	}
	// Query parameters pre-subscribe, like a first subscribe message.
	q := r.URL.Query()
	if topics := q["topic"]; len(topics) > 0 || q.Get("loan") != "" {
		client.subscribe(topics, q.Get("loan"))
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleMessage(message)
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

func (c *Client) handleMessage(message []byte) {
	var sub SubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	switch sub.Type {
	case "subscribe":
		channels := c.subscribe(sub.Topics, sub.Loan)
		c.hub.logger.Debugw("Client subscribed", "channels", channels)
	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range TopicChannels(sub.Topics, sub.Loan) {
			delete(c.topics, ch)
		}
		c.mu.Unlock()
	}
}

func (c *Client) subscribe(topics []string, loan string) []string {
	channels := TopicChannels(topics, loan)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.topics[ch] = true
	}
	if loan != "" {
		c.loan = loan
	}
	return channels
}

// isSubscribed matches topic against the client's channels and patterns.
func (c *Client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.topics[topic] {
		return true
	}
	for pattern := range c.topics {
		if store.MatchPattern(pattern, topic) {
			return true
		}
	}
	return false
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince(cutoff time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive.Before(cutoff)
}

func (c *Client) loanFilter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loan
}
