package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/metrics"
	"github.com/leafsii/outcome-amm/internal/store"
)

type Hub struct {
	clients    map[*Client]bool
	closed     bool
	unregister chan *Client
	cache      *store.Cache
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	ready      chan struct{}
	done       chan struct{}
}

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	mu         sync.Mutex
	topics     map[string]bool
	lastActive time.Time
}

// Message is the envelope written to clients. Topic is the channel the
// event belongs to: markets.ChannelMarkets or markets.MarketChannel(id).
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

func NewHub(cache *store.Cache, logger *zap.SugaredLogger, metrics *metrics.Metrics, allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		cache:      cache,
		logger:     logger,
		metrics:    metrics,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// Ready is closed once the hub is subscribed to market events.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	sub := h.cache.Subscribe(ctx, markets.ChannelMarkets)
	defer sub.Close()
	close(h.ready)

	go h.startClientCleanup(ctx)

	events := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.closeAll()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case msg, ok := <-events:
			if !ok {
				h.logger.Warnw("Market event subscription closed")
				h.closeAll()
				return
			}
			h.dispatch(msg)
		}
	}
}

// drop removes a client; callers hold h.mu.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	if h.metrics != nil {
		h.metrics.DecrementConnections(context.Background())
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		h.drop(client)
	}
}

func (h *Hub) add(ctx context.Context, client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = true
	if h.metrics != nil {
		h.metrics.IncrementConnections(ctx)
	}
	h.logger.Debugw("Client registered", "remote", client.conn.RemoteAddr().String())
	return true
}

func (h *Hub) dispatch(msg *store.Message) {
	var event markets.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		h.logger.Warnw("Dropping malformed market event", "channel", msg.Channel, "error", err)
		return
	}

	out, err := json.Marshal(Message{
		Type:      event.Type,
		Topic:     markets.MarketChannel(event.MarketID),
		Data:      json.RawMessage(msg.Payload),
		Timestamp: event.At.Unix(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
		return
	}
	h.broadcast(out, markets.MarketChannel(event.MarketID))
}

func (h *Hub) broadcast(message []byte, marketTopic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.isSubscribed(marketTopic) {
			continue
		}
		select {
		case client.send <- message:
		default:
			// slow consumer
			h.drop(client)
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
			h.cleanupInactiveClients(time.Now().Add(-90 * time.Second))
		}
	}
}

func (h *Hub) cleanupInactiveClients(cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.idleSince().Before(cutoff) {
			h.drop(client)
			h.logger.Debugw("Cleaned up inactive client")
		}
	}
}

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

	if !h.add(r.Context(), client) {
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

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
			return
		}
		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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

func (c *Client) handleMessage(message []byte) {
	var req SubscriptionRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.hub.logger.Debugw("Invalid subscription message", "error", err)
		return
	}

	c.mu.Lock()
	switch req.Type {
	case "subscribe":
		for _, topic := range req.Topics {
			c.topics[topic] = true
		}
	case "unsubscribe":
		for _, topic := range req.Topics {
			delete(c.topics, topic)
		}
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ack, _ := json.Marshal(Message{Type: req.Type + "d", Timestamp: time.Now().Unix()})
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c] {
		select {
		case c.send <- ack:
		default:
		}
	}
}

// isSubscribed matches the market's own topic or the all-markets topic.
func (c *Client) isSubscribed(marketTopic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[markets.ChannelMarkets] || c.topics[marketTopic]
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}
