package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"oms-roundtrip-go/internal/engine"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// allChannels 新连接默认订阅的全部事件类型
var allChannels = []string{engine.EventOrder, engine.EventFill, engine.EventReject}

// SubscribeRequest 是客户端发来的订阅变更。
type SubscribeRequest struct {
	Op       string   `json:"op"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

type envelope struct {
	channel string
	payload []byte
}

// Hub 维护 websocket 连接并广播引擎事件。Publish 从不阻塞调用方。
type Hub struct {
	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
	log        *zap.Logger

	mu sync.RWMutex
}

// NewHub 创建 hub，需另起 goroutine 调用 Run。
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        log.Named("ws"),
	}
}

// Run 运行到 ctx 取消，退出时关闭所有连接的发送队列。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client connected", zap.String("peer", c.id), zap.Int("total", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Info("client disconnected", zap.String("peer", c.id), zap.Int("total", len(h.clients)))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// 发送队列已满，断开慢连接
					delete(h.clients, c)
					close(c.send)
					h.log.Warn("slow client dropped", zap.String("peer", c.id))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish 实现 engine.Publisher。hub 积压时丢弃事件。
func (h *Hub) Publish(ev engine.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("marshal event failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- envelope{channel: ev.Type, payload: payload}:
	default:
		h.log.Warn("event dropped, hub backlog full", zap.String("type", ev.Type))
	}
}

// ClientCount 返回当前连接数。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *client) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *client) apply(req SubscribeRequest) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range req.Channels {
		switch req.Op {
		case "subscribe":
			c.subscriptions[ch] = true
		case "unsubscribe":
			delete(c.subscriptions, ch)
		}
	}
}

// readPump 只处理订阅变更与 pong，连接出错时注销。
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("read error", zap.String("peer", c.id), zap.Error(err))
			}
			return
		}
		var req SubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debug("invalid message", zap.String("peer", c.id), zap.Error(err))
			continue
		}
		if req.Op != "subscribe" && req.Op != "unsubscribe" {
			c.hub.log.Debug("unknown op", zap.String("op", req.Op))
			continue
		}
		c.apply(req)
	}
}

// writePump 每条事件单独成帧，并定期发送 ping。
func (c *client) writePump() {
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

func (h *Hub) serveWS(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Debug("upgrade error", zap.Error(err))
			return
		}
		c := &client{
			hub:           h,
			conn:          conn,
			send:          make(chan []byte, sendBuffer),
			id:            conn.RemoteAddr().String(),
			subscriptions: make(map[string]bool, len(allChannels)),
		}
		for _, ch := range allChannels {
			c.subscriptions[ch] = true
		}
		select {
		case h.register <- c:
		case <-h.done:
			conn.Close()
			return
		}
		go c.writePump()
		go c.readPump()
	}
}
