// Package websocket 向仪表盘推送入库、分类与同步事件。
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mailsync/backend/internal/auth/jwt"
	"mailsync/backend/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// MessageType WebSocket 消息类型
type MessageType string

const MessageTypeEvent MessageType = "event"

// Message WebSocket 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 一个仪表盘连接
type Client struct {
	ID        string
	ManagerID string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
}

// Options Hub 参数
type Options struct {
	AllowedOrigins []string
	RequireAuth    bool
	Tokens         *jwt.Manager // RequireAuth 为 true 时必填
}

// Hub 管理所有仪表盘连接，向每个连接广播事件
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	opts       Options
	upgrader   websocket.Upgrader
	metrics    *monitoring.Metrics
	log        *zap.Logger
	mu         sync.RWMutex
}

// NewHub 创建 WebSocket Hub
func NewHub(opts Options, log *zap.Logger) *Hub {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		opts:       opts,
		upgrader:   newUpgrader(opts.AllowedOrigins),
		log:        log,
	}
}

// SetMetrics 设置监控指标
func (h *Hub) SetMetrics(m *monitoring.Metrics) {
	h.metrics = m
}

// newUpgrader 创建带有 Origin 校验的升级器
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// Run 处理连接注册、注销与广播，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.UpdateWebSocketClients(count)
			h.log.Debug("client registered", zap.String("id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.UpdateWebSocketClients(count)
			h.log.Debug("client unregistered", zap.String("id", client.ID))

		case data := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- data:
				default:
					h.log.Warn("client channel blocked, skipping", zap.String("id", client.ID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish 广播一个事件，不阻塞调用方
//
// 广播队列已满时丢弃事件。
func (h *Hub) Publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		return
	}

	msg, err := json.Marshal(Message{
		Type:      MessageTypeEvent,
		Event:     eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("event", eventType), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, dropping event", zap.String("event", eventType))
	}
}

// ClientCount 返回当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

// authenticate 从 token 查询参数或 Authorization 头校验访问令牌
func (h *Hub) authenticate(c *gin.Context) (string, bool) {
	if !h.opts.RequireAuth {
		return "", true
	}

	token := c.Query("token")
	if token == "" {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = parts[1]
		}
	}
	if token == "" || h.opts.Tokens == nil {
		return "", false
	}

	claims, err := h.opts.Tokens.ValidateToken(token, jwt.KindAccess)
	if err != nil {
		return "", false
	}
	return claims.ManagerID, true
}

// Handler 升级 HTTP 连接为 WebSocket
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		managerID, ok := h.authenticate(c)
		if !ok {
			h.log.Warn("websocket authentication failed", zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
			)
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			ManagerID: managerID,
			conn:      conn,
			send:      make(chan []byte, sendBuffer),
			hub:       h,
		}

		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 丢弃客户端消息，连接断开或心跳超时后注销
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump 把队列中的消息写入连接，并定期发送 ping 帧
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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
