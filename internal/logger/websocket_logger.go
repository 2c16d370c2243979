package logger

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// 消息类型
const (
	MessageWelcome = "welcome"
	MessageLog     = "log"
	MessageReport  = "report"
)

const (
	sendBufferSize = 64
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// Message 推送给实时订阅者的消息
type Message struct {
	Type      string                 `json:"type"`
	Level     string                 `json:"level,omitempty"`
	Module    string                 `json:"module,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Data      interface{}            `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub WebSocket 实时推送中心
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex

	// Upgrader 可在 Run 之前替换，例如限制来源
	Upgrader websocket.Upgrader
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewHub 创建推送中心；log 为 nil 时使用全局日志器
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.WithField("module", "websocket"),
		now: time.Now,
	}
}

// Run 运行分发循环，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
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
			h.log.WithField("clients", n).Debug("WebSocket客户端已连接")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", n).Debug("WebSocket客户端已断开")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// 慢客户端直接断开
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast 投递消息；队列已满时丢弃，不阻塞调用方
func (h *Hub) Broadcast(msg Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	select {
	case h.broadcast <- msg:
		return true
	default:
		return false
	}
}

// BroadcastReport 推送报告摘要
func (h *Hub) BroadcastReport(summary interface{}) bool {
	return h.Broadcast(Message{Type: MessageReport, Data: summary})
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket 处理 WebSocket 连接
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket升级失败")
		return
	}

	c := &client{conn: conn, send: make(chan Message, sendBufferSize)}
	c.send <- Message{
		Type:      MessageWelcome,
		Module:    "websocket",
		Message:   "已连接到帧时间分析实时推送",
		Timestamp: h.now(),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump 只处理控制帧，客户端断开时注销
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("WebSocket连接错误")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

// HubHook 将日志条目转发给实时订阅者的 logrus hook
type HubHook struct {
	hub    *Hub
	levels []logrus.Level
}

// NewHubHook 创建 hook；未指定级别时转发 Info 及以上
func NewHubHook(hub *Hub, levels ...logrus.Level) *HubHook {
	if len(levels) == 0 {
		levels = []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
	}
	return &HubHook{hub: hub, levels: levels}
}

// Levels 实现 logrus.Hook
func (hk *HubHook) Levels() []logrus.Level {
	return hk.levels
}

// Fire 实现 logrus.Hook
func (hk *HubHook) Fire(entry *logrus.Entry) error {
	msg := Message{
		Type:      MessageLog,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Timestamp: entry.Time,
	}
	for k, v := range entry.Data {
		if k == "module" {
			msg.Module = fmt.Sprint(v)
			continue
		}
		if msg.Fields == nil {
			msg.Fields = make(map[string]interface{}, len(entry.Data))
		}
		// error 类型无法直接序列化为 JSON
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		msg.Fields[k] = v
	}
	hk.hub.Broadcast(msg)
	return nil
}
