package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"FrameTimeAnalyzer/internal/logger"
)

// ClientState 客户端连接状态
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MessageHandler 实时推送消息处理器
type MessageHandler func(msg logger.Message)

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ClientState)

// ClientConfig 客户端配置
type ClientConfig struct {
	URL               string
	HandshakeTimeout  time.Duration
	ReconnectInterval time.Duration
	// MaxReconnectTries 单次重连的最大尝试次数，0 表示不限
	MaxReconnectTries uint64
	Header            http.Header
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(url string) *ClientConfig {
	return &ClientConfig{
		URL:               url,
		HandshakeTimeout:  10 * time.Second,
		ReconnectInterval: 500 * time.Millisecond,
		MaxReconnectTries: 10,
	}
}

// Client 实时推送订阅客户端，断线后按指数退避自动重连
type Client struct {
	config *ClientConfig
	dialer *websocket.Dialer
	state  atomic.Int32
	log    logrus.FieldLogger

	mu            sync.RWMutex
	onMessage     MessageHandler
	onStateChange StateChangeHandler

	received   atomic.Int64
	reconnects atomic.Int32
}

// New 创建客户端
func New(config *ClientConfig, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		log: log.WithField("module", "wsclient"),
	}
}

// SetMessageHandler 设置消息处理器
func (c *Client) SetMessageHandler(handler MessageHandler) {
	c.mu.Lock()
	c.onMessage = handler
	c.mu.Unlock()
}

// SetStateChangeHandler 设置状态变化处理器
func (c *Client) SetStateChangeHandler(handler StateChangeHandler) {
	c.mu.Lock()
	c.onStateChange = handler
	c.mu.Unlock()
}

// Run 连接并持续接收消息，直到 ctx 结束或重连次数耗尽
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateClosed)

	c.setState(StateConnecting)
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect %s: %w", c.config.URL, err)
		}
		c.setState(StateConnected)

		err = c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.WithError(err).Warn("连接断开，准备重连")
		c.reconnects.Add(1)
		c.setState(StateReconnecting)
	}
}

// connect 按指数退避拨号
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.config.ReconnectInterval
	backOff.MaxElapsedTime = 0

	var b backoff.BackOff = backOff
	if c.config.MaxReconnectTries > 0 {
		b = backoff.WithMaxRetries(b, c.config.MaxReconnectTries)
	}

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		cn, resp, err := c.dialer.DialContext(ctx, c.config.URL, c.config.Header)
		if err != nil {
			// 4xx 不会因为重试而恢复
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("handshake rejected: %s", resp.Status))
			}
			return err
		}
		conn = cn
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("retry_in", wait).Debug("连接失败，稍后重试")
	})
	return conn, err
}

// readLoop 读取消息直到出错；ctx 结束时关闭连接使读取返回
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
			conn.Close()
		}
	}()

	for {
		var msg logger.Message
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return fmt.Errorf("server closed connection")
			}
			return err
		}
		c.received.Add(1)

		c.mu.RLock()
		handler := c.onMessage
		c.mu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// State 当前状态
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(newState ClientState) {
	old := ClientState(c.state.Swap(int32(newState)))
	if old == newState {
		return
	}
	c.mu.RLock()
	handler := c.onStateChange
	c.mu.RUnlock()
	if handler != nil {
		handler(old, newState)
	}
}

// Reconnects 重连次数
func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

// Received 已接收的消息数
func (c *Client) Received() int64 {
	return c.received.Load()
}
