package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FrameTimeAnalyzer/internal/logger"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestClient_Reconnect 服务端断开后自动重连
func TestClient_Reconnect(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		_ = conn.WriteJSON(logger.Message{Type: logger.MessageReport, Data: float64(n), Timestamp: time.Now()})
		if n == 1 {
			// 第一个连接直接断开
			conn.Close()
			return
		}
		// 之后的连接保持到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	cfg := DefaultClientConfig(wsURL(srv))
	cfg.ReconnectInterval = 10 * time.Millisecond
	c := New(cfg, log)

	var (
		mu     sync.Mutex
		got    []float64
		states []ClientState
	)
	c.SetMessageHandler(func(msg logger.Message) {
		mu.Lock()
		got = append(got, msg.Data.(float64))
		mu.Unlock()
	})
	c.SetStateChangeHandler(func(_, s ClientState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.Reconnects())
	assert.Equal(t, int64(2), c.Received())
	assert.Equal(t, StateConnected, c.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.Equal(t, StateClosed, c.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1, 2}, got)
	assert.Equal(t, []ClientState{StateConnecting, StateConnected, StateReconnecting, StateConnected, StateClosed}, states)
}

// TestClient_Rejected 握手被拒绝时不重试
func TestClient_Rejected(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	cfg := DefaultClientConfig(wsURL(srv))
	cfg.ReconnectInterval = time.Millisecond
	err := New(cfg, log).Run(context.Background())
	assert.ErrorContains(t, err, "403")
	assert.Equal(t, int32(1), hits.Load())
}

// TestClient_Unreachable 重试耗尽后返回错误
func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	log, _ := test.NewNullLogger()
	cfg := DefaultClientConfig(url)
	cfg.ReconnectInterval = time.Millisecond
	cfg.MaxReconnectTries = 2
	assert.Error(t, New(cfg, log).Run(context.Background()))
}

// TestClientState_String 状态名
func TestClientState_String(t *testing.T) {
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "UNKNOWN", ClientState(42).String())
}
