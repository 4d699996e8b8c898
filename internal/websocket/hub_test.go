package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsync/backend/internal/auth/jwt"
)

func startHub(t *testing.T, opts Options) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(opts, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.Handler())
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func TestHub_Publish(t *testing.T) {
	hub, srv := startHub(t, Options{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish("email_ingested", map[string]string{"id": "rec-1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, "email_ingested", msg.Event)
	assert.JSONEq(t, `{"id":"rec-1"}`, string(msg.Data))
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, srv := startHub(t, Options{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RequireAuth(t *testing.T) {
	tokens := jwt.NewManager(strings.Repeat("w", 32), "test", time.Minute, time.Hour)
	hub, srv := startHub(t, Options{RequireAuth: true, Tokens: tokens})

	t.Run("缺少令牌被拒绝", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("有效令牌可以连接", func(t *testing.T) {
		pair, err := tokens.GenerateTokenPair("manager-1", "gerente@example.com")
		require.NoError(t, err)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+pair.AccessToken), nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	})
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(Options{}, zap.NewNop())
	// 没有运行 Run 时广播队列写满后丢弃，不阻塞
	for i := 0; i < 1000; i++ {
		hub.Publish("sync_completed", i)
	}
}
