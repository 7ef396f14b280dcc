package chat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NebulaChat/tools/errs"
)

type fakeAuth struct {
	tokens map[string]int64
}

func (f *fakeAuth) Authenticate(_ context.Context, credential string) (int64, error) {
	if uid, ok := f.tokens[credential]; ok {
		return uid, nil
	}
	return 0, errs.ErrTokenExpired
}

type gatewayFixture struct {
	srv   *httptest.Server
	store *fakeStore
	reg   *Registry
}

func newGatewayFixture(t *testing.T, oracle FriendshipOracle) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newFakeStore()
	reg := NewRegistry()
	router := NewRouter(reg, store, oracle)
	auth := &fakeAuth{tokens: map[string]int64{"tok-alice": 1, "tok-bob": 2}}
	gw := NewGateway(reg, router, auth, nil, GatewayConf{
		SendBuffer:   16,
		PongWait:     5 * time.Second,
		PingInterval: time.Second,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/chat", gw.HandleWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &gatewayFixture{srv: srv, store: store, reg: reg}
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/chat?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func waitRegistered(t *testing.T, reg *Registry, uid int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Lookup(uid); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %d never registered", uid)
}

func TestWSRejectsBadToken(t *testing.T) {
	f := newGatewayFixture(t, allowPair(1, 2))

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/chat?token=bogus"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err) // 升级成功，随后被拒

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["kind"])

	// 拒绝的连接绝不进注册表
	_, ok := f.reg.Lookup(0)
	assert.False(t, ok)
	assert.Equal(t, 0, f.reg.Len())
	_ = conn.Close()
}

func TestWSEndToEndDelivery(t *testing.T) {
	f := newGatewayFixture(t, allowPair(1, 2))

	bob := f.dial(t, "tok-bob")
	waitRegistered(t, f.reg, 2)
	alice := f.dial(t, "tok-alice")
	waitRegistered(t, f.reg, 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"to":2,"content":"hi bob","messageType":0}`)))

	// bob 收到转发帧
	got := readFrame(t, bob)
	assert.Equal(t, "message", got["kind"])
	assert.Equal(t, float64(1), got["from"])
	assert.Equal(t, float64(2), got["to"])
	assert.Equal(t, "hi bob", got["content"])

	// alice 收到 ack
	ack := readFrame(t, alice)
	assert.Equal(t, "ack", ack["kind"])
	assert.Equal(t, true, ack["persisted"])
	assert.Equal(t, true, ack["delivered"])

	require.Equal(t, 1, f.store.count())
}

func TestWSOfflineReceiverAck(t *testing.T) {
	f := newGatewayFixture(t, allowPair(1, 2))

	alice := f.dial(t, "tok-alice")
	waitRegistered(t, f.reg, 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"to":2,"content":"are you there","messageType":0}`)))

	ack := readFrame(t, alice)
	assert.Equal(t, "ack", ack["kind"])
	assert.Equal(t, true, ack["persisted"])
	assert.Equal(t, false, ack["delivered"])
}

func TestWSNotFriendsGetsErrorFrame(t *testing.T) {
	f := newGatewayFixture(t, denyAll())

	alice := f.dial(t, "tok-alice")
	waitRegistered(t, f.reg, 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"to":2,"content":"hello stranger","messageType":0}`)))

	frame := readFrame(t, alice)
	assert.Equal(t, "error", frame["kind"])
	assert.Equal(t, "not mutual friends", frame["reason"])
	assert.Equal(t, 0, f.store.count())
}

func TestWSMalformedFrameKeepsConnectionAlive(t *testing.T) {
	f := newGatewayFixture(t, allowPair(1, 2))

	alice := f.dial(t, "tok-alice")
	waitRegistered(t, f.reg, 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{garbage`)))
	frame := readFrame(t, alice)
	assert.Equal(t, "error", frame["kind"])

	// 连接还活着，正常消息照样走
	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"to":2,"content":"still here","messageType":0}`)))
	ack := readFrame(t, alice)
	assert.Equal(t, "ack", ack["kind"])
}

func TestWSReconnectReplacesSession(t *testing.T) {
	f := newGatewayFixture(t, allowPair(1, 2))

	first := f.dial(t, "tok-bob")
	waitRegistered(t, f.reg, 2)
	firstCh, _ := f.reg.Lookup(2)

	second := f.dial(t, "tok-bob")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch, ok := f.reg.Lookup(2); ok && ch != firstCh {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	ch, ok := f.reg.Lookup(2)
	require.True(t, ok)
	require.NotEqual(t, firstCh, ch)

	// 新会话收消息
	alice := f.dial(t, "tok-alice")
	waitRegistered(t, f.reg, 1)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"to":2,"content":"ping","messageType":0}`)))

	got := readFrame(t, second)
	assert.Equal(t, "ping", got["content"])

	// 旧连接已被服务端关闭
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
}
