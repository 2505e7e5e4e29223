package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relay/internal/app/message"
	"relay/internal/app/relay"
	"relay/internal/utils"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   *int64          `json:"ack"`
}

func startTestServer(t *testing.T, opts Options) (string, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	repo, err := message.NewPebbleRepository("messages", &pebble.Options{FS: vfs.NewMem()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	bus := utils.NewEventBus()
	history := message.NewHistory(repo, nil, 500)
	coordinator := relay.NewCoordinator(bus, history, 0, logger)
	svc := message.NewService(repo, history, message.NewRetention(repo, 500, logger), coordinator, logger, message.Options{})
	hub := NewHub(bus, relay.NewDispatcher(svc, coordinator, logger), opts, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	engine := gin.New()
	RegisterRoutes(engine, hub)
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any, ack int64) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data, "ack": ack}))
}

func next(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f testFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// nextEvent skips frames until one with the given event name arrives.
func nextEvent(t *testing.T, conn *websocket.Conn, event string) testFrame {
	t.Helper()
	for {
		f := next(t, conn)
		if f.Event == event {
			return f
		}
	}
}

func decodeAck(t *testing.T, f testFrame) relay.Ack {
	t.Helper()
	var ack relay.Ack
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	return ack
}

func TestWebSocketBroadcastAndAck(t *testing.T) {
	url, _ := startTestServer(t, Options{})
	alice := dial(t, url)
	bob := dial(t, url)

	// requestInit doubles as a barrier: once answered, both clients are registered.
	send(t, alice, relay.EventRequestInit, nil, 0)
	assert.JSONEq(t, `[]`, string(nextEvent(t, alice, relay.EventInitMessages).Data))
	send(t, bob, relay.EventRequestInit, nil, 0)
	nextEvent(t, bob, relay.EventInitMessages)

	send(t, alice, relay.EventSendMessage, map[string]any{"id": "m1", "userId": "u1", "name": "Ann", "text": "hi"}, 1)

	ackFrame := nextEvent(t, alice, "ack")
	require.NotNil(t, ackFrame.Ack)
	assert.Equal(t, int64(1), *ackFrame.Ack)
	assert.Equal(t, relay.Ack{OK: true}, decodeAck(t, ackFrame))

	created := nextEvent(t, bob, relay.EventMessageCreated)
	var msg message.Message
	require.NoError(t, json.Unmarshal(created.Data, &msg))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Body)

	send(t, bob, relay.EventEditMessage, map[string]any{"id": "m1", "userId": "u2", "newText": "x"}, 2)
	ack := decodeAck(t, nextEvent(t, bob, "ack"))
	assert.False(t, ack.OK)
	assert.Equal(t, message.ReasonNotAllowed, ack.Error)

	send(t, alice, relay.EventEditMessage, map[string]any{"id": "m1", "userId": "u1", "newText": "hello"}, 3)
	edited := nextEvent(t, bob, relay.EventMessageEdited)
	require.NoError(t, json.Unmarshal(edited.Data, &msg))
	assert.Equal(t, "hello", msg.Body)
	assert.True(t, msg.Edited)

	send(t, bob, relay.EventRequestInit, nil, 0)
	var history []message.Message
	require.NoError(t, json.Unmarshal(nextEvent(t, bob, relay.EventInitMessages).Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Body)
}

func TestWebSocketRateLimit(t *testing.T) {
	url, _ := startTestServer(t, Options{RateEvents: 1, RateBurst: 1})
	conn := dial(t, url)

	send(t, conn, relay.EventDeleteMessage, map[string]any{"id": "nope", "userId": "u1"}, 1)
	send(t, conn, relay.EventDeleteMessage, map[string]any{"id": "nope", "userId": "u1"}, 2)

	first := decodeAck(t, nextEvent(t, conn, "ack"))
	second := decodeAck(t, nextEvent(t, conn, "ack"))
	assert.Equal(t, message.ReasonNotAllowed, first.Error)
	assert.Equal(t, reasonThrottle, second.Error)
}

func TestWebSocketIgnoresMalformedFrames(t *testing.T) {
	url, _ := startTestServer(t, Options{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, relay.EventSendMessage, "oops", 7)

	f := nextEvent(t, conn, "ack")
	assert.Equal(t, int64(7), *f.Ack)
	assert.Equal(t, message.ReasonInvalidPayload, decodeAck(t, f).Error)
}

func TestClientEnqueueDropsWhenFull(t *testing.T) {
	hub := NewHub(utils.NewEventBus(), nil, Options{SendQueue: 1}, zap.NewNop())
	c := &Client{hub: hub, id: "slow", send: make(chan []byte, 1)}

	assert.True(t, c.enqueue([]byte("a")))
	assert.False(t, c.enqueue([]byte("b")))
	assert.ErrorIs(t, c.Emit("x", nil), errClientClosed)
}
