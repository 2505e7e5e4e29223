package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"relay/internal/app/message"
	"relay/internal/app/relay"
	"relay/internal/metrics"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 256 * 1024
	closeGrace     = time.Second
	eventAck       = "ack"
	reasonThrottle = "rate limited"
)

var errClientClosed = errors.New("client closed")

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   *int64          `json:"ack,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	Ack   *int64 `json:"ack,omitempty"`
}

// Client is one /ws connection. It implements relay.Session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		id:      generateClientID(),
		send:    make(chan []byte, hub.opts.SendQueue),
		limiter: hub.newLimiter(),
	}
}

func generateClientID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "ws-" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return id.String()
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Emit(event string, payload any) error {
	frame, err := json.Marshal(outboundFrame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		return errClientClosed
	}
	return nil
}

func (c *Client) reply(ack int64, payload relay.Ack) {
	frame, err := json.Marshal(outboundFrame{Event: eventAck, Data: payload, Ack: &ack})
	if err != nil {
		c.hub.logger.Errorw("Failed to encode ack", "client_id", c.id, "error", err)
		return
	}
	c.enqueue(frame)
}

// enqueue never blocks. A full queue means the client is too slow to keep up;
// it is dropped rather than allowed to stall everyone else.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		metrics.DroppedDeliveries.WithLabelValues(transportName).Inc()
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.DroppedDeliveries.WithLabelValues(transportName).Inc()
		c.hub.logger.Warnw("Client send queue full, disconnecting", "client_id", c.id)
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debugw("Unexpected websocket close", "client_id", c.id, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			c.hub.logger.Debugw("Dropping malformed frame", "client_id", c.id)
			continue
		}

		if !c.limiter.Allow() {
			if frame.Ack != nil {
				c.reply(*frame.Ack, relay.Ack{OK: false, Error: reasonThrottle})
			}
			continue
		}

		c.handle(ctx, frame)
	}
}

func (c *Client) handle(ctx context.Context, frame inboundFrame) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.logger.Errorw("Panic while handling event", "client_id", c.id, "event", frame.Event, "panic", r)
			if frame.Ack != nil {
				c.reply(*frame.Ack, relay.Ack{OK: false, Error: message.ReasonServerError})
			}
		}
	}()

	ack, ok := c.hub.dispatcher.Dispatch(ctx, c, frame.Event, frame.Data)
	if ok && frame.Ack != nil {
		c.reply(*frame.Ack, ack)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(closeGrace))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
