package socketio

import (
	"context"
	"encoding/json"
	"net/http"

	"relay/internal/app/message"
	"relay/internal/app/relay"
	"relay/internal/metrics"
	"relay/internal/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"go.uber.org/zap"
)

const (
	namespace     = "/"
	room          = "relay"
	transportName = "socketio"
)

// Gateway serves the socket.io protocol that the browser client speaks. Every
// connection joins a single room that receives all broadcasts.
type Gateway struct {
	server     *socketio.Server
	dispatcher *relay.Dispatcher
	logger     *zap.SugaredLogger
}

func NewGateway(bus *utils.EventBus, dispatcher *relay.Dispatcher, logger *zap.Logger) *Gateway {
	allowOrigin := func(r *http.Request) bool { return true }
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&polling.Transport{CheckOrigin: allowOrigin},
			&websocket.Transport{CheckOrigin: allowOrigin},
		},
	})

	g := &Gateway{
		server:     server,
		dispatcher: dispatcher,
		logger:     logger.Sugar(),
	}

	server.OnConnect(namespace, g.onConnect)
	server.OnDisconnect(namespace, g.onDisconnect)
	server.OnError(namespace, g.onError)
	server.OnEvent(namespace, relay.EventRequestInit, g.onRequestInit)
	server.OnEvent(namespace, relay.EventSendMessage, g.onSendMessage)
	server.OnEvent(namespace, relay.EventEditMessage, g.onEditMessage)
	server.OnEvent(namespace, relay.EventDeleteMessage, g.onDeleteMessage)

	for _, event := range relay.BroadcastEvents {
		bus.Subscribe(event, g.onBroadcast)
	}
	return g
}

// Serve runs the engine.io loop until Close is called.
func (g *Gateway) Serve() error {
	g.logger.Info("Socket.IO server started")
	return g.server.Serve()
}

func (g *Gateway) Close() error {
	return g.server.Close()
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.server.ServeHTTP(w, r)
}

func (g *Gateway) onBroadcast(e utils.Event) {
	if !g.server.BroadcastToRoom(namespace, room, e.Event, e.Data) {
		g.logger.Debugw("Broadcast room unavailable", "event", e.Event)
	}
}

func (g *Gateway) onConnect(s socketio.Conn) error {
	s.Join(room)
	metrics.Sessions.WithLabelValues(transportName).Inc()
	g.logger.Infow("Socket.IO client connected", "client_id", s.ID())
	return nil
}

func (g *Gateway) onDisconnect(s socketio.Conn, reason string) {
	metrics.Sessions.WithLabelValues(transportName).Dec()
	g.logger.Infow("Socket.IO client disconnected", "client_id", s.ID(), "reason", reason)
}

func (g *Gateway) onError(s socketio.Conn, err error) {
	if s == nil {
		g.logger.Warnw("Socket.IO error", "error", err)
		return
	}
	g.logger.Warnw("Socket.IO error", "client_id", s.ID(), "error", err)
}

func (g *Gateway) onRequestInit(s socketio.Conn) {
	defer g.recover(s, relay.EventRequestInit, nil)
	g.dispatcher.Dispatch(context.Background(), session{s}, relay.EventRequestInit, nil)
}

// Handler return values are delivered as the socket.io ack.

func (g *Gateway) onSendMessage(s socketio.Conn, raw json.RawMessage) (ack relay.Ack) {
	defer g.recover(s, relay.EventSendMessage, &ack)
	return g.dispatcher.HandleSend(context.Background(), session{s}, raw)
}

func (g *Gateway) onEditMessage(s socketio.Conn, raw json.RawMessage) (ack relay.Ack) {
	defer g.recover(s, relay.EventEditMessage, &ack)
	return g.dispatcher.HandleEdit(context.Background(), session{s}, raw)
}

func (g *Gateway) onDeleteMessage(s socketio.Conn, raw json.RawMessage) (ack relay.Ack) {
	defer g.recover(s, relay.EventDeleteMessage, &ack)
	return g.dispatcher.HandleDelete(context.Background(), session{s}, raw)
}

func (g *Gateway) recover(s socketio.Conn, event string, ack *relay.Ack) {
	if r := recover(); r != nil {
		g.logger.Errorw("Panic while handling event", "client_id", s.ID(), "event", event, "panic", r)
		if ack != nil {
			*ack = relay.Ack{OK: false, Error: message.ReasonServerError}
		}
	}
}

// session adapts a socket.io connection to relay.Session.
type session struct {
	conn socketio.Conn
}

func (s session) ID() string {
	return s.conn.ID()
}

func (s session) Emit(event string, payload any) error {
	s.conn.Emit(event, payload)
	return nil
}
