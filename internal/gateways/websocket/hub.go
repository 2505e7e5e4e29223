package websocket

import (
	"context"
	"encoding/json"

	"relay/internal/app/relay"
	"relay/internal/metrics"
	"relay/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const transportName = "ws"

type Options struct {
	SendQueue  int
	RateEvents int
	RateBurst  int
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	dispatcher *relay.Dispatcher
	opts       Options
	logger     *zap.SugaredLogger
}

func NewHub(bus *utils.EventBus, dispatcher *relay.Dispatcher, opts Options, logger *zap.Logger) *Hub {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.RateEvents <= 0 {
		opts.RateEvents = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = opts.RateEvents * 2
	}

	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.Sugar(),
	}

	for _, event := range relay.BroadcastEvents {
		bus.Subscribe(event, h.onEvent)
	}
	return h
}

// onEvent runs on the mutating goroutine. The frame is encoded once and
// handed to Run, which only enqueues per client.
func (h *Hub) onEvent(e utils.Event) {
	frame, err := json.Marshal(outboundFrame{Event: e.Event, Data: e.Data})
	if err != nil {
		h.logger.Errorw("Failed to encode broadcast", "event", e.Event, "error", err)
		return
	}
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
}

func (h *Hub) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(h.opts.RateEvents), h.opts.RateBurst)
}

func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.Sessions.WithLabelValues(transportName).Set(float64(len(h.clients)))
			h.logger.Infow("Client connected",
				"client_id", client.id,
				"clients_count", len(h.clients),
			)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				metrics.Sessions.WithLabelValues(transportName).Set(float64(len(h.clients)))
				h.logger.Infow("Client disconnected",
					"client_id", client.id,
					"clients_count", len(h.clients),
				)
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				if !client.enqueue(frame) {
					delete(h.clients, client)
					client.close()
				}
			}
			metrics.Sessions.WithLabelValues(transportName).Set(float64(len(h.clients)))

		case <-ctx.Done():
			for client := range h.clients {
				client.close()
			}
			h.clients = map[*Client]bool{}
			metrics.Sessions.WithLabelValues(transportName).Set(0)
			h.logger.Info("WebSocket Hub stopped")
			return
		}
	}
}

// Register blocks until Run accepts the client or has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
