package relay

import (
	"context"
	"time"

	"relay/internal/app/message"
	"relay/internal/metrics"
	"relay/internal/utils"

	"go.uber.org/zap"
)

// Inbound event names.
const (
	EventRequestInit   = "requestInit"
	EventSendMessage   = "sendMessage"
	EventEditMessage   = "editMessage"
	EventDeleteMessage = "deleteMessage"
)

// Outbound event names.
const (
	EventInitMessages   = "initMessages"
	EventMessageCreated = "messageCreated"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
	EventInitError      = "initError"
)

// BroadcastEvents are the events every connected session receives. Session
// registries subscribe to these on the bus.
var BroadcastEvents = []string{EventMessageCreated, EventMessageEdited, EventMessageDeleted}

// Session is one connected client as seen by the coordinator.
type Session interface {
	ID() string
	Emit(event string, payload any) error
}

type DeletedEvent struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deletedAt"`
}

// Coordinator turns applied mutations into broadcasts and answers history
// requests. It implements message.Notifier.
type Coordinator struct {
	bus          *utils.EventBus
	history      *message.History
	storeTimeout time.Duration
	logger       *zap.SugaredLogger
}

func NewCoordinator(bus *utils.EventBus, history *message.History, storeTimeout time.Duration, logger *zap.Logger) *Coordinator {
	if storeTimeout <= 0 {
		storeTimeout = message.DefaultStoreTimeout
	}
	return &Coordinator{
		bus:          bus,
		history:      history,
		storeTimeout: storeTimeout,
		logger:       logger.Sugar(),
	}
}

func (c *Coordinator) MessageCreated(msg *message.Message) {
	c.broadcast(EventMessageCreated, msg)
}

func (c *Coordinator) MessageEdited(msg *message.Message) {
	c.broadcast(EventMessageEdited, msg)
}

func (c *Coordinator) MessageDeleted(id string, deletedAt time.Time) {
	c.broadcast(EventMessageDeleted, DeletedEvent{ID: id, DeletedAt: deletedAt})
}

func (c *Coordinator) broadcast(event string, payload any) {
	receivers := c.bus.Publish(event, payload)
	metrics.BroadcastEvents.WithLabelValues(event).Inc()
	if receivers == 0 {
		c.logger.Debugw("Broadcast without session registries", "event", event)
	}
}

// OnInit sends the live history to the requesting session only. A failed load
// is reported to that session as initError rather than an empty history.
func (c *Coordinator) OnInit(ctx context.Context, s Session) error {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	messages, err := c.history.Snapshot(ctx)
	if err != nil {
		c.logger.Errorw("Failed to load history for init", "session_id", s.ID(), "error", err)
		if emitErr := s.Emit(EventInitError, failAck(err)); emitErr != nil {
			c.logger.Debugw("Failed to deliver initError", "session_id", s.ID(), "error", emitErr)
		}
		return err
	}

	if err := s.Emit(EventInitMessages, messages); err != nil {
		c.logger.Debugw("Failed to deliver initMessages", "session_id", s.ID(), "error", err)
		return err
	}
	return nil
}
