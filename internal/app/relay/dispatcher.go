package relay

import (
	"context"
	"encoding/json"

	"relay/internal/app/message"

	"go.uber.org/zap"
)

// Dispatcher routes inbound session events to the mutation engine and the
// coordinator. Both transports share it, so acks and event names are the same
// on /ws and /socket.io/.
type Dispatcher struct {
	service     message.Service
	coordinator *Coordinator
	logger      *zap.SugaredLogger
}

func NewDispatcher(service message.Service, coordinator *Coordinator, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		service:     service,
		coordinator: coordinator,
		logger:      logger.Sugar(),
	}
}

func (d *Dispatcher) HandleInit(ctx context.Context, s Session) error {
	return d.coordinator.OnInit(ctx, s)
}

func (d *Dispatcher) HandleSend(ctx context.Context, s Session, raw json.RawMessage) Ack {
	in, err := decodeSend(raw)
	if err != nil {
		d.reject(s, EventSendMessage, err)
		return failAck(err)
	}
	if _, err := d.service.Create(ctx, in); err != nil {
		return failAck(err)
	}
	return okAck()
}

func (d *Dispatcher) HandleEdit(ctx context.Context, s Session, raw json.RawMessage) Ack {
	in, err := decodeEdit(raw)
	if err != nil {
		d.reject(s, EventEditMessage, err)
		return failAck(err)
	}
	msg, err := d.service.Edit(ctx, in)
	if err != nil {
		return failAck(err)
	}
	return Ack{OK: true, Msg: msg}
}

func (d *Dispatcher) HandleDelete(ctx context.Context, s Session, raw json.RawMessage) Ack {
	in, err := decodeDelete(raw)
	if err != nil {
		d.reject(s, EventDeleteMessage, err)
		return failAck(err)
	}
	if _, err := d.service.Delete(ctx, in); err != nil {
		return failAck(err)
	}
	return okAck()
}

// Dispatch handles one named inbound event. ok is false for requestInit, which
// has no ack, and for unknown events.
func (d *Dispatcher) Dispatch(ctx context.Context, s Session, event string, raw json.RawMessage) (ack Ack, ok bool) {
	switch event {
	case EventRequestInit:
		if err := d.HandleInit(ctx, s); err != nil {
			d.logger.Debugw("requestInit not served", "session_id", s.ID(), "error", err)
		}
		return Ack{}, false
	case EventSendMessage:
		return d.HandleSend(ctx, s, raw), true
	case EventEditMessage:
		return d.HandleEdit(ctx, s, raw), true
	case EventDeleteMessage:
		return d.HandleDelete(ctx, s, raw), true
	default:
		d.logger.Debugw("Unknown event ignored", "session_id", s.ID(), "event", event)
		return Ack{}, false
	}
}

func (d *Dispatcher) reject(s Session, event string, err error) {
	d.logger.Infow("Malformed event payload", "session_id", s.ID(), "event", event, "error", err)
}
