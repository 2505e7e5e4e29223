package message

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"relay/internal/metrics"

	"go.uber.org/zap"
)

const (
	DefaultMaxTextLength = 20000
	DefaultStoreTimeout  = 5 * time.Second
)

// Notifier receives exactly one call per successful mutation. Implementations
// fan the event out and must not block on slow sessions.
type Notifier interface {
	MessageCreated(msg *Message)
	MessageEdited(msg *Message)
	MessageDeleted(id string, deletedAt time.Time)
}

type Service interface {
	Create(ctx context.Context, in CreateInput) (*Message, error)
	Edit(ctx context.Context, in EditInput) (*Message, error)
	Delete(ctx context.Context, in DeleteInput) (*Message, error)
	History(ctx context.Context) ([]*Message, error)
	GetByID(ctx context.Context, id string) (*Message, error)
}

type Options struct {
	MaxTextLength int
	StoreTimeout  time.Duration
	Now           func() time.Time
}

type service struct {
	repo      Repository
	history   *History
	retention *Retention
	notifier  Notifier
	logger    *zap.SugaredLogger

	maxTextLength int
	storeTimeout  time.Duration
	now           func() time.Time
}

func NewService(
	repo Repository,
	history *History,
	retention *Retention,
	notifier Notifier,
	logger *zap.Logger,
	opts Options,
) Service {
	s := &service{
		repo:          repo,
		history:       history,
		retention:     retention,
		notifier:      notifier,
		logger:        logger.Sugar(),
		maxTextLength: opts.MaxTextLength,
		storeTimeout:  opts.StoreTimeout,
		now:           opts.Now,
	}
	if s.maxTextLength <= 0 {
		s.maxTextLength = DefaultMaxTextLength
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = DefaultStoreTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) Create(ctx context.Context, in CreateInput) (*Message, error) {
	if in.ID == "" || in.AuthorID == "" {
		s.record("create", ErrInvalidPayload)
		return nil, ErrInvalidPayload
	}

	attachments := in.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}

	msg := &Message{
		ID:          in.ID,
		AuthorID:    in.AuthorID,
		DisplayName: in.DisplayName,
		Body:        truncate(in.Body, s.maxTextLength),
		CreatedAt:   s.timestamp(),
		Attachments: attachments,
		ReplyTo:     in.ReplyTo,
		Deleted:     false,
		Edited:      false,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.repo.Insert(storeCtx, msg); err != nil {
		s.fail("create", in.ID, in.AuthorID, err)
		return nil, err
	}

	if _, err := s.retention.Enforce(storeCtx); err != nil {
		s.logger.Errorw("Retention enforcement failed", "message_id", msg.ID, "error", err)
	}

	s.history.Invalidate(storeCtx)
	s.record("create", nil)
	s.notifier.MessageCreated(msg)

	return msg, nil
}

func (s *service) Edit(ctx context.Context, in EditInput) (*Message, error) {
	if in.ID == "" || in.AuthorID == "" {
		s.record("edit", ErrInvalidPayload)
		return nil, ErrInvalidPayload
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.authorize(storeCtx, in.ID, in.AuthorID); err != nil {
		s.fail("edit", in.ID, in.AuthorID, err)
		return nil, err
	}

	var body *string
	if in.Body != nil {
		b := truncate(*in.Body, s.maxTextLength)
		body = &b
	}

	msg, err := s.repo.UpdateText(storeCtx, in.ID, in.AuthorID, body, s.timestamp())
	if err != nil {
		s.fail("edit", in.ID, in.AuthorID, err)
		return nil, err
	}

	s.history.Invalidate(storeCtx)
	s.record("edit", nil)
	s.notifier.MessageEdited(msg)

	return msg, nil
}

func (s *service) Delete(ctx context.Context, in DeleteInput) (*Message, error) {
	if in.ID == "" || in.AuthorID == "" {
		s.record("delete", ErrInvalidPayload)
		return nil, ErrInvalidPayload
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.authorize(storeCtx, in.ID, in.AuthorID); err != nil {
		s.fail("delete", in.ID, in.AuthorID, err)
		return nil, err
	}

	msg, err := s.repo.MarkDeleted(storeCtx, in.ID, in.AuthorID, s.timestamp())
	if err != nil {
		s.fail("delete", in.ID, in.AuthorID, err)
		return nil, err
	}

	s.history.Invalidate(storeCtx)
	s.record("delete", nil)
	s.notifier.MessageDeleted(msg.ID, *msg.DeletedAt)

	return msg, nil
}

func (s *service) History(ctx context.Context) ([]*Message, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	messages, err := s.history.Snapshot(storeCtx)
	if err != nil {
		s.logger.Errorw("Failed to load history", "error", err)
		return nil, err
	}
	return messages, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, ErrInvalidPayload
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	return s.repo.GetByID(storeCtx, id)
}

// authorize is the early, distinguishable check. Deleted rows stay readable by
// id but are no longer editable. The store re-checks atomically when applying
// the change, so a race between this lookup and the write still ends in
// ErrNotFoundOrForbidden.
func (s *service) authorize(ctx context.Context, id, authorID string) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.AuthorID != authorID {
		return ErrForbidden
	}
	if existing.Deleted {
		return ErrNotFoundOrForbidden
	}
	return nil
}

// timestamp truncates to microseconds so what the store keeps (Postgres
// timestamptz precision) matches what is broadcast.
func (s *service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *service) fail(op, id, authorID string, err error) {
	s.record(op, err)

	switch {
	case errors.Is(err, ErrStorage), Reason(err) == ReasonServerError:
		s.logger.Errorw("Message mutation failed", "op", op, "message_id", id, "user_id", authorID, "error", err)
	default:
		s.logger.Infow("Message mutation rejected", "op", op, "message_id", id, "user_id", authorID, "reason", err)
	}
}

func (s *service) record(op string, err error) {
	result := "ok"
	if err != nil {
		result = Reason(err)
	}
	metrics.Mutations.WithLabelValues(op, result).Inc()
}

// truncate cuts s to at most max characters without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
