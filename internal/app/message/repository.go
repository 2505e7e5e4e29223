package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the durable message table. Every method is atomic with respect
// to the others; UpdateText and MarkDeleted check existence, ownership and
// liveness in the same statement that applies the change.
type Repository interface {
	Insert(ctx context.Context, msg *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	UpdateText(ctx context.Context, id, authorID string, body *string, editedAt time.Time) (*Message, error)
	MarkDeleted(ctx context.Context, id, authorID string, deletedAt time.Time) (*Message, error)
	// ListLive returns up to limit of the newest non-deleted messages, oldest first.
	ListLive(ctx context.Context, limit int) ([]*Message, error)
	CountLive(ctx context.Context) (int64, error)
	// EvictOldest physically removes the n oldest rows, deleted or not.
	EvictOldest(ctx context.Context, n int) (int64, error)
	// TrimToCap removes the oldest rows, deleted or not, until at most cap
	// live rows remain. Counting and eviction are one atomic step.
	TrimToCap(ctx context.Context, cap int) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

const pgUniqueViolation = "23505"

// trimToCapQuery finds the newest live row beyond the cap and deletes it along
// with every older row. With cap or fewer live rows the boundary is empty and
// nothing is deleted.
const trimToCapQuery = `
WITH boundary AS (
	SELECT created_at, seq FROM messages
	WHERE deleted = false
	ORDER BY created_at DESC, seq DESC
	OFFSET ? LIMIT 1
)
DELETE FROM messages m USING boundary b
WHERE (m.created_at, m.seq) <= (b.created_at, b.seq)`

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, msg *Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("%w: insert message %q: %w", ErrStorage, msg.ID, err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Message, error) {
	var message Message
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get message %q: %w", ErrStorage, id, err)
	}
	return &message, nil
}

func (r *repository) UpdateText(ctx context.Context, id, authorID string, body *string, editedAt time.Time) (*Message, error) {
	updates := map[string]interface{}{
		"edited":    true,
		"edited_at": editedAt,
	}
	if body != nil {
		updates["body"] = *body
	}
	return r.conditionalUpdate(ctx, id, authorID, updates)
}

func (r *repository) MarkDeleted(ctx context.Context, id, authorID string, deletedAt time.Time) (*Message, error) {
	return r.conditionalUpdate(ctx, id, authorID, map[string]interface{}{
		"deleted":    true,
		"deleted_at": deletedAt,
	})
}

// conditionalUpdate applies updates only to a live row owned by authorID and
// returns the row as written, all in one UPDATE ... RETURNING.
func (r *repository) conditionalUpdate(ctx context.Context, id, authorID string, updates map[string]interface{}) (*Message, error) {
	var rows []Message
	result := r.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("id = ? AND author_id = ? AND deleted = ?", id, authorID, false).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: update message %q: %w", ErrStorage, id, result.Error)
	}
	if result.RowsAffected == 0 || len(rows) == 0 {
		return nil, ErrNotFoundOrForbidden
	}
	return normalize(&rows[0]), nil
}

func (r *repository) ListLive(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		return []*Message{}, nil
	}

	var messages []*Message
	err := r.db.WithContext(ctx).
		Where("deleted = ?", false).
		Order("created_at DESC, seq DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list live messages: %w", ErrStorage, err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *repository) CountLive(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&Message{}).
		Where("deleted = ?", false).
		Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("%w: count live messages: %w", ErrStorage, err)
	}
	return total, nil
}

func (r *repository) EvictOldest(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	oldest := r.db.Model(&Message{}).
		Select("id").
		Order("created_at ASC, seq ASC").
		Limit(n)

	result := r.db.WithContext(ctx).
		Where("id IN (?)", oldest).
		Delete(&Message{})
	if result.Error != nil {
		return 0, fmt.Errorf("%w: evict %d oldest messages: %w", ErrStorage, n, result.Error)
	}
	return result.RowsAffected, nil
}

func (r *repository) TrimToCap(ctx context.Context, cap int) (int64, error) {
	if cap <= 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Exec(trimToCapQuery, cap)
	if result.Error != nil {
		return 0, fmt.Errorf("%w: trim to %d live messages: %w", ErrStorage, cap, result.Error)
	}
	return result.RowsAffected, nil
}

func (r *repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op; the *gorm.DB belongs to the caller.
func (r *repository) Close() error { return nil }

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func normalize(m *Message) *Message {
	if m != nil && m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	return m
}
