package message

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Key layout:
//
//	msg:<id>                     -> pebbleRecord JSON
//	idx:<createdAt:020>:<seq:020>:<id> -> id   (insertion order index, all rows)
//	meta:seq                     -> last allocated seq
const (
	pebbleMsgPrefix = "msg:"
	pebbleIdxPrefix = "idx:"
	pebbleSeqKey    = "meta:seq"
)

var (
	pebbleIdxLower = []byte(pebbleIdxPrefix)
	pebbleIdxUpper = []byte("idx;")
)

type pebbleRecord struct {
	Seq     uint64  `json:"seq"`
	Message Message `json:"message"`
}

// pebbleRepository is the embedded Repository. Pebble gives durable atomic
// batches; the mutex turns each read-check-write into one critical section.
type pebbleRepository struct {
	db     *pebble.DB
	logger *zap.SugaredLogger

	mu   sync.Mutex
	seq  uint64
	live int64
}

// NewPebbleRepository opens (or creates) the store under dir. opts may be nil;
// tests pass an in-memory vfs through it.
func NewPebbleRepository(dir string, opts *pebble.Options, logger *zap.Logger) (Repository, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q: %w", dir, err)
	}

	r := &pebbleRepository{db: db, logger: logger.Sugar()}
	if err := r.load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	r.logger.Infow("Pebble message store opened", "dir", dir, "seq", r.seq, "live", r.live)
	return r, nil
}

func (r *pebbleRepository) load() error {
	if v, closer, err := r.db.Get([]byte(pebbleSeqKey)); err == nil {
		seq, perr := strconv.ParseUint(string(v), 10, 64)
		closer.Close()
		if perr != nil {
			return fmt.Errorf("corrupt %s: %w", pebbleSeqKey, perr)
		}
		r.seq = seq
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleMsgPrefix),
		UpperBound: []byte("msg;"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec pebbleRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("corrupt record %q: %w", iter.Key(), err)
		}
		if rec.Message.Live() {
			r.live++
		}
	}
	return iter.Error()
}

func (r *pebbleRepository) Insert(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := msgKey(msg.ID)
	if _, closer, err := r.db.Get(key); err == nil {
		closer.Close()
		return ErrDuplicateID
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: lookup %q: %w", ErrStorage, msg.ID, err)
	}

	seq := r.seq + 1
	rec := pebbleRecord{Seq: seq, Message: *msg}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %w", ErrStorage, msg.ID, err)
	}

	b := r.db.NewBatch()
	defer b.Close()
	_ = b.Set(key, data, nil)
	_ = b.Set(idxKey(msg.CreatedAt, seq, msg.ID), []byte(msg.ID), nil)
	_ = b.Set([]byte(pebbleSeqKey), []byte(strconv.FormatUint(seq, 10)), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: insert %q: %w", ErrStorage, msg.ID, err)
	}

	r.seq = seq
	msg.Seq = seq
	if msg.Live() {
		r.live++
	}
	return nil
}

func (r *pebbleRepository) GetByID(ctx context.Context, id string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return normalize(&rec.Message), nil
}

func (r *pebbleRepository) UpdateText(ctx context.Context, id, authorID string, body *string, editedAt time.Time) (*Message, error) {
	return r.conditionalUpdate(ctx, id, authorID, func(m *Message) {
		if body != nil {
			m.Body = *body
		}
		m.Edited = true
		at := editedAt
		m.EditedAt = &at
	})
}

func (r *pebbleRepository) MarkDeleted(ctx context.Context, id, authorID string, deletedAt time.Time) (*Message, error) {
	return r.conditionalUpdate(ctx, id, authorID, func(m *Message) {
		m.Deleted = true
		at := deletedAt
		m.DeletedAt = &at
	})
}

func (r *pebbleRepository) conditionalUpdate(ctx context.Context, id, authorID string, apply func(*Message)) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.get(id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFoundOrForbidden
	}
	if err != nil {
		return nil, err
	}
	if rec.Message.AuthorID != authorID || !rec.Message.Live() {
		return nil, ErrNotFoundOrForbidden
	}

	apply(&rec.Message)

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %q: %w", ErrStorage, id, err)
	}
	if err := r.db.Set(msgKey(id), data, pebble.Sync); err != nil {
		return nil, fmt.Errorf("%w: update %q: %w", ErrStorage, id, err)
	}

	if !rec.Message.Live() {
		r.live--
	}
	return normalize(&rec.Message), nil
}

func (r *pebbleRepository) ListLive(ctx context.Context, limit int) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if limit <= 0 {
		return []*Message{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: pebbleIdxLower, UpperBound: pebbleIdxUpper})
	if err != nil {
		return nil, fmt.Errorf("%w: list live: %w", ErrStorage, err)
	}
	defer iter.Close()

	out := make([]*Message, 0, limit)
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		rec, err := r.get(string(iter.Value()))
		if errors.Is(err, ErrNotFound) {
			r.logger.Warnw("Dangling message index entry", "key", string(iter.Key()))
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Message.Live() {
			out = append(out, normalize(&rec.Message))
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: list live: %w", ErrStorage, err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *pebbleRepository) CountLive(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live, nil
}

func (r *pebbleRepository) EvictOldest(ctx context.Context, n int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if n <= 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.evictLocked(func(evicted, _ int64) bool {
		return evicted >= int64(n)
	})
}

func (r *pebbleRepository) TrimToCap(ctx context.Context, cap int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	excess := r.live - int64(cap)
	if cap <= 0 || excess <= 0 {
		return 0, nil
	}
	return r.evictLocked(func(_, evictedLive int64) bool {
		return evictedLive >= excess
	})
}

// evictLocked deletes rows oldest first until done reports true. The caller
// holds r.mu.
func (r *pebbleRepository) evictLocked(done func(evicted, evictedLive int64) bool) (int64, error) {
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: pebbleIdxLower, UpperBound: pebbleIdxUpper})
	if err != nil {
		return 0, fmt.Errorf("%w: evict: %w", ErrStorage, err)
	}

	b := r.db.NewBatch()
	defer b.Close()

	var evicted, evictedLive int64
	for iter.First(); iter.Valid() && !done(evicted, evictedLive); iter.Next() {
		id := string(iter.Value())
		rec, err := r.get(id)
		if err == nil && rec.Message.Live() {
			evictedLive++
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			iter.Close()
			return 0, err
		}
		_ = b.Delete(append([]byte(nil), iter.Key()...), nil)
		_ = b.Delete(msgKey(id), nil)
		evicted++
	}
	iterErr := iter.Error()
	iter.Close()
	if iterErr != nil {
		return 0, fmt.Errorf("%w: evict: %w", ErrStorage, iterErr)
	}
	if evicted == 0 {
		return 0, nil
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("%w: evict %d oldest messages: %w", ErrStorage, evicted, err)
	}
	r.live -= evictedLive
	return evicted, nil
}

func (r *pebbleRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, closer, err := r.db.Get([]byte(pebbleSeqKey))
	if err == nil {
		closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

func (r *pebbleRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

// get reads one record; the caller holds r.mu.
func (r *pebbleRepository) get(id string) (*pebbleRecord, error) {
	v, closer, err := r.db.Get(msgKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %w", ErrStorage, id, err)
	}
	defer closer.Close()

	var rec pebbleRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode %q: %w", ErrStorage, id, err)
	}
	rec.Message.Seq = rec.Seq
	return &rec, nil
}

func msgKey(id string) []byte {
	return []byte(pebbleMsgPrefix + id)
}

func idxKey(createdAt time.Time, seq uint64, id string) []byte {
	var buf bytes.Buffer
	buf.WriteString(pebbleIdxPrefix)
	fmt.Fprintf(&buf, "%020d:%020d:", createdAt.UnixNano(), seq)
	buf.WriteString(id)
	return buf.Bytes()
}
