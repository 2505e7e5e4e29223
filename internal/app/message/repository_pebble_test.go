package message

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	repo, err := NewPebbleRepository("messages", &pebble.Options{FS: vfs.NewMem()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testMessage(id, author string, offset int) *Message {
	return &Message{
		ID:          id,
		AuthorID:    author,
		DisplayName: "User " + author,
		Body:        "body of " + id,
		CreatedAt:   testEpoch.Add(time.Duration(offset) * time.Second),
		Attachments: []Attachment{},
	}
}

func TestPebbleInsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	msg := testMessage("m1", "u1", 0)
	msg.Attachments = []Attachment{{Name: "a.png", MediaType: "image/png", URL: "/uploads/x"}}
	msg.ReplyTo = &ReplyRef{ID: "m0", Name: "User u0", Text: "hello"}
	require.NoError(t, repo.Insert(ctx, msg))
	assert.Equal(t, uint64(1), msg.Seq)

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.AuthorID)
	assert.Equal(t, "body of m1", got.Body)
	assert.True(t, got.CreatedAt.Equal(msg.CreatedAt))
	assert.Equal(t, []Attachment{{Name: "a.png", MediaType: "image/png", URL: "/uploads/x"}}, []Attachment(got.Attachments))
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "m0", got.ReplyTo.ID)
	assert.False(t, got.Deleted)
	assert.False(t, got.Edited)
}

func TestPebbleInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.Insert(ctx, testMessage("m1", "u1", 0)))
	err := repo.Insert(ctx, testMessage("m1", "u2", 1))
	assert.ErrorIs(t, err, ErrDuplicateID)

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.AuthorID)

	live, err := repo.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)
}

func TestPebbleAcceptsLongIdentifiers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	msg := testMessage(strings.Repeat("i", 300), strings.Repeat("u", 300), 0)
	msg.DisplayName = strings.Repeat("n", 1000)
	require.NoError(t, repo.Insert(ctx, msg))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.DisplayName, got.DisplayName)
}

func TestPebbleGetMissing(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPebbleUpdateTextChecksOwnership(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	require.NoError(t, repo.Insert(ctx, testMessage("m1", "u1", 0)))

	body := "changed"
	_, err := repo.UpdateText(ctx, "m1", "u2", &body, testEpoch)
	assert.ErrorIs(t, err, ErrNotFoundOrForbidden)

	_, err = repo.UpdateText(ctx, "missing", "u1", &body, testEpoch)
	assert.ErrorIs(t, err, ErrNotFoundOrForbidden)

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "body of m1", got.Body)
	assert.False(t, got.Edited)

	editedAt := testEpoch.Add(time.Minute)
	updated, err := repo.UpdateText(ctx, "m1", "u1", &body, editedAt)
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Body)
	assert.True(t, updated.Edited)
	require.NotNil(t, updated.EditedAt)
	assert.True(t, updated.EditedAt.Equal(editedAt))
}

func TestPebbleUpdateTextNilBodyKeepsText(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	require.NoError(t, repo.Insert(ctx, testMessage("m1", "u1", 0)))

	updated, err := repo.UpdateText(ctx, "m1", "u1", nil, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, "body of m1", updated.Body)
	assert.True(t, updated.Edited)
}

func TestPebbleMarkDeleted(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	require.NoError(t, repo.Insert(ctx, testMessage("m1", "u1", 0)))
	require.NoError(t, repo.Insert(ctx, testMessage("m2", "u1", 1)))

	_, err := repo.MarkDeleted(ctx, "m1", "u2", testEpoch)
	assert.ErrorIs(t, err, ErrNotFoundOrForbidden)

	deleted, err := repo.MarkDeleted(ctx, "m1", "u1", testEpoch)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	require.NotNil(t, deleted.DeletedAt)

	_, err = repo.MarkDeleted(ctx, "m1", "u1", testEpoch.Add(time.Second))
	assert.ErrorIs(t, err, ErrNotFoundOrForbidden, "second delete is rejected")

	body := "ghost"
	_, err = repo.UpdateText(ctx, "m1", "u1", &body, testEpoch)
	assert.ErrorIs(t, err, ErrNotFoundOrForbidden, "deleted rows are not editable")

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err, "soft-deleted rows stay readable by id")
	assert.True(t, got.Deleted)
	assert.Equal(t, "body of m1", got.Body)

	live, err := repo.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)

	history, err := repo.ListLive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "m2", history[0].ID)
}

func TestPebbleListLiveOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	// Inserted out of time order; the last two share a timestamp.
	require.NoError(t, repo.Insert(ctx, testMessage("m3", "u1", 3)))
	require.NoError(t, repo.Insert(ctx, testMessage("m1", "u1", 1)))
	require.NoError(t, repo.Insert(ctx, testMessage("m2", "u1", 2)))
	require.NoError(t, repo.Insert(ctx, testMessage("m4", "u1", 4)))
	require.NoError(t, repo.Insert(ctx, testMessage("m5", "u1", 4)))

	all, err := repo.ListLive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, ids(all))

	recent, err := repo.ListLive(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5"}, ids(recent))

	none, err := repo.ListLive(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPebbleEvictOldestIgnoresDeletedState(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	for i := 1; i <= 4; i++ {
		require.NoError(t, repo.Insert(ctx, testMessage(fmt.Sprintf("m%d", i), "u1", i)))
	}
	_, err := repo.MarkDeleted(ctx, "m1", "u1", testEpoch)
	require.NoError(t, err)

	evicted, err := repo.EvictOldest(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), evicted)

	_, err = repo.GetByID(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByID(ctx, "m2")
	assert.ErrorIs(t, err, ErrNotFound)

	live, err := repo.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), live)

	evicted, err = repo.EvictOldest(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), evicted)

	live, err = repo.CountLive(ctx)
	require.NoError(t, err)
	assert.Zero(t, live)
}

func TestPebbleTrimToCap(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	for i := 1; i <= 6; i++ {
		require.NoError(t, repo.Insert(ctx, testMessage(fmt.Sprintf("m%d", i), "u1", i)))
	}
	_, err := repo.MarkDeleted(ctx, "m2", "u1", testEpoch)
	require.NoError(t, err)

	evicted, err := repo.TrimToCap(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, evicted, "5 live rows already fit")

	// Two live rows over: m1 and m3 go, and the deleted m2 between them.
	evicted, err = repo.TrimToCap(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), evicted)

	history, err := repo.ListLive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5", "m6"}, ids(history))

	evicted, err = repo.TrimToCap(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, evicted, "a zero cap disables trimming")
}

func TestPebbleConcurrentTrimNeverUndershoots(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	const cap = 5

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.Insert(ctx, testMessage(fmt.Sprintf("m%02d", i), "u1", i)))
			_, err := repo.TrimToCap(ctx, cap)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	live, err := repo.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(cap), live)
}

func TestPebbleReopenRestoresCounters(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	repo, err := NewPebbleRepository("messages", &pebble.Options{FS: fs}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, testMessage("m1", "u1", 1)))
	require.NoError(t, repo.Insert(ctx, testMessage("m2", "u1", 2)))
	_, err = repo.MarkDeleted(ctx, "m1", "u1", testEpoch)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = NewPebbleRepository("messages", &pebble.Options{FS: fs}, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	live, err := repo.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)

	msg := testMessage("m3", "u1", 3)
	require.NoError(t, repo.Insert(ctx, msg))
	assert.Equal(t, uint64(3), msg.Seq)
}

func TestPebbleConcurrentEditsDoNotLoseOwnershipCheck(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	require.NoError(t, repo.Insert(ctx, testMessage("m1", "u1", 0)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	okCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			author := "u1"
			if i%2 == 1 {
				author = "intruder"
			}
			body := fmt.Sprintf("edit %d", i)
			if _, err := repo.UpdateText(ctx, "m1", author, &body, testEpoch); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, okCount)
	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Regexp(t, `^edit \d*[02468]$`, got.Body)
}

func TestPebbleCanceledContext(t *testing.T) {
	repo := newTestRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Insert(ctx, testMessage("m1", "u1", 0))
	assert.ErrorIs(t, err, ErrStorage)
}

func ids(messages []*Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
