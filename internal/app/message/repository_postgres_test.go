package message

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newPostgresRepository runs against a disposable database named by
// RELAY_TEST_DATABASE_DSN; the messages table is dropped and recreated.
func newPostgresRepository(t *testing.T) Repository {
	t.Helper()
	dsn := os.Getenv("RELAY_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("RELAY_TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable(&Message{}))
	require.NoError(t, db.AutoMigrate(&Message{}))

	repo := NewRepository(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestPostgresRepositoryContract(t *testing.T) {
	ctx := context.Background()
	repo := newPostgresRepository(t)

	first := testMessage("m1", "u1", 1)
	first.Attachments = []Attachment{{Name: "a.png", MediaType: "image/png", URL: "/uploads/x"}}
	first.ReplyTo = &ReplyRef{ID: "m0"}
	require.NoError(t, repo.Insert(ctx, first))
	assert.NotZero(t, first.Seq)

	assert.ErrorIs(t, repo.Insert(ctx, testMessage("m1", "u2", 2)), ErrDuplicateID)

	for i := 2; i <= 4; i++ {
		require.NoError(t, repo.Insert(ctx, testMessage(fmt.Sprintf("m%d", i), "u1", i)))
	}
	// Shares a timestamp with m4; insertion order breaks the tie.
	require.NoError(t, repo.Insert(ctx, testMessage("m5", "u1", 4)))

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []Attachment{{Name: "a.png", MediaType: "image/png", URL: "/uploads/x"}}, []Attachment(got.Attachments))
	assert.Equal(t, "m0", got.ReplyTo.ID)

	body := "changed"
	_, err = repo.UpdateText(ctx, "m1", "u2", &body, testEpoch)
	assert.ErrorIs(t, err, ErrNotFoundOrForbidden)

	editedAt := testEpoch.Add(time.Hour)
	updated, err := repo.UpdateText(ctx, "m1", "u1", &body, editedAt)
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Body)
	assert.True(t, updated.Edited)
	assert.True(t, updated.EditedAt.Equal(editedAt))

	_, err = repo.MarkDeleted(ctx, "m2", "u1", testEpoch)
	require.NoError(t, err)
	_, err = repo.MarkDeleted(ctx, "m2", "u1", testEpoch)
	assert.ErrorIs(t, err, ErrNotFoundOrForbidden)

	live, err := repo.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), live)

	history, err := repo.ListLive(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4", "m5"}, ids(history))

	evicted, err := repo.EvictOldest(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), evicted)

	_, err = repo.GetByID(ctx, "m2")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err = repo.ListLive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4", "m5"}, ids(history))

	// m3, m4, m5 live; trimming to 2 removes m3 only.
	evicted, err = repo.TrimToCap(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evicted)

	history, err = repo.ListLive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5"}, ids(history))

	evicted, err = repo.TrimToCap(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, evicted)

	long := testMessage(strings.Repeat("i", 300), strings.Repeat("u", 300), 10)
	long.DisplayName = strings.Repeat("n", 1000)
	require.NoError(t, repo.Insert(ctx, long))
	got, err = repo.GetByID(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, long.DisplayName, got.DisplayName)

	require.NoError(t, repo.Ping(ctx))
}
