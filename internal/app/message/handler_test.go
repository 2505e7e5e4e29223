package message

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *serviceFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newServiceFixture(t, 500)
	r := gin.New()
	RegisterRoutes(r.Group("/api"), NewHandler(f.svc))
	return r, f
}

func TestGetMessagesReturnsLiveHistory(t *testing.T) {
	r, f := newTestRouter(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := f.svc.Create(ctx, CreateInput{ID: id, AuthorID: "u1", Body: "hi " + id})
		require.NoError(t, err)
	}
	_, err := f.svc.Delete(ctx, DeleteInput{ID: "m2", AuthorID: "u1"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp MessageListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"m1", "m3"}, ids(resp.Messages))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"m3"}, ids(resp.Messages))
}

func TestGetMessageByID(t *testing.T) {
	r, f := newTestRouter(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{ID: "m1", AuthorID: "u1", DisplayName: "Ann", Body: "hi"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages/m1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "m1", body["id"])
	assert.Equal(t, "u1", body["userId"])
	assert.Equal(t, "Ann", body["name"])
	assert.Equal(t, "hi", body["text"])
	assert.Equal(t, []any{}, body["attachments"])
	assert.NotContains(t, body, "seq")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
