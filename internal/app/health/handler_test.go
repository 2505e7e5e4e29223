package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"relay/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHealthRouter(checker *utils.HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(checker)
	RegisterLivenessRoute(r, h)
	RegisterRoutes(r.Group("/api"), h)
	return r
}

func TestLiveness(t *testing.T) {
	r := newHealthRouter(utils.NewHealthChecker(0))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestCheckReportsDegradedDependency(t *testing.T) {
	checker := utils.NewHealthChecker(0).
		Add("store", utils.PingerFunc(func(context.Context) error { return nil })).
		Add("redis", utils.PingerFunc(func(context.Context) error { return errors.New("connection refused") }))
	r := newHealthRouter(checker)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status utils.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	require.Len(t, status.Services, 2)
	assert.Equal(t, "up", status.Services[0].Status)
	assert.Equal(t, "down", status.Services[1].Status)
	assert.Equal(t, "connection refused", status.Services[1].Message)
}
