package health

import (
	"net/http"

	"relay/internal/utils"

	"github.com/gin-gonic/gin"
)

type Handler interface {
	Liveness(c *gin.Context)
	Check(c *gin.Context)
}

type handler struct {
	checker *utils.HealthChecker
}

func NewHandler(checker *utils.HealthChecker) Handler {
	return &handler{checker: checker}
}

// @Summary Liveness probe
// @Description Always answers OK while the process is serving
// @Tags Health
// @Produce plain
// @Success 200 {string} string "OK"
// @Router /health [get]
func (h *handler) Liveness(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// @Summary Health check
// @Description Check the health status of the message store and optional providers
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} utils.HealthStatus
// @Failure 503 {object} utils.HealthStatus
// @Router /api/health [get]
func (h *handler) Check(c *gin.Context) {
	status := h.checker.Check(c.Request.Context())
	if status.Status == "healthy" {
		c.JSON(http.StatusOK, status)
	} else {
		c.JSON(http.StatusServiceUnavailable, status)
	}
}
