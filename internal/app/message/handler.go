package message

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler interface {
	GetMessages(c *gin.Context)
	GetMessageByID(c *gin.Context)
}

type handler struct {
	service Service
}

func NewHandler(service Service) Handler {
	return &handler{service: service}
}

// @Summary Get live history
// @Description Returns the most recent live messages in ascending createdAt order, the same snapshot sent as initMessages
// @Tags Messages
// @Produce json
// @Param limit query int false "Return only the last N messages of the snapshot"
// @Success 200 {object} MessageListResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/messages [get]
func (h *handler) GetMessages(c *gin.Context) {
	messages, err := h.service.History(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ReasonServerError})
		return
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err == nil && limit >= 0 && limit < len(messages) {
			messages = messages[len(messages)-limit:]
		}
	}

	c.JSON(http.StatusOK, MessageListResponse{
		Messages: messages,
		Total:    len(messages),
	})
}

// @Summary Get message by ID
// @Description Looks up a single message by id. Soft-deleted messages are returned with deleted=true
// @Tags Messages
// @Produce json
// @Param id path string true "Message ID"
// @Success 200 {object} Message
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/messages/{id} [get]
func (h *handler) GetMessageByID(c *gin.Context) {
	msg, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidPayload) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ReasonServerError})
		return
	}

	c.JSON(http.StatusOK, msg)
}
