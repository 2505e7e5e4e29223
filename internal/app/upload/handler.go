package upload

import (
	"net/http"

	"relay/internal/app/message"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	storage Storage
	logger  *zap.Logger
}

// NewHandler accepts a nil storage; uploads then answer 503.
func NewHandler(storage Storage, logger *zap.Logger) *Handler {
	return &Handler{
		storage: storage,
		logger:  logger,
	}
}

// @Summary Upload attachments
// @Description Stores files in object storage and returns attachment descriptors to embed in sendMessage
// @Tags Upload
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "Files to upload"
// @Success 200 {array} message.Attachment
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/upload [post]
func (h *Handler) Upload(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "object storage not configured"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Warn("Failed to parse multipart form", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to parse form"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no files provided"})
		return
	}
	if max := h.storage.MaxFiles(); max > 0 && len(files) > max {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "too many files"})
		return
	}

	uploaded := make([]message.Attachment, 0, len(files))

	for _, fileHeader := range files {
		src, err := fileHeader.Open()
		if err != nil {
			h.logger.Error("Failed to open file", zap.String("filename", fileHeader.Filename), zap.Error(err))
			continue
		}

		result, err := h.storage.UploadFromReader(
			c.Request.Context(),
			src,
			fileHeader.Filename,
			fileHeader.Header.Get("Content-Type"),
			fileHeader.Size,
		)
		src.Close()

		if err != nil {
			h.logger.Error("Failed to upload file", zap.String("filename", fileHeader.Filename), zap.Error(err))
			continue
		}

		uploaded = append(uploaded, message.Attachment{
			Name:      result.Name,
			MediaType: result.ContentType,
			URL:       result.URL,
		})
	}

	if len(uploaded) == 0 {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to upload any files"})
		return
	}

	c.JSON(http.StatusOK, uploaded)
}
