package upload

import (
	"context"
	"io"

	"relay/internal/providers/minio"
)

// Storage is the object store behind the upload endpoint.
type Storage interface {
	UploadFromReader(ctx context.Context, reader io.Reader, filename, contentType string, size int64) (*minio.UploadedFile, error)
	MaxFiles() int
}

type ErrorResponse struct {
	Error string `json:"error"`
}
