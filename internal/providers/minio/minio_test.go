package minio

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateObjectName(t *testing.T) {
	name := GenerateObjectName("Photo.PNG")
	assert.Regexp(t, regexp.MustCompile(`^\d{4}/\d{2}/\d{2}/[0-9A-HJKMNP-TV-Z]{26}\.png$`), name)
	assert.NotEqual(t, name, GenerateObjectName("Photo.PNG"))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "image/png", DetectContentType(".PNG"))
	assert.Equal(t, "application/pdf", DetectContentType(".pdf"))
	assert.Equal(t, "application/octet-stream", DetectContentType(".bin"))
	assert.Equal(t, "application/octet-stream", DetectContentType(""))
}
