package message

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestMessageColumnsHaveNoLengthLimit(t *testing.T) {
	s, err := schema.Parse(&Message{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	assert.Equal(t, "messages", s.Table)

	for _, name := range []string{"ID", "AuthorID", "DisplayName", "Body"} {
		field := s.LookUpField(name)
		require.NotNil(t, field, name)
		assert.Equal(t, "text", strings.ToLower(field.TagSettings["TYPE"]), name)
		assert.Zero(t, field.Size, name)
	}
}
