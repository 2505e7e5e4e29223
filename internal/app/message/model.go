package message

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Message struct {
	ID          string                          `json:"id" gorm:"primaryKey;type:text"`
	Seq         uint64                          `json:"-" gorm:"autoIncrement;uniqueIndex;index:idx_messages_created_seq,priority:2"`
	AuthorID    string                          `json:"userId" gorm:"type:text;not null;index"`
	DisplayName string                          `json:"name" gorm:"type:text"`
	Body        string                          `json:"text" gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time                       `json:"createdAt" gorm:"not null;index:idx_messages_created_seq,priority:1"`
	Attachments datatypes.JSONSlice[Attachment] `json:"attachments"`
	ReplyTo     *ReplyRef                       `json:"replyTo,omitempty" gorm:"serializer:json;type:jsonb"`
	Deleted     bool                            `json:"deleted" gorm:"not null;default:false;index"`
	DeletedAt   *time.Time                      `json:"deletedAt,omitempty"`
	Edited      bool                            `json:"edited" gorm:"not null;default:false"`
	EditedAt    *time.Time                      `json:"editedAt,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

// ReplyRef points at another message by id. The referenced message may no
// longer exist; nothing enforces the link.
type ReplyRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
}

func (m *Message) AfterFind(*gorm.DB) error {
	normalize(m)
	return nil
}

// Live reports whether the message still counts toward history and retention.
func (m *Message) Live() bool {
	return !m.Deleted
}

type CreateInput struct {
	ID          string
	AuthorID    string
	DisplayName string
	Body        string
	Attachments []Attachment
	ReplyTo     *ReplyRef
}

// EditInput carries the replacement body. A nil Body keeps the stored text but
// still marks the message edited.
type EditInput struct {
	ID       string
	AuthorID string
	Body     *string
}

type DeleteInput struct {
	ID       string
	AuthorID string
}

type MessageListResponse struct {
	Messages []*Message `json:"messages"`
	Total    int        `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
