package relay

import (
	"bytes"
	"encoding/json"

	"relay/internal/app/message"
)

type sendPayload struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	Text        json.RawMessage `json:"text"`
	Attachments json.RawMessage `json:"attachments"`
	ReplyTo     json.RawMessage `json:"replyTo"`
}

type editPayload struct {
	MessageID string          `json:"messageId"`
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	NewText   json.RawMessage `json:"newText"`
	Text      json.RawMessage `json:"text"`
}

type deletePayload struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	UserID    string `json:"userId"`
}

// Ack is the single reply to an inbound mutation.
type Ack struct {
	OK    bool             `json:"ok"`
	Error string           `json:"error,omitempty"`
	Msg   *message.Message `json:"msg,omitempty"`
}

func okAck() Ack {
	return Ack{OK: true}
}

func failAck(err error) Ack {
	return Ack{OK: false, Error: message.Reason(err)}
}

func decodeSend(raw json.RawMessage) (message.CreateInput, error) {
	var p sendPayload
	if err := decodeObject(raw, &p); err != nil {
		return message.CreateInput{}, err
	}
	text, _ := stringValue(p.Text)
	return message.CreateInput{
		ID:          p.ID,
		AuthorID:    p.UserID,
		DisplayName: p.Name,
		Body:        text,
		Attachments: attachmentsValue(p.Attachments),
		ReplyTo:     replyValue(p.ReplyTo),
	}, nil
}

func decodeEdit(raw json.RawMessage) (message.EditInput, error) {
	var p editPayload
	if err := decodeObject(raw, &p); err != nil {
		return message.EditInput{}, err
	}
	in := message.EditInput{ID: firstNonEmpty(p.MessageID, p.ID), AuthorID: p.UserID}
	if s, ok := stringValue(p.NewText); ok {
		in.Body = &s
	} else if s, ok := stringValue(p.Text); ok {
		in.Body = &s
	}
	return in, nil
}

func decodeDelete(raw json.RawMessage) (message.DeleteInput, error) {
	var p deletePayload
	if err := decodeObject(raw, &p); err != nil {
		return message.DeleteInput{}, err
	}
	return message.DeleteInput{ID: firstNonEmpty(p.MessageID, p.ID), AuthorID: p.UserID}, nil
}

// decodeObject rejects anything that is not a JSON object, including a
// missing payload.
func decodeObject(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return message.ErrInvalidPayload
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return message.ErrInvalidPayload
	}
	return nil
}

func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// attachmentsValue yields an empty list for anything that is not a list of
// attachment objects.
func attachmentsValue(raw json.RawMessage) []message.Attachment {
	var out []message.Attachment
	if len(raw) == 0 || json.Unmarshal(raw, &out) != nil || out == nil {
		return []message.Attachment{}
	}
	return out
}

// replyValue accepts either a bare message id or a {id, name, text} object.
func replyValue(raw json.RawMessage) *message.ReplyRef {
	if s, ok := stringValue(raw); ok {
		if s == "" {
			return nil
		}
		return &message.ReplyRef{ID: s}
	}
	var ref message.ReplyRef
	if len(raw) == 0 || json.Unmarshal(raw, &ref) != nil || ref.ID == "" {
		return nil
	}
	return &ref
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
