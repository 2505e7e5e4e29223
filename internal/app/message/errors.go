package message

import "errors"

var (
	ErrInvalidPayload      = errors.New("invalid message payload")
	ErrNotFound            = errors.New("message not found")
	ErrForbidden           = errors.New("not allowed")
	ErrNotFoundOrForbidden = errors.New("message not found or not allowed")
	ErrDuplicateID         = errors.New("duplicate message id")
	ErrStorage             = errors.New("storage error")
)

// Caller-facing reasons carried in {ok:false, error}. Not-found and
// wrong-author collapse into one reason so callers cannot probe for other
// users' message ids.
const (
	ReasonInvalidPayload = "invalid message payload"
	ReasonNotAllowed     = "message not found or not allowed"
	ReasonDuplicateID    = "duplicate message id"
	ReasonServerError    = "server error"
)

// Reason maps an engine error to the string sent back to the caller. Anything
// unrecognised is reported as a server error; details stay in the server log.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPayload):
		return ReasonInvalidPayload
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFoundOrForbidden):
		return ReasonNotAllowed
	case errors.Is(err, ErrDuplicateID):
		return ReasonDuplicateID
	default:
		return ReasonServerError
	}
}
