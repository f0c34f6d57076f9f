package model

import "errors"

// Error kinds. Match them with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrNotReady      = errors.New("not ready")
	ErrUpstream      = errors.New("upstream error")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// Error is a classified failure with a human-readable message. MessageID
// names the translation used when the message is shown to a user.
type Error struct {
	Kind      error
	MessageID string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation returns a validation error.
func Validation(msgID, msg string) *Error {
	return &Error{Kind: ErrValidation, MessageID: msgID, Message: msg}
}

// NotFound returns a not-found error.
func NotFound(msgID, msg string) *Error {
	return &Error{Kind: ErrNotFound, MessageID: msgID, Message: msg}
}

// NotReady returns an error for a class that exists but has no questions.
func NotReady(msgID, msg string) *Error {
	return &Error{Kind: ErrNotReady, MessageID: msgID, Message: msg}
}

// Upstream wraps a store or generator failure. The message is the cause's
// own message so it reaches the caller unchanged.
func Upstream(err error) *Error {
	return &Error{Kind: ErrUpstream, Message: err.Error(), Err: err}
}

// MessageOf returns the message ID and text for err, unwrapping to the
// outermost *Error when there is one.
func MessageOf(err error) (msgID, msg string) {
	var e *Error
	if errors.As(err, &e) {
		return e.MessageID, e.Error()
	}
	return "", err.Error()
}
