package models

import (
	"errors"
)

// Validation errors: bad input shape, never retried.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidText   = errors.New("doubt text is empty or too long")
	ErrInvalidPoll   = errors.New("poll needs a question and at least two non-empty options")
	ErrInvalidOption = errors.New("option index out of range")
)

// State conflicts: a legitimate race with another actor.
var (
	ErrSessionNotLive  = errors.New("session is not live")
	ErrAlreadyLive     = errors.New("course already has a live session")
	ErrNotLive         = errors.New("session has already ended")
	ErrAlreadyAnswered = errors.New("doubt has already been answered")
	ErrPollClosed      = errors.New("this poll has closed")
	ErrAlreadyClosed   = errors.New("poll is already closed")
)

var (
	ErrNotAuthorized    = errors.New("not authorized")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Kind groups errors by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotAuthorized
	KindNotFound
	KindUnavailable
)

// KindOf classifies err; unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidText),
		errors.Is(err, ErrInvalidPoll), errors.Is(err, ErrInvalidOption):
		return KindValidation
	case errors.Is(err, ErrSessionNotLive), errors.Is(err, ErrAlreadyLive),
		errors.Is(err, ErrNotLive), errors.Is(err, ErrAlreadyAnswered),
		errors.Is(err, ErrPollClosed), errors.Is(err, ErrAlreadyClosed):
		return KindConflict
	case errors.Is(err, ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return KindUnavailable
	}
	return KindInternal
}

// Retryable reports whether a caller may retry the operation that produced err.
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
