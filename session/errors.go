package session

import (
	"errors"

	"realmsync/store"
)

// Registration errors
var (
	ErrValidation = errors.New("invalid registration input")
	ErrConflict   = store.ErrConflict
)

// Authentication errors. Callers surface all of them as one generic failure.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrBanned             = errors.New("account banned")
)

// Session errors
var (
	ErrSessionClosed = errors.New("session closed")
	ErrNotFound      = store.ErrNotFound
)

// IsAuthFailure reports errors that must end in LOGIN_FAILED.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrBanned)
}
