package auth

import (
	"errors"

	"qms/waitless-service/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// ValidationError carries a client-facing message and matches
// store.ErrInvalidInput under errors.Is.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) Unwrap() error {
	return store.ErrInvalidInput
}
