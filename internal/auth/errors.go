package auth

import (
	"errors"
	"fmt"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")

	ErrMissingToken = errors.New("missing token")
	// ErrInvalidCredentials covers unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("inactive user")

	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")

	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

type RateLimitError struct {
	RetryAfterSeconds int
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("too many login attempts, retry after %ds", e.RetryAfterSeconds)
}
