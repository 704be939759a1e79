package domain

import "errors"

var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrSessionExpired = errors.New("session expired")
	ErrUserInactive   = errors.New("user inactive")
	ErrKeyExpired     = errors.New("api key expired")
	ErrKeyRevoked     = errors.New("api key revoked")
)
