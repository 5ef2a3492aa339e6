package service

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrSecretNotFound  = errors.New("room secret not found")
	ErrDuplicateName   = errors.New("room name already exists")
	ErrForbidden       = errors.New("not a member of this room")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidCode     = errors.New("invalid or expired code")
	ErrBadReference    = errors.New("malformed room reference")
	ErrSessionInactive = errors.New("ai session is no longer active")
	ErrNotJoined       = errors.New("connection has not joined a room")
)
