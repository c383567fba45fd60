package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrMissingCredentials = errors.New("exchange credentials not configured")
	ErrExchangeAPI        = errors.New("exchange api error")
	ErrLockHeld           = errors.New("lock already held")
	ErrInvalidTransition  = errors.New("invalid position status transition")
)
