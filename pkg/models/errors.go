package models

import "errors"

// Error taxonomy shared across the core and the HTTP boundary.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("not authorized")
	ErrPeerOffline   = errors.New("peer offline")
	ErrTerminalState = errors.New("resource is in a terminal state")
)
