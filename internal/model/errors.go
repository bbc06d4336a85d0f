package model

import "github.com/rotisserie/eris"

var (
	// ErrNotFound is returned when a session, request or report does not exist.
	ErrNotFound = eris.New("not found")
	// ErrUnauthorized is returned when an owner-scoped resource is accessed without a caller.
	ErrUnauthorized = eris.New("unauthorized")
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = eris.New("access denied")
	// ErrConflict is returned when another caller holds the resource.
	ErrConflict = eris.New("conflict")
)
