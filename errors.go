package debugbar

import "errors"

var (
	// ErrCapacity is returned when storing a dump would exceed the byte budget
	// of its request. Callers should omit or stub the dump. It is not retried.
	ErrCapacity = errors.New("request dump budget exceeded")

	// ErrNotFound is returned when a dump or late log set doesn't exist, has
	// expired, or was requested with a malformed identifier.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the request validator rejects a request
	// for debug data.
	ErrUnauthorized = errors.New("not authorized")

	// ErrInvalidID is returned when a request ID or dump ID is malformed.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrClosed is returned by stores that have been closed.
	ErrClosed = errors.New("closed")
)
