package connection

import "errors"

// Domain errors for the connection package.
var (
	// ErrAlreadyStarted is returned by a second call to Manager.Start.
	ErrAlreadyStarted = errors.New("connection: manager already started")

	// ErrStopped is returned by operations issued after Manager.Stop.
	ErrStopped = errors.New("connection: manager stopped")

	// ErrReaderNotTracked is returned when a reader has no registry entry.
	ErrReaderNotTracked = errors.New("connection: reader not tracked")
)
