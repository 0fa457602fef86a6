package reader

import "errors"

// Domain errors for the reader package.
var (
	// ErrReaderNotFound is returned when a reader ID does not exist or has
	// been soft-deleted.
	ErrReaderNotFound = errors.New("reader: not found")

	// ErrInvalidReader is returned when reader validation fails.
	ErrInvalidReader = errors.New("reader: invalid")

	// ErrSettingNotFound is returned when a configuration key is absent.
	ErrSettingNotFound = errors.New("reader: setting not found")
)
