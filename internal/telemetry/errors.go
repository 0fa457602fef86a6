package telemetry

import "errors"

// Domain errors for the telemetry package.
var (
	// ErrInvalidCommand is returned when a command payload cannot be parsed
	// or names an unknown command.
	ErrInvalidCommand = errors.New("telemetry: invalid command")

	// ErrCommandRejected is returned when the target could not queue a
	// command, usually because the reader is not connected.
	ErrCommandRejected = errors.New("telemetry: command rejected")
)
