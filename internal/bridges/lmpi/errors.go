package lmpi

import "errors"

// Domain errors for the lmpi package.
var (
	// ErrDialFailed is returned when the TCP connection to a reader host cannot
	// be established.
	ErrDialFailed = errors.New("lmpi: dial failed")

	// ErrInvalidMessage is returned when an inbound frame cannot be decoded.
	ErrInvalidMessage = errors.New("lmpi: invalid message")

	// ErrProtocolDesync is returned when the stream can no longer be framed
	// (unknown message type, negative or oversized length). The connection
	// must be dropped.
	ErrProtocolDesync = errors.New("lmpi: protocol desync")

	// ErrUnknownCommand is returned when a command name is not recognised.
	ErrUnknownCommand = errors.New("lmpi: unknown command")
)
