package market

import "errors"

// Common errors
var (
	// ErrEmptyRequest is returned when a market request has neither a
	// preload window nor the stream flag.
	ErrEmptyRequest = errors.New("market request needs preload or stream")

	// ErrInvalidInterval is returned when an interval starts after it ends.
	ErrInvalidInterval = errors.New("interval start is after end")

	// ErrUnknownKind is returned for unrecognized order book message kinds.
	ErrUnknownKind = errors.New("unknown order book kind")
)
