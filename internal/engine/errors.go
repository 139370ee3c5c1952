package engine

import "errors"

var (
	// ErrSourceUnreadable means the source could not be scanned or a
	// decoder could not be opened. Nothing is written.
	ErrSourceUnreadable = errors.New("engine: source unreadable")

	// ErrEncoderRejected means the sink refused data or failed to finish.
	// The partial output is removed.
	ErrEncoderRejected = errors.New("engine: encoder rejected data")

	// ErrCancelled is the error form of a user cancellation. Results carry
	// progress.StatusCancelled instead of this error.
	ErrCancelled = errors.New("engine: cancelled")

	// ErrDegenerateInput covers empty sources and non-positive target
	// durations, frame rates or block sizes.
	ErrDegenerateInput = errors.New("engine: empty or degenerate input")
)
