package analysis

import "errors"

var (
	// ErrInsufficientIntervals is returned when fewer than two intervals could be found in a recording
	ErrInsufficientIntervals = errors.New("analysis: insufficient intervals")
	// ErrLengthMismatch is returned when the time and load series differ in length
	ErrLengthMismatch = errors.New("analysis: times and loads differ in length")
	// ErrInvalidTiming is returned for a non-positive work duration or negative rest duration
	ErrInvalidTiming = errors.New("analysis: invalid work or rest duration")
)
