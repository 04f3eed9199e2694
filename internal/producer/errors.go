package producer

import (
	"errors"
	"fmt"
)

var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrStreamNotLive       = errors.New("stream is not live")
	ErrEmptyFrame          = errors.New("frame has no data")
	ErrTimestampRegression = errors.New("decoding timestamp went backwards")
	ErrInvalidCodecData    = errors.New("invalid codec private data")
	ErrInvalidTrack        = errors.New("invalid track index")
	ErrInvalidMetadata     = errors.New("invalid fragment metadata")
)

// Error is returned by producer streams when an operation is rejected
type Error struct {
	Op     string // put_frame, format_changed, fragment_metadata
	Stream string
	Err    error
}

func (e *Error) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("producer %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("producer %s on stream %s: %v", e.Op, e.Stream, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Operation names carried by Error
const (
	OpPutFrame         = "put_frame"
	OpFormatChanged    = "format_changed"
	OpFragmentMetadata = "fragment_metadata"
)

// NewError builds an Error for op on stream
func NewError(op, stream string, err error) *Error {
	return &Error{Op: op, Stream: stream, Err: err}
}

// IsProducerError reports whether err is, or wraps, an *Error
func IsProducerError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
