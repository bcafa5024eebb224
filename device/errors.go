package device

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSessionLost is wrapped by errors after which the session cannot be used again.
	ErrSessionLost = errors.New("device session lost")

	// ErrUnsupported is returned when a session does not offer a capability.
	ErrUnsupported = errors.New("operation not supported by this session")
)

// MeasureErrorKind classifies why a measurement failed.
type MeasureErrorKind int

// The kinds of measurement failure.
const (
	MeasureTimeout MeasureErrorKind = iota
	MeasureTransport
	MeasureMalformed
)

func (k MeasureErrorKind) String() string {
	switch k {
	case MeasureTimeout:
		return "timeout"
	case MeasureTransport:
		return "transport"
	case MeasureMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// MeasureError is returned when a session call fails.
type MeasureError struct {
	Kind MeasureErrorKind
	Err  error
}

func (e *MeasureError) Error() string {
	return fmt.Sprintf("measurement failed (%s): %v", e.Kind, e.Err)
}

func (e *MeasureError) Unwrap() error {
	return e.Err
}

// NewMeasureError wraps err, classifying context deadline errors as timeouts.
func NewMeasureError(kind MeasureErrorKind, err error) *MeasureError {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = MeasureTimeout
	}
	return &MeasureError{Kind: kind, Err: err}
}

// IsTimeout reports whether err is a MeasureError of kind MeasureTimeout.
func IsTimeout(err error) bool {
	var merr *MeasureError
	return errors.As(err, &merr) && merr.Kind == MeasureTimeout
}

// ConnectError is returned when a session cannot be opened.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("cannot connect to %q: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
