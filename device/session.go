// Package device defines the contract every thickness sensor session implements, whether it
// talks to real hardware or synthesizes readings.
package device

import (
	"context"
	"math"
	"time"
)

// A Session is an open connection to one sensor. Calls are blocking and bounded by the
// context deadline. A Session is not safe for concurrent use; callers serialize access.
type Session interface {
	// Measure takes a single thickness reading. Failures are *MeasureError.
	Measure(ctx context.Context) (Reading, error)

	// DownloadSpectrum returns the raw detector spectrum.
	DownloadSpectrum(ctx context.Context) (Spectrum, error)

	// Close releases the connection. Closing twice is not an error.
	Close(ctx context.Context) error
}

// An Opener opens sessions to an address. Failures are *ConnectError.
type Opener interface {
	Open(ctx context.Context, address string) (Session, error)
}

// OpenerFunc adapts a function to an Opener.
type OpenerFunc func(ctx context.Context, address string) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, address string) (Session, error) {
	return f(ctx, address)
}

// Reading is the result of one Measure call. Values the device did not report are NaN.
type Reading struct {
	ThicknessMicrons float64
	Peak1            float64
	Peak2            float64
}

// NewReading returns a Reading carrying only a thickness value.
func NewReading(thickness float64) Reading {
	return Reading{ThicknessMicrons: thickness, Peak1: math.NaN(), Peak2: math.NaN()}
}

// Spectrum is a raw detector spectrum.
type Spectrum struct {
	Samples    []uint16
	CapturedAt time.Time
}
