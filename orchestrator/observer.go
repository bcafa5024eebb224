package orchestrator

import (
	"github.com/janvangent1/CHrocodile/measurement"
)

// An Observer is told about measurement outcomes and state changes. Methods are called
// synchronously from the goroutine that caused the event, never while the session lock is held,
// and must not block.
type Observer interface {
	MeasurementTaken(m measurement.Measurement)
	MeasurementFailed(source measurement.Source, err error)
	ContinuousChanged(running bool)
	ConnectionChanged(connected, simulated bool)
	Degraded(err error)
}

// NoopObserver implements Observer with methods that do nothing. Embed it to implement only
// the events of interest.
type NoopObserver struct{}

// MeasurementTaken does nothing.
func (NoopObserver) MeasurementTaken(measurement.Measurement) {}

// MeasurementFailed does nothing.
func (NoopObserver) MeasurementFailed(measurement.Source, error) {}

// ContinuousChanged does nothing.
func (NoopObserver) ContinuousChanged(bool) {}

// ConnectionChanged does nothing.
func (NoopObserver) ConnectionChanged(bool, bool) {}

// Degraded does nothing.
func (NoopObserver) Degraded(error) {}
