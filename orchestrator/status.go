package orchestrator

import (
	"time"
)

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Connected   bool
	Simulated   bool
	Address     string
	SessionID   string
	ConnectedAt time.Time

	Continuous bool
	Interval   time.Duration

	// Degraded is set when the continuous loop stopped after too many consecutive failures.
	Degraded       bool
	DegradedReason string

	TotalFailures int
	// ConsecutiveFailures counts failures of the continuous loop since its last success.
	ConsecutiveFailures int
	LastError           string
	LastErrorAt         time.Time
	LastMeasurementAt   time.Time

	// Measurements is the sequence number of the newest measurement ever buffered.
	Measurements uint64
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.statusMu.Lock()
	status := o.status
	o.statusMu.Unlock()
	status.Measurements = o.buffer.LastSequence()
	return status
}

// IsConnected reports whether a session is open.
func (o *Orchestrator) IsConnected() bool {
	return o.Status().Connected
}

func (o *Orchestrator) updateStatus(fn func(s *Status)) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	fn(&o.status)
}

func (o *Orchestrator) recordFailure(err error) {
	now := o.clock.Now()
	o.updateStatus(func(s *Status) {
		s.TotalFailures++
		s.LastError = err.Error()
		s.LastErrorAt = now
	})
}
