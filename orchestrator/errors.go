package orchestrator

import "github.com/pkg/errors"

var (
	// ErrNotConnected is returned by measurement operations while no session is open.
	ErrNotConnected = errors.New("not connected to a sensor")
	// ErrAlreadyConnected is returned by Connect while a session is open.
	ErrAlreadyConnected = errors.New("already connected to a sensor")
	// ErrAlreadyRunning is returned by StartContinuous while the continuous loop runs.
	ErrAlreadyRunning = errors.New("continuous measurement already running")
	// ErrDegraded is returned by StartContinuous after the continuous loop gave up. It clears
	// on the next successful Connect.
	ErrDegraded = errors.New("continuous measurement stopped after repeated failures, reconnect to resume")
	// ErrInvalidInterval is returned by StartContinuous for intervals below MinInterval.
	ErrInvalidInterval = errors.New("continuous interval too short")
)
