// Package orchestrator owns the sensor session and runs every measurement through it: manual
// requests, the continuous loop and controller triggers all end up in MeasureOnce, which
// serializes access to the device and records results in the buffer.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/janvangent1/CHrocodile/device"
	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/utils"
)

const (
	// DefaultMeasureTimeout bounds each call into the session.
	DefaultMeasureTimeout = 2 * time.Second
	// DefaultConnectTimeout bounds opening and configuring a session.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultCloseTimeout bounds closing a session.
	DefaultCloseTimeout = 2 * time.Second
	// DefaultMaxConsecutiveFailures is how many continuous measurements in a row may fail
	// before the loop gives up.
	DefaultMaxConsecutiveFailures = 5
	// DefaultInterval is the continuous period used when none is given.
	DefaultInterval = 100 * time.Millisecond
	// MinInterval is the shortest continuous period accepted.
	MinInterval = 10 * time.Millisecond
)

// Config holds the orchestrator's timeouts and failure policy.
type Config struct {
	MeasureTimeout         time.Duration
	ConnectTimeout         time.Duration
	CloseTimeout           time.Duration
	MaxConsecutiveFailures int
	// Settings are applied to every session that supports them right after it opens.
	Settings device.Settings
}

// DefaultConfig returns the default timeouts, failure ceiling and acquisition settings.
func DefaultConfig() Config {
	return Config{
		MeasureTimeout:         DefaultMeasureTimeout,
		ConnectTimeout:         DefaultConnectTimeout,
		CloseTimeout:           DefaultCloseTimeout,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		Settings:               device.DefaultSettings(),
	}
}

func (cfg *Config) applyDefaults() {
	def := DefaultConfig()
	if cfg.MeasureTimeout <= 0 {
		cfg.MeasureTimeout = def.MeasureTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.Settings == (device.Settings{}) {
		cfg.Settings = def.Settings
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the clock driving the continuous loop and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clk
	}
}

// WithObserver registers an observer at construction.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, obs)
	}
}

// An Orchestrator owns at most one sensor session.
type Orchestrator struct {
	buffer    *measurement.Buffer
	opener    device.Opener
	simulator device.Opener
	cfg       Config
	clock     clock.Clock
	logger    logging.Logger

	// sessionMu serializes every call into the session. Lock order: continuousMu, sessionMu.
	sessionMu sync.Mutex
	session   device.Session
	simulated bool
	settings  device.Settings

	continuousMu sync.Mutex
	run          *continuousRun

	statusMu sync.Mutex
	status   Status

	observersMu sync.RWMutex
	observers   []Observer
}

// New returns a disconnected orchestrator. opener opens real sessions and simulator opens
// simulated ones; either may be nil, in which case connecting that way fails.
func New(
	buffer *measurement.Buffer,
	opener device.Opener,
	simulator device.Opener,
	cfg Config,
	logger logging.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if buffer == nil {
		return nil, errors.New("orchestrator needs a result buffer")
	}
	if opener == nil && simulator == nil {
		return nil, errors.New("orchestrator needs at least one session opener")
	}
	cfg.applyDefaults()
	if err := cfg.Settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid device settings")
	}
	o := &Orchestrator{
		buffer:    buffer,
		opener:    opener,
		simulator: simulator,
		cfg:       cfg,
		clock:     clock.New(),
		logger:    logger,
		settings:  cfg.Settings,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Buffer returns the buffer measurements are appended to.
func (o *Orchestrator) Buffer() *measurement.Buffer {
	return o.buffer
}

// AddObserver registers obs for all future events.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.observersMu.Lock()
	defer o.observersMu.Unlock()
	o.observers = append(o.observers, obs)
}

// Connect opens a session to address, or a simulated session when simulate is set, and
// applies the current settings to it. On failure the orchestrator stays disconnected and the
// error is a *device.ConnectError. A successful Connect clears the degraded state.
func (o *Orchestrator) Connect(ctx context.Context, address string, simulate bool) error {
	o.sessionMu.Lock()
	if o.session != nil {
		o.sessionMu.Unlock()
		return ErrAlreadyConnected
	}

	opener := o.opener
	if simulate {
		opener = o.simulator
	}
	if opener == nil {
		o.sessionMu.Unlock()
		return &device.ConnectError{Address: address, Err: errors.New("no opener configured for this kind of session")}
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()
	stopSlowLog := utils.SlowLogger(ctx, o.clock, o.logger, "still connecting to sensor", "address", address)
	session, err := o.openLocked(ctx, opener, address)
	stopSlowLog()
	if err != nil {
		o.sessionMu.Unlock()
		o.logger.Warnw("connect failed", "address", address, "simulated", simulate, "error", err)
		return err
	}
	o.session = session
	o.simulated = simulate
	id := uuid.NewString()
	o.updateStatus(func(s *Status) {
		s.Connected = true
		s.Simulated = simulate
		s.Address = address
		s.SessionID = id
		s.ConnectedAt = o.clock.Now()
		s.Degraded = false
		s.DegradedReason = ""
		s.ConsecutiveFailures = 0
	})
	o.sessionMu.Unlock()

	o.logger.Infow("connected", "address", address, "simulated", simulate, "session", id)
	o.notify(func(obs Observer) { obs.ConnectionChanged(true, simulate) })
	return nil
}

func (o *Orchestrator) openLocked(ctx context.Context, opener device.Opener, address string) (device.Session, error) {
	session, err := opener.Open(ctx, address)
	if err != nil {
		var cerr *device.ConnectError
		if !errors.As(err, &cerr) {
			err = &device.ConnectError{Address: address, Err: err}
		}
		return nil, err
	}
	if configurer, ok := session.(device.Configurer); ok {
		if err := configurer.ApplySettings(ctx, o.settings); err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CloseTimeout)
			defer cancel()
			return nil, &device.ConnectError{
				Address: address,
				Err:     multierr.Combine(errors.Wrap(err, "applying settings"), session.Close(closeCtx)),
			}
		}
	}
	return session, nil
}

// Disconnect stops the continuous loop, waits for any measurement in flight and closes the
// session. It does nothing when already disconnected.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.continuousMu.Lock()
	defer o.continuousMu.Unlock()
	o.stopContinuousLocked()

	o.sessionMu.Lock()
	if o.session == nil {
		o.sessionMu.Unlock()
		return nil
	}
	err := o.closeSessionLocked(ctx)
	o.sessionMu.Unlock()

	o.logger.Infow("disconnected")
	o.notify(func(obs Observer) { obs.ConnectionChanged(false, false) })
	return err
}

// closeSessionLocked closes the session and forgets it even if Close fails. Must hold sessionMu.
func (o *Orchestrator) closeSessionLocked(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CloseTimeout)
	defer cancel()
	err := o.session.Close(closeCtx)
	o.session = nil
	o.simulated = false
	o.updateStatus(func(s *Status) {
		s.Connected = false
		s.Simulated = false
		s.Address = ""
		s.SessionID = ""
	})
	return errors.Wrap(err, "closing sensor session")
}

// withSession runs fn with exclusive access to the session and a context bounded by the
// measure timeout. If fn reports the session lost, the session is closed and forgotten.
func (o *Orchestrator) withSession(ctx context.Context, fn func(ctx context.Context, s device.Session, simulated bool) error) error {
	o.sessionMu.Lock()
	if o.session == nil {
		o.sessionMu.Unlock()
		return ErrNotConnected
	}
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.MeasureTimeout)
	err := fn(callCtx, o.session, o.simulated)
	cancel()

	lost := err != nil && errors.Is(err, device.ErrSessionLost)
	if lost {
		o.logger.Errorw("sensor session lost, disconnecting", "error", err)
		if closeErr := o.closeSessionLocked(ctx); closeErr != nil {
			o.logger.Debugw("closing lost session", "error", closeErr)
		}
	}
	o.sessionMu.Unlock()

	if lost {
		o.notify(func(obs Observer) { obs.ConnectionChanged(false, false) })
	}
	return err
}

// MeasureOnce takes one measurement and appends it to the buffer. Manual measurements taken
// on a simulated session are recorded with SourceSimulated. Failures are not buffered; they
// are *device.MeasureError unless the orchestrator is disconnected.
func (o *Orchestrator) MeasureOnce(ctx context.Context, source measurement.Source) (measurement.Measurement, error) {
	var m measurement.Measurement
	err := o.withSession(ctx, func(ctx context.Context, s device.Session, simulated bool) error {
		reading, err := s.Measure(ctx)
		if err != nil {
			return asMeasureError(err)
		}
		if simulated && source == measurement.SourceManual {
			source = measurement.SourceSimulated
		}
		m = o.buffer.Append(measurement.Measurement{
			Timestamp:        o.clock.Now(),
			ThicknessMicrons: reading.ThicknessMicrons,
			Peak1:            reading.Peak1,
			Peak2:            reading.Peak2,
			Source:           source,
		})
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotConnected) {
			o.recordFailure(err)
			o.notify(func(obs Observer) { obs.MeasurementFailed(source, err) })
		}
		return measurement.Measurement{}, err
	}

	o.updateStatus(func(s *Status) { s.LastMeasurementAt = m.Timestamp })
	o.notify(func(obs Observer) { obs.MeasurementTaken(m) })
	return m, nil
}

// DownloadSpectrum returns the raw spectrum. It is not buffered.
func (o *Orchestrator) DownloadSpectrum(ctx context.Context) (device.Spectrum, error) {
	var spectrum device.Spectrum
	err := o.withSession(ctx, func(ctx context.Context, s device.Session, _ bool) error {
		var err error
		spectrum, err = s.DownloadSpectrum(ctx)
		if err != nil {
			return asMeasureError(err)
		}
		return nil
	})
	return spectrum, err
}

// ApplySettings validates settings, applies them to the open session and keeps them for
// later sessions.
func (o *Orchestrator) ApplySettings(ctx context.Context, settings device.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return o.withSession(ctx, func(ctx context.Context, s device.Session, _ bool) error {
		configurer, ok := s.(device.Configurer)
		if !ok {
			return device.ErrUnsupported
		}
		if err := configurer.ApplySettings(ctx, settings); err != nil {
			return err
		}
		o.settings = settings
		o.logger.Infow("applied settings", "mode", settings.Mode, "rate_hz", settings.RateHz,
			"refractive_index", settings.RefractiveIndex)
		return nil
	})
}

// Settings returns the settings applied to new sessions.
func (o *Orchestrator) Settings() device.Settings {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()
	return o.settings
}

// DarkReference records a dark reference and returns the saturation frequency in Hz.
func (o *Orchestrator) DarkReference(ctx context.Context) (float64, error) {
	var freq float64
	err := o.withSession(ctx, func(ctx context.Context, s device.Session, _ bool) error {
		referencer, ok := s.(device.DarkReferencer)
		if !ok {
			return device.ErrUnsupported
		}
		var err error
		freq, err = referencer.DarkReference(ctx)
		return err
	})
	if err == nil {
		o.logger.Infow("dark reference recorded", "saturation_hz", freq)
	}
	return freq, err
}

func (o *Orchestrator) notify(fn func(Observer)) {
	o.observersMu.RLock()
	defer o.observersMu.RUnlock()
	for _, obs := range o.observers {
		fn(obs)
	}
}

func asMeasureError(err error) error {
	var merr *device.MeasureError
	if errors.As(err, &merr) {
		return err
	}
	return device.NewMeasureError(device.MeasureTransport, err)
}
