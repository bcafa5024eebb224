// Package fake implements a simulated sensor session that produces plausible film thickness
// readings and spectra without any I/O.
package fake

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/janvangent1/CHrocodile/device"
	"github.com/janvangent1/CHrocodile/logging"
)

// Address is the address the simulated opener reports in logs.
const Address = "simulated"

// Config controls the synthetic readings.
type Config struct {
	// BaseThickness is the value readings scatter around, in microns.
	BaseThickness float64 `json:"base_thickness"`
	// MinThickness and MaxThickness bound every reading.
	MinThickness float64 `json:"min_thickness"`
	MaxThickness float64 `json:"max_thickness"`
	// Jitter is the standard deviation of the gaussian noise added to BaseThickness.
	Jitter float64 `json:"jitter"`
	// Delay is how long each Measure call takes at least.
	Delay time.Duration `json:"delay"`
	// SpectrumPoints is the length of downloaded spectra.
	SpectrumPoints int `json:"spectrum_points"`
	// Seed seeds the generator. Zero seeds from the clock.
	Seed int64 `json:"seed"`
}

// DefaultConfig returns readings of 90 ± 2 µm clamped to [60, 120].
func DefaultConfig() Config {
	return Config{
		BaseThickness:  90,
		MinThickness:   60,
		MaxThickness:   120,
		Jitter:         2,
		SpectrumPoints: 1200,
	}
}

// Validate checks that the thickness range is consistent.
func (cfg Config) Validate() error {
	if cfg.MinThickness >= cfg.MaxThickness {
		return errors.Errorf("simulation min_thickness (%g) must be below max_thickness (%g)",
			cfg.MinThickness, cfg.MaxThickness)
	}
	if cfg.Jitter < 0 {
		return errors.Errorf("simulation jitter must not be negative, got %g", cfg.Jitter)
	}
	if cfg.Delay < 0 {
		return errors.Errorf("simulation delay must not be negative, got %s", cfg.Delay)
	}
	if cfg.SpectrumPoints < 100 {
		return errors.Errorf("simulation spectrum_points must be at least 100, got %d", cfg.SpectrumPoints)
	}
	return nil
}

// Session is a simulated sensor session.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	settings device.Settings
	count    int
	closed   bool
	logger   logging.Logger
}

// NewSession returns an open simulated session.
func NewSession(cfg Config, logger logging.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Session{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)), //nolint:gosec
		settings: device.DefaultSettings(),
		logger:   logger,
	}, nil
}

// NewOpener returns an opener that ignores the address and opens simulated sessions.
func NewOpener(cfg Config, logger logging.Logger) device.Opener {
	return device.OpenerFunc(func(ctx context.Context, address string) (device.Session, error) {
		s, err := NewSession(cfg, logger)
		if err != nil {
			return nil, &device.ConnectError{Address: Address, Err: err}
		}
		return s, nil
	})
}

// Measure waits for the configured delay and returns a synthetic reading.
func (s *Session) Measure(ctx context.Context) (device.Reading, error) {
	if err := s.wait(ctx); err != nil {
		return device.Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return device.Reading{}, device.NewMeasureError(device.MeasureTransport, device.ErrSessionLost)
	}
	thickness := s.thicknessLocked()
	s.count++
	return device.Reading{
		ThicknessMicrons: thickness,
		Peak1:            5000 + (thickness-60)*50 + s.rng.NormFloat64()*100,
		Peak2:            6000 + (thickness-60)*50 + s.rng.NormFloat64()*100,
	}, nil
}

// DownloadSpectrum returns a synthetic two-peak interference spectrum whose peak separation
// grows with the current thickness.
func (s *Session) DownloadSpectrum(ctx context.Context) (device.Spectrum, error) {
	if err := s.wait(ctx); err != nil {
		return device.Spectrum{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return device.Spectrum{}, device.NewMeasureError(device.MeasureTransport, device.ErrSessionLost)
	}

	thickness := s.thicknessLocked()
	n := s.cfg.SpectrumPoints
	peak1Pos := float64(int(float64(n) * 0.3))
	peak2Pos := peak1Pos + float64(int((thickness-60)/60*200))
	peak2Pos = math.Min(peak2Pos, float64(n-50))
	peak1Amp := 8000 + (thickness-60)*30
	peak2Amp := 7000 + (thickness-60)*30
	const width = 20.0

	samples := make([]uint16, n)
	for i := range samples {
		x := float64(i)
		v := 1000 + s.rng.NormFloat64()*50
		v += peak1Amp * math.Exp(-math.Pow((x-peak1Pos)/width, 2))
		v += peak2Amp * math.Exp(-math.Pow((x-peak2Pos)/width, 2))
		v += s.rng.NormFloat64() * 100
		samples[i] = uint16(math.Min(math.Max(v, 0), math.MaxUint16))
	}
	return device.Spectrum{Samples: samples, CapturedAt: time.Now()}, nil
}

// ApplySettings records the settings. The simulation does not depend on them.
func (s *Session) ApplySettings(ctx context.Context, settings device.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.logger.Debugw("applied simulated settings", "mode", settings.Mode, "rate_hz", settings.RateHz)
	return nil
}

// Settings returns the settings last applied.
func (s *Session) Settings() device.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// DarkReference pretends to record a dark reference.
func (s *Session) DarkReference(ctx context.Context) (float64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return 1500 + s.rng.Float64()*100, nil
}

// Close marks the session closed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) wait(ctx context.Context) error {
	if s.cfg.Delay <= 0 {
		if err := ctx.Err(); err != nil {
			return device.NewMeasureError(device.MeasureTransport, err)
		}
		return nil
	}
	if !goutils.SelectContextOrWait(ctx, s.cfg.Delay) {
		return device.NewMeasureError(device.MeasureTransport, ctx.Err())
	}
	return nil
}

func (s *Session) thicknessLocked() float64 {
	return clamp(s.cfg.BaseThickness+s.rng.NormFloat64()*s.cfg.Jitter, s.cfg.MinThickness, s.cfg.MaxThickness)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
