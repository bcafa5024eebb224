package device

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// MeasuringMode selects the optical principle the sensor uses.
type MeasuringMode int

// The measuring modes.
const (
	ModeConfocal MeasuringMode = iota
	ModeInterferometric
)

func (m MeasuringMode) String() string {
	if m == ModeConfocal {
		return "confocal"
	}
	return "interferometric"
}

// ParseMeasuringMode parses "confocal" or "interferometric".
func ParseMeasuringMode(s string) (MeasuringMode, error) {
	switch strings.ToLower(s) {
	case "confocal":
		return ModeConfocal, nil
	case "interferometric", "":
		return ModeInterferometric, nil
	default:
		return 0, errors.Errorf("unknown measuring mode %q", s)
	}
}

// Settings are the acquisition parameters applied to a session after it opens.
type Settings struct {
	Mode            MeasuringMode `json:"mode"`
	RateHz          int           `json:"rate_hz"`
	DataAverage     int           `json:"data_average"`
	SpectrumAverage int           `json:"spectrum_average"`
	LampIntensity   int           `json:"lamp_intensity"`
	RefractiveIndex float64       `json:"refractive_index"`
}

// DefaultSettings returns the factory acquisition settings for film thickness work.
func DefaultSettings() Settings {
	return Settings{
		Mode:            ModeInterferometric,
		RateHz:          1000,
		DataAverage:     1,
		SpectrumAverage: 1,
		LampIntensity:   50,
		RefractiveIndex: 1.5,
	}
}

// Validate checks that every setting is within the range the sensor accepts.
func (s Settings) Validate() error {
	if s.Mode != ModeConfocal && s.Mode != ModeInterferometric {
		return errors.Errorf("unknown measuring mode %d", s.Mode)
	}
	if s.RateHz < 1 || s.RateHz > 70000 {
		return errors.Errorf("rate_hz must be within [1, 70000], got %d", s.RateHz)
	}
	if s.DataAverage < 1 {
		return errors.Errorf("data_average must be at least 1, got %d", s.DataAverage)
	}
	if s.SpectrumAverage < 1 {
		return errors.Errorf("spectrum_average must be at least 1, got %d", s.SpectrumAverage)
	}
	if s.LampIntensity < 0 || s.LampIntensity > 100 {
		return errors.Errorf("lamp_intensity must be within [0, 100], got %d", s.LampIntensity)
	}
	if s.RefractiveIndex < 1 || s.RefractiveIndex > 4 {
		return errors.Errorf("refractive_index must be within [1, 4], got %g", s.RefractiveIndex)
	}
	return nil
}

// A Configurer is a session whose acquisition settings can be changed.
type Configurer interface {
	ApplySettings(ctx context.Context, settings Settings) error
}

// A DarkReferencer is a session that can record a dark reference. It returns the stray light
// saturation frequency in Hz.
type DarkReferencer interface {
	DarkReference(ctx context.Context) (float64, error)
}
