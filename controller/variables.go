package controller

import (
	"github.com/pkg/errors"
)

// DefaultPrefix is prepended to every variable name.
const DefaultPrefix = "GVL_CHRocodile."

// Variables names the symbols the bridge reads and writes. Each name is joined to Prefix to
// form the symbol used against the Table.
type Variables struct {
	Prefix string `json:"prefix"`

	TriggerMeasurement string `json:"trigger_measurement"`
	StartContinuous    string `json:"start_continuous"`
	StopContinuous     string `json:"stop_continuous"`
	IntervalMs         string `json:"interval_ms"`

	MeasurementBusy  string `json:"measurement_busy"`
	MeasurementReady string `json:"measurement_ready"`
	Thickness        string `json:"thickness"`
	Peak1            string `json:"peak1"`
	Peak2            string `json:"peak2"`
	MeasurementCount string `json:"measurement_count"`
	Error            string `json:"error"`

	// Ack is optional. When set, its rising edge acknowledges a Ready result.
	Ack string `json:"ack,omitempty"`
}

// DefaultVariables returns the symbol names used by the controller project.
func DefaultVariables() Variables {
	return Variables{
		Prefix:             DefaultPrefix,
		TriggerMeasurement: "bTriggerMeasurement",
		StartContinuous:    "bStartContinuous",
		StopContinuous:     "bStopContinuous",
		IntervalMs:         "nIntervalMs",
		MeasurementBusy:    "bMeasurementBusy",
		MeasurementReady:   "bMeasurementReady",
		Thickness:          "rThickness",
		Peak1:              "rPeak1",
		Peak2:              "rPeak2",
		MeasurementCount:   "nMeasurementCount",
		Error:              "sError",
	}
}

// ApplyDefaults fills every empty name except Prefix and Ack with its default.
func (v *Variables) ApplyDefaults() {
	def := DefaultVariables()
	setDefault(&v.TriggerMeasurement, def.TriggerMeasurement)
	setDefault(&v.StartContinuous, def.StartContinuous)
	setDefault(&v.StopContinuous, def.StopContinuous)
	setDefault(&v.IntervalMs, def.IntervalMs)
	setDefault(&v.MeasurementBusy, def.MeasurementBusy)
	setDefault(&v.MeasurementReady, def.MeasurementReady)
	setDefault(&v.Thickness, def.Thickness)
	setDefault(&v.Peak1, def.Peak1)
	setDefault(&v.Peak2, def.Peak2)
	setDefault(&v.MeasurementCount, def.MeasurementCount)
	setDefault(&v.Error, def.Error)
}

func setDefault(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// Validate reports names used for more than one variable.
func (v Variables) Validate() error {
	seen := map[string]bool{}
	for _, name := range v.names() {
		if name == "" {
			continue
		}
		if seen[name] {
			return errors.Errorf("controller variable %q is used twice", name)
		}
		seen[name] = true
	}
	return nil
}

func (v Variables) names() []string {
	return []string{
		v.TriggerMeasurement, v.StartContinuous, v.StopContinuous, v.IntervalMs,
		v.MeasurementBusy, v.MeasurementReady, v.Thickness, v.Peak1, v.Peak2,
		v.MeasurementCount, v.Error, v.Ack,
	}
}

// Symbol returns the full symbol for name.
func (v Variables) Symbol(name string) string {
	return v.Prefix + name
}

// Symbols returns every configured symbol, prefix included.
func (v Variables) Symbols() []string {
	var out []string
	for _, name := range v.names() {
		if name != "" {
			out = append(out, v.Symbol(name))
		}
	}
	return out
}
