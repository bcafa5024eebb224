// Package measurement defines thickness measurements and the bounded buffer that holds the
// most recent ones.
package measurement

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Source identifies what caused a measurement to be taken.
type Source int

// The known measurement sources.
const (
	SourceManual Source = iota
	SourceContinuous
	SourceExternalTrigger
	SourceSimulated
)

func (s Source) String() string {
	switch s {
	case SourceManual:
		return "manual"
	case SourceContinuous:
		return "continuous"
	case SourceExternalTrigger:
		return "external_trigger"
	case SourceSimulated:
		return "simulated"
	default:
		return "unknown"
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "manual":
		return SourceManual, nil
	case "continuous":
		return SourceContinuous, nil
	case "external_trigger":
		return SourceExternalTrigger, nil
	case "simulated":
		return SourceSimulated, nil
	}
	return 0, errors.Errorf("unknown measurement source %q", s)
}

// A Measurement is one thickness reading. Sequence is assigned by the Buffer on insertion;
// a Measurement is never modified after that. Peak positions are NaN when the device did not
// report them.
type Measurement struct {
	Sequence         uint64
	Timestamp        time.Time
	ThicknessMicrons float64
	Peak1            float64
	Peak2            float64
	Source           Source
}

// HasThickness reports whether the thickness value is a number.
func (m Measurement) HasThickness() bool {
	return !math.IsNaN(m.ThicknessMicrons)
}

// HasPeaks reports whether both peak positions were reported.
func (m Measurement) HasPeaks() bool {
	return !math.IsNaN(m.Peak1) && !math.IsNaN(m.Peak2)
}
