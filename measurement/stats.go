package measurement

import (
	"github.com/montanaflynn/stats"
	"go.uber.org/multierr"
)

// Summary describes the thickness values of a set of measurements. Measurements without a
// thickness value are counted in Missing and otherwise ignored.
type Summary struct {
	Count   int
	Missing int
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64
	Median  float64
}

// Summarize computes a Summary over ms. A zero Summary is returned if no measurement carries a
// thickness value.
func Summarize(ms []Measurement) (Summary, error) {
	var summary Summary
	values := make(stats.Float64Data, 0, len(ms))
	for _, m := range ms {
		if !m.HasThickness() {
			summary.Missing++
			continue
		}
		values = append(values, m.ThicknessMicrons)
	}
	summary.Count = len(values)
	if summary.Count == 0 {
		return summary, nil
	}

	var err, errs error
	summary.Mean, err = stats.Mean(values)
	errs = multierr.Combine(errs, err)
	summary.StdDev, err = stats.StandardDeviation(values)
	errs = multierr.Combine(errs, err)
	summary.Min, err = stats.Min(values)
	errs = multierr.Combine(errs, err)
	summary.Max, err = stats.Max(values)
	errs = multierr.Combine(errs, err)
	summary.Median, err = stats.Median(values)
	errs = multierr.Combine(errs, err)
	return summary, errs
}
