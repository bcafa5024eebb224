package measurement

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var csvHeader = []string{"sequence", "timestamp", "relative_s", "thickness_um", "peak1", "peak2", "source"}

// WriteCSV writes ms as CSV with a header row. relative_s is the time since the first
// measurement. Missing values are written as empty fields.
func WriteCSV(w io.Writer, ms []Measurement) error {
	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		return errors.Wrap(err, "writing csv header")
	}

	var first time.Time
	if len(ms) > 0 {
		first = ms[0].Timestamp
	}
	for _, m := range ms {
		record := []string{
			strconv.FormatUint(m.Sequence, 10),
			m.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(m.Timestamp.Sub(first).Seconds(), 'f', 3, 64),
			formatOptional(m.ThicknessMicrons, m.HasThickness()),
			formatOptional(m.Peak1, m.HasPeaks()),
			formatOptional(m.Peak2, m.HasPeaks()),
			m.Source.String(),
		}
		if err := out.Write(record); err != nil {
			return errors.Wrapf(err, "writing measurement %d", m.Sequence)
		}
	}
	out.Flush()
	return errors.Wrap(out.Error(), "flushing csv")
}

func formatOptional(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}
