package measurement

import (
	"bytes"
	"encoding/csv"
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestWriteCSV(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := []Measurement{
		{Sequence: 1, Timestamp: start, ThicknessMicrons: 91.25, Peak1: 512, Peak2: 810, Source: SourceManual},
		{
			Sequence:         2,
			Timestamp:        start.Add(1500 * time.Millisecond),
			ThicknessMicrons: math.NaN(),
			Peak1:            math.NaN(),
			Peak2:            math.NaN(),
			Source:           SourceContinuous,
		},
	}

	var out bytes.Buffer
	test.That(t, WriteCSV(&out, ms), test.ShouldBeNil)

	records, err := csv.NewReader(&out).ReadAll()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 3)
	test.That(t, records[0], test.ShouldResemble, csvHeader)
	test.That(t, records[1], test.ShouldResemble,
		[]string{"1", "2024-03-01T12:00:00Z", "0.000", "91.250", "512.000", "810.000", "manual"})
	test.That(t, records[2], test.ShouldResemble,
		[]string{"2", "2024-03-01T12:00:01.5Z", "1.500", "", "", "", "continuous"})
}

func TestWriteCSVEmpty(t *testing.T) {
	var out bytes.Buffer
	test.That(t, WriteCSV(&out, nil), test.ShouldBeNil)
	records, err := csv.NewReader(&out).ReadAll()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 1)
}

func TestSummarize(t *testing.T) {
	ms := []Measurement{
		{ThicknessMicrons: 80},
		{ThicknessMicrons: math.NaN()},
		{ThicknessMicrons: 90},
		{ThicknessMicrons: 100},
	}
	summary, err := Summarize(ms)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Count, test.ShouldEqual, 3)
	test.That(t, summary.Missing, test.ShouldEqual, 1)
	test.That(t, summary.Mean, test.ShouldAlmostEqual, 90.0)
	test.That(t, summary.Median, test.ShouldAlmostEqual, 90.0)
	test.That(t, summary.Min, test.ShouldEqual, 80.0)
	test.That(t, summary.Max, test.ShouldEqual, 100.0)
	// population standard deviation of 80, 90, 100
	test.That(t, summary.StdDev, test.ShouldAlmostEqual, math.Sqrt(200.0/3), 1e-9)

	empty, err := Summarize(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.Count, test.ShouldEqual, 0)
}

func TestParseSource(t *testing.T) {
	for _, s := range []Source{SourceManual, SourceContinuous, SourceExternalTrigger, SourceSimulated} {
		parsed, err := ParseSource(s.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, s)
	}
	_, err := ParseSource("plc")
	test.That(t, err, test.ShouldNotBeNil)
}
