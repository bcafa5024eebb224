package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/janvangent1/CHrocodile/config"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/spectrum"
)

func renderMeasurements(w io.Writer, ms []measurement.Measurement) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Time", "Thickness (um)", "Peak 1", "Peak 2", "Source"})
	for _, m := range ms {
		t.AppendRow(table.Row{
			m.Sequence,
			m.Timestamp.Format("15:04:05.000"),
			formatValue(m.ThicknessMicrons, m.HasThickness(), 3),
			formatValue(m.Peak1, m.HasPeaks(), 1),
			formatValue(m.Peak2, m.HasPeaks(), 1),
			m.Source.String(),
		})
	}
	t.Render()
}

func renderSummary(w io.Writer, s measurement.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Count", "Missing", "Mean", "Std dev", "Min", "Max", "Median"})
	t.AppendRow(table.Row{
		s.Count,
		s.Missing,
		fmt.Sprintf("%.3f", s.Mean),
		fmt.Sprintf("%.3f", s.StdDev),
		fmt.Sprintf("%.3f", s.Min),
		fmt.Sprintf("%.3f", s.Max),
		fmt.Sprintf("%.3f", s.Median),
	})
	t.Render()
}

func renderPeaks(w io.Writer, samples int, p spectrum.Peaks, ok bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Samples", "Peak 1", "Peak 2", "Separation", "Estimated"})
	if !ok {
		t.AppendRow(table.Row{samples, "-", "-", "-", "-"})
	} else {
		t.AppendRow(table.Row{samples, p.First, p.Second, p.Separation(), p.Estimated})
	}
	t.Render()
}

func renderConfig(w io.Writer, cfg *config.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Setting", "Value"})
	address := cfg.Device.Address
	if cfg.Device.Simulate {
		address = "simulated"
	}
	s := cfg.Device.Settings
	rows := []table.Row{
		{"device", address},
		{"measuring mode", s.Mode.String()},
		{"rate", fmt.Sprintf("%d Hz", s.RateHz)},
		{"refractive index", strconv.FormatFloat(s.RefractiveIndex, 'f', -1, 64)},
		{"measure timeout", cfg.Device.MeasureTimeout.String()},
		{"buffer capacity", cfg.Buffer.Capacity},
		{"continuous interval", cfg.Continuous.Interval.String()},
		{"continuous auto start", cfg.Continuous.AutoStart},
		{"controller", controllerSummary(cfg.Controller)},
		{"metrics", orNone(cfg.Metrics.Address)},
		{"status every", durationOrNone(cfg.Metrics.StatusInterval)},
		{"log file", orNone(cfg.Log.File)},
	}
	if cfg.Controller.Enabled {
		rows = append(rows,
			table.Row{"controller variables", strings.Join(cfg.Controller.Variables.Symbols(), "\n")},
			table.Row{"re-enable variables every", durationOrNone(cfg.Controller.ReenableInterval)},
		)
	}
	for _, row := range rows {
		t.AppendRow(row)
	}
	t.Render()
}

func controllerSummary(c config.ControllerConfig) string {
	switch {
	case !c.Enabled:
		return "disabled"
	case c.Transport == config.TransportOPCUA:
		return fmt.Sprintf("opcua %s, prefix %s", c.OPCUA.Endpoint, c.Variables.Prefix)
	default:
		return fmt.Sprintf("%s, prefix %s", c.Transport, c.Variables.Prefix)
	}
}

func formatValue(v float64, ok bool, prec int) string {
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func durationOrNone(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.String()
}
