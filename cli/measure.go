package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/janvangent1/CHrocodile/config"
	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/orchestrator"
	"github.com/janvangent1/CHrocodile/spectrum"
)

// MeasureAction takes --count measurements, prints them with their summary and optionally
// writes them as CSV.
func MeasureAction(c *cli.Context) error {
	count := c.Int(measureFlagCount)
	if count <= 0 {
		return errors.Errorf("--%s must be positive", measureFlagCount)
	}
	return withSession(c, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		ms, err := measureN(ctx, orch, count, c.Duration(measureFlagEvery))
		if len(ms) > 0 {
			renderMeasurements(c.App.Writer, ms)
			summary, sErr := measurement.Summarize(ms)
			err = multierr.Combine(err, sErr)
			renderSummary(c.App.Writer, summary)
		}
		if path := c.String(measureFlagCSV); path != "" {
			err = multierr.Combine(err, writeCSVFile(c.App.Writer, path, ms))
		}
		return err
	})
}

// measureN takes count measurements, stopping at the first failure. The measurements taken
// before a failure are returned with it.
func measureN(ctx context.Context, orch *orchestrator.Orchestrator, count int, every time.Duration) ([]measurement.Measurement, error) {
	ms := make([]measurement.Measurement, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 && every > 0 {
			select {
			case <-ctx.Done():
				return ms, ctx.Err()
			case <-time.After(every):
			}
		}
		m, err := orch.MeasureOnce(ctx, measurement.SourceManual)
		if err != nil {
			return ms, errors.Wrapf(err, "measurement %d of %d", i+1, count)
		}
		ms = append(ms, m)
	}
	return ms, nil
}

func writeCSVFile(stdout io.Writer, path string, ms []measurement.Measurement) error {
	if path == "-" {
		return measurement.WriteCSV(stdout, ms)
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return multierr.Combine(measurement.WriteCSV(f, ms), f.Close())
}

// SpectrumAction downloads a spectrum and prints the detected peaks.
func SpectrumAction(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		spec, err := orch.DownloadSpectrum(ctx)
		if err != nil {
			return err
		}
		peaks, ok := spectrum.DetectPeaks(spec.Samples)
		renderPeaks(c.App.Writer, len(spec.Samples), peaks, ok)
		if c.Bool(spectrumFlagRaw) {
			for i, v := range spec.Samples {
				fmt.Fprintf(c.App.Writer, "%d\t%d\n", i, v)
			}
		}
		return nil
	})
}

// ValidateAction reads a config file and prints the settings it results in.
func ValidateAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = c.String(generalFlagConfig)
	}
	if path == "" {
		return errors.New("no config file given")
	}
	cfg, err := config.Read(path)
	if err != nil {
		return err
	}
	renderConfig(c.App.Writer, cfg)
	//nolint:errcheck
	color.New(color.FgGreen).Fprintf(c.App.Writer, "%s is valid\n", path)
	return nil
}

// withSession connects a short-lived orchestrator, runs fn and disconnects.
func withSession(c *cli.Context, fn func(ctx context.Context, orch *orchestrator.Orchestrator) error) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := logging.NewLogger("chrocodiled")
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.WARN)
	}
	orch, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	ctx := c.Context
	if err := orch.Connect(ctx, cfg.Device.Address, cfg.Device.Simulate); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, orch.Disconnect(context.WithoutCancel(ctx)))
	}()
	return fn(ctx, orch)
}
