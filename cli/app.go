// Package cli contains the chrocodiled command line: the measurement daemon and the one-shot
// commands used when commissioning a sensor.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	generalFlagConfig  = "config"
	generalFlagDebug   = "debug"
	flagAddress        = "address"
	flagSimulate       = "simulate"
	measureFlagCount   = "count"
	measureFlagEvery   = "every"
	measureFlagCSV     = "csv"
	spectrumFlagRaw    = "raw"
	runFlagContinuous  = "continuous"
	defaultMeasureRuns = 1
)

var deviceFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  flagAddress,
		Usage: "sensor address, overriding the config (host[:port], tcp://host[:port] or serial:///dev/ttyUSB0)",
	},
	&cli.BoolFlag{
		Name:  flagSimulate,
		Usage: "use the simulated sensor",
	},
}

var app = &cli.App{
	Name:            "chrocodiled",
	Usage:           "measure film thickness with a CHRocodile sensor",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "run",
			Usage: "run the measurement daemon with its controller bridge and metrics endpoint",
			Flags: append([]cli.Flag{
				&cli.BoolFlag{
					Name:  runFlagContinuous,
					Usage: "start continuous measurement once connected",
				},
			}, deviceFlags...),
			Action: RunAction,
		},
		{
			Name:  "measure",
			Usage: "take measurements and print them",
			Flags: append([]cli.Flag{
				&cli.IntFlag{
					Name:    measureFlagCount,
					Aliases: []string{"n"},
					Value:   defaultMeasureRuns,
					Usage:   "number of measurements",
				},
				&cli.DurationFlag{
					Name:  measureFlagEvery,
					Usage: "pause between measurements",
				},
				&cli.StringFlag{
					Name:  measureFlagCSV,
					Usage: "also write the measurements as CSV to `FILE` (- for stdout)",
				},
			}, deviceFlags...),
			Action: MeasureAction,
		},
		{
			Name:  "spectrum",
			Usage: "download one spectrum and locate its interface peaks",
			Flags: append([]cli.Flag{
				&cli.BoolFlag{
					Name:  spectrumFlagRaw,
					Usage: "print every sample",
				},
			}, deviceFlags...),
			Action: SpectrumAction,
		},
		{
			Name:      "validate",
			Usage:     "check a configuration file and print the effective settings",
			ArgsUsage: "[FILE]",
			Action:    ValidateAction,
		},
	},
}

// NewApp returns the application writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
