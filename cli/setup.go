package cli

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/janvangent1/CHrocodile/config"
	"github.com/janvangent1/CHrocodile/controller"
	"github.com/janvangent1/CHrocodile/controller/memtable"
	"github.com/janvangent1/CHrocodile/controller/opcuatable"
	"github.com/janvangent1/CHrocodile/device/chr"
	"github.com/janvangent1/CHrocodile/device/fake"
	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/orchestrator"
)

// loadConfig reads the file named by --config, or the defaults without one, and applies the
// device flags of the current command.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String(generalFlagConfig); path != "" {
		cfg, err = config.Read(path)
	} else {
		cfg, err = config.FromReader(strings.NewReader(""))
	}
	if err != nil {
		return nil, err
	}
	if c.IsSet(flagAddress) {
		cfg.Device.Address = c.String(flagAddress)
	}
	if c.Bool(flagSimulate) {
		cfg.Device.Simulate = true
	}
	if !cfg.Device.Simulate && cfg.Device.Address == "" {
		return nil, errors.New("no sensor address; pass --address or --simulate")
	}
	return cfg, nil
}

// newLogger builds the root logger. The returned closer releases the log file, if any.
func newLogger(c *cli.Context, cfg config.LogConfig) (logging.Logger, io.Closer, error) {
	level, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if c.Bool(generalFlagDebug) {
		level = logging.DEBUG
	}
	logger := logging.NewLogger("chrocodiled")
	logger.SetLevel(level)
	logging.ReplaceGlobal(logger)
	if cfg.File == "" {
		return logger, nopCloser{}, nil
	}
	appender := logging.NewFileAppender(cfg.File, cfg.FileOptions())
	logger.AddAppender(appender)
	return logger, appender, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newOrchestrator(cfg *config.Config, logger logging.Logger, opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	buffer, err := measurement.NewBuffer(cfg.Buffer.Capacity)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(
		buffer,
		chr.NewOpener(chr.Config{}, logger.Sublogger("chr")),
		fake.NewOpener(cfg.Device.Simulation, logger.Sublogger("simulator")),
		cfg.OrchestratorConfig(),
		logger.Sublogger("orchestrator"),
		opts...,
	)
}

// openTable opens the controller variable table of the configured transport.
func openTable(ctx context.Context, cfg config.ControllerConfig, logger logging.Logger) (controller.Table, func(context.Context) error, error) {
	switch cfg.Transport {
	case config.TransportOPCUA:
		table, err := opcuatable.Dial(ctx, cfg.OPCUA, logger.Sublogger("opcua"))
		if err != nil {
			return nil, nil, err
		}
		return table, table.Close, nil
	case config.TransportMemory:
		logger.Warn("controller transport is in-memory; no controller is attached")
		return memtable.New(), func(context.Context) error { return nil }, nil
	default:
		return nil, nil, errors.Errorf("unknown controller transport %q", cfg.Transport)
	}
}
