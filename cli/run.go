package cli

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/janvangent1/CHrocodile/config"
	"github.com/janvangent1/CHrocodile/controller"
	"github.com/janvangent1/CHrocodile/jobmanager"
	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/metrics"
	"github.com/janvangent1/CHrocodile/orchestrator"
)

const (
	shutdownTimeout = 5 * time.Second

	statusJob   = "status"
	reenableJob = "reenable_controller_variables"
)

// RunAction runs the daemon until it receives SIGINT or SIGTERM.
func RunAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool(runFlagContinuous) {
		cfg.Continuous.AutoStart = true
	}
	logger, closer, err := newLogger(c, cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		logger.Sync()
		//nolint:errcheck
		closer.Close()
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	return d.run(ctx, nil)
}

// daemon ties the orchestrator to the controller bridge, the metrics endpoint and the
// status job.
type daemon struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *prometheus.Registry
	orch     *orchestrator.Orchestrator
	jobs     *jobmanager.Jobmanager

	bridge     *controller.Bridge
	closeTable func(context.Context) error

	// statusSeq is the newest sequence summarized by the status job.
	statusSeq atomic.Uint64
}

func newDaemon(cfg *config.Config, logger logging.Logger) (*daemon, error) {
	registry := prometheus.NewRegistry()
	observer, err := metrics.NewObserver(registry)
	if err != nil {
		return nil, err
	}
	orch, err := newOrchestrator(cfg, logger, orchestrator.WithObserver(observer))
	if err != nil {
		return nil, err
	}
	jobs, err := jobmanager.New(logger)
	if err != nil {
		return nil, err
	}
	return &daemon{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		orch:     orch,
		jobs:     jobs,
	}, nil
}

// run connects the sensor and serves until ctx is done. If ready is not nil it receives the
// address of the metrics listener once everything is up.
func (d *daemon) run(ctx context.Context, ready chan<- net.Addr) (err error) {
	d.jobs.Start()
	defer func() {
		err = multierr.Combine(err, d.shutdown())
	}()

	if err := d.orch.Connect(ctx, d.cfg.Device.Address, d.cfg.Device.Simulate); err != nil {
		return err
	}
	// The bridge observes the orchestrator, so it starts before continuous measurement.
	if d.cfg.Controller.Enabled {
		if err := d.startBridge(ctx); err != nil {
			return err
		}
		if interval := d.cfg.Controller.ReenableInterval; interval > 0 {
			err := d.jobs.AddJob(jobmanager.JobConfig{Name: reenableJob, Schedule: interval.String()}, d.reenableVariables)
			if err != nil {
				return err
			}
		}
	}
	if d.cfg.Continuous.AutoStart {
		if err := d.orch.StartContinuous(d.cfg.Continuous.Interval); err != nil {
			return err
		}
	}
	if d.cfg.Metrics.StatusInterval > 0 {
		err := d.jobs.AddJob(jobmanager.JobConfig{
			Name:     statusJob,
			Schedule: d.cfg.Metrics.StatusInterval.String(),
		}, d.logStatus)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	var addr net.Addr
	if d.cfg.Metrics.Address != "" {
		lis, err := net.Listen("tcp", d.cfg.Metrics.Address)
		if err != nil {
			return errors.Wrap(err, "metrics listener")
		}
		addr = lis.Addr()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		d.logger.Infow("serving metrics", "address", addr.String())
	}
	d.logger.Infow("chrocodiled running",
		"simulated", d.cfg.Device.Simulate,
		"continuous", d.cfg.Continuous.AutoStart,
		"controller", d.cfg.Controller.Enabled,
		"jobs", d.jobs.Jobs())
	if ready != nil {
		ready <- addr
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func (d *daemon) startBridge(ctx context.Context) error {
	table, closeTable, err := openTable(ctx, d.cfg.Controller, d.logger)
	if err != nil {
		return err
	}
	d.closeTable = closeTable
	bridge, err := controller.NewBridge(table, d.orch, d.orch.Buffer(), d.cfg.BridgeConfig(), d.logger.Sublogger("controller"))
	if err != nil {
		return err
	}
	if err := metrics.RegisterBridge(d.registry, bridge.Stats); err != nil {
		return err
	}
	d.orch.AddObserver(bridge)
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	d.bridge = bridge
	return nil
}

// shutdown stops the bridge before disconnecting so no trigger reaches a closing session.
func (d *daemon) shutdown() error {
	if d.bridge != nil {
		d.bridge.Stop()
	}
	errs := d.jobs.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs = multierr.Combine(errs, d.orch.Disconnect(ctx))
	if d.closeTable != nil {
		errs = multierr.Combine(errs, d.closeTable(ctx))
	}
	return errs
}

// logStatus logs the session state and a summary of the measurements taken since its last run.
func (d *daemon) logStatus(ctx context.Context) error {
	status := d.orch.Status()
	recent := d.orch.Buffer().Since(d.statusSeq.Load())
	if len(recent) > 0 {
		d.statusSeq.Store(recent[len(recent)-1].Sequence)
	}
	summary, err := measurement.Summarize(recent)
	if err != nil {
		return err
	}
	fields := []interface{}{
		"connected", status.Connected,
		"continuous", status.Continuous,
		"degraded", status.Degraded,
		"measurements", status.Measurements,
		"failures", status.TotalFailures,
		"recent", summary.Count,
	}
	if status.Connected {
		fields = append(fields, "uptime", units.HumanDuration(time.Since(status.ConnectedAt)))
	}
	if summary.Count > 0 {
		fields = append(fields, "mean_um", summary.Mean, "stddev_um", summary.StdDev)
	}
	if d.bridge != nil {
		fields = append(fields, "controller_state", d.bridge.State().String())
		if disabled := d.bridge.DisabledVariables(); len(disabled) > 0 {
			fields = append(fields, "disabled_variables", disabled)
		}
	}
	d.logger.Infow("status", fields...)
	return nil
}

// reenableVariables gives controller variables disabled after write timeouts another try.
func (d *daemon) reenableVariables(ctx context.Context) error {
	d.bridge.ResetDisabledVariables()
	return nil
}
