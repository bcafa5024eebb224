package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/janvangent1/CHrocodile/device"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/utils"
)

type continuousRun struct {
	interval time.Duration
	workers  *utils.Workers
	// done is closed when the loop returns, including when it stops on its own.
	done chan struct{}
}

func (run *continuousRun) exited() bool {
	select {
	case <-run.done:
		return true
	default:
		return false
	}
}

// StartContinuous starts measuring every interval on a dedicated worker. A tick that fires
// while the previous measurement is still in flight is skipped, never queued.
func (o *Orchestrator) StartContinuous(interval time.Duration) error {
	if interval < MinInterval {
		return errors.Wrapf(ErrInvalidInterval, "%s is below the minimum of %s", interval, MinInterval)
	}

	o.continuousMu.Lock()
	defer o.continuousMu.Unlock()

	if o.run != nil {
		if !o.run.exited() {
			return ErrAlreadyRunning
		}
		// The loop stopped on its own; reap it.
		o.run.workers.Stop()
		o.run = nil
	}
	status := o.Status()
	if !status.Connected {
		return ErrNotConnected
	}
	if status.Degraded {
		return ErrDegraded
	}

	run := &continuousRun{interval: interval, done: make(chan struct{})}
	o.updateStatus(func(s *Status) {
		s.Continuous = true
		s.Interval = interval
		s.ConsecutiveFailures = 0
	})
	run.workers = utils.NewWorkers(context.Background(), func(ctx context.Context) {
		o.continuousLoop(ctx, run)
	})
	o.run = run

	o.logger.Infow("continuous measurement started", "interval", interval)
	o.notify(func(obs Observer) { obs.ContinuousChanged(true) })
	return nil
}

// StopContinuous stops the continuous loop and waits for it to exit. When it returns no
// continuous measurement is in flight. Stopping a stopped loop does nothing.
func (o *Orchestrator) StopContinuous() {
	o.continuousMu.Lock()
	defer o.continuousMu.Unlock()
	o.stopContinuousLocked()
}

// IsRunning reports whether the continuous loop is running.
func (o *Orchestrator) IsRunning() bool {
	o.continuousMu.Lock()
	defer o.continuousMu.Unlock()
	return o.run != nil && !o.run.exited()
}

// stopContinuousLocked must hold continuousMu.
func (o *Orchestrator) stopContinuousLocked() {
	if o.run == nil {
		return
	}
	run := o.run
	o.run = nil
	wasRunning := !run.exited()
	run.workers.Stop()
	if !wasRunning {
		return
	}
	o.updateStatus(func(s *Status) { s.Continuous = false })
	o.logger.Infow("continuous measurement stopped")
	o.notify(func(obs Observer) { obs.ContinuousChanged(false) })
}

func (o *Orchestrator) continuousLoop(ctx context.Context, run *continuousRun) {
	defer close(run.done)

	ticker := o.clock.Ticker(run.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// A stop request lets the measurement in flight finish; the timeout still bounds it.
		_, err := o.MeasureOnce(context.WithoutCancel(ctx), measurement.SourceContinuous)
		switch {
		case err == nil:
			o.updateStatus(func(s *Status) { s.ConsecutiveFailures = 0 })
		case errors.Is(err, ErrNotConnected), errors.Is(err, device.ErrSessionLost):
			o.logger.Warnw("continuous measurement ended, session closed", "error", err)
			o.continuousEnded()
			return
		default:
			var failures int
			o.updateStatus(func(s *Status) {
				s.ConsecutiveFailures++
				failures = s.ConsecutiveFailures
			})
			if failures >= o.cfg.MaxConsecutiveFailures {
				o.degrade(errors.Wrapf(err, "continuous measurement failed %d times in a row", failures))
				return
			}
			o.logger.Warnw("continuous measurement failed, retrying next period",
				"consecutive_failures", failures, "error", err)
		}

		// Drop ticks that fired while measuring.
		select {
		case <-ticker.C:
		default:
		}
	}
}

// continuousEnded records that the loop stopped on its own.
func (o *Orchestrator) continuousEnded() {
	o.updateStatus(func(s *Status) { s.Continuous = false })
	o.notify(func(obs Observer) { obs.ContinuousChanged(false) })
}

func (o *Orchestrator) degrade(err error) {
	o.updateStatus(func(s *Status) {
		s.Degraded = true
		s.DegradedReason = err.Error()
	})
	o.logger.Errorw("continuous measurement degraded, reconnect to resume", "error", err)
	o.continuousEnded()
	o.notify(func(obs Observer) { obs.Degraded(err) })
}
