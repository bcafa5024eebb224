package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/janvangent1/CHrocodile/measurement"
)

func TestStartContinuousChecks(t *testing.T) {
	o := newTestOrchestrator(t, &instrumentedSession{}, Config{})
	ctx := context.Background()

	err := o.StartContinuous(5 * time.Millisecond)
	test.That(t, errors.Is(err, ErrInvalidInterval), test.ShouldBeTrue)

	test.That(t, o.Connect(ctx, "sensor", false), test.ShouldBeNil)
	test.That(t, o.StartContinuous(DefaultInterval), test.ShouldBeNil)
	test.That(t, o.IsRunning(), test.ShouldBeTrue)
	test.That(t, errors.Is(o.StartContinuous(DefaultInterval), ErrAlreadyRunning), test.ShouldBeTrue)

	status := o.Status()
	test.That(t, status.Continuous, test.ShouldBeTrue)
	test.That(t, status.Interval, test.ShouldEqual, DefaultInterval)

	o.StopContinuous()
	test.That(t, o.IsRunning(), test.ShouldBeFalse)
	test.That(t, o.Status().Continuous, test.ShouldBeFalse)
	o.StopContinuous()

	test.That(t, o.StartContinuous(DefaultInterval), test.ShouldBeNil)
}

func TestContinuousRate(t *testing.T) {
	t.Run("session faster than the interval", func(t *testing.T) {
		session := &instrumentedSession{delay: 20 * time.Millisecond}
		o := newTestOrchestrator(t, session, Config{})
		ctx := context.Background()
		test.That(t, o.Connect(ctx, "sensor", false), test.ShouldBeNil)

		test.That(t, o.StartContinuous(100*time.Millisecond), test.ShouldBeNil)
		time.Sleep(550 * time.Millisecond)
		o.StopContinuous()

		n := o.Buffer().Len()
		test.That(t, n, test.ShouldBeBetweenOrEqual, 4, 6)
		taken := o.Buffer().Snapshot()
		for i, m := range taken {
			test.That(t, m.Source, test.ShouldEqual, measurement.SourceContinuous)
			if i > 0 {
				test.That(t, m.Timestamp.Sub(taken[i-1].Timestamp), test.ShouldBeGreaterThanOrEqualTo, 80*time.Millisecond)
			}
		}
		test.That(t, session.maxInFlight.Load(), test.ShouldEqual, 1)

		// Nothing is measured after StopContinuous returns.
		time.Sleep(150 * time.Millisecond)
		test.That(t, o.Buffer().Len(), test.ShouldEqual, n)
	})

	t.Run("session slower than the interval", func(t *testing.T) {
		delay := 150 * time.Millisecond
		session := &instrumentedSession{delay: delay}
		o := newTestOrchestrator(t, session, Config{})
		test.That(t, o.Connect(context.Background(), "sensor", false), test.ShouldBeNil)

		test.That(t, o.StartContinuous(100*time.Millisecond), test.ShouldBeNil)
		time.Sleep(700 * time.Millisecond)
		o.StopContinuous()

		// Ticks that fire while measuring are dropped rather than queued.
		taken := o.Buffer().Snapshot()
		test.That(t, len(taken), test.ShouldBeBetweenOrEqual, 2, 4)
		for i := 1; i < len(taken); i++ {
			test.That(t, taken[i].Timestamp.Sub(taken[i-1].Timestamp), test.ShouldBeGreaterThanOrEqualTo, delay)
		}
		test.That(t, session.maxInFlight.Load(), test.ShouldEqual, 1)
	})
}

func TestContinuousTicksOnClock(t *testing.T) {
	clk := clock.NewMock()
	session := &instrumentedSession{}
	o := newTestOrchestrator(t, session, Config{}, WithClock(clk))
	test.That(t, o.Connect(context.Background(), "sensor", false), test.ShouldBeNil)
	test.That(t, o.StartContinuous(50*time.Millisecond), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		clk.Add(50 * time.Millisecond)
		test.That(tb, session.calls.Load(), test.ShouldBeGreaterThanOrEqualTo, 3)
	})
	o.StopContinuous()

	calls := session.calls.Load()
	clk.Add(time.Second)
	test.That(t, session.calls.Load(), test.ShouldEqual, calls)
	test.That(t, o.Buffer().Len(), test.ShouldEqual, int(calls))
}

func TestStopWaitsForInFlightMeasurement(t *testing.T) {
	session := &instrumentedSession{delay: 150 * time.Millisecond}
	o := newTestOrchestrator(t, session, Config{})
	test.That(t, o.Connect(context.Background(), "sensor", false), test.ShouldBeNil)
	test.That(t, o.StartContinuous(MinInterval), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, session.inFlight.Load(), test.ShouldEqual, 1)
	})
	o.StopContinuous()
	test.That(t, session.inFlight.Load(), test.ShouldEqual, 0)

	// The measurement in flight completed and was kept.
	test.That(t, o.Buffer().Len(), test.ShouldBeGreaterThanOrEqualTo, 1)
	calls := session.calls.Load()
	time.Sleep(50 * time.Millisecond)
	test.That(t, session.calls.Load(), test.ShouldEqual, calls)
}

func TestContinuousDegrades(t *testing.T) {
	clk := clock.NewMock()
	session := &instrumentedSession{}
	session.fail.Store(true)
	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 3
	o := newTestOrchestrator(t, session, cfg, WithClock(clk), WithObserver(obs))
	ctx := context.Background()
	test.That(t, o.Connect(ctx, "sensor", false), test.ShouldBeNil)
	test.That(t, o.StartContinuous(DefaultInterval), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		clk.Add(DefaultInterval)
		test.That(tb, o.Status().Degraded, test.ShouldBeTrue)
	})
	test.That(t, session.calls.Load(), test.ShouldEqual, 3)
	test.That(t, o.IsRunning(), test.ShouldBeFalse)

	status := o.Status()
	test.That(t, status.Continuous, test.ShouldBeFalse)
	test.That(t, status.ConsecutiveFailures, test.ShouldEqual, 3)
	test.That(t, status.TotalFailures, test.ShouldEqual, 3)
	test.That(t, status.DegradedReason, test.ShouldContainSubstring, "3 times in a row")
	test.That(t, status.Connected, test.ShouldBeTrue)

	got := obs.snapshot()
	test.That(t, len(got.degraded), test.ShouldEqual, 1)
	test.That(t, got.failed, test.ShouldEqual, 3)
	test.That(t, got.continuous, test.ShouldResemble, []bool{true, false})

	test.That(t, errors.Is(o.StartContinuous(DefaultInterval), ErrDegraded), test.ShouldBeTrue)

	// Manual measurement still works while degraded.
	session.fail.Store(false)
	_, err := o.MeasureOnce(ctx, measurement.SourceManual)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.Status().Degraded, test.ShouldBeTrue)

	// Reconnecting clears it.
	test.That(t, o.Disconnect(ctx), test.ShouldBeNil)
	test.That(t, o.Connect(ctx, "sensor", false), test.ShouldBeNil)
	test.That(t, o.Status().Degraded, test.ShouldBeFalse)
	test.That(t, o.StartContinuous(DefaultInterval), test.ShouldBeNil)
}

func TestContinuousSuccessResetsFailures(t *testing.T) {
	clk := clock.NewMock()
	session := &instrumentedSession{}
	session.fail.Store(true)
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 10
	o := newTestOrchestrator(t, session, cfg, WithClock(clk))
	test.That(t, o.Connect(context.Background(), "sensor", false), test.ShouldBeNil)
	test.That(t, o.StartContinuous(DefaultInterval), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		clk.Add(DefaultInterval)
		test.That(tb, o.Status().ConsecutiveFailures, test.ShouldBeGreaterThanOrEqualTo, 2)
	})
	session.fail.Store(false)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		clk.Add(DefaultInterval)
		test.That(tb, o.Buffer().Len(), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	o.StopContinuous()

	status := o.Status()
	test.That(t, status.ConsecutiveFailures, test.ShouldEqual, 0)
	test.That(t, status.Degraded, test.ShouldBeFalse)
}

func TestContinuousEndsWhenSessionLost(t *testing.T) {
	session := &instrumentedSession{}
	obs := &recordingObserver{}
	o := newTestOrchestrator(t, session, Config{}, WithObserver(obs))
	test.That(t, o.Connect(context.Background(), "sensor", false), test.ShouldBeNil)
	test.That(t, o.StartContinuous(MinInterval), test.ShouldBeNil)

	session.lost.Store(true)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, o.IsRunning(), test.ShouldBeFalse)
	})
	test.That(t, o.IsConnected(), test.ShouldBeFalse)
	test.That(t, o.Status().Degraded, test.ShouldBeFalse)
	test.That(t, session.closed.Load(), test.ShouldBeTrue)

	got := obs.snapshot()
	test.That(t, got.continuous, test.ShouldResemble, []bool{true, false})
	test.That(t, got.connections, test.ShouldResemble, []bool{true, false})
	test.That(t, errors.Is(o.StartContinuous(MinInterval), ErrNotConnected), test.ShouldBeTrue)
}

func TestDisconnectStopsContinuous(t *testing.T) {
	session := &instrumentedSession{delay: 20 * time.Millisecond}
	obs := &recordingObserver{}
	o := newTestOrchestrator(t, session, Config{}, WithObserver(obs))
	ctx := context.Background()
	test.That(t, o.Connect(ctx, "sensor", false), test.ShouldBeNil)
	test.That(t, o.StartContinuous(MinInterval), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, session.calls.Load(), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	test.That(t, o.Disconnect(ctx), test.ShouldBeNil)
	test.That(t, o.IsRunning(), test.ShouldBeFalse)
	test.That(t, session.inFlight.Load(), test.ShouldEqual, 0)
	test.That(t, session.closed.Load(), test.ShouldBeTrue)
	test.That(t, obs.snapshot().continuous, test.ShouldResemble, []bool{true, false})
}
