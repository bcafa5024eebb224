package metrics

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"github.com/janvangent1/CHrocodile/controller"
	"github.com/janvangent1/CHrocodile/device"
	"github.com/janvangent1/CHrocodile/device/fake"
	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/orchestrator"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewObserver(reg)
	test.That(t, err, test.ShouldBeNil)

	obs.ConnectionChanged(true, true)
	test.That(t, testutil.ToFloat64(obs.connected), test.ShouldEqual, 1.0)
	test.That(t, testutil.ToFloat64(obs.simulated), test.ShouldEqual, 1.0)

	obs.MeasurementTaken(measurement.Measurement{ThicknessMicrons: 91.5, Source: measurement.SourceContinuous})
	obs.MeasurementTaken(measurement.Measurement{ThicknessMicrons: 92.5, Source: measurement.SourceContinuous})
	obs.MeasurementTaken(measurement.Measurement{ThicknessMicrons: 90, Source: measurement.SourceManual})
	test.That(t, testutil.ToFloat64(obs.measurements.WithLabelValues("continuous")), test.ShouldEqual, 2.0)
	test.That(t, testutil.ToFloat64(obs.measurements.WithLabelValues("manual")), test.ShouldEqual, 1.0)
	test.That(t, testutil.ToFloat64(obs.thickness), test.ShouldEqual, 90.0)

	obs.MeasurementFailed(measurement.SourceContinuous,
		device.NewMeasureError(device.MeasureTransport, context.DeadlineExceeded))
	obs.MeasurementFailed(measurement.SourceManual, errors.New("boom"))
	test.That(t, testutil.ToFloat64(obs.failures.WithLabelValues("continuous", "timeout")), test.ShouldEqual, 1.0)
	test.That(t, testutil.ToFloat64(obs.failures.WithLabelValues("manual", "other")), test.ShouldEqual, 1.0)

	obs.ContinuousChanged(true)
	test.That(t, testutil.ToFloat64(obs.continuous), test.ShouldEqual, 1.0)
	obs.Degraded(errors.New("too many failures"))
	test.That(t, testutil.ToFloat64(obs.degraded), test.ShouldEqual, 1.0)
	obs.ConnectionChanged(false, false)
	test.That(t, testutil.ToFloat64(obs.connected), test.ShouldEqual, 0.0)
	test.That(t, testutil.ToFloat64(obs.degraded), test.ShouldEqual, 1.0)
	obs.ConnectionChanged(true, false)
	test.That(t, testutil.ToFloat64(obs.degraded), test.ShouldEqual, 0.0)
	test.That(t, testutil.ToFloat64(obs.simulated), test.ShouldEqual, 0.0)

	test.That(t, testutil.CollectAndCount(obs.distribution), test.ShouldEqual, 1)

	_, err = NewObserver(reg)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestObserverWithOrchestrator(t *testing.T) {
	logger := logging.NewTestLogger(t)
	reg := prometheus.NewRegistry()
	obs, err := NewObserver(reg)
	test.That(t, err, test.ShouldBeNil)

	buf, err := measurement.NewBuffer(10)
	test.That(t, err, test.ShouldBeNil)
	orch, err := orchestrator.New(buf, nil, fake.NewOpener(fake.DefaultConfig(), logger),
		orchestrator.DefaultConfig(), logger, orchestrator.WithObserver(obs))
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	test.That(t, orch.Connect(ctx, fake.Address, true), test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		_, err := orch.MeasureOnce(ctx, measurement.SourceManual)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, orch.Disconnect(ctx), test.ShouldBeNil)

	test.That(t, testutil.ToFloat64(obs.measurements.WithLabelValues("simulated")), test.ShouldEqual, 3.0)
	test.That(t, testutil.ToFloat64(obs.connected), test.ShouldEqual, 0.0)
	test.That(t, testutil.ToFloat64(obs.thickness), test.ShouldBeBetweenOrEqual, 60.0, 120.0)
}

func TestRegisterBridge(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := controller.Stats{Polls: 40, PollErrors: 2, Triggers: 3, Completed: 2, Failed: 1, Published: 7}
	test.That(t, RegisterBridge(reg, func() controller.Stats { return stats }), test.ShouldBeNil)

	families, err := reg.Gather()
	test.That(t, err, test.ShouldBeNil)
	values := map[string]float64{}
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
	}
	test.That(t, values["chrocodile_controller_polls_total"], test.ShouldEqual, 40.0)
	test.That(t, values["chrocodile_controller_published_total"], test.ShouldEqual, 7.0)
	test.That(t, len(values), test.ShouldEqual, 6)

	test.That(t, RegisterBridge(reg, func() controller.Stats { return stats }), test.ShouldNotBeNil)
}
