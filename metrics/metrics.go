// Package metrics exports measurement activity to Prometheus.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/janvangent1/CHrocodile/controller"
	"github.com/janvangent1/CHrocodile/device"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/orchestrator"
)

const namespace = "chrocodile"

// Observer records orchestrator events as Prometheus metrics.
type Observer struct {
	measurements *prometheus.CounterVec
	failures     *prometheus.CounterVec
	thickness    prometheus.Gauge
	distribution prometheus.Histogram
	connected    prometheus.Gauge
	simulated    prometheus.Gauge
	continuous   prometheus.Gauge
	degraded     prometheus.Gauge
}

var _ orchestrator.Observer = (*Observer)(nil)

// NewObserver creates the metrics and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		measurements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Measurements taken, by source.",
		}, []string{"source"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurement_failures_total",
			Help:      "Failed measurements, by source and kind of failure.",
		}, []string{"source", "kind"}),
		thickness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thickness_microns",
			Help:      "Most recent film thickness.",
		}),
		distribution: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "thickness_distribution_microns",
			Help:      "Distribution of measured film thickness.",
			Buckets:   prometheus.LinearBuckets(50, 5, 17),
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a sensor session is open.",
		}),
		simulated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulated",
			Help:      "1 while the open session is simulated.",
		}),
		continuous: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "continuous_running",
			Help:      "1 while continuous measurement runs.",
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "1 after continuous measurement gave up, until the next connect.",
		}),
	}
	for _, c := range []prometheus.Collector{
		o.measurements, o.failures, o.thickness, o.distribution,
		o.connected, o.simulated, o.continuous, o.degraded,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// MeasurementTaken counts m and records its thickness.
func (o *Observer) MeasurementTaken(m measurement.Measurement) {
	o.measurements.WithLabelValues(m.Source.String()).Inc()
	if m.HasThickness() {
		o.thickness.Set(m.ThicknessMicrons)
		o.distribution.Observe(m.ThicknessMicrons)
	}
}

// MeasurementFailed counts the failure by kind.
func (o *Observer) MeasurementFailed(source measurement.Source, err error) {
	o.failures.WithLabelValues(source.String(), failureKind(err)).Inc()
}

// ContinuousChanged sets the continuous gauge.
func (o *Observer) ContinuousChanged(running bool) {
	o.continuous.Set(boolToFloat(running))
}

// ConnectionChanged sets the connection gauges. Connecting clears the degraded gauge.
func (o *Observer) ConnectionChanged(connected, simulated bool) {
	o.connected.Set(boolToFloat(connected))
	o.simulated.Set(boolToFloat(connected && simulated))
	if connected {
		o.degraded.Set(0)
	}
}

// Degraded sets the degraded gauge.
func (o *Observer) Degraded(error) {
	o.degraded.Set(1)
}

// RegisterBridge exports the controller bridge counters through stats.
func RegisterBridge(reg prometheus.Registerer, stats func() controller.Stats) error {
	counter := func(name, help string, get func(controller.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats())) })
	}
	for _, c := range []prometheus.Collector{
		counter("polls_total", "Successful polls of the variable table.",
			func(s controller.Stats) int64 { return s.Polls }),
		counter("poll_errors_total", "Polls that could not read the variable table.",
			func(s controller.Stats) int64 { return s.PollErrors }),
		counter("triggers_total", "Measurements triggered by the controller.",
			func(s controller.Stats) int64 { return s.Triggers }),
		counter("completed_total", "Triggered measurements handed back as Ready.",
			func(s controller.Stats) int64 { return s.Completed }),
		counter("failed_total", "Triggered measurements that failed.",
			func(s controller.Stats) int64 { return s.Failed }),
		counter("published_total", "Continuous results written to the controller.",
			func(s controller.Stats) int64 { return s.Published }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func failureKind(err error) string {
	var merr *device.MeasureError
	if errors.As(err, &merr) {
		return merr.Kind.String()
	}
	return "other"
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
