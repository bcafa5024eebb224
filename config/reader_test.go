package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/janvangent1/CHrocodile/device"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/orchestrator"
)

const sampleConfig = `{
	// Line 3 thickness gauge
	device: {
		address: "${CHR_ADDRESS}",
		measure_timeout: "500ms",
		settings: {mode: "confocal", rate_hz: 2000, refractive_index: 1.46},
	},
	buffer: {capacity: 500},
	continuous: {interval: "250ms", auto_start: true},
	controller: {
		enabled: true,
		transport: "opcua",
		opcua: {endpoint: "opc.tcp://${PLC_HOST}:4840"},
		variables: {prefix: "MAIN.", ack: "bMeasurementAck"},
	},
	metrics: {address: ":9464"},
	log: {level: "debug", file: "/var/log/chrocodiled.log"},
}
`

func TestReadConfig(t *testing.T) {
	t.Setenv("CHR_ADDRESS", "10.0.0.7")
	t.Setenv("PLC_HOST", "plc-line3")
	path := filepath.Join(t.TempDir(), "chrocodiled.json5")
	test.That(t, os.WriteFile(path, []byte(sampleConfig), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.Device.Address, test.ShouldEqual, "10.0.0.7")
	test.That(t, cfg.Device.MeasureTimeout, test.ShouldEqual, 500*time.Millisecond)
	test.That(t, cfg.Device.ConnectTimeout, test.ShouldEqual, orchestrator.DefaultConnectTimeout)
	test.That(t, cfg.Device.Settings.Mode, test.ShouldEqual, device.ModeConfocal)
	test.That(t, cfg.Device.Settings.RateHz, test.ShouldEqual, 2000)
	test.That(t, cfg.Device.Settings.RefractiveIndex, test.ShouldEqual, 1.46)
	// Settings not given keep their defaults.
	test.That(t, cfg.Device.Settings.LampIntensity, test.ShouldEqual, 50)

	test.That(t, cfg.Buffer.Capacity, test.ShouldEqual, 500)
	test.That(t, cfg.Continuous.Interval, test.ShouldEqual, 250*time.Millisecond)
	test.That(t, cfg.Continuous.AutoStart, test.ShouldBeTrue)
	test.That(t, cfg.Continuous.MaxConsecutiveFailures, test.ShouldEqual, orchestrator.DefaultMaxConsecutiveFailures)

	test.That(t, cfg.Controller.OPCUA.Endpoint, test.ShouldEqual, "opc.tcp://plc-line3:4840")
	test.That(t, cfg.Controller.OPCUA.Namespace, test.ShouldEqual, uint16(4))
	test.That(t, cfg.Controller.Variables.Prefix, test.ShouldEqual, "MAIN.")
	test.That(t, cfg.Controller.Variables.Ack, test.ShouldEqual, "bMeasurementAck")
	test.That(t, cfg.Controller.Variables.TriggerMeasurement, test.ShouldEqual, "bTriggerMeasurement")

	oc := cfg.OrchestratorConfig()
	test.That(t, oc.MeasureTimeout, test.ShouldEqual, 500*time.Millisecond)
	test.That(t, oc.Settings.RateHz, test.ShouldEqual, 2000)
	bc := cfg.BridgeConfig()
	test.That(t, bc.PollInterval, test.ShouldEqual, 100*time.Millisecond)
	test.That(t, bc.Variables.Symbol(bc.Variables.Error), test.ShouldEqual, "MAIN.sError")
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(""))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Device.Address, test.ShouldEqual, DefaultDeviceAddress)
	test.That(t, cfg.Buffer.Capacity, test.ShouldEqual, measurement.DefaultCapacity)
	test.That(t, cfg.Controller.Enabled, test.ShouldBeFalse)
	test.That(t, cfg.Controller.Transport, test.ShouldEqual, TransportMemory)
	test.That(t, cfg.Controller.Variables.Prefix, test.ShouldEqual, "GVL_CHRocodile.")
	test.That(t, cfg.Controller.ReenableInterval, test.ShouldEqual, DefaultReenableInterval)
	test.That(t, cfg.Log.Level, test.ShouldEqual, "info")
}

func TestSimulatedConfig(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`{device: {simulate: true, simulation: {base_thickness: 75, delay: "5ms"}}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Device.Simulate, test.ShouldBeTrue)
	test.That(t, cfg.Device.Simulation.BaseThickness, test.ShouldEqual, 75.0)
	test.That(t, cfg.Device.Simulation.Delay, test.ShouldEqual, 5*time.Millisecond)
	test.That(t, cfg.Device.Simulation.MaxThickness, test.ShouldEqual, 120.0)
}

func TestConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		input  string
		errMsg string
	}{
		{"syntax", `{device: `, "parsing config"},
		{"unknown field", `{device: {adress: "x"}}`, "device.adress"},
		{"bad duration", `{continuous: {interval: "fast"}}`, "decoding config"},
		{"short interval", `{continuous: {interval: "1ms"}}`, "continuous.interval"},
		{"bad capacity", `{buffer: {capacity: -1}}`, "buffer.capacity"},
		{"bad mode", `{device: {settings: {mode: "chromatic"}}}`, "measuring mode"},
		{"bad rate", `{device: {settings: {rate_hz: 0}}}`, "rate_hz"},
		{"bad level", `{log: {level: "loud"}}`, "log.level"},
		{"bad transport", `{controller: {enabled: true, transport: "ads"}}`, "controller.transport"},
		{"missing endpoint", `{controller: {enabled: true, transport: "opcua"}}`, "endpoint is required"},
		{"negative reenable", `{controller: {enabled: true, reenable_interval: "-1m"}}`, "reenable_interval"},
		{"duplicate variable", `{controller: {enabled: true, variables: {error: "bTriggerMeasurement"}}}`, "used twice"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tc.input))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}
}
