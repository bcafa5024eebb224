package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/janvangent1/CHrocodile/config"
	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/measurement"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	err := app.Run(append([]string{"chrocodiled"}, args...))
	return out.String(), err
}

func TestMeasureSimulated(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "out.csv")
	out, err := runApp(t, "measure", "--simulate", "-n", "3", "--csv", csvPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "THICKNESS (UM)")
	test.That(t, out, test.ShouldContainSubstring, "simulated")
	test.That(t, out, test.ShouldContainSubstring, "MEDIAN")

	data, err := os.ReadFile(csvPath)
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	test.That(t, lines, test.ShouldHaveLength, 4)
	test.That(t, lines[0], test.ShouldStartWith, "sequence,timestamp")
}

func TestMeasureCSVToStdout(t *testing.T) {
	out, err := runApp(t, "measure", "--simulate", "-n", "2", "--csv", "-")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "sequence,timestamp,relative_s")
}

func TestMeasureErrors(t *testing.T) {
	_, err := runApp(t, "measure", "--simulate", "-n", "0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--count must be positive")

	_, err = runApp(t, "measure", "--address", "")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no sensor address")
}

func TestSpectrumSimulated(t *testing.T) {
	out, err := runApp(t, "spectrum", "--simulate")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "SEPARATION")
	test.That(t, out, test.ShouldContainSubstring, "1200")
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chrocodiled.json5")
	test.That(t, os.WriteFile(path, []byte(`{
		device: {simulate: true},
		controller: {enabled: true, variables: {prefix: "MAIN."}},
	}`), 0o600), test.ShouldBeNil)

	out, err := runApp(t, "validate", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "simulated")
	test.That(t, out, test.ShouldContainSubstring, "memory, prefix MAIN.")
	test.That(t, out, test.ShouldContainSubstring, "MAIN.bTriggerMeasurement")
	test.That(t, out, test.ShouldContainSubstring, "MAIN.sError")
	test.That(t, out, test.ShouldContainSubstring, "is valid")

	test.That(t, os.WriteFile(path, []byte(`{buffer: {capacity: -3}}`), 0o600), test.ShouldBeNil)
	_, err = runApp(t, "validate", path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "buffer.capacity")

	_, err = runApp(t, "validate")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDaemon(t *testing.T) {
	cfg, err := config.FromReader(strings.NewReader(`{
		device: {simulate: true},
		continuous: {interval: "20ms", auto_start: true},
		controller: {enabled: true, poll_interval: "10ms", reenable_interval: "30ms"},
		metrics: {address: "127.0.0.1:0", status_interval: "50ms"},
	}`))
	test.That(t, err, test.ShouldBeNil)
	logger, logs := logging.NewObservedTestLogger(t)

	d, err := newDaemon(cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() { done <- d.run(ctx, ready) }()
	addr := <-ready
	test.That(t, addr, test.ShouldNotBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, d.orch.Buffer().Len(), test.ShouldBeGreaterThanOrEqualTo, 3)
		test.That(tb, d.bridge.Stats().Published, test.ShouldBeGreaterThan, 0)
		test.That(tb, logs.FilterMessage("status").Len(), test.ShouldBeGreaterThan, 0)
	})
	test.That(t, d.jobs.Jobs(), test.ShouldResemble, []string{reenableJob, statusJob})

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	test.That(t, err, test.ShouldBeNil)
	body, err := io.ReadAll(resp.Body)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(body), test.ShouldContainSubstring, `chrocodile_measurements_total{source="continuous"}`)
	test.That(t, string(body), test.ShouldContainSubstring, "chrocodile_controller_published_total")

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
	test.That(t, d.orch.IsConnected(), test.ShouldBeFalse)
}

func TestDaemonConnectFailure(t *testing.T) {
	cfg, err := config.FromReader(strings.NewReader(`{device: {address: "serial://"}}`))
	test.That(t, err, test.ShouldBeNil)
	d, err := newDaemon(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.run(context.Background(), nil), test.ShouldNotBeNil)
}

func TestStatusSummarizesRecentMeasurements(t *testing.T) {
	cfg, err := config.FromReader(strings.NewReader(`{device: {simulate: true}}`))
	test.That(t, err, test.ShouldBeNil)
	logger, logs := logging.NewObservedTestLogger(t)
	d, err := newDaemon(cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	test.That(t, d.orch.Connect(ctx, "", true), test.ShouldBeNil)
	defer func() { test.That(t, d.orch.Disconnect(ctx), test.ShouldBeNil) }()
	for i := 0; i < 3; i++ {
		_, err := d.orch.MeasureOnce(ctx, measurement.SourceManual)
		test.That(t, err, test.ShouldBeNil)
	}

	test.That(t, d.logStatus(ctx), test.ShouldBeNil)
	test.That(t, d.logStatus(ctx), test.ShouldBeNil)
	entries := logs.FilterMessage("status").All()
	test.That(t, entries, test.ShouldHaveLength, 2)
	test.That(t, entries[0].ContextMap()["recent"], test.ShouldEqual, int64(3))
	test.That(t, entries[0].ContextMap(), test.ShouldContainKey, "mean_um")
	test.That(t, entries[1].ContextMap()["recent"], test.ShouldEqual, int64(0))
	test.That(t, d.orch.Buffer().Len(), test.ShouldEqual, 3)
}
