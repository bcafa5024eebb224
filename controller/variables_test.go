package controller

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/janvangent1/CHrocodile/logging"
)

func TestVariables(t *testing.T) {
	vars := Variables{Prefix: "MAIN.", Thickness: "rLayer"}
	vars.ApplyDefaults()
	test.That(t, vars.Validate(), test.ShouldBeNil)
	test.That(t, vars.Symbol(vars.Thickness), test.ShouldEqual, "MAIN.rLayer")
	test.That(t, vars.Symbol(vars.TriggerMeasurement), test.ShouldEqual, "MAIN.bTriggerMeasurement")
	test.That(t, len(vars.Symbols()), test.ShouldEqual, 11)

	vars.Ack = "bMeasurementAck"
	test.That(t, vars.Symbols(), test.ShouldContain, "MAIN.bMeasurementAck")

	vars.Ack = vars.MeasurementReady
	test.That(t, vars.Validate(), test.ShouldNotBeNil)
}

func TestWriteGuard(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	guard := newWriteGuard(2, logger)
	timeout := func() error { return errors.Wrap(context.DeadlineExceeded, "write b") }

	test.That(t, guard.do("a", func() error { return nil }), test.ShouldBeNil)
	test.That(t, guard.do("b", timeout), test.ShouldNotBeNil)
	// A success in between resets the count.
	test.That(t, guard.do("b", func() error { return nil }), test.ShouldBeNil)
	test.That(t, guard.do("b", timeout), test.ShouldNotBeNil)
	test.That(t, guard.list(), test.ShouldBeEmpty)
	test.That(t, guard.do("b", timeout), test.ShouldNotBeNil)
	test.That(t, guard.list(), test.ShouldResemble, []string{"b"})
	test.That(t, logs.FilterMessageSnippet("disabling controller variable").Len(), test.ShouldEqual, 1)

	called := false
	err := guard.do("b", func() error {
		called = true
		return nil
	})
	test.That(t, err, test.ShouldEqual, errVariableDisabled)
	test.That(t, called, test.ShouldBeFalse)

	test.That(t, guard.reset(), test.ShouldResemble, []string{"b"})
	test.That(t, guard.reset(), test.ShouldBeEmpty)
	test.That(t, guard.do("b", func() error { return nil }), test.ShouldBeNil)
}

func TestWriteGuardIgnoresFastFailures(t *testing.T) {
	logger := logging.NewTestLogger(t)
	guard := newWriteGuard(2, logger)
	timeout := func() error { return errors.Wrap(context.DeadlineExceeded, "write c") }
	refused := func() error { return errors.New("access denied") }

	for i := 0; i < 5; i++ {
		test.That(t, guard.do("c", refused), test.ShouldNotBeNil)
	}
	test.That(t, guard.list(), test.ShouldBeEmpty)

	// An error that is not a timeout breaks a run of timeouts.
	test.That(t, guard.do("c", timeout), test.ShouldNotBeNil)
	test.That(t, guard.do("c", refused), test.ShouldNotBeNil)
	test.That(t, guard.do("c", timeout), test.ShouldNotBeNil)
	test.That(t, guard.list(), test.ShouldBeEmpty)
	test.That(t, guard.do("c", timeout), test.ShouldNotBeNil)
	test.That(t, guard.list(), test.ShouldResemble, []string{"c"})
}
