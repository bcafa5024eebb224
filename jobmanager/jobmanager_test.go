package jobmanager

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/janvangent1/CHrocodile/logging"
)

func TestJobRuns(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	jm, err := New(logger)
	test.That(t, err, test.ShouldBeNil)

	var runs atomic.Int32
	test.That(t, jm.AddJob(JobConfig{Name: "status", Schedule: "20ms"}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}), test.ShouldBeNil)
	test.That(t, jm.AddJob(JobConfig{Name: "broken", Schedule: "20ms"}, func(ctx context.Context) error {
		return errors.New("no sensor")
	}), test.ShouldBeNil)
	test.That(t, jm.Jobs(), test.ShouldResemble, []string{"broken", "status"})

	jm.Start()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, runs.Load(), test.ShouldBeGreaterThanOrEqualTo, 2)
		test.That(tb, logs.FilterMessage("job failed").Len(), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	test.That(t, jm.Shutdown(), test.ShouldBeNil)
}

func TestAddJobErrors(t *testing.T) {
	jm, err := New(logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	jm.Start()
	defer func() { test.That(t, jm.Shutdown(), test.ShouldBeNil) }()

	noop := func(context.Context) error { return nil }
	test.That(t, jm.AddJob(JobConfig{Name: "a", Schedule: "1m"}, noop), test.ShouldBeNil)
	test.That(t, jm.AddJob(JobConfig{Name: "a", Schedule: "1m"}, noop), test.ShouldNotBeNil)
	test.That(t, jm.AddJob(JobConfig{Name: "b", Schedule: "-1s"}, noop), test.ShouldNotBeNil)
	test.That(t, jm.AddJob(JobConfig{Name: "c", Schedule: "not a schedule"}, noop), test.ShouldNotBeNil)
	test.That(t, jm.AddJob(JobConfig{Name: "d", Schedule: "*/5 * * * *"}, noop), test.ShouldBeNil)
	test.That(t, jm.Jobs(), test.ShouldResemble, []string{"a", "d"})
}
