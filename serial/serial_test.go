package serial

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

type fakePort struct {
	bytes.Buffer
	timeouts []time.Duration
	closed   bool
}

func (fp *fakePort) SetReadTimeout(t time.Duration) error {
	fp.timeouts = append(fp.timeouts, t)
	return nil
}

func (fp *fakePort) Read(b []byte) (int, error) {
	if fp.Len() == 0 {
		// go.bug.st/serial reports a timeout as an empty read.
		return 0, nil
	}
	return fp.Buffer.Read(b)
}

func (fp *fakePort) Close() error {
	fp.closed = true
	return nil
}

func TestPortDeadlines(t *testing.T) {
	fake := &fakePort{}
	fake.WriteString("OK\r")
	port := NewPort(fake)

	buf := make([]byte, 8)
	n, err := port.Read(buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(buf[:n]), test.ShouldEqual, "OK\r")
	test.That(t, fake.timeouts[0], test.ShouldEqual, time.Duration(-1))

	test.That(t, port.SetDeadline(time.Now().Add(time.Second)), test.ShouldBeNil)
	_, err = port.Read(buf)
	test.That(t, errors.Is(err, os.ErrDeadlineExceeded), test.ShouldBeTrue)
	test.That(t, fake.timeouts[1], test.ShouldBeGreaterThan, time.Duration(0))

	test.That(t, port.SetDeadline(time.Now().Add(-time.Second)), test.ShouldBeNil)
	_, err = port.Read(buf)
	test.That(t, errors.Is(err, os.ErrDeadlineExceeded), test.ShouldBeTrue)
	test.That(t, len(fake.timeouts), test.ShouldEqual, 2)

	test.That(t, port.Close(), test.ShouldBeNil)
	test.That(t, fake.closed, test.ShouldBeTrue)
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open("/dev/does-not-exist-chr", DefaultOptions)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "does-not-exist-chr")
}
