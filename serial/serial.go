// Package serial opens serial ports for line-oriented instruments and gives them
// net.Conn-style deadlines.
package serial

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	ser "go.bug.st/serial"
)

// Options to be passed to Open(), closely mirrors ser.Mode.
type Options struct {
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity
}

// DefaultOptions are the settings of the sensor's USB serial interface: 115200 8N1.
var DefaultOptions = Options{BaudRate: 115200, DataBits: 8, StopBits: OneStopBit, Parity: NoParity}

// Parity describes a serial port parity setting.
type Parity int

const (
	// NoParity disable parity control (default).
	NoParity Parity = iota
	// OddParity enable odd-parity check.
	OddParity
	// EvenParity enable even-parity check.
	EvenParity
	// MarkParity enable mark-parity (always 1) check.
	MarkParity
	// SpaceParity enable space-parity (always 0) check.
	SpaceParity
)

// StopBits describe a serial port stop bits setting.
type StopBits int

const (
	// OneStopBit sets 1 stop bit (default).
	OneStopBit StopBits = iota
	// OnePointFiveStopBits sets 1.5 stop bits.
	OnePointFiveStopBits
	// TwoStopBits sets 2 stop bits.
	TwoStopBits
)

// TimeoutPort is the part of an open port Port needs. go.bug.st/serial ports satisfy it.
type TimeoutPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Open attempts to open a serial device on the given path. It's a variable
// in case you need to override it during tests.
var Open = func(devicePath string, options Options) (*Port, error) {
	mode := &ser.Mode{
		BaudRate: options.BaudRate,
		Parity:   ser.Parity(options.Parity),
		DataBits: options.DataBits,
		StopBits: ser.StopBits(options.StopBits),
	}

	device, err := ser.Open(devicePath, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial port %q", devicePath)
	}
	return NewPort(device), nil
}

// Port adapts a TimeoutPort to deadline semantics. A read that times out returns
// os.ErrDeadlineExceeded instead of (0, nil).
type Port struct {
	port TimeoutPort

	mu       sync.Mutex
	deadline time.Time
}

// NewPort wraps an open port.
func NewPort(port TimeoutPort) *Port {
	return &Port{port: port}
}

// SetDeadline sets the deadline for subsequent reads. A zero time means reads block.
func (p *Port) SetDeadline(t time.Time) error {
	p.mu.Lock()
	p.deadline = t
	p.mu.Unlock()
	return nil
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	deadline := p.deadline
	p.mu.Unlock()

	timeout := ser.NoTimeout
	if !deadline.IsZero() {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
	}
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	n, err := p.port.Read(b)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the underlying port.
func (p *Port) Close() error {
	return p.port.Close()
}
