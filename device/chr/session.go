// Package chr implements a sensor session over the controller's line-oriented ASCII command
// interface, reachable over TCP or a serial port.
package chr

import (
	"bufio"
	"context"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/janvangent1/CHrocodile/device"
	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/serial"
)

// DefaultPort is the TCP port of the ASCII command interface.
const DefaultPort = 7891

// Signal IDs requested from the sensor: the sample counter and the thickness in microns.
const (
	signalSampleCounter = 83
	signalThickness     = 256
)

// Command mnemonics.
const (
	cmdMeasuringMode   = "MMD"
	cmdPeakCount       = "NOP"
	cmdOutputSignals   = "SODX"
	cmdRate            = "SHZ"
	cmdDataAverage     = "AVD"
	cmdSpectrumAverage = "AVS"
	cmdLampIntensity   = "LIA"
	cmdRefractiveIndex = "SRI"
	cmdDarkReference   = "DRK"
	cmdSample          = "SMP"
	cmdDownload        = "DNLD"
)

// Conn is a transport to the sensor.
type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// DialFunc opens a transport for a parsed address.
type DialFunc func(ctx context.Context, network, address string) (Conn, error)

// Config controls how sessions are opened.
type Config struct {
	// Dial overrides how transports are opened. Used in tests.
	Dial DialFunc
}

// NewOpener returns an opener for addresses of the form "tcp://host[:port]", "host[:port]"
// or "serial:///dev/ttyUSB0". Sessions measure only after ApplySettings selected the output
// signals.
func NewOpener(cfg Config, logger logging.Logger) device.Opener {
	dial := cfg.Dial
	if dial == nil {
		dial = defaultDial
	}
	return device.OpenerFunc(func(ctx context.Context, address string) (device.Session, error) {
		network, target, err := ParseAddress(address)
		if err != nil {
			return nil, &device.ConnectError{Address: address, Err: err}
		}
		conn, err := dial(ctx, network, target)
		if err != nil {
			return nil, &device.ConnectError{Address: address, Err: err}
		}
		s := newSession(conn, logger.Sublogger(network))
		logger.Infow("sensor session opened", "network", network, "address", target)
		return s, nil
	})
}

// ParseAddress splits an address into a network ("tcp" or "serial") and a target.
func ParseAddress(address string) (string, string, error) {
	address = strings.TrimSpace(address)
	switch {
	case address == "":
		return "", "", errors.New("empty sensor address")
	case strings.HasPrefix(address, "serial://"):
		path := strings.TrimPrefix(address, "serial://")
		if path == "" {
			return "", "", errors.Errorf("missing serial device path in %q", address)
		}
		return "serial", path, nil
	case strings.HasPrefix(address, "tcp://"):
		address = strings.TrimPrefix(address, "tcp://")
	case strings.Contains(address, "://"):
		return "", "", errors.Errorf("unsupported sensor address scheme in %q", address)
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(DefaultPort))
	}
	return "tcp", address, nil
}

func defaultDial(ctx context.Context, network, address string) (Conn, error) {
	if network == "serial" {
		port, err := serial.Open(address, serial.DefaultOptions)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", address)
	}
	return conn, nil
}

// Session is an open connection to a sensor.
type Session struct {
	mu     sync.Mutex
	conn   Conn
	reader *bufio.Reader
	logger logging.Logger
	closed bool
	// stale is set after a timed out exchange whose reply may still arrive.
	stale bool
}

func newSession(conn Conn, logger logging.Logger) *Session {
	return &Session{conn: conn, reader: bufio.NewReader(conn), logger: logger}
}

// Measure requests one sample and returns its thickness.
func (s *Session) Measure(ctx context.Context) (device.Reading, error) {
	values, err := s.exec(ctx, cmdSample)
	if err != nil {
		return device.Reading{}, err
	}
	// Reply carries the requested output signals in order: counter, thickness.
	if len(values) != 2 {
		return device.Reading{}, device.NewMeasureError(device.MeasureMalformed,
			errors.Errorf("expected 2 signal values, got %d", len(values)))
	}
	thickness, err := strconv.ParseFloat(values[1], 64)
	if err != nil {
		return device.Reading{}, device.NewMeasureError(device.MeasureMalformed,
			errors.Wrapf(err, "parsing thickness %q", values[1]))
	}
	if math.IsInf(thickness, 0) {
		thickness = math.NaN()
	}
	return device.NewReading(thickness), nil
}

// DownloadSpectrum downloads the raw detector spectrum.
func (s *Session) DownloadSpectrum(ctx context.Context) (device.Spectrum, error) {
	values, err := s.exec(ctx, cmdDownload)
	if err != nil {
		return device.Spectrum{}, err
	}
	if len(values) == 0 {
		return device.Spectrum{}, device.NewMeasureError(device.MeasureMalformed, errors.New("empty spectrum reply"))
	}
	count, err := strconv.Atoi(values[0])
	if err != nil || count != len(values)-1 {
		return device.Spectrum{}, device.NewMeasureError(device.MeasureMalformed,
			errors.Errorf("spectrum announces %q samples but carries %d", values[0], len(values)-1))
	}
	samples := make([]uint16, count)
	for i, v := range values[1:] {
		parsed, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return device.Spectrum{}, device.NewMeasureError(device.MeasureMalformed,
				errors.Wrapf(err, "parsing spectrum sample %d", i))
		}
		samples[i] = uint16(parsed)
	}
	return device.Spectrum{Samples: samples, CapturedAt: time.Now()}, nil
}

// ApplySettings sends the acquisition settings and selects the output signals.
func (s *Session) ApplySettings(ctx context.Context, settings device.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	n := strconv.FormatFloat(settings.RefractiveIndex, 'f', -1, 64)
	commands := [][]string{
		{cmdMeasuringMode, strconv.Itoa(int(settings.Mode))},
		{cmdPeakCount, "2"},
		{cmdOutputSignals, strconv.Itoa(signalSampleCounter), strconv.Itoa(signalThickness)},
		{cmdRate, strconv.Itoa(settings.RateHz)},
		{cmdDataAverage, strconv.Itoa(settings.DataAverage)},
		{cmdSpectrumAverage, strconv.Itoa(settings.SpectrumAverage)},
		{cmdLampIntensity, strconv.Itoa(settings.LampIntensity)},
		// one index per layer boundary
		{cmdRefractiveIndex, n, n},
	}
	for _, cmd := range commands {
		if _, err := s.exec(ctx, cmd[0], cmd[1:]...); err != nil {
			return errors.Wrapf(err, "applying %s", cmd[0])
		}
	}
	s.logger.Debugw("applied settings", "mode", settings.Mode, "rate_hz", settings.RateHz,
		"refractive_index", settings.RefractiveIndex)
	return nil
}

// DarkReference records a dark reference and returns the stray light saturation frequency.
func (s *Session) DarkReference(ctx context.Context) (float64, error) {
	values, err := s.exec(ctx, cmdDarkReference)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	freq, err := strconv.ParseFloat(values[0], 64)
	if err != nil {
		return 0, device.NewMeasureError(device.MeasureMalformed, errors.Wrap(err, "parsing saturation frequency"))
	}
	return freq, nil
}

// Close closes the transport. Closing twice is not an error.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// exec sends "$CMD args" and returns the values of the matching reply line "CMD values...".
// Error replies have the form "CMD ERR code [text]".
func (s *Session) exec(ctx context.Context, cmd string, args ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, device.NewMeasureError(device.MeasureTransport, device.ErrSessionLost)
	}

	if s.stale {
		s.drain()
	}

	deadline, _ := ctx.Deadline()
	if err := s.conn.SetDeadline(deadline); err != nil {
		return nil, device.NewMeasureError(device.MeasureTransport, err)
	}
	// Cancellation unblocks a pending read by moving the deadline into the past.
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		//nolint:errcheck
		s.conn.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	line := "$" + strings.Join(append([]string{cmd}, args...), " ") + "\r"
	if _, err := io.WriteString(s.conn, line); err != nil {
		return nil, s.transportError(ctx, errors.Wrapf(err, "sending %s", cmd))
	}

	for {
		reply, err := s.reader.ReadString('\r')
		if err != nil {
			return nil, s.transportError(ctx, errors.Wrapf(err, "reading %s reply", cmd))
		}
		fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(reply), "$"))
		if len(fields) == 0 || fields[0] != cmd {
			s.logger.Debugw("skipping unrelated reply", "command", cmd, "reply", strings.TrimSpace(reply))
			continue
		}
		if len(fields) > 1 && fields[1] == "ERR" {
			return nil, device.NewMeasureError(device.MeasureMalformed,
				errors.Errorf("sensor rejected %s: %s", cmd, strings.Join(fields[2:], " ")))
		}
		return fields[1:], nil
	}
}

// transportError classifies a read or write failure. Must hold mu.
func (s *Session) transportError(ctx context.Context, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) || isNetTimeout(err) {
		s.stale = true
		if ctxErr := ctx.Err(); ctxErr != nil {
			return device.NewMeasureError(device.MeasureTimeout, multierr.Combine(err, ctxErr))
		}
		return device.NewMeasureError(device.MeasureTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return device.NewMeasureError(device.MeasureTransport, multierr.Combine(device.ErrSessionLost, err))
	}
	return device.NewMeasureError(device.MeasureTransport, err)
}

// drain discards replies left over from an exchange that timed out. Must hold mu.
func (s *Session) drain() {
	//nolint:errcheck
	s.conn.SetDeadline(time.Now().Add(5 * time.Millisecond))
	buf := make([]byte, 256)
	for {
		if _, err := s.reader.Read(buf); err != nil {
			break
		}
	}
	s.reader.Reset(s.conn)
	s.stale = false
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
