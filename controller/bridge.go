package controller

import (
	"context"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/orchestrator"
	"github.com/janvangent1/CHrocodile/utils"
)

const (
	// DefaultPollInterval is how often the variable table is read.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultWriteTimeout bounds each write to the table.
	DefaultWriteTimeout = time.Second
	// DefaultIntervalMs is the continuous period used when IntervalMs cannot be read or is not
	// positive.
	DefaultIntervalMs = 100
	// MaxErrorLength is the longest message written to the Error variable, in bytes.
	MaxErrorLength = 255
)

// State is the bridge's handshake state.
type State int32

// The handshake states.
const (
	StateIdle State = iota
	StateBusy
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Orchestrator is what the bridge drives. *orchestrator.Orchestrator implements it.
type Orchestrator interface {
	MeasureOnce(ctx context.Context, source measurement.Source) (measurement.Measurement, error)
	StartContinuous(interval time.Duration) error
	StopContinuous()
}

// Config configures a Bridge.
type Config struct {
	PollInterval     time.Duration
	WriteTimeout     time.Duration
	MaxWriteFailures int
	Variables        Variables
}

// DefaultConfig returns the default poll cadence, write policy and variable names.
func DefaultConfig() Config {
	return Config{
		PollInterval:     DefaultPollInterval,
		WriteTimeout:     DefaultWriteTimeout,
		MaxWriteFailures: DefaultMaxWriteFailures,
		Variables:        DefaultVariables(),
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxWriteFailures <= 0 {
		cfg.MaxWriteFailures = DefaultMaxWriteFailures
	}
	cfg.Variables.ApplyDefaults()
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock replaces the clock driving the poll loop.
func WithClock(clk clock.Clock) Option {
	return func(b *Bridge) {
		b.clock = clk
	}
}

// Stats counts what the bridge has done since it was created.
type Stats struct {
	Polls      int64
	PollErrors int64
	Triggers   int64
	Completed  int64
	Failed     int64
	Published  int64
}

type controlKind int

const (
	controlStart controlKind = iota
	controlStop
)

func (k controlKind) String() string {
	if k == controlStart {
		return "start"
	}
	return "stop"
}

type controlRequest struct {
	kind     controlKind
	interval time.Duration
}

// outcome carries the result of work done off the poll goroutine back to it.
type outcome struct {
	measured bool
	m        measurement.Measurement
	err      error
}

// bridgeRun holds the channels of one Start/Stop cycle.
type bridgeRun struct {
	workers  *utils.Workers
	requests chan struct{}
	controls chan controlRequest
	outcomes chan outcome
}

// loopState is owned by the poll goroutine.
type loopState struct {
	seeded        bool
	prev          inputs
	state         State
	count         int64
	lastPublished uint64
}

type inputs struct {
	trigger bool
	start   bool
	stop    bool
	ready   bool
	ack     bool
}

// A Bridge polls a controller variable table and turns trigger edges into measurements.
// Register it with the orchestrator as an Observer so it can follow continuous mode and
// report degradation.
type Bridge struct {
	orchestrator.NoopObserver

	table  Table
	orch   Orchestrator
	buffer *measurement.Buffer
	cfg    Config
	vars   Variables
	clock  clock.Clock
	logger logging.Logger

	guard          *writeGuard
	pollErrLog     *rate.Limiter
	optionalErrLog *rate.Limiter
	degraded       chan error

	continuous atomic.Bool
	state      atomic.Int32
	polls      atomic.Int64
	pollErrors atomic.Int64
	triggers   atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	published  atomic.Int64

	mu  sync.Mutex
	run *bridgeRun
}

// NewBridge returns a stopped bridge. buffer is the buffer the orchestrator appends to; the
// bridge publishes continuous results from it.
func NewBridge(
	table Table,
	orch Orchestrator,
	buffer *measurement.Buffer,
	cfg Config,
	logger logging.Logger,
	opts ...Option,
) (*Bridge, error) {
	if table == nil || orch == nil || buffer == nil {
		return nil, errors.New("bridge needs a variable table, an orchestrator and a result buffer")
	}
	cfg.applyDefaults()
	if err := cfg.Variables.Validate(); err != nil {
		return nil, err
	}
	b := &Bridge{
		table:          table,
		orch:           orch,
		buffer:         buffer,
		cfg:            cfg,
		vars:           cfg.Variables,
		clock:          clock.New(),
		logger:         logger,
		guard:          newWriteGuard(cfg.MaxWriteFailures, logger),
		pollErrLog:     rate.NewLimiter(rate.Every(10*time.Second), 1),
		optionalErrLog: rate.NewLimiter(rate.Every(10*time.Second), 1),
		degraded:       make(chan error, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Start begins polling. The handshake starts Idle and the first successful poll only records
// the current input levels, so inputs already high do not count as edges.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run != nil {
		return errors.New("controller bridge already started")
	}

	run := &bridgeRun{
		requests: make(chan struct{}, 1),
		controls: make(chan controlRequest, 4),
		outcomes: make(chan outcome, 1),
	}
	b.state.Store(int32(StateIdle))
	run.workers = utils.NewWorkers(context.WithoutCancel(ctx),
		func(ctx context.Context) { b.pollLoop(ctx, run) },
		func(ctx context.Context) { b.measureWorker(ctx, run) },
		func(ctx context.Context) { b.controlWorker(ctx, run) },
	)
	b.run = run
	b.logger.Infow("controller bridge started", "poll_interval", b.cfg.PollInterval, "prefix", b.vars.Prefix)
	return nil
}

// Stop stops polling and waits for the bridge's goroutines, including a measurement it
// dispatched, to return. Stopping a stopped bridge does nothing.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return
	}
	b.run.workers.Stop()
	b.run = nil
	b.logger.Infow("controller bridge stopped")
}

// State returns the handshake state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Polls:      b.polls.Load(),
		PollErrors: b.pollErrors.Load(),
		Triggers:   b.triggers.Load(),
		Completed:  b.completed.Load(),
		Failed:     b.failed.Load(),
		Published:  b.published.Load(),
	}
}

// DisabledVariables lists the symbols no longer written because their writes kept timing out.
func (b *Bridge) DisabledVariables() []string {
	return b.guard.list()
}

// ResetDisabledVariables re-enables every disabled symbol and returns the ones it re-enabled.
func (b *Bridge) ResetDisabledVariables() []string {
	names := b.guard.reset()
	if len(names) > 0 {
		b.logger.Infow("re-enabled controller variables", "variables", names)
	}
	return names
}

// ContinuousChanged tracks whether continuous results should be published.
func (b *Bridge) ContinuousChanged(running bool) {
	b.continuous.Store(running)
}

// Degraded queues err to be written to the Error variable.
func (b *Bridge) Degraded(err error) {
	select {
	case b.degraded <- err:
	default:
	}
}

func (b *Bridge) pollLoop(ctx context.Context, run *bridgeRun) {
	ticker := b.clock.Ticker(b.cfg.PollInterval)
	defer ticker.Stop()

	st := &loopState{state: StateIdle}
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-run.outcomes:
			b.handleOutcome(ctx, st, o)
		case err := <-b.degraded:
			b.writeError(ctx, err.Error())
		case <-ticker.C:
			b.poll(ctx, run, st)
		}
	}
}

func (b *Bridge) poll(ctx context.Context, run *bridgeRun, st *loopState) {
	in, err := b.readInputs(ctx)
	if err != nil {
		b.pollErrors.Inc()
		if b.pollErrLog.Allow() {
			b.logger.Warnw("cannot read controller variables", "error", err)
		}
		return
	}
	defer b.polls.Inc()
	if !st.seeded {
		st.seeded = true
		st.prev = in
		b.logger.Debugw("initial controller levels", "trigger", in.trigger, "start", in.start, "stop", in.stop)
		return
	}

	trigger := in.trigger && !st.prev.trigger
	start := in.start && !st.prev.start
	stop := in.stop && !st.prev.stop
	ack := in.ack && !st.prev.ack
	st.prev = in

	if st.state == StateReady {
		switch {
		case ack:
			b.write(ctx, b.vars.MeasurementReady, func(ctx context.Context, sym string) error {
				return b.table.WriteBool(ctx, sym, false)
			})
			b.setState(st, StateIdle)
		case !in.ready:
			b.setState(st, StateIdle)
		}
	}

	switch {
	case stop:
		b.sendControl(run, controlRequest{kind: controlStop})
	case start:
		b.sendControl(run, controlRequest{kind: controlStart, interval: b.readInterval(ctx)})
		if trigger {
			b.logger.Debugw("trigger dropped, continuous start takes priority")
			trigger = false
		}
	}
	if trigger {
		b.trigger(ctx, run, st)
	}

	b.publishContinuous(ctx, st)
}

// readInputs reads the trigger and Ready levels, which must succeed, and the optional
// continuous and ack inputs, which read as false when they fail.
func (b *Bridge) readInputs(ctx context.Context) (inputs, error) {
	var in inputs
	var err error
	if in.trigger, err = b.table.ReadBool(ctx, b.vars.Symbol(b.vars.TriggerMeasurement)); err != nil {
		return inputs{}, errors.Wrap(err, "reading trigger")
	}
	if in.ready, err = b.table.ReadBool(ctx, b.vars.Symbol(b.vars.MeasurementReady)); err != nil {
		return inputs{}, errors.Wrap(err, "reading ready flag")
	}
	in.start = b.readOptionalBool(ctx, b.vars.StartContinuous)
	in.stop = b.readOptionalBool(ctx, b.vars.StopContinuous)
	if b.vars.Ack != "" {
		in.ack = b.readOptionalBool(ctx, b.vars.Ack)
	}
	return in, nil
}

func (b *Bridge) readOptionalBool(ctx context.Context, name string) bool {
	v, err := b.table.ReadBool(ctx, b.vars.Symbol(name))
	if err != nil {
		if b.optionalErrLog.Allow() {
			b.logger.Debugw("cannot read optional controller variable", "variable", b.vars.Symbol(name), "error", err)
		}
		return false
	}
	return v
}

func (b *Bridge) readInterval(ctx context.Context) time.Duration {
	sym := b.vars.Symbol(b.vars.IntervalMs)
	ms, err := b.table.ReadInt(ctx, sym)
	switch {
	case err != nil:
		b.logger.Warnw("cannot read continuous interval, using default",
			"variable", sym, "default_ms", DefaultIntervalMs, "error", err)
		ms = DefaultIntervalMs
	case ms <= 0:
		ms = DefaultIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (b *Bridge) trigger(ctx context.Context, run *bridgeRun, st *loopState) {
	if st.state != StateIdle {
		b.logger.Debugw("trigger ignored", "state", st.state)
		return
	}
	select {
	case run.requests <- struct{}{}:
	default:
		b.logger.Warnw("trigger ignored, previous measurement still being handed over")
		return
	}
	b.triggers.Inc()
	b.setState(st, StateBusy)
	b.write(ctx, b.vars.MeasurementBusy, func(ctx context.Context, sym string) error {
		return b.table.WriteBool(ctx, sym, true)
	})
	b.write(ctx, b.vars.MeasurementReady, func(ctx context.Context, sym string) error {
		return b.table.WriteBool(ctx, sym, false)
	})
	b.logger.Infow("controller triggered measurement")
}

func (b *Bridge) handleOutcome(ctx context.Context, st *loopState, o outcome) {
	if !o.measured {
		if o.err != nil {
			b.writeError(ctx, o.err.Error())
		}
		return
	}
	if o.err != nil {
		b.failed.Inc()
		b.logger.Warnw("triggered measurement failed", "error", o.err)
		b.writeError(ctx, o.err.Error())
		b.write(ctx, b.vars.MeasurementBusy, func(ctx context.Context, sym string) error {
			return b.table.WriteBool(ctx, sym, false)
		})
		b.setState(st, StateIdle)
		return
	}

	b.completed.Inc()
	b.writeResult(ctx, st, o.m)
	b.write(ctx, b.vars.MeasurementBusy, func(ctx context.Context, sym string) error {
		return b.table.WriteBool(ctx, sym, false)
	})
	b.write(ctx, b.vars.MeasurementReady, func(ctx context.Context, sym string) error {
		return b.table.WriteBool(ctx, sym, true)
	})
	b.writeError(ctx, "")
	b.setState(st, StateReady)
	b.logger.Infow("triggered measurement ready", "sequence", o.m.Sequence, "thickness_um", o.m.ThicknessMicrons)
}

// publishContinuous writes the newest buffered measurement while continuous mode runs. It does
// not touch Busy or Ready.
func (b *Bridge) publishContinuous(ctx context.Context, st *loopState) {
	if !b.continuous.Load() {
		return
	}
	latest, ok := b.buffer.Latest()
	if !ok || latest.Sequence <= st.lastPublished {
		return
	}
	b.published.Inc()
	b.writeResult(ctx, st, latest)
}

func (b *Bridge) writeResult(ctx context.Context, st *loopState, m measurement.Measurement) {
	st.count++
	st.lastPublished = max(st.lastPublished, m.Sequence)
	count := st.count
	b.write(ctx, b.vars.Thickness, func(ctx context.Context, sym string) error {
		return b.table.WriteFloat(ctx, sym, orZero(m.ThicknessMicrons))
	})
	b.write(ctx, b.vars.Peak1, func(ctx context.Context, sym string) error {
		return b.table.WriteFloat(ctx, sym, orZero(m.Peak1))
	})
	b.write(ctx, b.vars.Peak2, func(ctx context.Context, sym string) error {
		return b.table.WriteFloat(ctx, sym, orZero(m.Peak2))
	})
	b.write(ctx, b.vars.MeasurementCount, func(ctx context.Context, sym string) error {
		return b.table.WriteInt(ctx, sym, count)
	})
}

func (b *Bridge) writeError(ctx context.Context, msg string) {
	msg = truncate(msg, MaxErrorLength)
	b.write(ctx, b.vars.Error, func(ctx context.Context, sym string) error {
		return b.table.WriteString(ctx, sym, msg)
	})
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// write runs fn against name's symbol with the write timeout, through the write guard.
func (b *Bridge) write(ctx context.Context, name string, fn func(ctx context.Context, sym string) error) {
	sym := b.vars.Symbol(name)
	err := b.guard.do(sym, func() error {
		ctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		defer cancel()
		return fn(ctx, sym)
	})
	if err != nil && !errors.Is(err, errVariableDisabled) {
		b.logger.Debugw("controller write failed", "variable", sym, "error", err)
	}
}

func (b *Bridge) setState(st *loopState, s State) {
	if st.state != s {
		b.logger.Debugw("handshake state", "from", st.state, "to", s)
	}
	st.state = s
	b.state.Store(int32(s))
}

func (b *Bridge) sendControl(run *bridgeRun, req controlRequest) {
	select {
	case run.controls <- req:
	default:
		b.logger.Warnw("dropping continuous command, too many pending", "command", req.kind)
	}
}

// measureWorker runs triggered measurements so the poll loop never waits on the device.
func (b *Bridge) measureWorker(ctx context.Context, run *bridgeRun) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-run.requests:
		}
		m, err := b.orch.MeasureOnce(ctx, measurement.SourceExternalTrigger)
		select {
		case run.outcomes <- outcome{measured: true, m: m, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// controlWorker starts and stops continuous mode in order. StopContinuous blocks until the
// loop has exited, which can take as long as one measurement.
func (b *Bridge) controlWorker(ctx context.Context, run *bridgeRun) {
	for {
		var req controlRequest
		select {
		case <-ctx.Done():
			return
		case req = <-run.controls:
		}

		var err error
		switch req.kind {
		case controlStart:
			b.logger.Infow("controller started continuous measurement", "interval", req.interval)
			err = b.orch.StartContinuous(req.interval)
		case controlStop:
			b.logger.Infow("controller stopped continuous measurement")
			b.orch.StopContinuous()
		}
		if err == nil {
			continue
		}
		b.logger.Warnw("continuous command failed", "error", err)
		select {
		case run.outcomes <- outcome{err: err}:
		case <-ctx.Done():
			return
		}
	}
}

func orZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
