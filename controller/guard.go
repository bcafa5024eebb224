package controller

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/janvangent1/CHrocodile/logging"
)

// DefaultMaxWriteFailures is how many writes to one variable may time out in a row before the
// variable is disabled.
const DefaultMaxWriteFailures = 3

var errVariableDisabled = errors.New("controller variable disabled after repeated write timeouts")

// writeGuard stops writing to variables whose writes keep timing out so one unreachable
// symbol cannot stall every poll on its write timeout. Other write errors return quickly and
// only reset the count.
type writeGuard struct {
	mu       sync.Mutex
	max      int
	failures map[string]int
	disabled map[string]struct{}
	logger   logging.Logger
}

func newWriteGuard(maxFailures int, logger logging.Logger) *writeGuard {
	return &writeGuard{
		max:      maxFailures,
		failures: map[string]int{},
		disabled: map[string]struct{}{},
		logger:   logger,
	}
}

// do runs write unless symbol is disabled and counts its outcome.
func (g *writeGuard) do(symbol string, write func() error) error {
	g.mu.Lock()
	_, off := g.disabled[symbol]
	g.mu.Unlock()
	if off {
		return errVariableDisabled
	}

	err := write()

	g.mu.Lock()
	defer g.mu.Unlock()
	if !errors.Is(err, context.DeadlineExceeded) {
		delete(g.failures, symbol)
		return err
	}
	g.failures[symbol]++
	if n := g.failures[symbol]; n >= g.max {
		g.disabled[symbol] = struct{}{}
		delete(g.failures, symbol)
		g.logger.Errorw("disabling controller variable after consecutive write timeouts",
			"variable", symbol, "timeouts", n, "error", err)
	}
	return err
}

// reset re-enables every disabled symbol and returns them sorted.
func (g *writeGuard) reset() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := lo.Keys(g.disabled)
	slices.Sort(names)
	clear(g.disabled)
	clear(g.failures)
	return names
}

func (g *writeGuard) list() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := lo.Keys(g.disabled)
	slices.Sort(names)
	return names
}
