// Package memtable implements an in-process controller variable table. It backs the daemon
// when no controller is configured and stands in for one in tests.
package memtable

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrWriteFailed is returned by writes to a symbol marked with FailWrites.
var ErrWriteFailed = errors.New("memtable: write failed")

// Table holds variables in memory. Unset variables read as their zero value.
type Table struct {
	mu         sync.Mutex
	values     map[string]any
	failWrites map[string]bool
	hangWrites map[string]bool
	failReads  map[string]bool
	writes     map[string]int
}

// New returns an empty table.
func New() *Table {
	return &Table{
		values:     map[string]any{},
		failWrites: map[string]bool{},
		hangWrites: map[string]bool{},
		failReads:  map[string]bool{},
		writes:     map[string]int{},
	}
}

// Set stores value under name as the controller would. Plain ints are stored as int64.
func (t *Table) Set(name string, value any) {
	if i, ok := value.(int); ok {
		value = int64(i)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[name] = value
}

// Get returns the value stored under name.
func (t *Table) Get(name string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[name]
	return v, ok
}

// Writes returns how many writes to name were attempted.
func (t *Table) Writes(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes[name]
}

// FailWrites makes writes to name fail until called again with false.
func (t *Table) FailWrites(name string, fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWrites[name] = fail
}

// HangWrites makes writes to name block until their context is done, as an unreachable
// controller would, until called again with false.
func (t *Table) HangWrites(name string, hang bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangWrites[name] = hang
}

// FailReads makes reads of name fail until called again with false.
func (t *Table) FailReads(name string, fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failReads[name] = fail
}

// ReadBool reads a boolean.
func (t *Table) ReadBool(ctx context.Context, name string) (bool, error) {
	return read[bool](t, name)
}

// ReadInt reads an integer.
func (t *Table) ReadInt(ctx context.Context, name string) (int64, error) {
	return read[int64](t, name)
}

// WriteBool writes a boolean.
func (t *Table) WriteBool(ctx context.Context, name string, value bool) error {
	return t.write(ctx, name, value)
}

// WriteInt writes an integer.
func (t *Table) WriteInt(ctx context.Context, name string, value int64) error {
	return t.write(ctx, name, value)
}

// WriteFloat writes a float.
func (t *Table) WriteFloat(ctx context.Context, name string, value float64) error {
	return t.write(ctx, name, value)
}

// WriteString writes a string.
func (t *Table) WriteString(ctx context.Context, name, value string) error {
	return t.write(ctx, name, value)
}

// BoolValue returns name as a boolean, false when unset or of another type.
func (t *Table) BoolValue(name string) bool {
	v, _ := read[bool](t, name)
	return v
}

// IntValue returns name as an integer, 0 when unset or of another type.
func (t *Table) IntValue(name string) int64 {
	v, _ := read[int64](t, name)
	return v
}

// FloatValue returns name as a float, 0 when unset or of another type.
func (t *Table) FloatValue(name string) float64 {
	v, _ := read[float64](t, name)
	return v
}

// StringValue returns name as a string, "" when unset or of another type.
func (t *Table) StringValue(name string) string {
	v, _ := read[string](t, name)
	return v
}

func (t *Table) write(ctx context.Context, name string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.writes[name]++
	hang := t.hangWrites[name]
	t.mu.Unlock()
	if hang {
		<-ctx.Done()
		return errors.Wrapf(ctx.Err(), "memtable: write %s", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrites[name] {
		return errors.Wrap(ErrWriteFailed, name)
	}
	t.values[name] = value
	return nil
}

func read[T any](t *Table, name string) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	if t.failReads[name] {
		return zero, errors.Errorf("memtable: read of %q failed", name)
	}
	v, ok := t.values[name]
	if !ok {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, errors.Errorf("memtable: %q holds %T, not %T", name, v, zero)
	}
	return typed, nil
}
