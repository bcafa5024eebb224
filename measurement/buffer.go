package measurement

import (
	"sync"

	"github.com/pkg/errors"
)

// DefaultCapacity is the number of measurements kept when no capacity is configured.
const DefaultCapacity = 1000

// Buffer is a fixed-capacity, insertion-ordered store of the most recent measurements. When
// full, appending evicts the oldest entry. All methods are safe for concurrent use and hold the
// lock only for the copy they perform.
type Buffer struct {
	mu      sync.Mutex
	data    []Measurement
	start   int
	count   int
	lastSeq uint64
}

// NewBuffer returns an empty buffer holding at most capacity measurements.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &Buffer{data: make([]Measurement, capacity)}, nil
}

// Capacity returns the maximum number of measurements held.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Append assigns the next sequence number to m, stores it and returns the stored copy.
// Sequence numbers are never reused, not even after Clear.
func (b *Buffer) Append(m Measurement) Measurement {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeq++
	m.Sequence = b.lastSeq

	if b.count < len(b.data) {
		b.data[(b.start+b.count)%len(b.data)] = m
		b.count++
		return m
	}
	b.data[b.start] = m
	b.start = (b.start + 1) % len(b.data)
	return m
}

// Snapshot returns the buffered measurements, oldest first. The returned slice is a copy.
func (b *Buffer) Snapshot() []Measurement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyFrom(0)
}

// Since returns the buffered measurements with a sequence number greater than seq, oldest first.
func (b *Buffer) Since(seq uint64) []Measurement {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || seq >= b.lastSeq {
		return nil
	}
	// Sequences in the buffer are contiguous, ending at lastSeq.
	newer := b.lastSeq - seq
	if newer > uint64(b.count) {
		newer = uint64(b.count)
	}
	return b.copyFrom(b.count - int(newer))
}

// Latest returns the newest measurement, if any.
func (b *Buffer) Latest() (Measurement, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return Measurement{}, false
	}
	return b.data[(b.start+b.count-1)%len(b.data)], true
}

// Len returns the number of buffered measurements.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// LastSequence returns the sequence number most recently assigned, or 0.
func (b *Buffer) LastSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq
}

// Clear removes all measurements.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.count = 0
}

// copyFrom copies entries [offset, count) in order. Must hold mu.
func (b *Buffer) copyFrom(offset int) []Measurement {
	out := make([]Measurement, 0, b.count-offset)
	for i := offset; i < b.count; i++ {
		out = append(out, b.data[(b.start+i)%len(b.data)])
	}
	return out
}
