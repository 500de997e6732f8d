// Package line provides the indexed time-series primitives of the
// engine: Buffer, a growable float64 series with a movable cursor and
// relative addressing, and Lines, a named bundle of buffers owned by
// one node.
//
// Indexing convention: Get(0) is the bar under the cursor, Get(-k) is k
// bars back, Get(+k) is k bars ahead (valid only on fully materialized
// buffers). All indices are logical and survive physical trimming.
package line

import (
	"fmt"
	"math"
)

// RangeError reports an access to a slot that was never written or has
// already been discarded. It is fatal for a run: it signals a
// composition bug, not a data condition.
type RangeError struct {
	Line   string // buffer name
	Rel    int    // requested relative index
	Cursor int    // logical cursor position at access time
	First  int    // first retained logical index
	Len    int    // logical length (exclusive upper bound)
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("line %q: index [%d] out of range (cursor=%d, live window=[%d,%d))",
		e.Line, e.Rel, e.Cursor, e.First, e.Len)
}

// Buffer is the growable storage backing one line. The cursor is
// monotonic non-decreasing during a run; Rewind exists only so a
// clock-driven dispatch pass can replay an already-written range.
type Buffer struct {
	name   string
	vals   []float64
	first  int // logical index of vals[0]; grows as slots are trimmed
	cursor int // logical index of the current bar; -1 before the first bar
	keep   int // retained bars behind the cursor; 0 = unbounded
}

// NewBuffer creates an empty buffer with the given name.
func NewBuffer(name string) *Buffer {
	return &Buffer{name: name, cursor: -1}
}

// Name returns the buffer name.
func (b *Buffer) Name() string { return b.name }

// Len returns the logical length: the number of slots ever written,
// including trimmed ones.
func (b *Buffer) Len() int { return b.first + len(b.vals) }

// Cursor returns the logical index of the current bar (-1 before any).
func (b *Buffer) Cursor() int { return b.cursor }

// First returns the first logical index still physically retained.
func (b *Buffer) First() int { return b.first }

// Append grows the buffer by one slot holding v and advances the cursor
// onto it.
func (b *Buffer) Append(v float64) {
	b.vals = append(b.vals, v)
	b.cursor++
}

// Forward grows the buffer by one NaN slot and advances the cursor onto
// it. Incremental evaluation overwrites the slot via Set(0, v).
func (b *Buffer) Forward() {
	b.Append(math.NaN())
}

// Extend grows the buffer to logical length n, filling new slots with
// NaN and leaving the cursor untouched. Used by the bulk scheduler to
// pre-size output lines before EvalOnce.
func (b *Buffer) Extend(n int) {
	for b.Len() < n {
		b.vals = append(b.vals, math.NaN())
	}
}

// Advance moves the cursor forward n slots without writing. The target
// slot must exist.
func (b *Buffer) Advance(n int) error {
	if b.cursor+n >= b.Len() {
		return &RangeError{Line: b.name, Rel: n, Cursor: b.cursor, First: b.first, Len: b.Len()}
	}
	b.cursor += n
	return nil
}

// Rewind moves the cursor back n slots without writing.
func (b *Buffer) Rewind(n int) error {
	if b.cursor-n < -1 {
		return &RangeError{Line: b.name, Rel: -n, Cursor: b.cursor, First: b.first, Len: b.Len()}
	}
	b.cursor -= n
	return nil
}

// Home moves the cursor back before the first slot. The dispatch pass
// of a bulk run starts here and advances bar by bar.
func (b *Buffer) Home() { b.cursor = -1 }

// Get returns the value at cursor+rel.
func (b *Buffer) Get(rel int) (float64, error) {
	return b.At(b.cursor + rel)
}

// Set overwrites the existing slot at cursor+rel.
func (b *Buffer) Set(rel int, v float64) error {
	return b.SetAt(b.cursor+rel, v)
}

// At returns the value at logical index i.
func (b *Buffer) At(i int) (float64, error) {
	if i < b.first || i >= b.Len() {
		return 0, &RangeError{Line: b.name, Rel: i - b.cursor, Cursor: b.cursor, First: b.first, Len: b.Len()}
	}
	return b.vals[i-b.first], nil
}

// SetAt overwrites the existing slot at logical index i.
func (b *Buffer) SetAt(i int, v float64) error {
	if i < b.first || i >= b.Len() {
		return &RangeError{Line: b.name, Rel: i - b.cursor, Cursor: b.cursor, First: b.first, Len: b.Len()}
	}
	b.vals[i-b.first] = v
	return nil
}

// Window returns the n values ending at logical index i (inclusive), in
// chronological order. The slice aliases the buffer; callers must not
// retain it across writes.
func (b *Buffer) Window(i, n int) ([]float64, error) {
	lo := i - n + 1
	if lo < b.first || i >= b.Len() {
		return nil, &RangeError{Line: b.name, Rel: lo - b.cursor, Cursor: b.cursor, First: b.first, Len: b.Len()}
	}
	return b.vals[lo-b.first : i+1-b.first], nil
}

// SetKeep fixes the discard window: the number of bars behind the
// cursor that must stay addressable. Zero keeps full history. The
// resolver computes this once before a run starts.
func (b *Buffer) SetKeep(n int) { b.keep = n }

// Keep returns the configured discard window (0 = unbounded).
func (b *Buffer) Keep() int { return b.keep }

// Trim frees slots older than cursor-keep and reports how many were
// released. No-op when unbounded.
func (b *Buffer) Trim() int {
	if b.keep <= 0 {
		return 0
	}
	lo := b.cursor - b.keep
	if lo <= b.first {
		return 0
	}
	drop := lo - b.first
	b.vals = b.vals[drop:]
	b.first = lo
	// Reallocate once the retained slice occupies under half its backing
	// array, so trimmed slots are actually released to the GC.
	if cap(b.vals) > 2*len(b.vals) && len(b.vals) > 0 {
		fresh := make([]float64, len(b.vals))
		copy(fresh, b.vals)
		b.vals = fresh
	}
	return drop
}

// Values returns a copy of the retained slots in [from, to) for
// diffing and tests.
func (b *Buffer) Values(from, to int) []float64 {
	if from < b.first {
		from = b.first
	}
	if to > b.Len() {
		to = b.Len()
	}
	if to <= from {
		return nil
	}
	out := make([]float64, to-from)
	copy(out, b.vals[from-b.first:to-b.first])
	return out
}
