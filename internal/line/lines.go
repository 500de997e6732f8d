package line

import "fmt"

// Lines is an ordered, named set of buffers representing one conceptual
// entity: a bar's OHLCV fields, or an indicator's outputs. The first
// buffer is the primary line. Names resolve through a fixed table built
// at construction; no dynamic injection.
type Lines struct {
	names []string
	bufs  []*Buffer
	index map[string]int
}

// NewLines creates a bundle with one buffer per name, in order.
func NewLines(names ...string) *Lines {
	l := &Lines{
		names: names,
		bufs:  make([]*Buffer, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		l.bufs[i] = NewBuffer(n)
		l.index[n] = i
	}
	return l
}

// Get returns the buffer with the given name.
func (l *Lines) Get(name string) (*Buffer, error) {
	i, ok := l.index[name]
	if !ok {
		return nil, fmt.Errorf("lines: no line named %q", name)
	}
	return l.bufs[i], nil
}

// At returns the buffer at position i (0 = primary).
func (l *Lines) At(i int) *Buffer { return l.bufs[i] }

// Primary returns the first buffer.
func (l *Lines) Primary() *Buffer { return l.bufs[0] }

// Names returns the line names in declaration order.
func (l *Lines) Names() []string { return l.names }

// Size returns the number of lines.
func (l *Lines) Size() int { return len(l.bufs) }

// Forward appends a NaN slot to every buffer and advances every cursor.
func (l *Lines) Forward() {
	for _, b := range l.bufs {
		b.Forward()
	}
}

// Extend grows every buffer to logical length n (bulk pre-sizing).
func (l *Lines) Extend(n int) {
	for _, b := range l.bufs {
		b.Extend(n)
	}
}

// Advance moves every cursor forward n slots.
func (l *Lines) Advance(n int) error {
	for _, b := range l.bufs {
		if err := b.Advance(n); err != nil {
			return err
		}
	}
	return nil
}

// Home rewinds every cursor before the first slot.
func (l *Lines) Home() {
	for _, b := range l.bufs {
		b.Home()
	}
}

// Trim applies the discard window to every buffer and reports the total
// number of slots released.
func (l *Lines) Trim() int {
	freed := 0
	for _, b := range l.bufs {
		freed += b.Trim()
	}
	return freed
}

// Len returns the logical length of the primary buffer.
func (l *Lines) Len() int { return l.bufs[0].Len() }

// Cursor returns the cursor of the primary buffer.
func (l *Lines) Cursor() int { return l.bufs[0].Cursor() }
