package graph

import (
	"time"

	"backtest-enginev1/internal/line"
	"backtest-enginev1/internal/model"
)

// Root line names, in order. Time is stored as a float64 line (Unix
// seconds) so it shares the cursor/trim machinery of every other line.
const (
	LineTime         = "time"
	LineOpen         = "open"
	LineHigh         = "high"
	LineLow          = "low"
	LineClose        = "close"
	LineVolume       = "volume"
	LineOpenInterest = "openinterest"
)

var rootLineNames = []string{
	LineTime, LineOpen, LineHigh, LineLow, LineClose, LineVolume, LineOpenInterest,
}

// Root wraps one feed: the engine ingests raw bars into its lines. A
// root is its own clock and performs no computation of its own.
type Root struct {
	Base
	symbol string
	tf     model.Timeframe
}

// NewRoot creates a root node for one instrument at one cadence.
func NewRoot(label, symbol string, tf model.Timeframe) *Root {
	r := &Root{symbol: symbol, tf: tf}
	r.InitNode(label, rootLineNames...)
	return r
}

func (r *Root) Symbol() string             { return r.symbol }
func (r *Root) Timeframe() model.Timeframe { return r.tf }

// Clock returns nil: a root advances over its own timestamps.
func (r *Root) Clock() Node { return nil }

// AppendBar appends a new bar across all lines and advances the cursor.
func (r *Root) AppendBar(b model.Bar) {
	l := r.Lines()
	mustAppend(l, LineTime, float64(b.TS.UTC().Unix()))
	mustAppend(l, LineOpen, b.Open)
	mustAppend(l, LineHigh, b.High)
	mustAppend(l, LineLow, b.Low)
	mustAppend(l, LineClose, b.Close)
	mustAppend(l, LineVolume, b.Volume)
	mustAppend(l, LineOpenInterest, b.OpenInterest)
}

// UpdateBar overwrites the current bar in place. This is the replay
// exception to the single-write-per-bar rule: a coarse bar held open
// across several finer advances is updated here until its period
// boundary closes it.
func (r *Root) UpdateBar(b model.Bar) error {
	return r.writeAt(r.Lines().Cursor(), b)
}

// WriteBarAt materializes bar i during bulk loading. Lines must have
// been pre-sized with Extend.
func (r *Root) WriteBarAt(i int, b model.Bar) error {
	return r.writeAt(i, b)
}

func (r *Root) writeAt(i int, b model.Bar) error {
	l := r.Lines()
	vals := [...]struct {
		name string
		v    float64
	}{
		{LineTime, float64(b.TS.UTC().Unix())},
		{LineOpen, b.Open},
		{LineHigh, b.High},
		{LineLow, b.Low},
		{LineClose, b.Close},
		{LineVolume, b.Volume},
		{LineOpenInterest, b.OpenInterest},
	}
	for _, nv := range vals {
		buf, err := l.Get(nv.name)
		if err != nil {
			return err
		}
		if err := buf.SetAt(i, nv.v); err != nil {
			return err
		}
	}
	return nil
}

// BarTS returns the timestamp of bar i.
func (r *Root) BarTS(i int) (time.Time, error) {
	buf, err := r.Lines().Get(LineTime)
	if err != nil {
		return time.Time{}, err
	}
	sec, err := buf.At(i)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(sec), 0).UTC(), nil
}

// BarAt reconstructs bar i from the lines.
func (r *Root) BarAt(i int) (model.Bar, error) {
	l := r.Lines()
	var out model.Bar
	out.Symbol = r.symbol
	read := func(name string) (float64, error) {
		buf, err := l.Get(name)
		if err != nil {
			return 0, err
		}
		return buf.At(i)
	}
	sec, err := read(LineTime)
	if err != nil {
		return out, err
	}
	out.TS = time.Unix(int64(sec), 0).UTC()
	if out.Open, err = read(LineOpen); err != nil {
		return out, err
	}
	if out.High, err = read(LineHigh); err != nil {
		return out, err
	}
	if out.Low, err = read(LineLow); err != nil {
		return out, err
	}
	if out.Close, err = read(LineClose); err != nil {
		return out, err
	}
	if out.Volume, err = read(LineVolume); err != nil {
		return out, err
	}
	if out.OpenInterest, err = read(LineOpenInterest); err != nil {
		return out, err
	}
	return out, nil
}

// EvalOnce is a no-op: the engine materializes root data during loading.
func (r *Root) EvalOnce(start, end int) error { return nil }

// EvalNext is a no-op: the engine ingests the bar before nodes step.
func (r *Root) EvalNext() error { return nil }

func mustAppend(l *line.Lines, name string, v float64) {
	buf, err := l.Get(name)
	if err != nil {
		panic(err) // root line names are fixed at construction
	}
	buf.Append(v)
}
