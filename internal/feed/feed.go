// Package feed defines the data boundary of the engine: adapters that
// produce raw bars into root streams, either one at a time
// (incremental) or as one materialized range (bulk), plus resample and
// replay wrappers that re-cadence any inner feed.
package feed

import (
	"errors"
	"fmt"

	"backtest-enginev1/internal/model"
)

// ErrExhausted signals the normal end of a feed. In single-feed runs it
// ends the run; in multi-feed runs it ends that feed's participation.
var ErrExhausted = errors.New("feed: exhausted")

// Adapter produces bars for one root stream.
//
// Next returns the next event: the bar, and whether it opens a new bar
// (true) or updates the current one in place (false — replay feeds
// only). LoadAll materializes the feed's full range for bulk runs; for
// replaying feeds it returns the completed coarse bars plus the final
// partial one, i.e. the same end state incremental delivery leaves
// behind.
type Adapter interface {
	Name() string
	Symbol() string
	Timeframe() model.Timeframe
	Next() (model.Bar, bool, error)
	LoadAll() ([]model.Bar, error)
}

// Slice is an in-memory feed over a fixed bar slice.
type Slice struct {
	name   string
	symbol string
	tf     model.Timeframe
	bars   []model.Bar
	pos    int
}

// NewSlice creates a feed over pre-built bars. The slice is not copied;
// callers must not mutate it during a run.
func NewSlice(name, symbol string, tf model.Timeframe, bars []model.Bar) *Slice {
	return &Slice{name: name, symbol: symbol, tf: tf, bars: bars}
}

func (s *Slice) Name() string               { return s.name }
func (s *Slice) Symbol() string             { return s.symbol }
func (s *Slice) Timeframe() model.Timeframe { return s.tf }

func (s *Slice) Next() (model.Bar, bool, error) {
	if s.pos >= len(s.bars) {
		return model.Bar{}, false, ErrExhausted
	}
	b := s.bars[s.pos]
	s.pos++
	return b, true, nil
}

func (s *Slice) LoadAll() ([]model.Bar, error) {
	out := make([]model.Bar, len(s.bars))
	copy(out, s.bars)
	return out, nil
}

// Loader is a feed that materializes lazily from a bar source (SQLite,
// ClickHouse, Arrow files). Incremental runs iterate the loaded slice;
// the load happens once, on first use.
type Loader struct {
	name   string
	symbol string
	tf     model.Timeframe
	load   func() ([]model.Bar, error)

	loaded bool
	inner  *Slice
}

// NewLoader creates a feed backed by a one-shot load function.
func NewLoader(name, symbol string, tf model.Timeframe, load func() ([]model.Bar, error)) *Loader {
	return &Loader{name: name, symbol: symbol, tf: tf, load: load}
}

func (l *Loader) Name() string               { return l.name }
func (l *Loader) Symbol() string             { return l.symbol }
func (l *Loader) Timeframe() model.Timeframe { return l.tf }

func (l *Loader) ensure() error {
	if l.loaded {
		return nil
	}
	bars, err := l.load()
	if err != nil {
		return fmt.Errorf("feed %q: %w", l.name, err)
	}
	l.inner = NewSlice(l.name, l.symbol, l.tf, bars)
	l.loaded = true
	return nil
}

func (l *Loader) Next() (model.Bar, bool, error) {
	if err := l.ensure(); err != nil {
		return model.Bar{}, false, err
	}
	return l.inner.Next()
}

func (l *Loader) LoadAll() ([]model.Bar, error) {
	if err := l.ensure(); err != nil {
		return nil, err
	}
	return l.inner.LoadAll()
}
