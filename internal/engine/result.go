package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"backtest-enginev1/internal/model"
)

// Result summarizes a completed run.
type Result struct {
	// Bars is the number of bars on the strategy's clock.
	Bars int

	// BarsByFeed counts appended bars per feed name. In-place replay
	// rewrites are counted separately in UpdatesByFeed.
	BarsByFeed    map[string]int
	UpdatesByFeed map[string]int

	Trades []model.Trade
	Equity []model.EquityPoint

	FinalCash   decimal.Decimal
	FinalEquity decimal.Decimal

	// Stopped is true when the run ended by request (Stop or context
	// cancellation) rather than feed exhaustion.
	Stopped bool

	Duration time.Duration
}

func (e *Engine) result(stopped bool, dur time.Duration) *Result {
	r := &Result{
		Bars:          e.stratBars(),
		BarsByFeed:    make(map[string]int, len(e.feeds)),
		UpdatesByFeed: make(map[string]int, len(e.feeds)),
		Trades:        e.sim.Trades(),
		Equity:        e.sim.Equity(),
		FinalCash:     e.sim.Cash(),
		Stopped:       stopped,
		Duration:      dur,
	}
	for _, f := range e.feeds {
		r.BarsByFeed[f.adapter.Name()] = f.bars
		if f.updates > 0 {
			r.UpdatesByFeed[f.adapter.Name()] = f.updates
		}
	}
	if n := len(r.Equity); n > 0 {
		r.FinalEquity = r.Equity[n-1].Equity
	} else {
		r.FinalEquity = r.FinalCash
	}
	return r
}
