package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backtest-enginev1/internal/event"
	"backtest-enginev1/internal/feed"
	"backtest-enginev1/internal/graph"
	"backtest-enginev1/internal/model"
)

// Run executes the configured run to completion, stop request, or
// fault. It may be called once.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.state != StateConfiguring {
		return nil, &ConfigError{Reason: "Run called twice"}
	}
	if e.strat == nil {
		return nil, &ConfigError{Reason: "no strategy set"}
	}
	started := time.Now()

	if err := e.resolve(); err != nil {
		e.state = StateStopped
		return nil, err
	}
	e.state = StateRunning
	e.emit(event.Event{Kind: event.KindRunStarted, TS: time.Now()})
	if e.mx != nil {
		e.mx.ActiveFeeds.Set(float64(len(e.feeds)))
	}

	if e.cfg.BulkMode {
		if err := e.materialize(); err != nil {
			e.state = StateStopped
			return nil, err
		}
	} else if e.cfg.Preload {
		// Warm every lazy feed now; the loop below still steps bar by bar.
		for _, f := range e.feeds {
			if _, err := f.adapter.LoadAll(); err != nil {
				e.state = StateStopped
				return nil, fmt.Errorf("engine: preload %q: %w", f.adapter.Name(), err)
			}
		}
	}

	stopped := false
	barsSinceTrim := 0
	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			stopped = true
			break loop
		default:
		}
		if e.stopReq.Load() {
			stopped = true
			break loop
		}

		barStart := time.Now()
		advanced := make(map[graph.Node]bool)
		updated := make(map[graph.Node]bool)

		any, err := e.advance(advanced, updated)
		if err != nil {
			runErr = err
			break loop
		}
		if !any {
			break loop // every feed exhausted
		}

		if err := e.step(advanced, updated); err != nil {
			runErr = err
			break loop
		}
		if err := e.dispatch(advanced, updated); err != nil {
			runErr = err
			break loop
		}

		if e.cfg.KeepBars > 0 {
			barsSinceTrim++
			if e.cfg.TrimEvery <= 1 || barsSinceTrim >= e.cfg.TrimEvery {
				e.trim()
				barsSinceTrim = 0
			}
		}
		if e.mx != nil {
			e.mx.BarDur.Observe(time.Since(barStart).Seconds())
		}
	}

	e.state = StateStopped
	e.strat.Strategy().Stop(e.sctx)

	dur := time.Since(started)
	if e.mx != nil {
		e.mx.RunDur.Observe(dur.Seconds())
		e.mx.ActiveFeeds.Set(0)
	}
	kind := event.KindRunFinished
	if stopped {
		kind = event.KindRunStopped
	}
	e.emit(event.Event{Kind: kind, TS: time.Now(), Bar: e.stratBars()})

	if runErr != nil {
		e.log.Error("run aborted", slog.String("error", runErr.Error()))
		return nil, runErr
	}

	res := e.result(stopped, dur)
	e.log.Info("run complete",
		slog.Int("bars", res.Bars),
		slog.Int("trades", len(res.Trades)),
		slog.Bool("stopped", stopped),
		slog.Duration("duration", dur))
	return res, nil
}

// materialize loads every feed's full range into its root lines, then
// evaluates each node over its whole valid history in one pass. Cursors
// end parked before the first slot, ready for the dispatch loop.
func (e *Engine) materialize() error {
	for _, f := range e.feeds {
		bars, err := f.adapter.LoadAll()
		if err != nil {
			return fmt.Errorf("engine: load %q: %w", f.adapter.Name(), err)
		}
		f.root.Lines().Extend(len(bars))
		for i, b := range bars {
			if err := f.root.WriteBarAt(i, b); err != nil {
				return err
			}
		}
		f.root.Lines().Home()
		f.bars = len(bars)
		if e.mx != nil {
			e.mx.BarsTotal.WithLabelValues(f.adapter.Name()).Add(float64(len(bars)))
		}
	}

	// Parents precede children in plan order, so every node's clock is
	// already sized when the node extends to match it.
	for _, n := range e.plan.Order {
		if _, isRoot := n.(*graph.Root); isRoot {
			continue
		}
		clk := n.Clock()
		if clk == nil {
			continue
		}
		n.Lines().Extend(clk.Lines().Len())
		end := n.Lines().Len()
		if start := n.MinPeriod() - 1; start < end {
			if err := n.EvalOnce(start, end); err != nil {
				return err
			}
			if e.mx != nil {
				e.mx.NodeEvals.Add(float64(end - start))
			}
		}
		n.Lines().Home()
	}
	return nil
}

// advance consumes the next event on the merged timeline: every feed
// whose pending bar carries the minimum timestamp is consumed in the
// same round. Reports false when all feeds are exhausted.
func (e *Engine) advance(advanced, updated map[graph.Node]bool) (bool, error) {
	// Refill pendings.
	for _, f := range e.feeds {
		if f.hasPending || f.exhausted {
			continue
		}
		if e.cfg.BulkMode {
			if f.nextIdx >= f.root.Lines().Len() {
				f.exhausted = true
				e.feedDone(f)
				continue
			}
			ts, err := f.root.BarTS(f.nextIdx)
			if err != nil {
				return false, err
			}
			f.pending = model.Bar{TS: ts}
			f.pendingNew = true
			f.hasPending = true
			continue
		}
		bar, isNew, err := f.adapter.Next()
		if errors.Is(err, feed.ErrExhausted) {
			f.exhausted = true
			e.feedDone(f)
			continue
		}
		if err != nil {
			return false, fmt.Errorf("engine: feed %q: %w", f.adapter.Name(), err)
		}
		f.pending = bar
		f.pendingNew = isNew
		f.hasPending = true
	}

	// Find the earliest pending timestamp.
	var minTS time.Time
	found := false
	for _, f := range e.feeds {
		if !f.hasPending {
			continue
		}
		if !found || f.pending.TS.Before(minTS) {
			minTS = f.pending.TS
			found = true
		}
	}
	if !found {
		return false, nil
	}

	// Consume every feed at that timestamp.
	for _, f := range e.feeds {
		if !f.hasPending || !f.pending.TS.Equal(minTS) {
			continue
		}
		f.hasPending = false
		if e.cfg.BulkMode {
			if err := f.root.Lines().Advance(1); err != nil {
				return false, err
			}
			f.nextIdx++
			advanced[f.root] = true
			continue
		}
		if f.pendingNew {
			f.root.AppendBar(f.pending)
			advanced[f.root] = true
			f.bars++
			if e.mx != nil {
				e.mx.BarsTotal.WithLabelValues(f.adapter.Name()).Inc()
			}
		} else {
			if err := f.root.UpdateBar(f.pending); err != nil {
				return false, err
			}
			updated[f.root] = true
			f.updates++
			if e.mx != nil {
				e.mx.UpdatesTotal.WithLabelValues(f.adapter.Name()).Inc()
			}
		}
	}
	return true, nil
}

func (e *Engine) feedDone(f *feedState) {
	e.log.Info("feed exhausted",
		slog.String("feed", f.adapter.Name()),
		slog.Int("bars", f.bars))
	if e.mx != nil {
		e.mx.ActiveFeeds.Dec()
	}
}

// step propagates this round's movement through the derived nodes, in
// plan order. A node moves iff its clock moved: clock advanced means a
// fresh slot (forward then evaluate), clock updated in place means the
// current slot is re-evaluated with the rewritten inputs.
func (e *Engine) step(advanced, updated map[graph.Node]bool) error {
	for _, n := range e.plan.Order {
		if _, isRoot := n.(*graph.Root); isRoot {
			continue
		}
		clk := n.Clock()
		if clk == nil {
			continue
		}
		switch {
		case advanced[clk]:
			if e.cfg.BulkMode {
				// Values are already materialized; only the cursor moves.
				if err := n.Lines().Advance(1); err != nil {
					return err
				}
			} else {
				n.Lines().Forward()
				if n.Lines().Cursor() >= n.MinPeriod()-1 {
					if err := n.EvalNext(); err != nil {
						return err
					}
					if e.mx != nil {
						e.mx.NodeEvals.Inc()
					}
				}
			}
			advanced[n] = true
		case updated[clk]:
			if n.Lines().Cursor() >= n.MinPeriod()-1 {
				if err := n.EvalNext(); err != nil {
					return err
				}
				if e.mx != nil {
					e.mx.NodeEvals.Inc()
				}
			}
			updated[n] = true
		}
	}
	return nil
}

// dispatch runs the round's side effects in fixed order: broker fills
// on freshly opened bars, queued notifications, then strategy
// lifecycle on its clock's timeline.
func (e *Engine) dispatch(advanced, updated map[graph.Node]bool) error {
	stratMoved := advanced[e.stratRoot] || updated[e.stratRoot]
	if stratMoved {
		idx := e.stratRoot.Lines().Cursor()
		ts, err := e.stratRoot.BarTS(idx)
		if err != nil {
			return err
		}
		e.sctx.SetBar(idx, ts)
	}

	// Resting orders resolve against each newly opened bar, so fills
	// land on the bar after the one that emitted them.
	for _, f := range e.feeds {
		if !advanced[f.root] {
			continue
		}
		idx := f.root.Lines().Cursor()
		bar, err := f.root.BarAt(idx)
		if err != nil {
			return err
		}
		e.sim.ProcessBar(f.root.Symbol(), bar, idx)
	}

	// Deliver everything the broker queued since the previous round.
	for _, n := range e.sim.Drain() {
		e.notifyMetrics(n)
		e.strat.Strategy().OnNotify(e.sctx, n)
	}

	if !stratMoved {
		return nil
	}

	idx := e.sctx.BarIndex()
	if idx+1 >= e.strat.MinPeriod() {
		if !e.firstValid {
			e.firstValid = true
			e.strat.Strategy().FirstValid(e.sctx)
			e.emit(event.Event{
				Kind: event.KindFirstValid, TS: e.sctx.Now(), Bar: idx,
				Symbol: e.stratRoot.Symbol(),
			})
		}
		e.strat.Strategy().OnBar(e.sctx)
	} else {
		e.strat.Strategy().Warmup(e.sctx)
	}
	e.emit(event.Event{
		Kind: event.KindBar, TS: e.sctx.Now(), Bar: idx,
		Symbol: e.stratRoot.Symbol(),
	})

	if advanced[e.stratRoot] {
		e.markToMarket()
	}
	return nil
}

func (e *Engine) notifyMetrics(n model.Notification) {
	switch n.Type {
	case model.NotifyOrderStatus:
		if e.mx != nil {
			e.mx.OrdersTotal.WithLabelValues(string(n.Order.Status)).Inc()
			if n.Order.Status == model.StatusFilled {
				e.mx.FillsTotal.Inc()
			}
		}
		e.emit(event.Event{
			Kind: event.KindOrder, TS: e.sctx.Now(), Bar: e.sctx.BarIndex(),
			Symbol: n.Order.Symbol,
			Detail: fmt.Sprintf("%s %s %s", n.Order.Side, n.Order.Type, n.Order.Status),
		})
	case model.NotifyTradeClosed:
		if e.mx != nil {
			e.mx.TradesTotal.Inc()
		}
		e.emit(event.Event{
			Kind: event.KindTrade, TS: e.sctx.Now(), Bar: e.sctx.BarIndex(),
			Symbol: n.Trade.Symbol,
			Detail: "pnl=" + n.Trade.PnL.StringFixed(2),
		})
	}
}

// markToMarket samples equity at the strategy clock's cadence using
// each stream's latest close.
func (e *Engine) markToMarket() {
	lasts := make(map[string]float64, len(e.roots))
	for _, r := range e.roots {
		idx := r.Lines().Cursor()
		if idx < 0 {
			continue
		}
		if bar, err := r.BarAt(idx); err == nil {
			lasts[r.Symbol()] = bar.Close
		}
	}
	e.sim.MarkToMarket(e.sctx.Now(), lasts)
}

// trim releases values that fell out of every buffer's discard window.
func (e *Engine) trim() {
	freed := 0
	for _, n := range e.plan.Order {
		freed += n.Lines().Trim()
	}
	if e.mx != nil {
		e.mx.TrimsTotal.Inc()
		e.mx.TrimmedValues.Add(float64(freed))
	}
}

func (e *Engine) stratBars() int {
	if e.stratRoot == nil {
		return 0
	}
	return e.stratRoot.Lines().Len()
}
