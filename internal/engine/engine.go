// Package engine drives a replay run: it ingests bars from one or more
// feeds into root streams, evaluates the indicator graph either in bulk
// (whole range at once) or incrementally (bar by bar), and dispatches
// strategy lifecycle and broker processing on a merged timeline. Both
// evaluation modes drive the same per-node step functions, so they
// produce bit-identical line values.
package engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"backtest-enginev1/internal/broker"
	"backtest-enginev1/internal/event"
	"backtest-enginev1/internal/feed"
	"backtest-enginev1/internal/graph"
	"backtest-enginev1/internal/metrics"
	"backtest-enginev1/internal/model"
	"backtest-enginev1/internal/strategy"
)

// State is the engine's phase. Transitions are one-way:
// Configuring -> Resolving -> Running -> Stopped.
type State int

const (
	StateConfiguring State = iota
	StateResolving
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateResolving:
		return "resolving"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ConfigError reports an unrunnable configuration, detected before any
// bar is processed.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s: %v", e.Reason, e.Err)
	}
	return "engine: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config controls one run.
type Config struct {
	// BulkMode loads every feed's full range up front and evaluates each
	// node over its whole history in one pass; the per-bar loop then
	// only moves cursors and dispatches callbacks. False means
	// incremental: bars are ingested and nodes stepped one slot at a
	// time.
	BulkMode bool

	// KeepBars bounds memory: each buffer retains only this many bars
	// behind its cursor, older values are released as the run advances.
	// 0 means unbounded (nothing is ever released). Bounded runs are
	// incremental only.
	KeepBars int

	// TrimEvery is the trim cadence in bars for bounded runs. 0 means
	// every bar.
	TrimEvery int

	// Preload materializes every feed before the incremental loop
	// starts, paying the load cost up front instead of on the first
	// Next. No effect in bulk mode, which always materializes.
	Preload bool

	// Events receives run-progress events when non-nil. Full rings drop.
	Events *event.Ring

	// Metrics receives run counters when non-nil.
	Metrics *metrics.Metrics

	Log *slog.Logger
}

// feedState tracks one feed's progress on the merged timeline.
type feedState struct {
	adapter feed.Adapter
	root    *graph.Root

	pending    model.Bar
	pendingNew bool
	hasPending bool
	exhausted  bool

	// bulk mode: index of the next materialized bar to consume
	nextIdx int

	bars    int
	updates int
}

// Engine owns one run. Configure with AddFeed and SetStrategy, then
// call Run once. Engines are not reusable.
type Engine struct {
	cfg Config
	log *slog.Logger
	mx  *metrics.Metrics

	feeds []*feedState
	roots []*graph.Root
	sim   *broker.Sim
	strat *strategy.Node
	sctx  *strategy.Context

	plan  *graph.Plan
	state State

	stopReq atomic.Bool

	// set during Run
	stratRoot  *graph.Root
	firstValid bool
}

// New creates an engine over a broker simulator.
func New(cfg Config, sim *broker.Sim) *Engine {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Engine{cfg: cfg, log: cfg.Log, mx: cfg.Metrics, sim: sim}
}

// AddFeed registers a feed and returns the root stream it fills. The
// first feed added is the strategy's default clock. Configuring only.
func (e *Engine) AddFeed(a feed.Adapter) (*graph.Root, error) {
	if e.state != StateConfiguring {
		return nil, &ConfigError{Reason: "AddFeed after configuration closed"}
	}
	root := graph.NewRoot(a.Name(), a.Symbol(), a.Timeframe())
	e.feeds = append(e.feeds, &feedState{adapter: a, root: root})
	e.roots = append(e.roots, root)
	return root, nil
}

// SetStrategy binds the strategy and runs its Init. Must follow every
// AddFeed; the strategy's Init sees all registered streams.
func (e *Engine) SetStrategy(s strategy.Strategy) error {
	if e.state != StateConfiguring {
		return &ConfigError{Reason: "SetStrategy after configuration closed"}
	}
	if len(e.feeds) == 0 {
		return &ConfigError{Reason: "SetStrategy before any feed"}
	}
	if e.strat != nil {
		return &ConfigError{Reason: "strategy already set"}
	}
	e.sctx = strategy.NewContext(e.roots, e.sim, e.log, func() { e.Stop() })
	node, err := strategy.NewNode(s, e.sctx)
	if err != nil {
		return &ConfigError{Reason: "strategy init failed", Err: err}
	}
	e.strat = node
	return nil
}

// Stop requests a graceful end of the run. Safe from any goroutine; the
// engine honors it at the next bar boundary.
func (e *Engine) Stop() { e.stopReq.Store(true) }

// State reports the engine's current phase.
func (e *Engine) State() State { return e.state }

// resolve freezes the graph and validates the configuration.
func (e *Engine) resolve() error {
	e.state = StateResolving

	terminals := make([]graph.Node, 0, len(e.roots)+1)
	terminals = append(terminals, e.strat)
	for _, r := range e.roots {
		terminals = append(terminals, r)
	}
	plan, err := graph.Resolve(terminals)
	if err != nil {
		return &ConfigError{Reason: "graph resolution failed", Err: err}
	}
	e.plan = plan

	if e.cfg.KeepBars > 0 {
		if e.cfg.BulkMode {
			return &ConfigError{Reason: "bounded memory requires incremental mode"}
		}
		if e.cfg.KeepBars < plan.MaxLookback+1 {
			return &ConfigError{Reason: fmt.Sprintf(
				"KeepBars=%d below the graph's deepest lookback %d+1",
				e.cfg.KeepBars, plan.MaxLookback)}
		}
		plan.ApplyKeep(e.cfg.KeepBars)
	}

	// The strategy advances on its first dependency's timeline; with no
	// dependencies it follows the first feed.
	e.stratRoot = rootClockOf(e.strat)
	if e.stratRoot == nil {
		e.stratRoot = e.roots[0]
	}

	e.log.Info("graph resolved",
		slog.Int("nodes", len(plan.Order)),
		slog.Int("max_lookback", plan.MaxLookback),
		slog.Int("strategy_minperiod", e.strat.MinPeriod()))
	return nil
}

// rootClockOf walks the clock chain down to a root stream.
func rootClockOf(n graph.Node) *graph.Root {
	for n != nil {
		if r, ok := n.(*graph.Root); ok {
			return r
		}
		n = n.Clock()
	}
	return nil
}

func (e *Engine) emit(ev event.Event) {
	if e.cfg.Events == nil {
		return
	}
	if !e.cfg.Events.Push(ev) && e.mx != nil {
		e.mx.EventsLost.Inc()
	}
}
