// Package strategy defines the user-facing strategy surface. A
// strategy declares its data and indicator dependencies in Init, then
// receives lifecycle callbacks driven by the engine: Warmup while
// dependencies are still filling, FirstValid once on the first bar
// every dependency is valid, OnBar on that bar and every later one,
// OnNotify for broker events, Stop at end of run.
package strategy

import (
	"log/slog"
	"time"

	"backtest-enginev1/internal/broker"
	"backtest-enginev1/internal/graph"
	"backtest-enginev1/internal/model"
)

// Strategy is implemented by user trading logic. Callbacks run on the
// engine goroutine; no internal synchronization is needed.
type Strategy interface {
	// Init binds data streams and indicators through the context. It
	// runs before resolution; orders cannot be placed here.
	Init(c *Context) error
	// Warmup fires on every bar before the dependencies are valid.
	// Indicator reads will fail here; order placement works.
	Warmup(c *Context)
	// FirstValid fires once, on the first bar all dependencies hold
	// valid values. OnBar follows on the same bar.
	FirstValid(c *Context)
	// OnBar fires on every bar from the first valid one onward.
	OnBar(c *Context)
	// OnNotify delivers broker notifications queued since the previous
	// bar, before that bar's OnBar.
	OnNotify(c *Context, n model.Notification)
	// Stop fires once when the run ends, normally or by request.
	Stop(c *Context)
}

// Node adapts a Strategy into a terminal graph node so the resolver
// sees its dependencies and computes when its callbacks may begin. Its
// evaluation methods are no-ops: the engine drives the callbacks.
type Node struct {
	graph.Base
	strat Strategy
	ctx   *Context
}

// NewNode wraps a strategy. Init runs immediately so the node's parent
// bindings exist before resolution.
func NewNode(strat Strategy, ctx *Context) (*Node, error) {
	n := &Node{strat: strat, ctx: ctx}
	n.InitNode("strategy", "signal")
	ctx.node = n
	if err := strat.Init(ctx); err != nil {
		return nil, err
	}
	ctx.initDone = true
	return n, nil
}

// Strategy returns the wrapped user strategy.
func (n *Node) Strategy() Strategy { return n.strat }

// Context returns the strategy's bound context.
func (n *Node) Context() *Context { return n.ctx }

func (n *Node) EvalOnce(start, end int) error { return nil }
func (n *Node) EvalNext() error               { return nil }

// Context is the strategy's view of the run: data streams, the broker,
// the current bar position, and run control.
type Context struct {
	roots []*graph.Root
	sim   *broker.Sim
	log   *slog.Logger
	stop  func()

	node     *Node
	initDone bool

	barIdx int
	barTS  time.Time
}

// NewContext assembles a strategy context. stop requests a graceful end
// of the run; it may be nil.
func NewContext(roots []*graph.Root, sim *broker.Sim, log *slog.Logger, stop func()) *Context {
	if log == nil {
		log = slog.Default()
	}
	if stop == nil {
		stop = func() {}
	}
	return &Context{roots: roots, sim: sim, log: log, stop: stop}
}

// SetBar positions the context on the current bar. Engine use only.
func (c *Context) SetBar(idx int, ts time.Time) {
	c.barIdx = idx
	c.barTS = ts
}

// Data returns the i-th data stream bound to the run. The first one is
// the strategy's clock.
func (c *Context) Data(i int) *graph.Root { return c.roots[i] }

// NumData returns the number of bound data streams.
func (c *Context) NumData() int { return len(c.roots) }

// Use declares a dependency on a node during Init and returns it. The
// resolver will delay the strategy's callbacks until the node is valid.
func (c *Context) Use(n graph.Node) graph.Node {
	if c.initDone {
		panic("strategy: Use called after Init")
	}
	c.node.Bind(n, 0, 0)
	return n
}

// BarIndex is the 0-based logical index of the current bar on the
// strategy's clock.
func (c *Context) BarIndex() int { return c.barIdx }

// Now is the timestamp of the current bar.
func (c *Context) Now() time.Time { return c.barTS }

// Log returns the run's logger.
func (c *Context) Log() *slog.Logger { return c.log }

// StopRun asks the engine to end the run after the current bar.
func (c *Context) StopRun() { c.stop() }

// Buy submits a market buy.
func (c *Context) Buy(symbol string, size float64) *model.Order {
	return c.sim.Submit(model.Order{
		Symbol: symbol, Side: model.SideBuy, Type: model.OrderMarket,
		Size: size, CreatedAt: c.barTS,
	})
}

// Sell submits a market sell.
func (c *Context) Sell(symbol string, size float64) *model.Order {
	return c.sim.Submit(model.Order{
		Symbol: symbol, Side: model.SideSell, Type: model.OrderMarket,
		Size: size, CreatedAt: c.barTS,
	})
}

// BuyLimit submits a limit buy resting until touched.
func (c *Context) BuyLimit(symbol string, size, limit float64) *model.Order {
	return c.sim.Submit(model.Order{
		Symbol: symbol, Side: model.SideBuy, Type: model.OrderLimit,
		Size: size, Price: limit, CreatedAt: c.barTS,
	})
}

// SellLimit submits a limit sell resting until touched.
func (c *Context) SellLimit(symbol string, size, limit float64) *model.Order {
	return c.sim.Submit(model.Order{
		Symbol: symbol, Side: model.SideSell, Type: model.OrderLimit,
		Size: size, Price: limit, CreatedAt: c.barTS,
	})
}

// BuyStop submits a stop buy.
func (c *Context) BuyStop(symbol string, size, stop float64) *model.Order {
	return c.sim.Submit(model.Order{
		Symbol: symbol, Side: model.SideBuy, Type: model.OrderStop,
		Size: size, Price: stop, CreatedAt: c.barTS,
	})
}

// SellStop submits a stop sell.
func (c *Context) SellStop(symbol string, size, stop float64) *model.Order {
	return c.sim.Submit(model.Order{
		Symbol: symbol, Side: model.SideSell, Type: model.OrderStop,
		Size: size, Price: stop, CreatedAt: c.barTS,
	})
}

// ClosePosition flattens the open position with a market order. It is a
// no-op when already flat.
func (c *Context) ClosePosition(symbol string) *model.Order {
	sz := c.sim.PositionSize(symbol)
	if sz == 0 {
		return nil
	}
	if sz > 0 {
		return c.Sell(symbol, sz)
	}
	return c.Buy(symbol, -sz)
}

// Cancel cancels a resting order.
func (c *Context) Cancel(id string) { c.sim.Cancel(id) }

// Position returns the signed open size for a symbol.
func (c *Context) Position(symbol string) float64 { return c.sim.PositionSize(symbol) }
