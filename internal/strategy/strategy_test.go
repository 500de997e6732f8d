package strategy

import (
	"testing"
	"time"

	"backtest-enginev1/internal/broker"
	"backtest-enginev1/internal/graph"
	"backtest-enginev1/internal/indicator"
	"backtest-enginev1/internal/model"
)

// deps binds one indicator in Init and remembers it.
type deps struct {
	sma *indicator.SMA
}

func (d *deps) Init(c *Context) error {
	d.sma = indicator.NewSMA(c.Data(0), 5)
	c.Use(d.sma)
	return nil
}
func (d *deps) Warmup(c *Context)                         {}
func (d *deps) FirstValid(c *Context)                     {}
func (d *deps) OnBar(c *Context)                          {}
func (d *deps) OnNotify(c *Context, n model.Notification) {}
func (d *deps) Stop(c *Context)                           {}

func newTestContext() (*Context, *broker.Sim) {
	root := graph.NewRoot("data", "TEST", model.TFMinute)
	sim := broker.New(broker.DefaultConfig(), nil)
	return NewContext([]*graph.Root{root}, sim, nil, nil), sim
}

func TestNode_InheritsDependencyWarmup(t *testing.T) {
	ctx, _ := newTestContext()
	node, err := NewNode(&deps{}, ctx)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if _, err := graph.Resolve([]graph.Node{node}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := node.MinPeriod(); got != 5 {
		t.Errorf("strategy minperiod = %d, want 5 (from the SMA)", got)
	}
}

func TestUse_PanicsAfterInit(t *testing.T) {
	ctx, _ := newTestContext()
	d := &deps{}
	node, err := NewNode(d, ctx)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	_ = node

	defer func() {
		if recover() == nil {
			t.Fatal("Use after Init did not panic")
		}
	}()
	ctx.Use(indicator.NewSMA(ctx.Data(0), 3))
}

func TestContext_OrderHelpers(t *testing.T) {
	ctx, sim := newTestContext()
	ctx.SetBar(3, time.Date(2024, 1, 2, 9, 33, 0, 0, time.UTC))

	o := ctx.BuyLimit("TEST", 10, 95)
	if o.Type != model.OrderLimit || o.Side != model.SideBuy || o.Price != 95 {
		t.Errorf("BuyLimit order = %+v", o)
	}
	if !o.CreatedAt.Equal(ctx.Now()) {
		t.Errorf("CreatedAt = %v, want the current bar's timestamp", o.CreatedAt)
	}
	if sim.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", sim.PendingCount())
	}

	ctx.Cancel(o.ID)
	if sim.PendingCount() != 0 {
		t.Errorf("pending after cancel = %d, want 0", sim.PendingCount())
	}
}

func TestSMACross_OnBarToleratesUnreadableSignal(t *testing.T) {
	ctx, sim := newTestContext()
	s := &SMACross{Fast: 2, Slow: 3, Size: 1}
	if _, err := NewNode(s, ctx); err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	// No bars have flowed, so the cross line is empty and Get(0) fails.
	// OnBar must log and bail without panicking or placing orders.
	s.OnBar(ctx)
	if sim.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after unreadable signal", sim.PendingCount())
	}
}

func TestClosePosition_NoopWhenFlat(t *testing.T) {
	ctx, sim := newTestContext()
	if o := ctx.ClosePosition("TEST"); o != nil {
		t.Fatalf("ClosePosition while flat = %+v, want nil", o)
	}
	if sim.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", sim.PendingCount())
	}
}

func TestClosePosition_FlattensLong(t *testing.T) {
	ctx, sim := newTestContext()
	sim.Submit(model.Order{Symbol: "TEST", Side: model.SideBuy, Type: model.OrderMarket, Size: 10})
	sim.ProcessBar("TEST", model.Bar{
		Symbol: "TEST", TS: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
		Open: 100, High: 101, Low: 99, Close: 100,
	}, 0)

	o := ctx.ClosePosition("TEST")
	if o == nil || o.Side != model.SideSell || o.Size != 10 {
		t.Fatalf("ClosePosition = %+v, want SELL 10", o)
	}
}
