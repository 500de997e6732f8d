package strategy

import (
	"backtest-enginev1/internal/indicator"
	"backtest-enginev1/internal/model"
)

// SMACross is a long-only moving-average crossover: buy when the fast
// SMA crosses above the slow one, flatten when it crosses below.
type SMACross struct {
	Fast, Slow int
	Size       float64

	cross *indicator.CrossOver
}

// Init wires fast and slow SMAs over the first data stream's close.
func (s *SMACross) Init(c *Context) error {
	root := c.Data(0)
	fast := indicator.NewSMA(root, s.Fast)
	slow := indicator.NewSMA(root, s.Slow)
	s.cross = indicator.NewCrossOver(fast, slow)
	c.Use(s.cross)
	return nil
}

func (s *SMACross) Warmup(c *Context) {}

func (s *SMACross) FirstValid(c *Context) {
	c.Log().Info("warmup complete", "bar", c.BarIndex())
}

func (s *SMACross) OnBar(c *Context) {
	sig, err := s.cross.Lines().Primary().Get(0)
	if err != nil {
		// OnBar never fires before the cross is valid, so an unreadable
		// signal means a wiring problem worth surfacing.
		c.Log().Warn("cross signal unreadable", "bar", c.BarIndex(), "error", err.Error())
		return
	}
	sym := c.Data(0).Symbol()
	switch {
	case sig > 0 && c.Position(sym) == 0:
		c.Buy(sym, s.Size)
	case sig < 0 && c.Position(sym) > 0:
		c.ClosePosition(sym)
	}
}

func (s *SMACross) OnNotify(c *Context, n model.Notification) {
	if n.Type == model.NotifyTradeClosed {
		c.Log().Info("trade closed",
			"symbol", n.Trade.Symbol,
			"pnl", n.Trade.PnL.StringFixed(2),
			"bars_held", n.Trade.BarsHeld)
	}
}

func (s *SMACross) Stop(c *Context) {}
