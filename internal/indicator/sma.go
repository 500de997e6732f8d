package indicator

import (
	"fmt"

	"backtest-enginev1/internal/graph"
)

// SMA is the simple moving average over a rolling window.
type SMA struct {
	graph.Derived
	period int
}

// NewSMA creates an SMA of the parent's source line.
func NewSMA(parent graph.Node, period int) *SMA {
	s := &SMA{period: period}
	s.InitNode(fmt.Sprintf("sma(%s,%d)", parent.Label(), period), "sma")
	s.Bind(parent, period-1, 0) // reads parent[-(period-1)] .. parent[0]
	s.DeclareMinPeriod(period)

	in := src(parent)
	out := s.Lines().Primary()
	s.SetStep(func(at int) error {
		win, err := in.Window(at, period)
		if err != nil {
			return err
		}
		return out.SetAt(at, mean(win))
	})
	return s
}

// Period returns the configured window length.
func (s *SMA) Period() int { return s.period }
