package indicator

import (
	"fmt"
	"math"

	"backtest-enginev1/internal/graph"
)

// EMA is the exponential moving average, seeded with the SMA of the
// first period values and recursive afterwards.
type EMA struct {
	graph.Derived
	period int
}

// NewEMA creates an EMA of the parent's source line.
func NewEMA(parent graph.Node, period int) *EMA {
	e := &EMA{period: period}
	e.InitNode(fmt.Sprintf("ema(%s,%d)", parent.Label(), period), "ema")
	e.Bind(parent, period-1, 0) // seed reads the full first window
	e.DeclareMinPeriod(period)
	e.DeclareSelfLookback(1)

	mult := 2.0 / float64(period+1)
	in := src(parent)
	out := e.Lines().Primary()
	e.SetStep(func(at int) error {
		prev := math.NaN()
		if at > 0 {
			p, err := out.At(at - 1)
			if err != nil {
				return err
			}
			prev = p
		}
		if math.IsNaN(prev) {
			// First valid bar: seed with the SMA of the window.
			win, err := in.Window(at, period)
			if err != nil {
				return err
			}
			return out.SetAt(at, mean(win))
		}
		price, err := in.At(at)
		if err != nil {
			return err
		}
		return out.SetAt(at, price*mult+prev*(1-mult))
	})
	return e
}

// Period returns the configured period.
func (e *EMA) Period() int { return e.period }

// SMMA is the smoothed (Wilder) moving average: like EMA but with
// alpha = 1/period, seeded the same way.
type SMMA struct {
	graph.Derived
	period int
}

// NewSMMA creates a Wilder moving average of the parent's source line.
func NewSMMA(parent graph.Node, period int) *SMMA {
	m := &SMMA{period: period}
	m.InitNode(fmt.Sprintf("smma(%s,%d)", parent.Label(), period), "smma")
	m.Bind(parent, period-1, 0)
	m.DeclareMinPeriod(period)
	m.DeclareSelfLookback(1)

	p := float64(period)
	in := src(parent)
	out := m.Lines().Primary()
	m.SetStep(func(at int) error {
		prev := math.NaN()
		if at > 0 {
			v, err := out.At(at - 1)
			if err != nil {
				return err
			}
			prev = v
		}
		if math.IsNaN(prev) {
			win, err := in.Window(at, period)
			if err != nil {
				return err
			}
			return out.SetAt(at, mean(win))
		}
		price, err := in.At(at)
		if err != nil {
			return err
		}
		return out.SetAt(at, (prev*(p-1)+price)/p)
	})
	return m
}
