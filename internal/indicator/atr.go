package indicator

import (
	"fmt"
	"math"

	"backtest-enginev1/internal/graph"
)

// ATR is the Average True Range: Wilder-smoothed true range over a
// root's high/low/close lines.
type ATR struct {
	graph.Derived
	period int
}

// NewATR creates an ATR over the given data root.
func NewATR(parent *graph.Root, period int) *ATR {
	a := &ATR{period: period}
	a.InitNode(fmt.Sprintf("atr(%s,%d)", parent.Label(), period), "atr")
	a.Bind(parent, period, 0) // period true ranges need period+1 bars
	a.DeclareMinPeriod(period + 1)
	a.DeclareSelfLookback(1)

	p := float64(period)
	high, _ := parent.Lines().Get(graph.LineHigh)
	low, _ := parent.Lines().Get(graph.LineLow)
	cls, _ := parent.Lines().Get(graph.LineClose)
	out := a.Lines().Primary()

	trueRange := func(at int) (float64, error) {
		h, err := high.At(at)
		if err != nil {
			return 0, err
		}
		l, err := low.At(at)
		if err != nil {
			return 0, err
		}
		pc, err := cls.At(at - 1)
		if err != nil {
			return 0, err
		}
		tr := h - l
		if d := math.Abs(h - pc); d > tr {
			tr = d
		}
		if d := math.Abs(l - pc); d > tr {
			tr = d
		}
		return tr, nil
	}

	a.SetStep(func(at int) error {
		prev := math.NaN()
		if at > 0 {
			v, err := out.At(at - 1)
			if err != nil {
				return err
			}
			prev = v
		}
		if math.IsNaN(prev) {
			// Seed: plain average of the first period true ranges.
			sum := 0.0
			for i := at - period + 1; i <= at; i++ {
				tr, err := trueRange(i)
				if err != nil {
					return err
				}
				sum += tr
			}
			return out.SetAt(at, sum/p)
		}
		tr, err := trueRange(at)
		if err != nil {
			return err
		}
		return out.SetAt(at, (prev*(p-1)+tr)/p)
	})
	return a
}
