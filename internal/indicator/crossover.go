package indicator

import (
	"fmt"
	"math"

	"backtest-enginev1/internal/graph"
)

// CrossOver emits +1 when the fast line crosses above the slow line,
// -1 when it crosses below, and 0 otherwise.
//
// On the first bar both parents are valid there is no previous
// relationship to compare against, so the initial ordering itself
// counts as the cross: fast already above slow emits +1 on that bar.
// A fast(10)/slow(30) pair over a rising series therefore crosses
// upward exactly once, on bar 30.
type CrossOver struct {
	graph.Derived
}

// NewCrossOver creates a crossover signal between two nodes' primary
// lines.
func NewCrossOver(fast, slow graph.Node) *CrossOver {
	c := &CrossOver{}
	c.InitNode(fmt.Sprintf("cross(%s,%s)", fast.Label(), slow.Label()), "cross")
	// Lookback 1, shift 0: the previous bar is read when present but a
	// missing one only means "no prior state", not a longer warmup.
	c.Bind(fast, 0, 1)
	c.Bind(slow, 0, 1)

	fastLn := fast.Lines().Primary()
	slowLn := slow.Lines().Primary()
	out := c.Lines().Primary()

	sign := func(d float64) float64 {
		switch {
		case d > 0:
			return 1
		case d < 0:
			return -1
		default:
			return 0
		}
	}

	c.SetStep(func(at int) error {
		f0, err := fastLn.At(at)
		if err != nil {
			return err
		}
		s0, err := slowLn.At(at)
		if err != nil {
			return err
		}
		d0 := f0 - s0

		fp, sp := math.NaN(), math.NaN()
		if at > 0 {
			if fp, err = fastLn.At(at - 1); err != nil {
				return err
			}
			if sp, err = slowLn.At(at - 1); err != nil {
				return err
			}
		}
		if math.IsNaN(fp) || math.IsNaN(sp) {
			return out.SetAt(at, sign(d0))
		}
		dp := fp - sp
		v := 0.0
		if dp <= 0 && d0 > 0 {
			v = 1
		} else if dp >= 0 && d0 < 0 {
			v = -1
		}
		return out.SetAt(at, v)
	})
	return c
}
