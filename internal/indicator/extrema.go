package indicator

import (
	"fmt"
	"math"

	"backtest-enginev1/internal/graph"
	"backtest-enginev1/internal/line"
)

// windowNode is the shared shape of Highest/Lowest/StdDev: one output
// computed from a fixed window of one source line.
func newWindowNode(label string, parent graph.Node, in *line.Buffer, period int,
	fn func(win []float64) float64) *graph.Derived {
	d := &graph.Derived{}
	d.InitNode(label, "value")
	d.Bind(parent, period-1, 0)
	d.DeclareMinPeriod(period)
	out := d.Lines().Primary()
	d.SetStep(func(at int) error {
		win, err := in.Window(at, period)
		if err != nil {
			return err
		}
		return out.SetAt(at, fn(win))
	})
	return d
}

// NewHighest returns the rolling maximum of a named parent line.
func NewHighest(parent graph.Node, lineName string, period int) (*graph.Derived, error) {
	in, err := parent.Lines().Get(lineName)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("highest(%s.%s,%d)", parent.Label(), lineName, period)
	return newWindowNode(label, parent, in, period, func(win []float64) float64 {
		hi := win[0]
		for _, v := range win[1:] {
			if v > hi {
				hi = v
			}
		}
		return hi
	}), nil
}

// NewLowest returns the rolling minimum of a named parent line.
func NewLowest(parent graph.Node, lineName string, period int) (*graph.Derived, error) {
	in, err := parent.Lines().Get(lineName)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("lowest(%s.%s,%d)", parent.Label(), lineName, period)
	return newWindowNode(label, parent, in, period, func(win []float64) float64 {
		lo := win[0]
		for _, v := range win[1:] {
			if v < lo {
				lo = v
			}
		}
		return lo
	}), nil
}

// NewStdDev returns the rolling population standard deviation of the
// parent's source line.
func NewStdDev(parent graph.Node, period int) *graph.Derived {
	in := src(parent)
	label := fmt.Sprintf("stddev(%s,%d)", parent.Label(), period)
	return newWindowNode(label, parent, in, period, func(win []float64) float64 {
		m := mean(win)
		sq := 0.0
		for _, v := range win {
			d := v - m
			sq += d * d
		}
		return math.Sqrt(sq / float64(len(win)))
	})
}
