package indicator

import (
	"fmt"
	"math"

	"backtest-enginev1/internal/graph"
)

// RSI is the Relative Strength Index with Wilder smoothing. The running
// gain/loss averages live on hidden lines so both evaluation modes walk
// the exact same recursion.
type RSI struct {
	graph.Derived
	period int
}

// NewRSI creates an RSI of the parent's source line.
func NewRSI(parent graph.Node, period int) *RSI {
	r := &RSI{period: period}
	r.InitNode(fmt.Sprintf("rsi(%s,%d)", parent.Label(), period), "rsi", "avggain", "avgloss")
	r.Bind(parent, period, 0) // period deltas need period+1 prices
	r.DeclareMinPeriod(period + 1)
	r.DeclareSelfLookback(1)

	p := float64(period)
	in := src(parent)
	out := r.Lines().Primary()
	gainLn, _ := r.Lines().Get("avggain")
	lossLn, _ := r.Lines().Get("avgloss")

	rsiOf := func(avgGain, avgLoss float64) float64 {
		if avgLoss == 0 {
			return 100.0
		}
		rs := avgGain / avgLoss
		return 100.0 - (100.0 / (1.0 + rs))
	}

	r.SetStep(func(at int) error {
		prevGain := math.NaN()
		if at > 0 {
			v, err := gainLn.At(at - 1)
			if err != nil {
				return err
			}
			prevGain = v
		}

		var avgGain, avgLoss float64
		if math.IsNaN(prevGain) {
			// Seed: plain average of the first period gains/losses.
			win, err := in.Window(at, period+1)
			if err != nil {
				return err
			}
			for i := 1; i < len(win); i++ {
				delta := win[i] - win[i-1]
				if delta > 0 {
					avgGain += delta
				} else {
					avgLoss += -delta
				}
			}
			avgGain /= p
			avgLoss /= p
		} else {
			prevLoss, err := lossLn.At(at - 1)
			if err != nil {
				return err
			}
			price, err := in.At(at)
			if err != nil {
				return err
			}
			prevPrice, err := in.At(at - 1)
			if err != nil {
				return err
			}
			delta := price - prevPrice
			gain, loss := 0.0, 0.0
			if delta > 0 {
				gain = delta
			} else {
				loss = -delta
			}
			avgGain = (prevGain*(p-1) + gain) / p
			avgLoss = (prevLoss*(p-1) + loss) / p
		}

		if err := gainLn.SetAt(at, avgGain); err != nil {
			return err
		}
		if err := lossLn.SetAt(at, avgLoss); err != nil {
			return err
		}
		return out.SetAt(at, rsiOf(avgGain, avgLoss))
	})
	return r
}
