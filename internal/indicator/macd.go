package indicator

import (
	"fmt"
	"math"

	"backtest-enginev1/internal/graph"
)

// MACD is moving average convergence/divergence: an indicator built on
// two other indicators. Lines: macd (fast EMA − slow EMA), signal (EMA
// of macd), hist (macd − signal).
type MACD struct {
	graph.Derived
	fast, slow *EMA
	signalPer  int
}

// NewMACD creates a MACD over the parent's source line with the given
// fast/slow/signal periods (typically 12/26/9).
func NewMACD(parent graph.Node, fastPer, slowPer, signalPer int) *MACD {
	m := &MACD{
		fast:      NewEMA(parent, fastPer),
		slow:      NewEMA(parent, slowPer),
		signalPer: signalPer,
	}
	m.InitNode(fmt.Sprintf("macd(%s,%d,%d,%d)", parent.Label(), fastPer, slowPer, signalPer),
		"macd", "signal", "hist")
	// The signal seed reads signalPer macd values, each one fast/slow
	// difference, so the structural shift on both EMAs is signalPer-1.
	m.Bind(m.fast, signalPer-1, 0)
	m.Bind(m.slow, signalPer-1, 0)
	m.DeclareMinPeriod(signalPer)
	m.DeclareSelfLookback(1)

	fastLn := m.fast.Lines().Primary()
	slowLn := m.slow.Lines().Primary()
	macdLn := m.Lines().Primary()
	sigLn, _ := m.Lines().Get("signal")
	histLn, _ := m.Lines().Get("hist")

	mult := 2.0 / float64(signalPer+1)
	macdAt := func(at int) (float64, error) {
		f, err := fastLn.At(at)
		if err != nil {
			return 0, err
		}
		s, err := slowLn.At(at)
		if err != nil {
			return 0, err
		}
		return f - s, nil
	}

	m.SetStep(func(at int) error {
		macd, err := macdAt(at)
		if err != nil {
			return err
		}
		if err := macdLn.SetAt(at, macd); err != nil {
			return err
		}

		prevSig := math.NaN()
		if at > 0 {
			v, err := sigLn.At(at - 1)
			if err != nil {
				return err
			}
			prevSig = v
		}
		var sig float64
		if math.IsNaN(prevSig) {
			// Seed: average of the first signalPer macd values, computed
			// straight from the EMA lines so no pre-minperiod state is
			// needed.
			sum := 0.0
			for i := at - signalPer + 1; i <= at; i++ {
				v, err := macdAt(i)
				if err != nil {
					return err
				}
				sum += v
			}
			sig = sum / float64(signalPer)
		} else {
			sig = macd*mult + prevSig*(1-mult)
		}
		if err := sigLn.SetAt(at, sig); err != nil {
			return err
		}
		return histLn.SetAt(at, macd-sig)
	})
	return m
}

// FastEMA and SlowEMA expose the internal nodes so callers can reuse or
// inspect them.
func (m *MACD) FastEMA() *EMA { return m.fast }
func (m *MACD) SlowEMA() *EMA { return m.slow }
