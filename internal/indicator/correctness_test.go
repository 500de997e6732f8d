package indicator

import (
	"math"
	"testing"
	"time"

	"backtest-enginev1/internal/graph"
	"backtest-enginev1/internal/model"
)

// minuteBars builds a minute series where each bar straddles its close
// by one point: open=close=c, high=c+1, low=c-1.
func minuteBars(closes []float64) []model.Bar {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{
			Symbol: "TEST", TS: base.Add(time.Duration(i) * time.Minute),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1,
		}
	}
	return out
}

type buildFn func(root *graph.Root) graph.Node

// evalBulk materializes every bar up front and runs each node's batch
// pass over its valid range, parents first.
func evalBulk(t *testing.T, bars []model.Bar, build buildFn) graph.Node {
	t.Helper()
	root := graph.NewRoot("data", "TEST", model.TFMinute)
	node := build(root)
	plan, err := graph.Resolve([]graph.Node{node})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, b := range bars {
		root.AppendBar(b)
	}
	n := len(bars)
	for _, nd := range plan.Order {
		if nd.Clock() == nil {
			continue
		}
		nd.Lines().Extend(n)
		if start := nd.MinPeriod() - 1; start < n {
			if err := nd.EvalOnce(start, n); err != nil {
				t.Fatalf("EvalOnce(%s): %v", nd.Label(), err)
			}
		}
	}
	return node
}

// evalIncremental feeds bars one at a time and steps each node at its
// cursor once it has enough history, parents first.
func evalIncremental(t *testing.T, bars []model.Bar, build buildFn) graph.Node {
	t.Helper()
	root := graph.NewRoot("data", "TEST", model.TFMinute)
	node := build(root)
	plan, err := graph.Resolve([]graph.Node{node})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, b := range bars {
		root.AppendBar(b)
		for _, nd := range plan.Order {
			if nd.Clock() == nil {
				continue
			}
			nd.Lines().Forward()
			if nd.Lines().Cursor() >= nd.MinPeriod()-1 {
				if err := nd.EvalNext(); err != nil {
					t.Fatalf("EvalNext(%s): %v", nd.Label(), err)
				}
			}
		}
	}
	return node
}

func at(t *testing.T, n graph.Node, i int) float64 {
	t.Helper()
	v, err := n.Lines().Primary().At(i)
	if err != nil {
		t.Fatalf("%s At(%d): %v", n.Label(), i, err)
	}
	return v
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// ────────────────────────────────────────────────────────────
// Hand-computed values
// ────────────────────────────────────────────────────────────

func TestSMA_HandComputed(t *testing.T) {
	bars := minuteBars([]float64{10, 11, 12, 13, 14})
	n := evalBulk(t, bars, func(r *graph.Root) graph.Node { return NewSMA(r, 3) })

	if !math.IsNaN(at(t, n, 0)) || !math.IsNaN(at(t, n, 1)) {
		t.Error("pre-warmup slots must stay NaN")
	}
	for i, want := range map[int]float64{2: 11, 3: 12, 4: 13} {
		if got := at(t, n, i); got != want {
			t.Errorf("sma[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestEMA_SeedAndRecursion(t *testing.T) {
	// period 3: multiplier 0.5, so every value lands on an exact float.
	bars := minuteBars([]float64{10, 11, 12, 13, 14})
	n := evalBulk(t, bars, func(r *graph.Root) graph.Node { return NewEMA(r, 3) })

	if got := at(t, n, 2); got != 11 { // seed = SMA of first window
		t.Errorf("ema seed = %v, want 11", got)
	}
	if got := at(t, n, 3); got != 12 { // 13*0.5 + 11*0.5
		t.Errorf("ema[3] = %v, want 12", got)
	}
	if got := at(t, n, 4); got != 13 {
		t.Errorf("ema[4] = %v, want 13", got)
	}
}

func TestSMMA_WilderSmoothing(t *testing.T) {
	bars := minuteBars([]float64{10, 11, 12, 13})
	n := evalBulk(t, bars, func(r *graph.Root) graph.Node { return NewSMMA(r, 3) })

	if got := at(t, n, 2); got != 11 {
		t.Errorf("smma seed = %v, want 11", got)
	}
	if got := at(t, n, 3); !approx(got, 35.0/3) { // (11*2 + 13) / 3
		t.Errorf("smma[3] = %v, want %v", got, 35.0/3)
	}
}

func TestRSI_WilderValues(t *testing.T) {
	// Three straight gains seed the averages, then a loss bar.
	bars := minuteBars([]float64{1, 2, 3, 4, 3})
	n := evalBulk(t, bars, func(r *graph.Root) graph.Node { return NewRSI(r, 3) })

	// Seed window has no losses: RSI pegs at 100.
	if got := at(t, n, 3); got != 100 {
		t.Errorf("rsi[3] = %v, want 100", got)
	}
	// Next delta -1: avgGain=2/3, avgLoss=1/3, RS=2, RSI=66.67.
	if got := at(t, n, 4); !approx(got, 200.0/3) {
		t.Errorf("rsi[4] = %v, want %v", got, 200.0/3)
	}
}

func TestATR_ConstantTrueRange(t *testing.T) {
	// A one-point ramp with a two-point bar range keeps TR pinned at 2:
	// high-low = 2 and |high - prevClose| = 2 every bar.
	bars := minuteBars([]float64{10, 11, 12, 13, 14, 15})
	n := evalBulk(t, bars, func(r *graph.Root) graph.Node { return NewATR(r, 3) })

	for i := 3; i <= 5; i++ {
		if got := at(t, n, i); got != 2 {
			t.Errorf("atr[%d] = %v, want 2", i, got)
		}
	}
}

func TestHighestLowest(t *testing.T) {
	bars := minuteBars([]float64{5, 1, 4, 2, 6})

	hi := evalBulk(t, bars, func(r *graph.Root) graph.Node {
		n, err := NewHighest(r, graph.LineHigh, 3)
		if err != nil {
			t.Fatalf("NewHighest: %v", err)
		}
		return n
	})
	for i, want := range map[int]float64{2: 6, 3: 5, 4: 7} {
		if got := at(t, hi, i); got != want {
			t.Errorf("highest[%d] = %v, want %v", i, got, want)
		}
	}

	lo := evalBulk(t, bars, func(r *graph.Root) graph.Node {
		n, err := NewLowest(r, graph.LineLow, 3)
		if err != nil {
			t.Fatalf("NewLowest: %v", err)
		}
		return n
	})
	for i, want := range map[int]float64{2: 0, 3: 0, 4: 1} {
		if got := at(t, lo, i); got != want {
			t.Errorf("lowest[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestStdDev_Population(t *testing.T) {
	bars := minuteBars([]float64{1, 2, 3, 4})
	n := evalBulk(t, bars, func(r *graph.Root) graph.Node { return NewStdDev(r, 3) })

	want := math.Sqrt(2.0 / 3) // {1,2,3}: mean 2, variance 2/3
	if got := at(t, n, 2); !approx(got, want) {
		t.Errorf("stddev[2] = %v, want %v", got, want)
	}
	if got := at(t, n, 3); !approx(got, want) { // {2,3,4} has the same spread
		t.Errorf("stddev[3] = %v, want %v", got, want)
	}
}

func TestMACD_LineRelations(t *testing.T) {
	bars := minuteBars([]float64{10, 11, 12, 13, 14, 15})
	var m *MACD
	node := evalBulk(t, bars, func(r *graph.Root) graph.Node {
		m = NewMACD(r, 2, 3, 2)
		return m
	})

	fastLn := m.FastEMA().Lines().Primary()
	slowLn := m.SlowEMA().Lines().Primary()
	macdLn := node.Lines().Primary()
	sigLn, _ := node.Lines().Get("signal")
	histLn, _ := node.Lines().Get("hist")

	start := node.MinPeriod() - 1
	for i := start; i < len(bars); i++ {
		f, _ := fastLn.At(i)
		s, _ := slowLn.At(i)
		macd, _ := macdLn.At(i)
		if !approx(macd, f-s) {
			t.Errorf("macd[%d] = %v, want fast-slow = %v", i, macd, f-s)
		}
		sig, _ := sigLn.At(i)
		hist, _ := histLn.At(i)
		if !approx(hist, macd-sig) {
			t.Errorf("hist[%d] = %v, want macd-signal = %v", i, hist, macd-sig)
		}
	}

	// The first signal value is the plain average of the first
	// signal-period macd values, read straight off the EMA lines.
	fPrev, _ := fastLn.At(start - 1)
	sPrev, _ := slowLn.At(start - 1)
	fNow, _ := fastLn.At(start)
	sNow, _ := slowLn.At(start)
	wantSeed := ((fPrev - sPrev) + (fNow - sNow)) / 2
	if got, _ := sigLn.At(start); !approx(got, wantSeed) {
		t.Errorf("signal seed = %v, want %v", got, wantSeed)
	}
}

func TestCrossOver_Signals(t *testing.T) {
	// Up-ramp then down-ramp: the initial ordering counts as the first
	// cross, the downward cross fires once on the way back down.
	bars := minuteBars([]float64{1, 2, 3, 4, 5, 6, 5, 4, 3, 2, 1})
	n := evalBulk(t, bars, func(r *graph.Root) graph.Node {
		return NewCrossOver(NewSMA(r, 2), NewSMA(r, 4))
	})

	want := map[int]float64{3: 1, 4: 0, 5: 0, 6: 0, 7: -1, 8: 0, 9: 0, 10: 0}
	for i, w := range want {
		if got := at(t, n, i); got != w {
			t.Errorf("cross[%d] = %v, want %v", i, got, w)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Bulk / incremental equivalence
// ────────────────────────────────────────────────────────────

// wigglyCloses is a deterministic non-monotonic series: enough ups and
// downs to exercise every branch of the recursive indicators.
func wigglyCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 50 + float64((i*i*31)%157)/4
	}
	return out
}

func TestBulkIncrementalBitEquality(t *testing.T) {
	builds := map[string]buildFn{
		"sma":    func(r *graph.Root) graph.Node { return NewSMA(r, 5) },
		"ema":    func(r *graph.Root) graph.Node { return NewEMA(r, 5) },
		"smma":   func(r *graph.Root) graph.Node { return NewSMMA(r, 5) },
		"rsi":    func(r *graph.Root) graph.Node { return NewRSI(r, 5) },
		"atr":    func(r *graph.Root) graph.Node { return NewATR(r, 5) },
		"stddev": func(r *graph.Root) graph.Node { return NewStdDev(r, 5) },
		"macd":   func(r *graph.Root) graph.Node { return NewMACD(r, 3, 7, 4) },
		"cross": func(r *graph.Root) graph.Node {
			return NewCrossOver(NewSMA(r, 3), NewSMA(r, 8))
		},
		"highest": func(r *graph.Root) graph.Node {
			n, err := NewHighest(r, graph.LineHigh, 5)
			if err != nil {
				t.Fatalf("NewHighest: %v", err)
			}
			return n
		},
	}

	bars := minuteBars(wigglyCloses(60))
	for name, build := range builds {
		t.Run(name, func(t *testing.T) {
			bulk := evalBulk(t, bars, build)
			incr := evalIncremental(t, bars, build)

			for _, lineName := range bulk.Lines().Names() {
				bLn, _ := bulk.Lines().Get(lineName)
				iLn, _ := incr.Lines().Get(lineName)
				for i := bulk.MinPeriod() - 1; i < len(bars); i++ {
					bv, err := bLn.At(i)
					if err != nil {
						t.Fatalf("bulk %s At(%d): %v", lineName, i, err)
					}
					iv, err := iLn.At(i)
					if err != nil {
						t.Fatalf("incremental %s At(%d): %v", lineName, i, err)
					}
					if math.Float64bits(bv) != math.Float64bits(iv) {
						t.Fatalf("%s[%d]: bulk %v != incremental %v", lineName, i, bv, iv)
					}
				}
			}
		})
	}
}
