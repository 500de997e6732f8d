// Package indicator provides the built-in derived nodes: moving
// averages, oscillators, window extrema, and signal nodes.
//
// Every indicator implements its formula exactly once, as the node's
// step function; the bulk and incremental schedulers both drive that
// same function, so the two modes agree to full floating-point
// precision by construction. Warmup/window needs are declared as
// structural shifts on the parent binding, which the resolver folds
// into the node's minperiod.
package indicator

import (
	"backtest-enginev1/internal/graph"
	"backtest-enginev1/internal/line"
)

// src returns the line an indicator reads from a parent: the "close"
// line when the parent exposes one (root nodes), otherwise the primary.
func src(n graph.Node) *line.Buffer {
	if b, err := n.Lines().Get(graph.LineClose); err == nil {
		return b
	}
	return n.Lines().Primary()
}

// mean is a plain left-to-right average. Both evaluation modes share
// it, keeping summation order — and therefore the float result —
// identical.
func mean(win []float64) float64 {
	s := 0.0
	for _, v := range win {
		s += v
	}
	return s / float64(len(win))
}
