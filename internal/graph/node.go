// Package graph defines the stream-node abstraction and its dependency
// resolver. A node consumes zero or more parent nodes' lines, owns one
// line bundle, declares how much history it needs before its output is
// valid (minperiod), and exposes two evaluation strategies — bulk and
// incremental — that drive one shared step function, so both modes
// compute bit-identical values by construction.
package graph

import (
	"sync/atomic"

	"backtest-enginev1/internal/line"
)

// seqCounter hands out registration order for deterministic tie-breaks.
var seqCounter atomic.Uint64

// Parent is one upstream dependency of a node.
//
// Shift is the magnitude of the deepest negative relative index the
// node structurally applies to this parent's *current* input (reading
// parent[-5] as "now" adds 5 to the node's minperiod). Lookback is how
// many extra bars back the node reads on this parent per evaluation; it
// feeds the discard-window computation, not the minperiod.
type Parent struct {
	Node     Node
	Shift    int
	Lookback int
}

// Node is a stream node in the computation graph.
type Node interface {
	// Label identifies the node in errors and logs.
	Label() string

	// Lines returns the node's owned line bundle.
	Lines() *line.Lines

	// Parents returns upstream dependencies in declaration order.
	Parents() []Parent

	// Clock returns the node whose timestamps this node advances over.
	// nil means the node is its own clock (root nodes).
	Clock() Node

	// DeclaredMinPeriod is the node's own history requirement, before
	// parent propagation.
	DeclaredMinPeriod() int

	// MinPeriod is the resolved requirement (set once by the resolver).
	MinPeriod() int

	// SetMinPeriod stores the resolved value. Resolver use only.
	SetMinPeriod(n int)

	// SelfLookback is how many bars back the node reads its own output
	// (recursive indicators). Feeds the discard-window computation.
	SelfLookback() int

	// Seq is the node's registration order.
	Seq() uint64

	// EvalOnce computes output for every bar in [start, end). Parents
	// are guaranteed fully written. Idempotent.
	EvalOnce(start, end int) error

	// EvalNext computes exactly the bar under the node's cursor using
	// parent data at or before it.
	EvalNext() error
}

// Base carries the bookkeeping shared by all node kinds. Embed it and
// call InitNode once during construction.
type Base struct {
	label        string
	lines        *line.Lines
	parents      []Parent
	declared     int
	resolved     int
	selfLookback int
	seq          uint64
}

// InitNode sets up the node's identity and owned lines.
func (b *Base) InitNode(label string, lineNames ...string) {
	b.label = label
	b.lines = line.NewLines(lineNames...)
	b.declared = 1
	b.seq = seqCounter.Add(1)
}

// Bind registers an upstream dependency.
func (b *Base) Bind(p Node, shift, lookback int) {
	b.parents = append(b.parents, Parent{Node: p, Shift: shift, Lookback: lookback})
}

// DeclareMinPeriod raises the node's own requirement (max-accumulates).
func (b *Base) DeclareMinPeriod(n int) {
	if n > b.declared {
		b.declared = n
	}
}

// DeclareSelfLookback raises the recursive read depth on own lines.
func (b *Base) DeclareSelfLookback(n int) {
	if n > b.selfLookback {
		b.selfLookback = n
	}
}

func (b *Base) Label() string          { return b.label }
func (b *Base) Lines() *line.Lines     { return b.lines }
func (b *Base) Parents() []Parent      { return b.parents }
func (b *Base) DeclaredMinPeriod() int { return b.declared }
func (b *Base) SelfLookback() int      { return b.selfLookback }
func (b *Base) Seq() uint64            { return b.seq }

// Clock defaults to the first parent; roots override.
func (b *Base) Clock() Node {
	if len(b.parents) == 0 {
		return nil
	}
	return b.parents[0].Node
}

// MinPeriod returns the resolved minperiod; before resolution it
// reports the declared value.
func (b *Base) MinPeriod() int {
	if b.resolved > 0 {
		return b.resolved
	}
	return b.declared
}

func (b *Base) SetMinPeriod(n int) { b.resolved = n }

// StepFunc writes a node's output lines at logical index at, reading
// parents at or before at. It is the single place a formula lives:
// both evaluation modes call it.
type StepFunc func(at int) error

// Derived is a node whose output is computed from its parents by one
// step function. Indicators and expression nodes embed it.
type Derived struct {
	Base
	step StepFunc
}

// SetStep installs the shared step function. Call once, at construction.
func (d *Derived) SetStep(fn StepFunc) { d.step = fn }

// EvalOnce runs the step function over [start, end).
func (d *Derived) EvalOnce(start, end int) error {
	for i := start; i < end; i++ {
		if err := d.step(i); err != nil {
			return err
		}
	}
	return nil
}

// EvalNext runs the step function for the bar under the cursor.
func (d *Derived) EvalNext() error {
	return d.step(d.lines.Cursor())
}
