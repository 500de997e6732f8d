package graph

import (
	"fmt"

	"backtest-enginev1/internal/line"
)

// Expressions over lines build a computation graph instead of computing
// eagerly: (high+low)/2 is a tree of Expr values that only becomes a
// stream node when realized, and only evaluates when the engine drives
// that node.

type exprOp int

const (
	opConst exprOp = iota
	opRef
	opAdd
	opSub
	opMul
	opDiv
)

// Expr is one vertex of a lazy arithmetic expression over lines.
type Expr struct {
	op       exprOp
	lhs, rhs *Expr
	konst    float64
	ref      Node
	refLine  string // line name on ref; "" = primary

	realized *exprNode
}

// Const lifts a constant into an expression.
func Const(v float64) *Expr { return &Expr{op: opConst, konst: v} }

// Ref references a node's primary line.
func Ref(n Node) *Expr { return &Expr{op: opRef, ref: n} }

// RefLine references a named line of a node.
func RefLine(n Node, name string) *Expr { return &Expr{op: opRef, ref: n, refLine: name} }

// Add returns lhs + rhs as a new (unrealized) expression.
func (e *Expr) Add(o *Expr) *Expr { return &Expr{op: opAdd, lhs: e, rhs: o} }

// Sub returns lhs - rhs.
func (e *Expr) Sub(o *Expr) *Expr { return &Expr{op: opSub, lhs: e, rhs: o} }

// Mul returns lhs * rhs.
func (e *Expr) Mul(o *Expr) *Expr { return &Expr{op: opMul, lhs: e, rhs: o} }

// Div returns lhs / rhs. Division follows IEEE 754; a zero denominator
// yields ±Inf or NaN rather than an error.
func (e *Expr) Div(o *Expr) *Expr { return &Expr{op: opDiv, lhs: e, rhs: o} }

// exprNode is the derived node an expression realizes into.
type exprNode struct {
	Derived
	expr *Expr
}

// Node realizes the expression into a single-line derived node. The
// node is built once and cached; until the resolver walks it, nothing
// is computed.
func (e *Expr) Node(label string) (Node, error) {
	if e.realized != nil {
		return e.realized, nil
	}
	n := &exprNode{expr: e}
	n.InitNode(label, "expr")

	// Bind each distinct referenced node once; shift/lookback are zero
	// because expressions read only the current bar.
	seen := make(map[Node]bool)
	var bind func(x *Expr) error
	bind = func(x *Expr) error {
		if x == nil {
			return nil
		}
		if x.op == opRef {
			if x.refLine != "" {
				if _, err := x.ref.Lines().Get(x.refLine); err != nil {
					return fmt.Errorf("expr %q: %w", label, err)
				}
			}
			if !seen[x.ref] {
				seen[x.ref] = true
				n.Bind(x.ref, 0, 0)
			}
			return nil
		}
		if err := bind(x.lhs); err != nil {
			return err
		}
		return bind(x.rhs)
	}
	if err := bind(e); err != nil {
		return nil, err
	}
	if len(n.Parents()) == 0 {
		return nil, fmt.Errorf("expr %q: expression references no lines", label)
	}

	out := n.Lines().Primary()
	n.SetStep(func(at int) error {
		v, err := e.eval(at)
		if err != nil {
			return err
		}
		return out.SetAt(at, v)
	})
	e.realized = n
	return n, nil
}

// eval computes the expression at logical index at.
func (e *Expr) eval(at int) (float64, error) {
	switch e.op {
	case opConst:
		return e.konst, nil
	case opRef:
		var buf *line.Buffer
		if e.refLine == "" {
			buf = e.ref.Lines().Primary()
		} else {
			b, err := e.ref.Lines().Get(e.refLine)
			if err != nil {
				return 0, err
			}
			buf = b
		}
		return buf.At(at)
	}
	l, err := e.lhs.eval(at)
	if err != nil {
		return 0, err
	}
	r, err := e.rhs.eval(at)
	if err != nil {
		return 0, err
	}
	switch e.op {
	case opAdd:
		return l + r, nil
	case opSub:
		return l - r, nil
	case opMul:
		return l * r, nil
	default:
		return l / r, nil
	}
}
