package graph

import (
	"errors"
	"testing"
)

// genNode builds a plain derived node for propagation tests: declared
// requirement, zero-shift parents, no-op step.
func genNode(label string, declared int, parents ...Node) *Derived {
	d := &Derived{}
	d.InitNode(label, "out")
	d.DeclareMinPeriod(declared)
	for _, p := range parents {
		d.Bind(p, 0, 0)
	}
	d.SetStep(func(at int) error { return nil })
	return d
}

// ────────────────────────────────────────────────────────────
// Minperiod propagation
// ────────────────────────────────────────────────────────────

func TestResolve_ChainPropagation(t *testing.T) {
	// A requires 5 bars; B declares 3 but consumes A, so it cannot be
	// valid before A is; C declares 10, already beyond its parent.
	a := genNode("a", 5)
	b := genNode("b", 3, a)
	c := genNode("c", 10, b)

	plan, err := Resolve([]Node{c})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got := a.MinPeriod(); got != 5 {
		t.Errorf("a minperiod = %d, want 5", got)
	}
	if got := b.MinPeriod(); got != 5 {
		t.Errorf("b minperiod = %d, want 5 (inherited)", got)
	}
	if got := c.MinPeriod(); got != 10 {
		t.Errorf("c minperiod = %d, want 10 (own dominates)", got)
	}
	if len(plan.Order) != 3 {
		t.Fatalf("plan has %d nodes, want 3", len(plan.Order))
	}
}

func TestResolve_ShiftAddsToRequirement(t *testing.T) {
	// Reading the parent 4 bars back means 4 extra bars of warmup.
	a := genNode("a", 5)
	b := &Derived{}
	b.InitNode("b", "out")
	b.DeclareMinPeriod(1)
	b.Bind(a, 4, 0)
	b.SetStep(func(at int) error { return nil })

	if _, err := Resolve([]Node{b}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := b.MinPeriod(); got != 9 {
		t.Errorf("b minperiod = %d, want 5+4=9", got)
	}
}

func TestResolve_DiamondTakesMax(t *testing.T) {
	root := genNode("root", 1)
	fast := genNode("fast", 10, root)
	slow := genNode("slow", 30, root)
	cross := genNode("cross", 1, fast, slow)

	if _, err := Resolve([]Node{cross}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := cross.MinPeriod(); got != 30 {
		t.Errorf("cross minperiod = %d, want 30", got)
	}
}

// ────────────────────────────────────────────────────────────
// Ordering
// ────────────────────────────────────────────────────────────

func TestResolve_TopoOrderParentsFirst(t *testing.T) {
	a := genNode("a", 1)
	b := genNode("b", 1, a)
	c := genNode("c", 1, a, b)

	plan, err := Resolve([]Node{c})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	pos := make(map[Node]int)
	for i, n := range plan.Order {
		pos[n] = i
	}
	for _, n := range plan.Order {
		for _, p := range n.Parents() {
			if pos[p.Node] >= pos[n] {
				t.Fatalf("parent %s ordered after child %s", p.Node.Label(), n.Label())
			}
		}
	}
}

func TestResolve_SiblingTieBreakIsRegistrationOrder(t *testing.T) {
	root := genNode("root", 1)
	first := genNode("first", 1, root)
	second := genNode("second", 1, root)
	sink := genNode("sink", 1, second, first) // bound in reverse

	plan, err := Resolve([]Node{sink})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	iFirst, iSecond := -1, -1
	for i, n := range plan.Order {
		switch n {
		case Node(first):
			iFirst = i
		case Node(second):
			iSecond = i
		}
	}
	if iFirst > iSecond {
		t.Errorf("siblings ordered %d/%d; construction order should win", iFirst, iSecond)
	}
}

// ────────────────────────────────────────────────────────────
// Cycles and lookback
// ────────────────────────────────────────────────────────────

func TestResolve_CycleRejected(t *testing.T) {
	a := genNode("a", 1)
	b := genNode("b", 1, a)
	a.Bind(b, 0, 0) // close the loop

	_, err := Resolve([]Node{b})
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("Resolve error = %v, want CycleError", err)
	}
	if len(ce.Labels) < 3 {
		t.Errorf("cycle message should name the loop, got %v", ce.Labels)
	}
}

func TestResolve_MaxLookbackCoversShiftAndLookback(t *testing.T) {
	root := genNode("root", 1)
	n := &Derived{}
	n.InitNode("n", "out")
	n.Bind(root, 7, 2) // deepest read: 9 bars behind
	n.SetStep(func(at int) error { return nil })

	plan, err := Resolve([]Node{n})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.MaxLookback != 9 {
		t.Errorf("MaxLookback = %d, want 9", plan.MaxLookback)
	}
	if got := plan.Need(root); got != 9 {
		t.Errorf("Need(root) = %d, want 9", got)
	}
}

func TestResolve_SelfLookbackFeedsNeeds(t *testing.T) {
	root := genNode("root", 1)
	rec := &Derived{}
	rec.InitNode("rec", "out")
	rec.Bind(root, 0, 0)
	rec.DeclareSelfLookback(1)
	rec.SetStep(func(at int) error { return nil })

	plan, err := Resolve([]Node{rec})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := plan.Need(rec); got != 1 {
		t.Errorf("Need(rec) = %d, want 1 (reads own previous value)", got)
	}
}

func TestPlan_ApplyKeep(t *testing.T) {
	a := genNode("a", 1)
	b := genNode("b", 1, a)
	plan, err := Resolve([]Node{b})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	plan.ApplyKeep(42)
	if got := a.Lines().Primary().Keep(); got != 42 {
		t.Errorf("keep = %d, want 42", got)
	}
	if got := b.Lines().Primary().Keep(); got != 42 {
		t.Errorf("keep = %d, want 42", got)
	}
}
