package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle: a node (transitively) reading
// its own output with no explicit backward shift. Only possible via
// programmer error, and always fatal.
type CycleError struct {
	Labels []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph: dependency cycle: %s", strings.Join(e.Labels, " -> "))
}

// Plan is the resolver's immutable output: evaluation order, resolved
// minperiods (stored on the nodes), and the deepest lookback any
// consumer applies to any buffer, which bounds the discard window.
type Plan struct {
	// Order lists every reachable node, parents before children, ties
	// broken by registration order.
	Order []Node

	// MaxLookback is the largest number of trailing bars any node needs
	// to read behind its cursor, across the whole graph.
	MaxLookback int

	// needs records, per node, the deepest read its consumers (and the
	// node itself, recursively) apply to its lines.
	needs map[Node]int
}

// Resolve walks the graph reachable from the terminal nodes, rejects
// cycles, topologically orders the nodes, and propagates minperiods:
//
//	minperiod(n) = max(declared(n), max over parents p of minperiod(p)+shift(n,p))
//
// Resolve runs exactly once per engine run; the plan never changes
// afterwards.
func Resolve(terminals []Node) (*Plan, error) {
	nodes, err := collect(terminals)
	if err != nil {
		return nil, err
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}

	// Minperiod propagation, parents first.
	for _, n := range order {
		mp := n.DeclaredMinPeriod()
		for _, p := range n.Parents() {
			if need := p.Node.MinPeriod() + p.Shift; need > mp {
				mp = need
			}
		}
		n.SetMinPeriod(mp)
	}

	// Discard-window needs: how far behind its cursor each node's lines
	// must stay addressable for every live consumer.
	needs := make(map[Node]int, len(order))
	for _, n := range order {
		if n.SelfLookback() > needs[n] {
			needs[n] = n.SelfLookback()
		}
		for _, p := range n.Parents() {
			if d := p.Shift + p.Lookback; d > needs[p.Node] {
				needs[p.Node] = d
			}
		}
	}
	maxLB := 0
	for _, d := range needs {
		if d > maxLB {
			maxLB = d
		}
	}

	return &Plan{Order: order, MaxLookback: maxLB, needs: needs}, nil
}

// Need returns the deepest trailing read applied to a node's lines.
func (p *Plan) Need(n Node) int { return p.needs[n] }

// ApplyKeep fixes the discard window to keep bars on every buffer in
// the plan. The engine calls it once, before Running, in bounded mode.
func (p *Plan) ApplyKeep(keep int) {
	for _, n := range p.Order {
		l := n.Lines()
		for i := 0; i < l.Size(); i++ {
			l.At(i).SetKeep(keep)
		}
	}
}

// collect gathers every node reachable from the terminals and rejects
// cycles via depth-first coloring.
func collect(terminals []Node) ([]Node, error) {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // done
	)
	color := make(map[Node]int)
	var out []Node
	var path []Node

	var visit func(n Node) error
	visit = func(n Node) error {
		switch color[n] {
		case black:
			return nil
		case grey:
			// Close the loop for the error message.
			labels := make([]string, 0, len(path)+1)
			start := 0
			for i, pn := range path {
				if pn == n {
					start = i
					break
				}
			}
			for _, pn := range path[start:] {
				labels = append(labels, pn.Label())
			}
			labels = append(labels, n.Label())
			return &CycleError{Labels: labels}
		}
		color[n] = grey
		path = append(path, n)
		for _, p := range n.Parents() {
			if err := visit(p.Node); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		out = append(out, n)
		return nil
	}

	for _, t := range terminals {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// topoSort orders nodes parents-first with registration-order
// tie-breaks, so sibling order is deterministic across runs. Sibling
// order is not a verified contract; no consumer may depend on it.
func topoSort(nodes []Node) ([]Node, error) {
	indeg := make(map[Node]int, len(nodes))
	children := make(map[Node][]Node, len(nodes))
	inSet := make(map[Node]bool, len(nodes))
	for _, n := range nodes {
		inSet[n] = true
	}
	for _, n := range nodes {
		for _, p := range n.Parents() {
			if !inSet[p.Node] {
				continue
			}
			indeg[n]++
			children[p.Node] = append(children[p.Node], n)
		}
	}

	ready := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	bySeq := func(s []Node) {
		sort.Slice(s, func(i, j int) bool { return s[i].Seq() < s[j].Seq() })
	}
	bySeq(ready)

	order := make([]Node, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		released := false
		for _, c := range children[n] {
			indeg[c]--
			if indeg[c] == 0 {
				ready = append(ready, c)
				released = true
			}
		}
		if released {
			bySeq(ready)
		}
	}
	if len(order) != len(nodes) {
		// collect() already rejects cycles; this guards internal misuse.
		return nil, &CycleError{Labels: []string{"unresolvable order"}}
	}
	return order, nil
}
