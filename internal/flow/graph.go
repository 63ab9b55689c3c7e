package flow

import (
	"fmt"
	"slices"

	"jdeobf/internal/insn"
)

// Graph is the provenance graph of one method body. Nodes live in an arena
// and reference each other by id; parents always precede their children, so
// the graph is acyclic by construction.
type Graph struct {
	Method *insn.Method

	nodes  []*Node
	byInsn map[int][]NodeID
	args   []NodeID
}

// InconsistencyError reports code the linear sweep cannot model, such as a
// read of a local that was never written or a pop from an empty stack.
type InconsistencyError struct {
	Index  int
	Op     insn.Opcode
	Detail string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("instruction %d (%s): %s", e.Index, e.Op, e.Detail)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// All returns every node in creation order.
func (g *Graph) All() []*Node {
	return slices.Clone(g.nodes)
}

// Nodes returns the nodes produced by the instruction at index.
func (g *Graph) Nodes(index int) []*Node {
	return g.lookup(g.byInsn[index])
}

// Arguments returns the nodes seeding the receiver and parameter slots.
func (g *Graph) Arguments() []*Node {
	return g.lookup(g.args)
}

// Parents returns the operand nodes of id.
func (g *Graph) Parents(id NodeID) []*Node {
	if n := g.Node(id); n != nil {
		return g.lookup(n.parents)
	}
	return nil
}

// Children returns the nodes consuming id.
func (g *Graph) Children(id NodeID) []*Node {
	if n := g.Node(id); n != nil {
		return g.lookup(n.children)
	}
	return nil
}

func (g *Graph) lookup(ids []NodeID) []*Node {
	if ids == nil {
		return nil
	}
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = g.Node(id)
	}
	return out
}

// Ancestors returns every node id id transitively depends on, in ascending
// order, excluding id itself.
func (g *Graph) Ancestors(id NodeID) []NodeID {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	seen := map[NodeID]bool{}
	work := slices.Clone(n.parents)
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[p] {
			continue
		}
		seen[p] = true
		work = append(work, g.nodes[p].parents...)
	}
	out := make([]NodeID, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// CanRemove reports whether no node consumes id any more, so the
// instruction producing it may be deleted without losing a value.
func (g *Graph) CanRemove(id NodeID) bool {
	n := g.Node(id)
	return n != nil && len(n.children) == 0
}

// Unlink removes every edge between parent and child and invalidates the
// child's cached snapshots. It reports whether an edge existed.
func (g *Graph) Unlink(parent, child NodeID) bool {
	p, c := g.Node(parent), g.Node(child)
	if p == nil || c == nil {
		return false
	}
	before := len(c.parents)
	c.parents = slices.DeleteFunc(c.parents, func(id NodeID) bool { return id == parent })
	p.children = slices.DeleteFunc(p.children, func(id NodeID) bool { return id == child })
	if len(c.parents) == before {
		return false
	}
	c.invalidate()
	return true
}
