// Package flow builds provenance graphs: for every instruction of a method,
// which earlier instructions produced the values it consumes.
package flow

import (
	"fmt"
	"strings"

	"jdeobf/internal/insn"
)

// NodeID addresses a node inside its Graph.
type NodeID int

// NoNode marks an unset local variable slot.
const NoNode NodeID = -1

// Kind classifies a node by the kind of instruction that produced it.
type Kind int

const (
	ArgumentLoad Kind = iota
	LocalRead
	LocalWrite
	ArrayRead
	ArrayWrite
	FieldRead
	FieldWrite
	MethodInvoke
	ConstantLoad
	BinaryOp
	Duplicate
	Swap
	Pop
	ConditionalBranch
	Switch
	UnaryOp
	Compare
	Increment
	New
	NewArray
	TypeCheck
	Jump
	Return
	Throw
	Monitor
	InvokeDynamic
	CatchLoad
)

var kindNames = [...]string{
	ArgumentLoad:      "ArgumentLoad",
	LocalRead:         "LocalRead",
	LocalWrite:        "LocalWrite",
	ArrayRead:         "ArrayRead",
	ArrayWrite:        "ArrayWrite",
	FieldRead:         "FieldRead",
	FieldWrite:        "FieldWrite",
	MethodInvoke:      "MethodInvoke",
	ConstantLoad:      "ConstantLoad",
	BinaryOp:          "BinaryOp",
	Duplicate:         "Duplicate",
	Swap:              "Swap",
	Pop:               "Pop",
	ConditionalBranch: "ConditionalBranch",
	Switch:            "Switch",
	UnaryOp:           "UnaryOp",
	Compare:           "Compare",
	Increment:         "Increment",
	New:               "New",
	NewArray:          "NewArray",
	TypeCheck:         "TypeCheck",
	Jump:              "Jump",
	Return:            "Return",
	Throw:             "Throw",
	Monitor:           "Monitor",
	InvokeDynamic:     "InvokeDynamic",
	CatchLoad:         "CatchLoad",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is one produced value or effect. Parents are the operand nodes in the
// order the instruction consumes them; children are the nodes that later
// consumed this one.
type Node struct {
	ID   NodeID
	Kind Kind
	// Index is the instruction index, or -1 for argument nodes.
	Index int
	Op    insn.Opcode
	// Wide is set for long and double results.
	Wide bool

	// Local is the variable slot of argument, local and iinc nodes.
	Local int
	// Owner, Name and Desc describe the member of field and invoke nodes.
	// Owner alone is the class of new, checkcast, instanceof and catch
	// nodes; Desc alone is the array type of newarray nodes and the
	// declared type of argument nodes.
	Owner string
	Name  string
	Desc  string
	// Constant is the loaded constant (nil for aconst_null) or the iinc
	// increment.
	Constant any
	// Target is the label of a jump.
	Target int
	// Default, Keys and Targets describe a switch.
	Default int
	Keys    []int32
	Targets []int

	parents  []NodeID
	children []NodeID

	g     *Graph
	state *snapshot

	resolved bool
	stack    []*Node
	locals   []*Node
}

// snapshot holds the operand stack and local variables right after the
// producing instruction, as node ids.
type snapshot struct {
	stack  []NodeID
	locals []NodeID
}

// Parents returns the operand node ids.
func (n *Node) Parents() []NodeID {
	return append([]NodeID(nil), n.parents...)
}

// Children returns the consumer node ids.
func (n *Node) Children() []NodeID {
	return append([]NodeID(nil), n.children...)
}

// Stack returns the operand stack after the instruction, bottom first.
func (n *Node) Stack() []*Node {
	n.resolve()
	return n.stack
}

// Locals returns the local variables after the instruction. Unset slots and
// the upper half of long and double values are nil.
func (n *Node) Locals() []*Node {
	n.resolve()
	return n.locals
}

func (n *Node) resolve() {
	if n.resolved || n.state == nil {
		return
	}
	n.stack = n.g.lookup(n.state.stack)
	n.locals = n.g.lookup(n.state.locals)
	n.resolved = true
}

func (n *Node) invalidate() {
	n.resolved = false
	n.stack, n.locals = nil, nil
}

// Member returns owner.name+desc for field and invoke nodes.
func (n *Node) Member() string {
	if n.Name == "" {
		return n.Owner
	}
	return n.Owner + "." + n.Name + n.Desc
}

func (n *Node) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", n.ID, n.Kind)
	if n.Index >= 0 {
		fmt.Fprintf(&b, " @%d %s", n.Index, n.Op)
	}
	switch n.Kind {
	case ArgumentLoad, LocalRead, LocalWrite, Increment:
		fmt.Fprintf(&b, " local=%d", n.Local)
	case ConstantLoad:
		b.WriteString(" " + insn.FormatConstant(n.Constant))
	case FieldRead, FieldWrite, MethodInvoke, InvokeDynamic, New, TypeCheck, CatchLoad:
		if m := n.Member(); m != "" {
			b.WriteString(" " + m)
		}
	case NewArray:
		b.WriteString(" " + n.Desc)
	case ConditionalBranch, Jump:
		fmt.Fprintf(&b, " -> L%d", n.Target)
	case Switch:
		fmt.Fprintf(&b, " -> %v default L%d", n.Targets, n.Default)
	}
	if len(n.parents) > 0 {
		fmt.Fprintf(&b, " <- %v", n.parents)
	}
	return b.String()
}
