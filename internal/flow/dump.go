package flow

import (
	"github.com/fxamacker/cbor/v2"

	"jdeobf/internal/insn"
)

// Dump is the serialisable form of a Graph.
type Dump struct {
	Method string     `json:"method" cbor:"1,keyasint"`
	Nodes  []NodeDump `json:"nodes" cbor:"2,keyasint"`
}

// NodeDump is one exported node.
type NodeDump struct {
	ID       NodeID   `json:"id" cbor:"1,keyasint"`
	Kind     string   `json:"kind" cbor:"2,keyasint"`
	Index    int      `json:"index" cbor:"3,keyasint"`
	Op       string   `json:"op,omitempty" cbor:"4,keyasint,omitempty"`
	Wide     bool     `json:"wide,omitempty" cbor:"5,keyasint,omitempty"`
	Parents  []NodeID `json:"parents,omitempty" cbor:"6,keyasint,omitempty"`
	Children []NodeID `json:"children,omitempty" cbor:"7,keyasint,omitempty"`
	Local    *int     `json:"local,omitempty" cbor:"8,keyasint,omitempty"`
	Member   string   `json:"member,omitempty" cbor:"9,keyasint,omitempty"`
	Constant string   `json:"constant,omitempty" cbor:"10,keyasint,omitempty"`
	Targets  []int    `json:"targets,omitempty" cbor:"11,keyasint,omitempty"`
	Stack    []NodeID `json:"stack,omitempty" cbor:"12,keyasint,omitempty"`
}

var cborMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Export converts the graph to its serialisable form.
func (g *Graph) Export() *Dump {
	d := &Dump{Nodes: make([]NodeDump, 0, len(g.nodes))}
	if g.Method != nil {
		d.Method = g.Method.String()
	}
	for _, n := range g.nodes {
		nd := NodeDump{
			ID:       n.ID,
			Kind:     n.Kind.String(),
			Index:    n.Index,
			Wide:     n.Wide,
			Parents:  n.Parents(),
			Children: n.Children(),
		}
		if n.Index >= 0 {
			nd.Op = n.Op.String()
		}
		switch n.Kind {
		case ArgumentLoad, LocalRead, LocalWrite, Increment:
			local := n.Local
			nd.Local = &local
		case ConstantLoad:
			nd.Constant = insn.FormatConstant(n.Constant)
		case ConditionalBranch, Jump:
			nd.Targets = []int{n.Target}
		case Switch:
			nd.Targets = append(append([]int(nil), n.Targets...), n.Default)
		case NewArray:
			nd.Member = n.Desc
		}
		if nd.Member == "" {
			nd.Member = n.Member()
		}
		if n.state != nil {
			nd.Stack = append([]NodeID(nil), n.state.stack...)
		}
		d.Nodes = append(d.Nodes, nd)
	}
	return d
}

// MarshalCBOR encodes the dump in deterministic CBOR.
func (d *Dump) MarshalCBOR() ([]byte, error) {
	type plain Dump
	return cborMode.Marshal((*plain)(d))
}

// DecodeDump parses a dump produced by MarshalCBOR.
func DecodeDump(data []byte) (*Dump, error) {
	var d Dump
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
