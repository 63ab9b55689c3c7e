package flow

import (
	"fmt"
	"io"
	"slices"

	"github.com/charmbracelet/log"

	"jdeobf/internal/descriptor"
	"jdeobf/internal/insn"
)

// inconsistency aborts the sweep; Build turns it into an error.
type inconsistency struct {
	detail string
}

// Option configures Build.
type Option func(*builder)

// WithLogger sets the logger inconsistencies are reported to.
func WithLogger(l *log.Logger) Option {
	return func(b *builder) {
		b.logger = l
	}
}

type builder struct {
	logger *log.Logger
	g      *Graph
	m      *insn.Method
	index  int
	in     *insn.Instruction
	stack  []NodeID
	locals []NodeID

	// pending holds the stack recorded by the first branch to each label.
	pending  map[int][]NodeID
	handlers map[int]string
	// dead is set after an instruction that never falls through.
	dead bool
}

// Build runs one forward sweep over m and returns its provenance graph.
// Branches record their targets without following them: a label reached
// only by a jump adopts the stack of the first branch to it, and exception
// handlers start with a single CatchLoad node.
func Build(m *insn.Method, opts ...Option) (g *Graph, err error) {
	b := &builder{
		logger:   log.New(io.Discard),
		g:        &Graph{Method: m, byInsn: make(map[int][]NodeID)},
		m:        m,
		index:    -1,
		pending:  make(map[int][]NodeID),
		handlers: make(map[int]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, tc := range m.TryCatch {
		if _, ok := b.handlers[tc.Handler]; !ok {
			b.handlers[tc.Handler] = tc.Type
		}
	}

	defer func() {
		if r := recover(); r != nil {
			inc, ok := r.(inconsistency)
			if !ok {
				panic(r)
			}
			op := insn.NOP
			if b.in != nil {
				op = b.in.Op
			}
			g, err = nil, &InconsistencyError{Index: b.index, Op: op, Detail: inc.detail}
			b.logger.Warn("provenance graph incomplete", "method", m.String(), "err", err)
		}
	}()

	if err := b.seedArguments(); err != nil {
		return nil, err
	}
	for i, in := range m.Instructions {
		b.index, b.in = i, in
		b.visit()
		for _, id := range b.g.byInsn[i] {
			b.g.nodes[id].state = b.snapshot()
		}
	}
	b.logger.Debug("provenance graph built", "method", m.String(), "nodes", b.g.Len())
	return b.g, nil
}

func (b *builder) failf(format string, args ...any) {
	panic(inconsistency{detail: fmt.Sprintf(format, args...)})
}

func (b *builder) snapshot() *snapshot {
	return &snapshot{stack: slices.Clone(b.stack), locals: slices.Clone(b.locals)}
}

func (b *builder) seedArguments() error {
	types, err := b.m.ArgumentTypes()
	if err != nil {
		return err
	}
	size, err := descriptor.ArgumentsSize(b.m.Desc, b.m.IsStatic())
	if err != nil {
		return err
	}
	b.locals = slices.Repeat([]NodeID{NoNode}, max(size, b.m.MaxLocals))

	slot := 0
	if !b.m.IsStatic() {
		n := b.add(ArgumentLoad)
		n.Desc = descriptor.ObjectOf(b.m.Owner).Desc
		b.locals[0] = n.ID
		b.g.args = append(b.g.args, n.ID)
		slot = 1
	}
	for _, t := range types {
		n := b.add(ArgumentLoad)
		n.Local, n.Desc, n.Wide = slot, t.Desc, t.Size() == 2
		b.locals[slot] = n.ID
		b.g.args = append(b.g.args, n.ID)
		slot += t.Size()
	}
	state := b.snapshot()
	for _, id := range b.g.args {
		b.g.nodes[id].state = state
	}
	return nil
}

// add creates a node for the current instruction and links it below its
// parents.
func (b *builder) add(kind Kind, parents ...NodeID) *Node {
	n := &Node{
		ID:      NodeID(len(b.g.nodes)),
		Kind:    kind,
		Index:   b.index,
		parents: parents,
		g:       b.g,
	}
	if b.in != nil {
		n.Op = b.in.Op
	}
	b.g.nodes = append(b.g.nodes, n)
	for _, p := range parents {
		b.g.nodes[p].children = append(b.g.nodes[p].children, n.ID)
	}
	if b.index >= 0 {
		b.g.byInsn[b.index] = append(b.g.byInsn[b.index], n.ID)
	}
	return n
}

func (b *builder) wide(id NodeID) bool {
	return b.g.nodes[id].Wide
}

func (b *builder) push(ids ...NodeID) {
	b.stack = append(b.stack, ids...)
}

func (b *builder) pop() NodeID {
	if len(b.stack) == 0 {
		b.failf("pop from an empty stack")
	}
	id := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return id
}

// popN pops n values, returned bottom first.
func (b *builder) popN(n int) []NodeID {
	out := make([]NodeID, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = b.pop()
	}
	return out
}

// popWords pops values covering n stack words, returned bottom first.
func (b *builder) popWords(n int) []NodeID {
	var out []NodeID
	words := 0
	for words < n {
		id := b.pop()
		out = append(out, id)
		words++
		if b.wide(id) {
			words++
		}
	}
	if words != n {
		b.failf("stack operation splits a long or double")
	}
	slices.Reverse(out)
	return out
}

func (b *builder) load(slot int) NodeID {
	if slot < 0 || slot >= len(b.locals) || b.locals[slot] == NoNode {
		b.failf("read of unwritten local %d", slot)
	}
	return b.locals[slot]
}

func (b *builder) store(slot int, id NodeID) {
	width := 1
	if b.wide(id) {
		width = 2
	}
	for slot+width > len(b.locals) {
		b.locals = append(b.locals, NoNode)
	}
	if slot > 0 && b.locals[slot-1] != NoNode && b.wide(b.locals[slot-1]) {
		b.locals[slot-1] = NoNode
	}
	b.locals[slot] = id
	if width == 2 {
		b.locals[slot+1] = NoNode
	}
}

// branch records the stack a jump carries to label, keeping the first one.
func (b *builder) branch(label int) {
	if _, ok := b.pending[label]; !ok {
		b.pending[label] = slices.Clone(b.stack)
	}
}

func (b *builder) enterLabel(label int) {
	if typ, ok := b.handlers[label]; ok {
		b.stack = b.stack[:0]
		n := b.add(CatchLoad)
		n.Owner = typ
		if typ == "" {
			n.Owner = "java/lang/Throwable"
		}
		b.push(n.ID)
	} else if b.dead {
		if s, ok := b.pending[label]; ok {
			b.stack = slices.Clone(s)
		}
	}
	b.dead = false
}

func (b *builder) visit() {
	in := b.in
	op := in.Op
	if op == insn.LABEL {
		b.enterLabel(in.Label)
		return
	}
	if op.IsPseudo() || op == insn.NOP {
		return
	}
	defer func() { b.dead = op.EndsBlock() }()

	switch {
	case op == insn.ACONST_NULL:
		b.constant(nil, false)
	case op >= insn.ICONST_M1 && op <= insn.ICONST_5:
		b.constant(int32(op-insn.ICONST_0), false)
	case op == insn.LCONST_0 || op == insn.LCONST_1:
		b.constant(int64(op-insn.LCONST_0), true)
	case op >= insn.FCONST_0 && op <= insn.FCONST_2:
		b.constant(float32(op-insn.FCONST_0), false)
	case op == insn.DCONST_0 || op == insn.DCONST_1:
		b.constant(float64(op-insn.DCONST_0), true)
	case op == insn.BIPUSH || op == insn.SIPUSH:
		b.constant(int32(in.Operand), false)
	case op == insn.LDC:
		b.constant(in.Const, wideConstant(in.Const))

	case op >= insn.ILOAD && op <= insn.ALOAD:
		n := b.add(LocalRead, b.load(in.Var))
		n.Local, n.Wide = in.Var, op == insn.LLOAD || op == insn.DLOAD
		b.push(n.ID)
	case op >= insn.ISTORE && op <= insn.ASTORE:
		v := b.pop()
		n := b.add(LocalWrite, v)
		n.Local, n.Wide = in.Var, b.wide(v)
		b.store(in.Var, n.ID)
	case op == insn.IINC:
		n := b.add(Increment, b.load(in.Var))
		n.Local, n.Constant = in.Var, int32(in.Operand)
		b.store(in.Var, n.ID)

	case op >= insn.IALOAD && op <= insn.SALOAD:
		n := b.add(ArrayRead, b.popN(2)...)
		n.Wide = op == insn.LALOAD || op == insn.DALOAD
		b.push(n.ID)
	case op >= insn.IASTORE && op <= insn.SASTORE:
		b.add(ArrayWrite, b.popN(3)...)

	case op == insn.POP:
		b.add(Pop, b.popWords(1)...)
	case op == insn.POP2:
		b.add(Pop, b.popWords(2)...)
	case op == insn.DUP:
		d := b.duplicate(b.popWords(1))
		b.push(d...)
		b.push(d...)
	case op == insn.DUP_X1:
		d, under := b.duplicate(b.popWords(1)), b.popWords(1)
		b.push(d...)
		b.push(under...)
		b.push(d...)
	case op == insn.DUP_X2:
		d, under := b.duplicate(b.popWords(1)), b.popWords(2)
		b.push(d...)
		b.push(under...)
		b.push(d...)
	case op == insn.DUP2:
		d := b.duplicate(b.popWords(2))
		b.push(d...)
		b.push(d...)
	case op == insn.DUP2_X1:
		d, under := b.duplicate(b.popWords(2)), b.popWords(1)
		b.push(d...)
		b.push(under...)
		b.push(d...)
	case op == insn.DUP2_X2:
		d, under := b.duplicate(b.popWords(2)), b.popWords(2)
		b.push(d...)
		b.push(under...)
		b.push(d...)
	case op == insn.SWAP:
		top, under := b.popWords(1), b.popWords(1)
		b.push(b.add(Swap, top[0]).ID, b.add(Swap, under[0]).ID)

	case op >= insn.IADD && op <= insn.DREM,
		op >= insn.ISHL && op <= insn.LXOR:
		n := b.add(BinaryOp, b.popN(2)...)
		n.Wide = wideResult(op)
		b.push(n.ID)
	case op >= insn.INEG && op <= insn.DNEG,
		op >= insn.I2L && op <= insn.I2S,
		op == insn.ARRAYLENGTH:
		n := b.add(UnaryOp, b.pop())
		n.Wide = wideResult(op)
		b.push(n.ID)
	case op >= insn.LCMP && op <= insn.DCMPG:
		b.push(b.add(Compare, b.popN(2)...).ID)

	case op >= insn.IFEQ && op <= insn.IFLE, op == insn.IFNULL, op == insn.IFNONNULL:
		b.add(ConditionalBranch, b.pop()).Target = in.Label
		b.branch(in.Label)
	case op >= insn.IF_ICMPEQ && op <= insn.IF_ACMPNE:
		b.add(ConditionalBranch, b.popN(2)...).Target = in.Label
		b.branch(in.Label)
	case op == insn.GOTO:
		b.add(Jump).Target = in.Label
		b.branch(in.Label)
	case op == insn.JSR || op == insn.RET:
		b.failf("subroutines are not supported")
	case op == insn.TABLESWITCH || op == insn.LOOKUPSWITCH:
		n := b.add(Switch, b.pop())
		n.Default, n.Targets = in.Default, slices.Clone(in.Labels)
		n.Keys = slices.Clone(in.Keys)
		if op == insn.TABLESWITCH {
			n.Keys = nil
			for k := in.Min; k <= in.Max && len(n.Keys) < len(in.Labels); k++ {
				n.Keys = append(n.Keys, k)
			}
		}
		b.branch(in.Default)
		for _, l := range in.Labels {
			b.branch(l)
		}

	case op == insn.RETURN:
		b.add(Return)
	case op.IsReturn():
		b.add(Return, b.pop())

	case op.IsField():
		b.field(in)
	case op == insn.INVOKEDYNAMIC:
		b.invoke(in, InvokeDynamic, false)
	case op.IsInvoke():
		b.invoke(in, MethodInvoke, op != insn.INVOKESTATIC)

	case op == insn.NEW:
		n := b.add(New)
		n.Owner = in.Owner
		b.push(n.ID)
	case op == insn.NEWARRAY:
		n := b.add(NewArray, b.pop())
		n.Desc, _ = insn.NewArrayDescriptor(in.Operand)
		b.push(n.ID)
	case op == insn.ANEWARRAY:
		n := b.add(NewArray, b.pop())
		n.Desc = "[" + descriptor.ObjectOf(in.Owner).Desc
		b.push(n.ID)
	case op == insn.MULTIANEWARRAY:
		n := b.add(NewArray, b.popN(in.Operand)...)
		n.Desc = in.Desc
		b.push(n.ID)
	case op == insn.ATHROW:
		b.add(Throw, b.pop())
	case op == insn.CHECKCAST || op == insn.INSTANCEOF:
		n := b.add(TypeCheck, b.pop())
		n.Owner = in.Owner
		b.push(n.ID)
	case op == insn.MONITORENTER || op == insn.MONITOREXIT:
		b.add(Monitor, b.pop())
	default:
		b.failf("unknown opcode %d", int(op))
	}
}

func (b *builder) constant(c any, wide bool) {
	n := b.add(ConstantLoad)
	n.Constant, n.Wide = c, wide
	b.push(n.ID)
}

// duplicate creates one Duplicate node per copied value; the caller pushes
// it at every position the value occupies afterwards.
func (b *builder) duplicate(values []NodeID) []NodeID {
	out := make([]NodeID, len(values))
	for i, v := range values {
		n := b.add(Duplicate, v)
		n.Wide = b.wide(v)
		out[i] = n.ID
	}
	return out
}

func (b *builder) field(in *insn.Instruction) {
	t, err := descriptor.Parse(in.Desc)
	if err != nil {
		b.failf("field descriptor: %v", err)
	}
	var n *Node
	switch in.Op {
	case insn.GETSTATIC:
		n = b.add(FieldRead)
	case insn.GETFIELD:
		n = b.add(FieldRead, b.pop())
	case insn.PUTSTATIC:
		n = b.add(FieldWrite, b.pop())
	default:
		n = b.add(FieldWrite, b.popN(2)...)
	}
	n.Owner, n.Name, n.Desc = in.Owner, in.Name, in.Desc
	if n.Kind == FieldRead {
		n.Wide = t.Size() == 2
		b.push(n.ID)
	}
}

func (b *builder) invoke(in *insn.Instruction, kind Kind, receiver bool) {
	args, err := descriptor.ArgumentTypes(in.Desc)
	if err != nil {
		b.failf("method descriptor: %v", err)
	}
	ret, err := descriptor.ReturnType(in.Desc)
	if err != nil {
		b.failf("method descriptor: %v", err)
	}
	count := len(args)
	if receiver {
		count++
	}
	n := b.add(kind, b.popN(count)...)
	n.Owner, n.Name, n.Desc = in.Owner, in.Name, in.Desc
	if ret.Sort != descriptor.Void {
		n.Wide = ret.Size() == 2
		b.push(n.ID)
	}
}

func wideConstant(c any) bool {
	switch c := c.(type) {
	case int64, float64:
		return true
	case insn.DynamicConst:
		return c.Desc == "J" || c.Desc == "D"
	}
	return false
}

// wideResult reports whether an arithmetic, conversion or array opcode
// produces a long or double.
func wideResult(op insn.Opcode) bool {
	switch op {
	case insn.LADD, insn.LSUB, insn.LMUL, insn.LDIV, insn.LREM,
		insn.DADD, insn.DSUB, insn.DMUL, insn.DDIV, insn.DREM,
		insn.LNEG, insn.DNEG,
		insn.LSHL, insn.LSHR, insn.LUSHR, insn.LAND, insn.LOR, insn.LXOR,
		insn.I2L, insn.I2D, insn.F2L, insn.F2D, insn.L2D, insn.D2L:
		return true
	}
	return false
}
