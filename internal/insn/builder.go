package insn

import (
	"jdeobf/internal/descriptor"
)

// Builder assembles a Method instruction by instruction. It is used to
// synthesize fragments that isolate a single expression for execution.
type Builder struct {
	m         *Method
	nextLabel int
}

// NewBuilder starts a method body. Methods are static unless Virtual is called.
func NewBuilder(owner, name, desc string) *Builder {
	return &Builder{m: &Method{
		Owner:  owner,
		Name:   name,
		Desc:   desc,
		Access: AccStatic,
	}}
}

// Virtual marks the method as an instance method.
func (b *Builder) Virtual() *Builder {
	b.m.Access &^= AccStatic
	return b
}

func (b *Builder) add(in *Instruction) *Builder {
	b.m.Instructions = append(b.m.Instructions, in)
	switch in.Op {
	case ILOAD, FLOAD, ALOAD, ISTORE, FSTORE, ASTORE, IINC, RET:
		b.growLocals(in.Var + 1)
	case LLOAD, DLOAD, LSTORE, DSTORE:
		b.growLocals(in.Var + 2)
	}
	return b
}

func (b *Builder) growLocals(n int) {
	if n > b.m.MaxLocals {
		b.m.MaxLocals = n
	}
}

// Op appends an instruction without operands.
func (b *Builder) Op(op Opcode) *Builder {
	return b.add(&Instruction{Op: op})
}

// Int appends bipush, sipush or newarray.
func (b *Builder) Int(op Opcode, operand int) *Builder {
	return b.add(&Instruction{Op: op, Operand: operand})
}

// PushInt appends the shortest instruction pushing v.
func (b *Builder) PushInt(v int32) *Builder {
	switch {
	case v >= -1 && v <= 5:
		return b.Op(ICONST_0 + Opcode(v))
	case v >= -128 && v <= 127:
		return b.Int(BIPUSH, int(v))
	case v >= -32768 && v <= 32767:
		return b.Int(SIPUSH, int(v))
	}
	return b.Ldc(v)
}

// Ldc appends a constant load.
func (b *Builder) Ldc(c any) *Builder {
	if v, ok := c.(int); ok {
		c = int32(v)
	}
	return b.add(&Instruction{Op: LDC, Const: c})
}

// Var appends a local variable instruction.
func (b *Builder) Var(op Opcode, slot int) *Builder {
	return b.add(&Instruction{Op: op, Var: slot})
}

// Iinc appends an iinc.
func (b *Builder) Iinc(slot, incr int) *Builder {
	return b.add(&Instruction{Op: IINC, Var: slot, Operand: incr})
}

// Field appends a field instruction.
func (b *Builder) Field(op Opcode, owner, name, desc string) *Builder {
	return b.add(&Instruction{Op: op, Owner: owner, Name: name, Desc: desc})
}

// Invoke appends a method invocation.
func (b *Builder) Invoke(op Opcode, owner, name, desc string) *Builder {
	return b.add(&Instruction{Op: op, Owner: owner, Name: name, Desc: desc, Interface: op == INVOKEINTERFACE})
}

// Type appends new, anewarray, checkcast or instanceof.
func (b *Builder) Type(op Opcode, typ string) *Builder {
	return b.add(&Instruction{Op: op, Owner: typ})
}

// MultiANewArray appends a multianewarray.
func (b *Builder) MultiANewArray(desc string, dims int) *Builder {
	return b.add(&Instruction{Op: MULTIANEWARRAY, Desc: desc, Operand: dims})
}

// NewLabel allocates a label id; place it with Mark.
func (b *Builder) NewLabel() int {
	l := b.nextLabel
	b.nextLabel++
	return l
}

// Mark places a label at the current position.
func (b *Builder) Mark(label int) *Builder {
	return b.add(&Instruction{Op: LABEL, Label: label})
}

// Line appends line number metadata.
func (b *Builder) Line(line, label int) *Builder {
	return b.add(&Instruction{Op: LINENUMBER, Line: line, Label: label})
}

// Jump appends a branch to label.
func (b *Builder) Jump(op Opcode, label int) *Builder {
	return b.add(&Instruction{Op: op, Label: label})
}

// TableSwitch appends a tableswitch over [min, min+len(labels)).
func (b *Builder) TableSwitch(min int32, dflt int, labels ...int) *Builder {
	return b.add(&Instruction{
		Op:      TABLESWITCH,
		Min:     min,
		Max:     min + int32(len(labels)) - 1,
		Default: dflt,
		Labels:  labels,
	})
}

// LookupSwitch appends a lookupswitch; keys and labels are parallel.
func (b *Builder) LookupSwitch(dflt int, keys []int32, labels []int) *Builder {
	return b.add(&Instruction{Op: LOOKUPSWITCH, Default: dflt, Keys: keys, Labels: labels})
}

// TryCatch registers an exception handler.
func (b *Builder) TryCatch(start, end, handler int, typ string) *Builder {
	b.m.TryCatch = append(b.m.TryCatch, TryCatch{Start: start, End: end, Handler: handler, Type: typ})
	return b
}

// Build finishes the method.
func (b *Builder) Build() *Method {
	if n, err := descriptor.ArgumentsSize(b.m.Desc, b.m.IsStatic()); err == nil {
		b.growLocals(n)
	}
	b.m.InvalidateLabels()
	return b.m
}
