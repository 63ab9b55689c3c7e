package classfile

import (
	"sort"

	"jdeobf/internal/insn"
)

type decoded struct {
	pc int
	in *insn.Instruction
}

// readCode decodes a Code attribute body into m. Branch offsets become label
// ids; short and wide forms are folded into canonical opcodes.
func (p *parser) readCode(m *insn.Method, body []byte) error {
	r := &reader{buf: body}
	m.MaxStack = int(r.u2())
	m.MaxLocals = int(r.u2())
	codeLen := int(r.u4())
	code := r.bytes(codeLen)
	if r.err != nil {
		return r.err
	}

	targets := make(map[int]bool)
	var out []decoded
	c := &reader{buf: code}
	for c.off < len(code) && c.err == nil && p.r.err == nil {
		pc := c.off
		in := p.decodeInsn(c, pc, targets)
		if in != nil {
			out = append(out, decoded{pc: pc, in: in})
		}
	}
	if c.err != nil {
		return c.err
	}
	if p.r.err != nil {
		return p.r.err
	}

	type rawHandler struct {
		start, end, handler int
		typ                 string
	}
	var handlers []rawHandler
	for n := r.u2(); n > 0 && r.err == nil; n-- {
		h := rawHandler{start: int(r.u2()), end: int(r.u2()), handler: int(r.u2())}
		if ct := r.u2(); ct != 0 {
			h.typ = p.className(ct)
		}
		targets[h.start], targets[h.end], targets[h.handler] = true, true, true
		handlers = append(handlers, h)
	}

	lines := make(map[int][]int)
	for n := r.u2(); n > 0 && r.err == nil; n-- {
		name := p.utf8(r.u2())
		attr := r.bytes(int(r.u4()))
		if name != "LineNumberTable" || r.err != nil {
			continue
		}
		lr := &reader{buf: attr}
		for k := lr.u2(); k > 0 && lr.err == nil; k-- {
			start := int(lr.u2())
			line := int(lr.u2())
			lines[start] = append(lines[start], line)
			targets[start] = true
		}
	}
	if r.err != nil {
		return r.err
	}
	if p.r.err != nil {
		return p.r.err
	}

	pcs := make([]int, 0, len(targets))
	for pc := range targets {
		if pc < 0 || pc > codeLen {
			return &FormatError{Offset: pc, Msg: "branch target outside code"}
		}
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)
	labelOf := make(map[int]int, len(pcs))
	for i, pc := range pcs {
		labelOf[pc] = i
	}

	emitLabel := func(pc int) {
		id, ok := labelOf[pc]
		if !ok {
			return
		}
		m.Instructions = append(m.Instructions, &insn.Instruction{Op: insn.LABEL, Label: id})
		for _, line := range lines[pc] {
			m.Instructions = append(m.Instructions, &insn.Instruction{Op: insn.LINENUMBER, Line: line, Label: id})
		}
	}

	for _, d := range out {
		emitLabel(d.pc)
		in := d.in
		switch {
		case in.Op.IsJump():
			in.Label = labelOf[in.Label]
		case in.Op == insn.TABLESWITCH || in.Op == insn.LOOKUPSWITCH:
			in.Default = labelOf[in.Default]
			for i, t := range in.Labels {
				in.Labels[i] = labelOf[t]
			}
		}
		m.Instructions = append(m.Instructions, in)
	}
	emitLabel(codeLen)

	for _, h := range handlers {
		m.TryCatch = append(m.TryCatch, insn.TryCatch{
			Start:   labelOf[h.start],
			End:     labelOf[h.end],
			Handler: labelOf[h.handler],
			Type:    h.typ,
		})
	}
	m.InvalidateLabels()
	return nil
}

func s16(v uint16) int { return int(int16(v)) }
func s32(v uint32) int { return int(int32(v)) }

// decodeInsn decodes the instruction at pc. Branch targets are returned as
// absolute pcs in Label/Default/Labels and recorded in targets.
func (p *parser) decodeInsn(c *reader, pc int, targets map[int]bool) *insn.Instruction {
	b := c.u1()
	op := insn.Opcode(b)
	jump := func(off int) *insn.Instruction {
		t := pc + off
		targets[t] = true
		return &insn.Instruction{Op: op, Label: t}
	}

	switch {
	case b <= 0x0f:
		return &insn.Instruction{Op: op}
	case b == 0x10:
		return &insn.Instruction{Op: insn.BIPUSH, Operand: int(int8(c.u1()))}
	case b == 0x11:
		return &insn.Instruction{Op: insn.SIPUSH, Operand: s16(c.u2())}
	case b == 0x12:
		return &insn.Instruction{Op: insn.LDC, Const: p.constant(uint16(c.u1()))}
	case b == 0x13 || b == 0x14:
		return &insn.Instruction{Op: insn.LDC, Const: p.constant(c.u2())}
	case b >= 0x15 && b <= 0x19, b >= 0x36 && b <= 0x3a, b == 0xa9:
		return &insn.Instruction{Op: op, Var: int(c.u1())}
	case b >= 0x1a && b <= 0x2d:
		k := int(b - 0x1a)
		return &insn.Instruction{Op: insn.ILOAD + insn.Opcode(k/4), Var: k % 4}
	case b >= 0x3b && b <= 0x4e:
		k := int(b - 0x3b)
		return &insn.Instruction{Op: insn.ISTORE + insn.Opcode(k/4), Var: k % 4}
	case b == 0x84:
		v := int(c.u1())
		return &insn.Instruction{Op: insn.IINC, Var: v, Operand: int(int8(c.u1()))}
	case b >= 0x99 && b <= 0xa8, b == 0xc6 || b == 0xc7:
		return jump(s16(c.u2()))
	case b == 0xc8:
		op = insn.GOTO
		return jump(s32(c.u4()))
	case b == 0xc9:
		op = insn.JSR
		return jump(s32(c.u4()))
	case b == 0xaa:
		c.off += (4 - (pc+1)%4) % 4
		in := &insn.Instruction{Op: insn.TABLESWITCH, Default: pc + s32(c.u4())}
		in.Min = int32(c.u4())
		in.Max = int32(c.u4())
		if in.Max < in.Min {
			c.fail("tableswitch high < low")
			return nil
		}
		targets[in.Default] = true
		for i := int64(in.Min); i <= int64(in.Max) && c.err == nil; i++ {
			t := pc + s32(c.u4())
			targets[t] = true
			in.Labels = append(in.Labels, t)
		}
		return in
	case b == 0xab:
		c.off += (4 - (pc+1)%4) % 4
		in := &insn.Instruction{Op: insn.LOOKUPSWITCH, Default: pc + s32(c.u4())}
		targets[in.Default] = true
		n := s32(c.u4())
		if n < 0 {
			c.fail("lookupswitch negative pair count")
			return nil
		}
		for i := 0; i < n && c.err == nil; i++ {
			in.Keys = append(in.Keys, int32(c.u4()))
			t := pc + s32(c.u4())
			targets[t] = true
			in.Labels = append(in.Labels, t)
		}
		return in
	case b >= 0xb2 && b <= 0xb8:
		owner, name, desc, iface := p.memberRef(c.u2())
		return &insn.Instruction{Op: op, Owner: owner, Name: name, Desc: desc, Interface: iface}
	case b == 0xb9:
		owner, name, desc, _ := p.memberRef(c.u2())
		c.u1()
		c.u1()
		return &insn.Instruction{Op: op, Owner: owner, Name: name, Desc: desc, Interface: true}
	case b == 0xba:
		e := p.entry(c.u2(), tagInvokeDynamic)
		c.u2()
		name, desc := p.nameAndType(e.b)
		return &insn.Instruction{Op: op, Name: name, Desc: desc, Operand: int(e.a)}
	case b == 0xbb || b == 0xbd || b == 0xc0 || b == 0xc1:
		return &insn.Instruction{Op: op, Owner: p.className(c.u2())}
	case b == 0xbc:
		return &insn.Instruction{Op: op, Operand: int(c.u1())}
	case b == 0xc4:
		wop := c.u1()
		v := int(c.u2())
		switch {
		case wop == 0x84:
			return &insn.Instruction{Op: insn.IINC, Var: v, Operand: s16(c.u2())}
		case wop >= 0x15 && wop <= 0x19, wop >= 0x36 && wop <= 0x3a, wop == 0xa9:
			return &insn.Instruction{Op: insn.Opcode(wop), Var: v}
		}
		c.fail("invalid wide opcode 0x%02x", wop)
		return nil
	case b == 0xc5:
		desc := p.className(c.u2())
		return &insn.Instruction{Op: op, Desc: desc, Operand: int(c.u1())}
	case b <= 0xc3:
		return &insn.Instruction{Op: op}
	}
	c.fail("unknown opcode 0x%02x", b)
	return nil
}
