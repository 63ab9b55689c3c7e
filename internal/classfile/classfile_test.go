package classfile

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"jdeobf/internal/insn"
	"jdeobf/internal/jstring"
)

// classBytes assembles a minimal class file for tests.
type classBytes struct {
	pool  [][]byte
	index map[string]uint16
}

func newClassBytes() *classBytes {
	return &classBytes{index: make(map[string]uint16)}
}

func (c *classBytes) add(key string, entry []byte) uint16 {
	if idx, ok := c.index[key]; ok {
		return idx
	}
	c.pool = append(c.pool, entry)
	idx := uint16(len(c.pool))
	c.index[key] = idx
	return idx
}

func u2(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u4(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

func (c *classBytes) utf8(s string) uint16 {
	raw := jstring.EncodeModifiedUTF8(jstring.UTF16(s))
	entry := append([]byte{tagUtf8}, u2(uint16(len(raw)))...)
	return c.add("u:"+s, append(entry, raw...))
}

func (c *classBytes) class(name string) uint16 {
	n := c.utf8(name)
	return c.add("c:"+name, append([]byte{tagClass}, u2(n)...))
}

func (c *classBytes) str(s string) uint16 {
	n := c.utf8(s)
	return c.add("s:"+s, append([]byte{tagString}, u2(n)...))
}

type testMethod struct {
	name, desc string
	access     uint16
	code       []byte
	handlers   [][4]uint16
	lines      [][2]uint16
}

func (c *classBytes) build(name, super string, fields [][3]string, methods []testMethod) []byte {
	var body []byte
	body = append(body, u2(insn.AccStatic|0x0001)...)
	body = append(body, u2(c.class(name))...)
	body = append(body, u2(c.class(super))...)
	body = append(body, u2(0)...)

	body = append(body, u2(uint16(len(fields)))...)
	for _, f := range fields {
		body = append(body, u2(insn.AccStatic)...)
		body = append(body, u2(c.utf8(f[0]))...)
		body = append(body, u2(c.utf8(f[1]))...)
		body = append(body, u2(1)...)
		body = append(body, u2(c.utf8("ConstantValue"))...)
		body = append(body, u4(2)...)
		body = append(body, u2(c.str(f[2]))...)
	}

	body = append(body, u2(uint16(len(methods)))...)
	for _, m := range methods {
		body = append(body, u2(m.access)...)
		body = append(body, u2(c.utf8(m.name))...)
		body = append(body, u2(c.utf8(m.desc))...)
		body = append(body, u2(1)...)

		var code []byte
		code = append(code, u2(4)...)
		code = append(code, u2(4)...)
		code = append(code, u4(uint32(len(m.code)))...)
		code = append(code, m.code...)
		code = append(code, u2(uint16(len(m.handlers)))...)
		for _, h := range m.handlers {
			for _, v := range h {
				code = append(code, u2(v)...)
			}
		}
		if len(m.lines) == 0 {
			code = append(code, u2(0)...)
		} else {
			code = append(code, u2(1)...)
			code = append(code, u2(c.utf8("LineNumberTable"))...)
			code = append(code, u4(uint32(2+4*len(m.lines)))...)
			code = append(code, u2(uint16(len(m.lines)))...)
			for _, l := range m.lines {
				code = append(code, u2(l[0])...)
				code = append(code, u2(l[1])...)
			}
		}
		body = append(body, u2(c.utf8("Code"))...)
		body = append(body, u4(uint32(len(code)))...)
		body = append(body, code...)
	}
	body = append(body, u2(1)...)
	body = append(body, u2(c.utf8("SourceFile"))...)
	body = append(body, u4(2)...)
	body = append(body, u2(c.utf8(name+".java"))...)

	out := u4(Magic)
	out = append(out, u2(0)...)
	out = append(out, u2(52)...)
	out = append(out, u2(uint16(len(c.pool)+1))...)
	for _, e := range c.pool {
		out = append(out, e...)
	}
	return append(out, body...)
}

func ops(m *insn.Method) []insn.Opcode {
	var out []insn.Opcode
	for _, in := range m.Instructions {
		out = append(out, in.Op)
	}
	return out
}

func TestParseBranchesAndLines(t *testing.T) {
	cb := newClassBytes()
	data := cb.build("demo/Flag", "java/lang/Object", nil, []testMethod{{
		name:   "f",
		desc:   "(I)I",
		access: insn.AccStatic,
		code: []byte{
			0x1a,             // iload_0
			0x99, 0x00, 0x05, // ifeq +5
			0x04, // iconst_1
			0xac, // ireturn
			0x03, // iconst_0
			0xac, // ireturn
		},
		handlers: [][4]uint16{{0, 6, 6, 0}},
		lines:    [][2]uint16{{0, 10}, {6, 12}},
	}})

	c, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "demo/Flag" || c.Super != "java/lang/Object" {
		t.Errorf("class = %s extends %s", c.Name, c.Super)
	}
	if c.SourceFile != "demo/Flag.java" {
		t.Errorf("source file = %q", c.SourceFile)
	}
	m := c.Method("f", "(I)I")
	if m == nil {
		t.Fatal("method f not found")
	}
	if m.Owner != "demo/Flag" || !m.IsStatic() {
		t.Errorf("owner %q static %v", m.Owner, m.IsStatic())
	}

	want := []insn.Opcode{
		insn.LABEL, insn.LINENUMBER, insn.ILOAD, insn.IFEQ, insn.ICONST_1, insn.IRETURN,
		insn.LABEL, insn.LINENUMBER, insn.ICONST_0, insn.IRETURN,
	}
	if got := ops(m); !slices.Equal(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if m.Instructions[2].Var != 0 {
		t.Errorf("iload var = %d", m.Instructions[2].Var)
	}
	target := m.Instructions[3].Label
	idx, ok := m.LabelIndex(target)
	if !ok || idx != 6 {
		t.Errorf("ifeq target at %d (%v), want 6", idx, ok)
	}
	if m.Instructions[7].Line != 12 {
		t.Errorf("second line = %d", m.Instructions[7].Line)
	}
	if len(m.TryCatch) != 1 || m.TryCatch[0].Type != "" || m.TryCatch[0].Handler != target {
		t.Errorf("try/catch = %+v", m.TryCatch)
	}
}

func TestParseSwitchWideAndConstants(t *testing.T) {
	cb := newClassBytes()
	hi := cb.str("hi")
	if hi > 0xff {
		t.Fatal("string constant index too large for ldc")
	}
	code := []byte{
		0x1a,       // 0: iload_0
		0xaa, 0, 0, // 1: tableswitch, padded to 4
		0, 0, 0, 32, // default -> 33
		0, 0, 0, 0, // low
		0, 0, 0, 1, // high
		0, 0, 0, 23, // 0 -> 24
		0, 0, 0, 32, // 1 -> 33
		0x12, byte(hi), // 24: ldc "hi"
		0x57,                               // 26: pop
		0xc4, 0x84, 0x00, 0x00, 0x01, 0x2c, // 27: wide iinc 0 300
		0x1a, // 33: iload_0
		0xac, // 34: ireturn
	}
	data := cb.build("demo/Switch", "java/lang/Object",
		[][3]string{{"KEY", "Ljava/lang/String;", "secret"}},
		[]testMethod{{name: "g", desc: "(I)I", access: insn.AccStatic, code: code}})

	c, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	f := c.Field("KEY", "Ljava/lang/String;")
	if f == nil || f.Constant != "secret" || !f.IsStatic() {
		t.Fatalf("field = %+v", f)
	}

	m := c.Method("g", "(I)I")
	want := []insn.Opcode{
		insn.ILOAD, insn.TABLESWITCH, insn.LABEL, insn.LDC, insn.POP, insn.IINC,
		insn.LABEL, insn.ILOAD, insn.IRETURN,
	}
	if got := ops(m); !slices.Equal(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	sw := m.Instructions[1]
	if sw.Min != 0 || sw.Max != 1 || !slices.Equal(sw.Labels, []int{0, 1}) || sw.Default != 1 {
		t.Errorf("tableswitch = %+v", sw)
	}
	if got := m.Instructions[3].Const; got != "hi" {
		t.Errorf("ldc = %v", got)
	}
	if in := m.Instructions[5]; in.Var != 0 || in.Operand != 300 {
		t.Errorf("iinc = %d %d", in.Var, in.Operand)
	}
	if m.MaxLocals != 4 || m.MaxStack != 4 {
		t.Errorf("max stack/locals = %d/%d", m.MaxStack, m.MaxLocals)
	}
}

func TestParseErrors(t *testing.T) {
	valid := newClassBytes().build("demo/A", "java/lang/Object", nil, []testMethod{{
		name: "f", desc: "()V", access: insn.AccStatic, code: []byte{0xb1},
	}})

	badOpcode := newClassBytes().build("demo/B", "java/lang/Object", nil, []testMethod{{
		name: "f", desc: "()V", access: insn.AccStatic, code: []byte{0xfe},
	}})

	badTarget := newClassBytes().build("demo/C", "java/lang/Object", nil, []testMethod{{
		name: "f", desc: "()V", access: insn.AccStatic, code: []byte{0xa7, 0x00, 0x40},
	}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 52}},
		{"truncated", valid[:len(valid)-3]},
		{"unknown opcode", badOpcode},
		{"branch outside code", badTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("Parse error = %v, want *FormatError", err)
			}
		})
	}

	if _, err := Parse(valid); err != nil {
		t.Errorf("valid class: %v", err)
	}
}
