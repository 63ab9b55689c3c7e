// Package classfile reads JVM class files into the insn method model.
package classfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"jdeobf/internal/descriptor"
	"jdeobf/internal/insn"
	"jdeobf/internal/jstring"
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// Constant pool tags
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// FormatError reports a malformed class file.
type FormatError struct {
	Offset int
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("class file: %s (offset %d)", e.Msg, e.Offset)
}

// Field is a declared field.
type Field struct {
	Name   string
	Desc   string
	Access uint16
	// Constant is the ConstantValue attribute, if present.
	Constant any
}

// IsStatic reports whether the field is static.
func (f *Field) IsStatic() bool {
	return f.Access&insn.AccStatic != 0
}

// Class is a parsed class file.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Access     uint16
	Major      uint16
	Minor      uint16
	SourceFile string
	Fields     []*Field
	Methods    []*insn.Method
}

// Method returns the method with the given name and descriptor.
func (c *Class) Method(name, desc string) *insn.Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// Field returns the field with the given name and descriptor.
func (c *Class) Field(name, desc string) *Field {
	for _, f := range c.Fields {
		if f.Name == name && f.Desc == desc {
			return f
		}
	}
	return nil
}

type cpEntry struct {
	tag  byte
	a, b uint16
	u32  uint32
	u64  uint64
	str  string
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = &FormatError{Offset: r.off, Msg: fmt.Sprintf(format, args...)}
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.fail("unexpected end of data, need %d bytes", n)
		return false
	}
	return true
}

func (r *reader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

type parser struct {
	r     reader
	pool  []cpEntry
	class *Class
}

// Parse decodes a class file.
func Parse(data []byte) (*Class, error) {
	p := &parser{r: reader{buf: data}, class: &Class{}}
	if magic := p.r.u4(); p.r.err == nil && magic != Magic {
		return nil, &FormatError{Offset: 0, Msg: fmt.Sprintf("bad magic 0x%08x", magic)}
	}
	p.class.Minor = p.r.u2()
	p.class.Major = p.r.u2()
	p.readPool()
	if p.r.err != nil {
		return nil, p.r.err
	}

	p.class.Access = p.r.u2()
	p.class.Name = p.className(p.r.u2())
	if super := p.r.u2(); super != 0 {
		p.class.Super = p.className(super)
	}
	for n := p.r.u2(); n > 0 && p.r.err == nil; n-- {
		p.class.Interfaces = append(p.class.Interfaces, p.className(p.r.u2()))
	}
	for n := p.r.u2(); n > 0 && p.r.err == nil; n-- {
		p.class.Fields = append(p.class.Fields, p.readField())
	}
	for n := p.r.u2(); n > 0 && p.r.err == nil; n-- {
		p.class.Methods = append(p.class.Methods, p.readMethod())
	}
	for n := p.r.u2(); n > 0 && p.r.err == nil; n-- {
		name := p.utf8(p.r.u2())
		body := p.r.bytes(int(p.r.u4()))
		if name == "SourceFile" && len(body) == 2 {
			p.class.SourceFile = p.utf8(binary.BigEndian.Uint16(body))
		}
	}
	if p.r.err != nil {
		return nil, p.r.err
	}
	return p.class, nil
}

func (p *parser) readPool() {
	count := int(p.r.u2())
	p.pool = make([]cpEntry, count)
	for i := 1; i < count && p.r.err == nil; i++ {
		tag := p.r.u1()
		e := cpEntry{tag: tag}
		switch tag {
		case tagUtf8:
			raw := p.r.bytes(int(p.r.u2()))
			units, err := jstring.DecodeModifiedUTF8(raw)
			if err != nil {
				p.r.fail("constant %d: %v", i, err)
				return
			}
			e.str = jstring.FromUTF16(units)
		case tagInteger, tagFloat:
			e.u32 = p.r.u4()
		case tagLong, tagDouble:
			hi := uint64(p.r.u4())
			e.u64 = hi<<32 | uint64(p.r.u4())
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			e.a = p.r.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			e.a = p.r.u2()
			e.b = p.r.u2()
		case tagMethodHandle:
			e.a = uint16(p.r.u1())
			e.b = p.r.u2()
		default:
			p.r.fail("constant %d: unknown tag %d", i, tag)
			return
		}
		p.pool[i] = e
		if tag == tagLong || tag == tagDouble {
			i++
		}
	}
}

func (p *parser) entry(idx uint16, tags ...byte) cpEntry {
	if int(idx) <= 0 || int(idx) >= len(p.pool) {
		p.r.fail("constant index %d out of range", idx)
		return cpEntry{}
	}
	e := p.pool[idx]
	for _, t := range tags {
		if e.tag == t {
			return e
		}
	}
	p.r.fail("constant %d has tag %d, want one of %v", idx, e.tag, tags)
	return cpEntry{}
}

func (p *parser) utf8(idx uint16) string {
	return p.entry(idx, tagUtf8).str
}

func (p *parser) className(idx uint16) string {
	return p.utf8(p.entry(idx, tagClass).a)
}

func (p *parser) nameAndType(idx uint16) (string, string) {
	e := p.entry(idx, tagNameAndType)
	return p.utf8(e.a), p.utf8(e.b)
}

func (p *parser) memberRef(idx uint16) (owner, name, desc string, iface bool) {
	e := p.entry(idx, tagFieldref, tagMethodref, tagInterfaceMethodref)
	owner = p.className(e.a)
	name, desc = p.nameAndType(e.b)
	return owner, name, desc, e.tag == tagInterfaceMethodref
}

// constant resolves a loadable constant for ldc and ConstantValue.
func (p *parser) constant(idx uint16) any {
	e := p.entry(idx, tagInteger, tagFloat, tagLong, tagDouble, tagString, tagClass, tagMethodType, tagMethodHandle, tagDynamic)
	switch e.tag {
	case tagInteger:
		return int32(e.u32)
	case tagFloat:
		return math.Float32frombits(e.u32)
	case tagLong:
		return int64(e.u64)
	case tagDouble:
		return math.Float64frombits(e.u64)
	case tagString:
		return p.utf8(e.a)
	case tagClass:
		return descriptor.ObjectOf(p.utf8(e.a))
	case tagMethodType:
		return descriptor.Type{Sort: descriptor.Method, Desc: p.utf8(e.a)}
	case tagMethodHandle:
		owner, name, desc, _ := p.memberRef(e.b)
		return insn.Handle{Kind: int(e.a), Owner: owner, Name: name, Desc: desc}
	case tagDynamic:
		name, desc := p.nameAndType(e.b)
		return insn.DynamicConst{Name: name, Desc: desc}
	}
	return nil
}

func (p *parser) readField() *Field {
	f := &Field{Access: p.r.u2()}
	f.Name = p.utf8(p.r.u2())
	f.Desc = p.utf8(p.r.u2())
	for n := p.r.u2(); n > 0 && p.r.err == nil; n-- {
		name := p.utf8(p.r.u2())
		body := p.r.bytes(int(p.r.u4()))
		if name == "ConstantValue" && len(body) == 2 {
			f.Constant = p.constant(binary.BigEndian.Uint16(body))
		}
	}
	return f
}

func (p *parser) readMethod() *insn.Method {
	m := &insn.Method{Owner: p.class.Name, Access: p.r.u2()}
	m.Name = p.utf8(p.r.u2())
	m.Desc = p.utf8(p.r.u2())
	for n := p.r.u2(); n > 0 && p.r.err == nil; n-- {
		name := p.utf8(p.r.u2())
		body := p.r.bytes(int(p.r.u4()))
		if name == "Code" && p.r.err == nil {
			if err := p.readCode(m, body); err != nil {
				p.r.err = err
			}
		}
	}
	return m
}
