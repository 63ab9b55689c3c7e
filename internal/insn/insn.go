// Package insn defines the instruction and method representation shared by
// the class reader, the provenance graph builder and the interpreter.
package insn

import (
	"fmt"
	"strconv"
	"strings"

	"jdeobf/internal/descriptor"
)

// Instruction is one decoded instruction or pseudo-instruction.
//
// Only the fields relevant to the opcode are set:
//   - loads, stores, iinc, ret: Var (and Operand for the iinc increment)
//   - bipush, sipush, newarray: Operand
//   - ldc: Const (int32, int64, float32, float64, string or descriptor.Type)
//   - field and method instructions: Owner, Name, Desc
//   - new, anewarray, checkcast, instanceof: Owner (class or array descriptor)
//   - multianewarray: Desc and Operand (dimensions)
//   - jumps: Label is the target label id
//   - LABEL: Label is the label id; LINENUMBER: Line and Label
//   - switches: Default, Labels, and Keys (lookupswitch) or Min/Max (tableswitch)
type Instruction struct {
	Op        Opcode
	Var       int
	Operand   int
	Const     any
	Owner     string
	Name      string
	Desc      string
	Interface bool
	Label     int
	Line      int
	Default   int
	Labels    []int
	Keys      []int32
	Min, Max  int32
}

// TryCatch is an exception table entry expressed with label ids.
type TryCatch struct {
	Start   int
	End     int
	Handler int
	// Type is the caught class, or "" for any throwable.
	Type string
}

// Handle is an ldc operand referring to a method handle constant.
type Handle struct {
	Kind  int
	Owner string
	Name  string
	Desc  string
}

// DynamicConst is an ldc operand computed by a bootstrap method.
type DynamicConst struct {
	Name string
	Desc string
}

// Access flags used by the analysis.
const (
	AccStatic   = 0x0008
	AccNative   = 0x0100
	AccAbstract = 0x0400
)

// Method is a method body.
type Method struct {
	Owner        string
	Name         string
	Desc         string
	Access       uint16
	MaxStack     int
	MaxLocals    int
	Instructions []*Instruction
	TryCatch     []TryCatch

	labels map[int]int
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool {
	return m.Access&AccStatic != 0
}

// HasCode reports whether the method carries a body.
func (m *Method) HasCode() bool {
	return len(m.Instructions) > 0 && m.Access&(AccNative|AccAbstract) == 0
}

// Signature returns name+descriptor, e.g. "decrypt(Ljava/lang/String;)Ljava/lang/String;".
func (m *Method) Signature() string {
	return m.Name + m.Desc
}

// String returns owner.name(desc).
func (m *Method) String() string {
	return m.Owner + "." + m.Name + m.Desc
}

// LabelIndex returns the instruction index of the LABEL with the given id.
func (m *Method) LabelIndex(label int) (int, bool) {
	if m.labels == nil {
		m.labels = make(map[int]int)
		for i, in := range m.Instructions {
			if in.Op == LABEL {
				m.labels[in.Label] = i
			}
		}
	}
	idx, ok := m.labels[label]
	return idx, ok
}

// InvalidateLabels drops the cached label index after Instructions changed.
func (m *Method) InvalidateLabels() {
	m.labels = nil
}

// ArgumentTypes returns the parsed parameter types.
func (m *Method) ArgumentTypes() ([]descriptor.Type, error) {
	return descriptor.ArgumentTypes(m.Desc)
}

// ReturnType returns the parsed return type.
func (m *Method) ReturnType() (descriptor.Type, error) {
	return descriptor.ReturnType(m.Desc)
}

func (in *Instruction) String() string {
	switch in.Op {
	case LABEL:
		return fmt.Sprintf("L%d:", in.Label)
	case LINENUMBER:
		return fmt.Sprintf("line %d", in.Line)
	case FRAME:
		return "frame"
	}

	var b strings.Builder
	b.WriteString(in.Op.String())
	switch {
	case in.Op == ILOAD || in.Op == LLOAD || in.Op == FLOAD || in.Op == DLOAD || in.Op == ALOAD,
		in.Op == ISTORE || in.Op == LSTORE || in.Op == FSTORE || in.Op == DSTORE || in.Op == ASTORE,
		in.Op == RET:
		fmt.Fprintf(&b, " %d", in.Var)
	case in.Op == IINC:
		fmt.Fprintf(&b, " %d %d", in.Var, in.Operand)
	case in.Op == BIPUSH || in.Op == SIPUSH:
		fmt.Fprintf(&b, " %d", in.Operand)
	case in.Op == NEWARRAY:
		d, _ := NewArrayDescriptor(in.Operand)
		fmt.Fprintf(&b, " %s", d)
	case in.Op == LDC:
		b.WriteByte(' ')
		b.WriteString(FormatConstant(in.Const))
	case in.Op.IsField() || in.Op.IsInvoke():
		if in.Op == INVOKEDYNAMIC {
			fmt.Fprintf(&b, " %s%s", in.Name, in.Desc)
		} else if in.Op.IsField() {
			fmt.Fprintf(&b, " %s.%s : %s", in.Owner, in.Name, in.Desc)
		} else {
			fmt.Fprintf(&b, " %s.%s%s", in.Owner, in.Name, in.Desc)
		}
	case in.Op == NEW || in.Op == ANEWARRAY || in.Op == CHECKCAST || in.Op == INSTANCEOF:
		fmt.Fprintf(&b, " %s", in.Owner)
	case in.Op == MULTIANEWARRAY:
		fmt.Fprintf(&b, " %s %d", in.Desc, in.Operand)
	case in.Op.IsJump():
		fmt.Fprintf(&b, " L%d", in.Label)
	case in.Op == TABLESWITCH:
		fmt.Fprintf(&b, " %d..%d", in.Min, in.Max)
		for i, l := range in.Labels {
			fmt.Fprintf(&b, " %d:L%d", int(in.Min)+i, l)
		}
		fmt.Fprintf(&b, " default:L%d", in.Default)
	case in.Op == LOOKUPSWITCH:
		for i, l := range in.Labels {
			fmt.Fprintf(&b, " %d:L%d", in.Keys[i], l)
		}
		fmt.Fprintf(&b, " default:L%d", in.Default)
	}
	return b.String()
}

// FormatConstant renders an ldc operand the way the disassembler prints it.
func FormatConstant(c any) string {
	switch v := c.(type) {
	case string:
		return strconv.Quote(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10) + "L"
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32) + "F"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64) + "D"
	case descriptor.Type:
		if v.Sort == descriptor.Method {
			return "methodtype " + v.Desc
		}
		return v.Desc + ".class"
	case Handle:
		return fmt.Sprintf("handle %d %s.%s%s", v.Kind, v.Owner, v.Name, v.Desc)
	case DynamicConst:
		return fmt.Sprintf("condy %s : %s", v.Name, v.Desc)
	case nil:
		return "null"
	}
	return fmt.Sprintf("%v", c)
}

// Format renders a method body as a numbered listing.
func Format(m *Method) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", m.String())
	for i, in := range m.Instructions {
		if in.Op == LABEL {
			fmt.Fprintf(&b, "%4d  %s\n", i, in)
			continue
		}
		fmt.Fprintf(&b, "%4d      %s\n", i, in)
	}
	for _, tc := range m.TryCatch {
		typ := tc.Type
		if typ == "" {
			typ = "any"
		}
		fmt.Fprintf(&b, "      try L%d..L%d catch %s -> L%d\n", tc.Start, tc.End, typ, tc.Handler)
	}
	return b.String()
}
