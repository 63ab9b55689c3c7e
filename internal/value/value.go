// Package value models the values an interpreted method can hold on its
// operand stack and in its local variables.
package value

import (
	"fmt"
	"strconv"

	"jdeobf/internal/descriptor"
)

// Kind identifies the variant of a Value.
type Kind int

const (
	KindBoolean Kind = iota
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindNull
	KindObject
	KindArray
	KindUninitialized
)

var kindNames = [...]string{"boolean", "byte", "char", "short", "int", "long", "float", "double", "null", "object", "array", "uninitialized"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// IsReference reports whether values of kind k are shared by reference.
func (k Kind) IsReference() bool {
	return k >= KindNull
}

// Value is a boolean, byte, char, short, int, long, float, double, null,
// object, array or not-yet-constructed object.
type Value interface {
	Kind() Kind
	// TypeName is the primitive name ("int") for value kinds, the internal
	// class name for objects and the descriptor for arrays.
	TypeName() string
	// Copy returns an independent copy of a value kind, and the same
	// instance for references.
	Copy() Value
	// Native returns the host representation of the value.
	Native() any
}

type (
	Boolean bool
	Byte    int8
	Char    uint16
	Short   int16
	Int     int32
	Long    int64
	Float   float32
	Double  float64
)

func (Boolean) Kind() Kind { return KindBoolean }
func (Byte) Kind() Kind    { return KindByte }
func (Char) Kind() Kind    { return KindChar }
func (Short) Kind() Kind   { return KindShort }
func (Int) Kind() Kind     { return KindInt }
func (Long) Kind() Kind    { return KindLong }
func (Float) Kind() Kind   { return KindFloat }
func (Double) Kind() Kind  { return KindDouble }

func (Boolean) TypeName() string { return "boolean" }
func (Byte) TypeName() string    { return "byte" }
func (Char) TypeName() string    { return "char" }
func (Short) TypeName() string   { return "short" }
func (Int) TypeName() string     { return "int" }
func (Long) TypeName() string    { return "long" }
func (Float) TypeName() string   { return "float" }
func (Double) TypeName() string  { return "double" }

func (v Boolean) Copy() Value { return v }
func (v Byte) Copy() Value    { return v }
func (v Char) Copy() Value    { return v }
func (v Short) Copy() Value   { return v }
func (v Int) Copy() Value     { return v }
func (v Long) Copy() Value    { return v }
func (v Float) Copy() Value   { return v }
func (v Double) Copy() Value  { return v }

func (v Boolean) Native() any { return bool(v) }
func (v Byte) Native() any    { return int8(v) }
func (v Char) Native() any    { return uint16(v) }
func (v Short) Native() any   { return int16(v) }
func (v Int) Native() any     { return int32(v) }
func (v Long) Native() any    { return int64(v) }
func (v Float) Native() any   { return float32(v) }
func (v Double) Native() any  { return float64(v) }

type null struct{}

// Null is the null reference.
var Null Value = null{}

func (null) Kind() Kind       { return KindNull }
func (null) TypeName() string { return "null" }
func (null) Copy() Value      { return Null }
func (null) Native() any      { return nil }
func (null) String() string   { return "null" }

// IsNull reports whether v is the null reference.
func IsNull(v Value) bool {
	return v == nil || v.Kind() == KindNull
}

// IsWide reports whether v occupies two stack slots.
func IsWide(v Value) bool {
	k := v.Kind()
	return k == KindLong || k == KindDouble
}

// UnsupportedError reports an accessor or coercion a variant does not support.
type UnsupportedError struct {
	Op   string
	Type string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported operation %s on %s", e.Op, e.Type)
}

func unsupported(op string, v Value) error {
	name := "nil"
	if v != nil {
		name = v.TypeName()
	}
	return &UnsupportedError{Op: op, Type: name}
}

// Zero returns the default value of a field or array element of type t.
func Zero(t descriptor.Type) Value {
	if v, ok := ForPrimitive(t.Sort); ok {
		return v
	}
	return Null
}

// ForPrimitive returns the zero value of a primitive sort.
func ForPrimitive(s descriptor.Sort) (Value, bool) {
	switch s {
	case descriptor.Boolean:
		return Boolean(false), true
	case descriptor.Byte:
		return Byte(0), true
	case descriptor.Char:
		return Char(0), true
	case descriptor.Short:
		return Short(0), true
	case descriptor.Int:
		return Int(0), true
	case descriptor.Long:
		return Long(0), true
	case descriptor.Float:
		return Float(0), true
	case descriptor.Double:
		return Double(0), true
	}
	return nil, false
}

// Format renders v for listings and reports.
func Format(v Value) string {
	switch v := v.(type) {
	case nil:
		return "<void>"
	case null:
		return "null"
	case *Uninitialized:
		return "uninitialized " + v.typeName
	case Boolean:
		return strconv.FormatBool(bool(v))
	case Char:
		return strconv.QuoteRune(rune(v))
	case Long:
		return strconv.FormatInt(int64(v), 10) + "L"
	case Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 32) + "F"
	case Double:
		return strconv.FormatFloat(float64(v), 'g', -1, 64) + "D"
	case *Object:
		if s, ok := v.native.(string); ok {
			return strconv.Quote(s)
		}
		return fmt.Sprintf("%s@%p", v.typeName, v)
	case *Array:
		return fmt.Sprintf("%s[%d]", v.ElementType().Desc, v.Len())
	}
	return fmt.Sprint(v.Native())
}
