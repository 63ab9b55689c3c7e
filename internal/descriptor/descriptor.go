// Package descriptor parses JVM field and method type descriptors.
package descriptor

import (
	"fmt"
	"strings"
)

// Sort identifies the category of a Type.
type Sort int

const (
	Void Sort = iota
	Boolean
	Char
	Byte
	Short
	Int
	Float
	Long
	Double
	Array
	Object
	Method
)

var sortNames = [...]string{"void", "boolean", "char", "byte", "short", "int", "float", "long", "double", "array", "object", "method"}

func (s Sort) String() string {
	if s < 0 || int(s) >= len(sortNames) {
		return fmt.Sprintf("Sort(%d)", int(s))
	}
	return sortNames[s]
}

// IsPrimitive reports whether s is one of the eight primitive sorts.
func (s Sort) IsPrimitive() bool {
	return s >= Boolean && s <= Double
}

// Type is a parsed descriptor.
type Type struct {
	Sort Sort
	// Desc is the full descriptor, e.g. "I", "[Ljava/lang/String;".
	Desc string
}

// Primitive descriptors
var (
	VoidType    = Type{Void, "V"}
	BooleanType = Type{Boolean, "Z"}
	CharType    = Type{Char, "C"}
	ByteType    = Type{Byte, "B"}
	ShortType   = Type{Short, "S"}
	IntType     = Type{Int, "I"}
	FloatType   = Type{Float, "F"}
	LongType    = Type{Long, "J"}
	DoubleType  = Type{Double, "D"}
	ObjectType  = Type{Object, "Ljava/lang/Object;"}
	StringType  = Type{Object, "Ljava/lang/String;"}
)

// ForSort returns the primitive type for s.
func ForSort(s Sort) (Type, bool) {
	switch s {
	case Void:
		return VoidType, true
	case Boolean:
		return BooleanType, true
	case Char:
		return CharType, true
	case Byte:
		return ByteType, true
	case Short:
		return ShortType, true
	case Int:
		return IntType, true
	case Float:
		return FloatType, true
	case Long:
		return LongType, true
	case Double:
		return DoubleType, true
	}
	return Type{}, false
}

// Parse parses a single field descriptor or a method descriptor.
func Parse(desc string) (Type, error) {
	if desc == "" {
		return Type{}, fmt.Errorf("empty descriptor")
	}
	if desc[0] == '(' {
		if strings.IndexByte(desc, ')') < 0 {
			return Type{}, fmt.Errorf("malformed method descriptor %q", desc)
		}
		return Type{Method, desc}, nil
	}
	t, n, err := parseOne(desc, 0)
	if err != nil {
		return Type{}, err
	}
	if n != len(desc) {
		return Type{}, fmt.Errorf("trailing data in descriptor %q", desc)
	}
	return t, nil
}

// MustParse is Parse for descriptors known to be valid.
func MustParse(desc string) Type {
	t, err := Parse(desc)
	if err != nil {
		panic(err)
	}
	return t
}

// ObjectOf returns the type for an internal class name or array descriptor.
func ObjectOf(internalName string) Type {
	if strings.HasPrefix(internalName, "[") {
		return Type{Array, internalName}
	}
	return Type{Object, "L" + internalName + ";"}
}

func parseOne(desc string, i int) (Type, int, error) {
	if i >= len(desc) {
		return Type{}, i, fmt.Errorf("truncated descriptor %q", desc)
	}
	switch desc[i] {
	case 'V':
		return VoidType, i + 1, nil
	case 'Z':
		return BooleanType, i + 1, nil
	case 'C':
		return CharType, i + 1, nil
	case 'B':
		return ByteType, i + 1, nil
	case 'S':
		return ShortType, i + 1, nil
	case 'I':
		return IntType, i + 1, nil
	case 'F':
		return FloatType, i + 1, nil
	case 'J':
		return LongType, i + 1, nil
	case 'D':
		return DoubleType, i + 1, nil
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			return Type{}, i, fmt.Errorf("unterminated class descriptor %q", desc)
		}
		return Type{Object, desc[i : i+end+1]}, i + end + 1, nil
	case '[':
		j := i
		for j < len(desc) && desc[j] == '[' {
			j++
		}
		elem, n, err := parseOne(desc, j)
		if err != nil {
			return Type{}, i, err
		}
		if elem.Sort == Void {
			return Type{}, i, fmt.Errorf("array of void in %q", desc)
		}
		return Type{Array, desc[i:n]}, n, nil
	}
	return Type{}, i, fmt.Errorf("invalid descriptor character %q in %q", desc[i], desc)
}

// Size returns the number of local/stack slots the type occupies.
func (t Type) Size() int {
	switch t.Sort {
	case Void:
		return 0
	case Long, Double:
		return 2
	}
	return 1
}

// InternalName returns the class name for object types and the descriptor
// for arrays and primitives.
func (t Type) InternalName() string {
	if t.Sort == Object {
		return t.Desc[1 : len(t.Desc)-1]
	}
	return t.Desc
}

// Dimensions returns the array dimension count.
func (t Type) Dimensions() int {
	n := 0
	for n < len(t.Desc) && t.Desc[n] == '[' {
		n++
	}
	return n
}

// ElementType returns the component type of an array type, one level down.
func (t Type) ElementType() Type {
	if t.Sort != Array {
		return t
	}
	return MustParse(t.Desc[1:])
}

func (t Type) String() string {
	return t.Desc
}

// ArgumentTypes returns the parameter types of a method descriptor.
func ArgumentTypes(desc string) ([]Type, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, fmt.Errorf("not a method descriptor: %q", desc)
	}
	var args []Type
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, n, err := parseOne(desc, i)
		if err != nil {
			return nil, err
		}
		args = append(args, t)
		i = n
	}
	if i >= len(desc) {
		return nil, fmt.Errorf("unterminated method descriptor %q", desc)
	}
	return args, nil
}

// ReturnType returns the return type of a method descriptor.
func ReturnType(desc string) (Type, error) {
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return Type{}, fmt.Errorf("not a method descriptor: %q", desc)
	}
	return Parse(desc[end+1:])
}

// ArgumentsSize returns the local slots used by the parameters, including
// the receiver for instance methods.
func ArgumentsSize(desc string, static bool) (int, error) {
	args, err := ArgumentTypes(desc)
	if err != nil {
		return 0, err
	}
	n := 0
	if !static {
		n = 1
	}
	for _, a := range args {
		n += a.Size()
	}
	return n, nil
}

// MethodDescriptor assembles a method descriptor.
func MethodDescriptor(ret Type, args ...Type) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, a := range args {
		b.WriteString(a.Desc)
	}
	b.WriteByte(')')
	b.WriteString(ret.Desc)
	return b.String()
}
