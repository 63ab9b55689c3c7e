package value

import (
	"math"
	"reflect"

	"jdeobf/internal/descriptor"
)

// intCategory returns the int-slot value of boolean, byte, char, short and
// int variants.
func intCategory(v Value) (int32, bool) {
	switch v := v.(type) {
	case Boolean:
		if v {
			return 1, true
		}
		return 0, true
	case Byte:
		return int32(v), true
	case Char:
		return int32(v), true
	case Short:
		return int32(v), true
	case Int:
		return int32(v), true
	}
	return 0, false
}

// AsInt reads an int-category value.
func AsInt(v Value) (int32, error) {
	if i, ok := intCategory(v); ok {
		return i, nil
	}
	return 0, unsupported("AsInt", v)
}

// AsBool reads a boolean, or an int slot holding 0 or non-zero.
func AsBool(v Value) (bool, error) {
	i, err := AsInt(v)
	if err != nil {
		return false, unsupported("AsBool", v)
	}
	return i != 0, nil
}

// AsByte reads an int-category value truncated to a byte.
func AsByte(v Value) (int8, error) {
	i, err := AsInt(v)
	if err != nil {
		return 0, unsupported("AsByte", v)
	}
	return int8(i), nil
}

// AsChar reads an int-category value as a UTF-16 code unit. A negative byte
// is reinterpreted the way i2c does.
func AsChar(v Value) (uint16, error) {
	i, err := AsInt(v)
	if err != nil {
		return 0, unsupported("AsChar", v)
	}
	return uint16(i), nil
}

// AsShort reads an int-category value truncated to a short.
func AsShort(v Value) (int16, error) {
	i, err := AsInt(v)
	if err != nil {
		return 0, unsupported("AsShort", v)
	}
	return int16(i), nil
}

// AsLong reads a long.
func AsLong(v Value) (int64, error) {
	if l, ok := v.(Long); ok {
		return int64(l), nil
	}
	return 0, unsupported("AsLong", v)
}

// AsFloat reads a float.
func AsFloat(v Value) (float32, error) {
	if f, ok := v.(Float); ok {
		return float32(f), nil
	}
	return 0, unsupported("AsFloat", v)
}

// AsDouble reads a double.
func AsDouble(v Value) (float64, error) {
	if d, ok := v.(Double); ok {
		return float64(d), nil
	}
	return 0, unsupported("AsDouble", v)
}

var wrappers = map[string]descriptor.Sort{
	"java/lang/Boolean":   descriptor.Boolean,
	"java/lang/Byte":      descriptor.Byte,
	"java/lang/Character": descriptor.Char,
	"java/lang/Short":     descriptor.Short,
	"java/lang/Integer":   descriptor.Int,
	"java/lang/Long":      descriptor.Long,
	"java/lang/Float":     descriptor.Float,
	"java/lang/Double":    descriptor.Double,
}

// WrapperSort returns the primitive sort boxed by a wrapper class.
func WrapperSort(className string) (descriptor.Sort, bool) {
	s, ok := wrappers[className]
	return s, ok
}

// As coerces v to t. Primitive targets accept the matching variant, the
// int-category conversions the bytecode performs implicitly, widening, and
// unboxing of wrapper objects. A wrapper class target behaves like its
// primitive. Reference targets return references unchanged.
func As(v Value, t descriptor.Type) (Value, error) {
	if t.Sort == descriptor.Object {
		if s, ok := wrappers[t.InternalName()]; ok && !v.Kind().IsReference() {
			t, _ = descriptor.ForSort(s)
		}
	}
	if !t.Sort.IsPrimitive() {
		if v.Kind().IsReference() {
			return v, nil
		}
		return nil, unsupported("As("+t.Desc+")", v)
	}

	if o, ok := v.(*Object); ok {
		if _, boxed := wrappers[o.typeName]; boxed {
			if p := ValueOf(o.native); !p.Kind().IsReference() {
				v = p
			}
		}
	}

	i, isInt := intCategory(v)
	switch t.Sort {
	case descriptor.Boolean:
		if isInt {
			return Boolean(i != 0), nil
		}
	case descriptor.Byte:
		if isInt {
			return Byte(i), nil
		}
	case descriptor.Char:
		if isInt {
			return Char(i), nil
		}
	case descriptor.Short:
		if isInt {
			return Short(i), nil
		}
	case descriptor.Int:
		if isInt {
			return Int(i), nil
		}
	case descriptor.Long:
		switch x := v.(type) {
		case Long:
			return x, nil
		default:
			if isInt {
				return Long(i), nil
			}
		}
	case descriptor.Float:
		switch x := v.(type) {
		case Float:
			return x, nil
		case Long:
			return Float(x), nil
		default:
			if isInt {
				return Float(i), nil
			}
		}
	case descriptor.Double:
		switch x := v.(type) {
		case Double:
			return x, nil
		case Float:
			return Double(x), nil
		case Long:
			return Double(x), nil
		default:
			if isInt {
				return Double(i), nil
			}
		}
	}
	return nil, unsupported("As("+t.Desc+")", v)
}

// Handle types stand for runtime objects the simulated environment hands
// out without modeling their internals.
type (
	ThreadHandle struct{ Name string }
	MethodHandle struct {
		Kind              int
		Owner, Name, Desc string
	}
	LookupHandle       struct{ Caller string }
	ReflectMethod      struct{ Owner, Name, Desc string }
	ReflectField       struct{ Owner, Name, Desc string }
	ReflectConstructor struct{ Owner, Desc string }
	ConstantPoolHandle struct{ Owner string }
	ClassHandle        struct{ Name string }
)

// TypeNamer is implemented by host values that know their JVM class.
type TypeNamer interface {
	JavaTypeName() string
}

// ValueOf classifies a host value. Every input maps to exactly one variant:
// Go primitives to the matching value kind, slices and arrays to *Array,
// strings and handle types to objects of the matching class, and anything
// else to an object named after its host type.
func ValueOf(native any) Value {
	switch n := native.(type) {
	case nil:
		return Null
	case Value:
		return n
	case bool:
		return Boolean(n)
	case int8:
		return Byte(n)
	case uint8:
		return Byte(int8(n))
	case uint16:
		return Char(n)
	case int16:
		return Short(n)
	case int32:
		return Int(n)
	case int:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Long(n)
		}
		return Int(int32(n))
	case int64:
		return Long(n)
	case float32:
		return Float(n)
	case float64:
		return Double(n)
	case string:
		return NewString(n)
	case ThreadHandle:
		return NewObject("java/lang/Thread", n)
	case MethodHandle:
		return NewObject("java/lang/invoke/MethodHandle", n)
	case LookupHandle:
		return NewObject("java/lang/invoke/MethodHandles$Lookup", n)
	case ReflectMethod:
		return NewObject("java/lang/reflect/Method", n)
	case ReflectField:
		return NewObject("java/lang/reflect/Field", n)
	case ReflectConstructor:
		return NewObject("java/lang/reflect/Constructor", n)
	case ConstantPoolHandle:
		return NewObject("jdk/internal/reflect/ConstantPool", n)
	case ClassHandle:
		return NewObject("java/lang/Class", n)
	case TypeNamer:
		return NewObject(n.JavaTypeName(), n)
	}

	rv := reflect.ValueOf(native)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return arrayOf(rv)
	}
	return NewObject(rv.Type().String(), native)
}

func arrayOf(rv reflect.Value) *Array {
	elems := make([]Value, rv.Len())
	wide := false
	for i := range elems {
		elems[i] = ValueOf(rv.Index(i).Interface())
		if _, ok := elems[i].(Long); ok {
			wide = true
		}
	}
	desc := "[" + elementDescriptor(rv.Type().Elem())
	// Go ints that do not all fit in 32 bits make a long[].
	if wide && rv.Type().Elem().Kind() == reflect.Int {
		desc = "[J"
		for i, v := range elems {
			if n, ok := v.(Int); ok {
				elems[i] = Long(n)
			}
		}
	}
	return ArrayOf(desc, elems...)
}

func elementDescriptor(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Bool:
		return "Z"
	case reflect.Int8, reflect.Uint8:
		return "B"
	case reflect.Uint16:
		return "C"
	case reflect.Int16:
		return "S"
	case reflect.Int32, reflect.Int:
		return "I"
	case reflect.Int64:
		return "J"
	case reflect.Float32:
		return "F"
	case reflect.Float64:
		return "D"
	case reflect.String:
		return "Ljava/lang/String;"
	case reflect.Slice, reflect.Array:
		return "[" + elementDescriptor(t.Elem())
	}
	return "Ljava/lang/Object;"
}
