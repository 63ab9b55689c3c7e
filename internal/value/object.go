package value

import (
	"errors"
	"fmt"

	"jdeobf/internal/descriptor"
)

// StringClass is the internal name of java.lang.String.
const StringClass = "java/lang/String"

// ErrAlreadyInitialized is returned when a constructor runs twice on the
// same allocation.
var ErrAlreadyInitialized = errors.New("object already initialized")

// PatchFunc rewrites the native value of a freshly constructed object.
type PatchFunc func(native any) any

// Patches maps an internal class name to the patch applied when an instance
// of that class is constructed. It is built before execution starts and is
// read-only afterwards.
type Patches map[string]PatchFunc

// Apply runs the patch registered for typeName, if any.
func (p Patches) Apply(typeName string, native any) any {
	if f, ok := p[typeName]; ok && f != nil {
		return f(native)
	}
	return native
}

// Object is an initialized object reference.
type Object struct {
	typeName string
	native   any
	fields   map[string]Value
}

// NewObject returns a constructed object of the given class.
func NewObject(typeName string, native any) *Object {
	return &Object{typeName: typeName, native: native}
}

// NewString returns a java.lang.String holding s.
func NewString(s string) *Object {
	return NewObject(StringClass, s)
}

// StringOf returns the Go string held by a java.lang.String value.
func StringOf(v Value) (string, bool) {
	o, ok := v.(*Object)
	if !ok || o.typeName != StringClass {
		return "", false
	}
	s, ok := o.native.(string)
	return s, ok
}

func (o *Object) Kind() Kind       { return KindObject }
func (o *Object) TypeName() string { return o.typeName }
func (o *Object) Copy() Value      { return o }
func (o *Object) Native() any      { return o.native }

// SetNative replaces the host value, for mutable builtins such as
// StringBuilder.
func (o *Object) SetNative(native any) {
	o.native = native
}

// Field returns an instance field value.
func (o *Object) Field(name string) (Value, bool) {
	v, ok := o.fields[name]
	return v, ok
}

// SetField stores an instance field value.
func (o *Object) SetField(name string, v Value) {
	if o.fields == nil {
		o.fields = make(map[string]Value)
	}
	o.fields[name] = v
}

// Uninitialized is the result of `new` before a constructor has run.
type Uninitialized struct {
	typeName string
	obj      *Object
}

// NewUninitialized allocates an object of the given class.
func NewUninitialized(typeName string) *Uninitialized {
	return &Uninitialized{typeName: typeName}
}

func (u *Uninitialized) Kind() Kind       { return KindUninitialized }
func (u *Uninitialized) TypeName() string { return u.typeName }
func (u *Uninitialized) Copy() Value      { return u }
func (u *Uninitialized) Native() any      { return nil }

// Object returns the constructed object, or nil before Initialize.
func (u *Uninitialized) Object() *Object {
	return u.obj
}

// Initialize completes construction with the given host value, applying any
// registered patch. It succeeds at most once per allocation.
func (u *Uninitialized) Initialize(native any, patches Patches) (*Object, error) {
	if u.obj != nil {
		return nil, fmt.Errorf("%s: %w", u.typeName, ErrAlreadyInitialized)
	}
	u.obj = NewObject(u.typeName, patches.Apply(u.typeName, native))
	return u.obj, nil
}

// Array is an array reference. Each slot records the runtime type of the
// element stored in it, which may be more specific than the element type.
type Array struct {
	typeName string
	elems    []Value
	types    []string
}

// NewArray allocates an array of the given descriptor filled with the
// element type's default value.
func NewArray(desc string, n int) (*Array, error) {
	t, err := descriptor.Parse(desc)
	if err != nil {
		return nil, err
	}
	if t.Sort != descriptor.Array {
		return nil, fmt.Errorf("not an array descriptor: %q", desc)
	}
	if n < 0 {
		return nil, fmt.Errorf("negative array size %d", n)
	}
	et := t.ElementType()
	a := &Array{typeName: desc, elems: make([]Value, n), types: make([]string, n)}
	zero := Zero(et)
	for i := range a.elems {
		a.elems[i] = zero
		a.types[i] = slotType(et, zero)
	}
	return a, nil
}

// ArrayOf builds an array holding elems.
func ArrayOf(desc string, elems ...Value) *Array {
	a := &Array{typeName: desc, elems: make([]Value, len(elems)), types: make([]string, len(elems))}
	for i, v := range elems {
		a.Set(i, v)
	}
	return a
}

func slotType(et descriptor.Type, v Value) string {
	if IsNull(v) {
		return et.InternalName()
	}
	return v.TypeName()
}

func (a *Array) Kind() Kind       { return KindArray }
func (a *Array) TypeName() string { return a.typeName }
func (a *Array) Copy() Value      { return a }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.elems) }

// ElementType returns the declared component type.
func (a *Array) ElementType() descriptor.Type {
	t, err := descriptor.Parse(a.typeName)
	if err != nil || t.Sort != descriptor.Array {
		return descriptor.ObjectType
	}
	return t.ElementType()
}

// Get returns element i. The index must be in range.
func (a *Array) Get(i int) Value { return a.elems[i] }

// SlotType returns the runtime type name recorded for element i: the stored
// value's type, or the declared element type for null. Type checks use the
// element value itself; this is for reports.
func (a *Array) SlotType(i int) string { return a.types[i] }

// Set stores v at i and records its runtime type.
func (a *Array) Set(i int, v Value) {
	if v == nil {
		v = Null
	}
	a.elems[i] = v
	a.types[i] = slotType(a.ElementType(), v)
}

// Elements returns the backing slice. Callers must not change its length.
func (a *Array) Elements() []Value { return a.elems }

// Native converts the array to a Go slice: primitive arrays become typed
// slices, reference arrays []any of element natives.
func (a *Array) Native() any {
	switch a.ElementType().Sort {
	case descriptor.Boolean:
		return nativeSlice[bool](a)
	case descriptor.Byte:
		return nativeSlice[int8](a)
	case descriptor.Char:
		return nativeSlice[uint16](a)
	case descriptor.Short:
		return nativeSlice[int16](a)
	case descriptor.Int:
		return nativeSlice[int32](a)
	case descriptor.Long:
		return nativeSlice[int64](a)
	case descriptor.Float:
		return nativeSlice[float32](a)
	case descriptor.Double:
		return nativeSlice[float64](a)
	}
	return nativeSlice[any](a)
}

func nativeSlice[T any](a *Array) []T {
	out := make([]T, len(a.elems))
	for i, v := range a.elems {
		if n, ok := v.Native().(T); ok {
			out[i] = n
		}
	}
	return out
}
