package value

import (
	"errors"
	"slices"
	"testing"

	"jdeobf/internal/descriptor"
)

func TestForPrimitiveAsWrapper(t *testing.T) {
	tests := []struct {
		sort    descriptor.Sort
		wrapper string
	}{
		{descriptor.Boolean, "java/lang/Boolean"},
		{descriptor.Byte, "java/lang/Byte"},
		{descriptor.Char, "java/lang/Character"},
		{descriptor.Short, "java/lang/Short"},
		{descriptor.Int, "java/lang/Integer"},
		{descriptor.Long, "java/lang/Long"},
		{descriptor.Float, "java/lang/Float"},
		{descriptor.Double, "java/lang/Double"},
	}

	for _, tt := range tests {
		t.Run(tt.sort.String(), func(t *testing.T) {
			zero, ok := ForPrimitive(tt.sort)
			if !ok {
				t.Fatalf("ForPrimitive(%v) not ok", tt.sort)
			}
			got, err := As(zero, descriptor.ObjectOf(tt.wrapper))
			if err != nil {
				t.Fatalf("As(%s): %v", tt.wrapper, err)
			}
			if got != zero {
				t.Errorf("As(%s) = %#v, want %#v", tt.wrapper, got, zero)
			}
			prim, _ := descriptor.ForSort(tt.sort)
			if got, err := As(zero, prim); err != nil || got != zero {
				t.Errorf("As(%s) = %#v, %v", prim, got, err)
			}
		})
	}

	if _, ok := ForPrimitive(descriptor.Object); ok {
		t.Error("ForPrimitive(object) should not be ok")
	}
}

func TestCoercions(t *testing.T) {
	tests := []struct {
		name    string
		in      Value
		target  descriptor.Type
		want    Value
		wantErr bool
	}{
		{"int to boolean", Int(1), descriptor.BooleanType, Boolean(true), false},
		{"zero int to boolean", Int(0), descriptor.BooleanType, Boolean(false), false},
		{"byte to char", Byte(-1), descriptor.CharType, Char(0xFFFF), false},
		{"int to byte", Int(0x1ff), descriptor.ByteType, Byte(-1), false},
		{"char to int", Char('A'), descriptor.IntType, Int(65), false},
		{"int widens to long", Int(-2), descriptor.LongType, Long(-2), false},
		{"float widens to double", Float(1.5), descriptor.DoubleType, Double(1.5), false},
		{"long does not narrow to int", Long(1), descriptor.IntType, nil, true},
		{"double does not narrow to float", Double(1), descriptor.FloatType, nil, true},
		{"reference to int", NewString("x"), descriptor.IntType, nil, true},
		{"int to reference", Int(1), descriptor.StringType, nil, true},
		{"unbox integer", NewObject("java/lang/Integer", int32(7)), descriptor.IntType, Int(7), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := As(tt.in, tt.target)
			if tt.wantErr {
				var ue *UnsupportedError
				if !errors.As(err, &ue) {
					t.Fatalf("As error = %v, want *UnsupportedError", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("As = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestAccessors(t *testing.T) {
	if b, err := AsBool(Int(1)); err != nil || !b {
		t.Errorf("AsBool(Int(1)) = %v, %v", b, err)
	}
	if c, err := AsChar(Byte(-2)); err != nil || c != 0xFFFE {
		t.Errorf("AsChar(Byte(-2)) = %#x, %v", c, err)
	}
	if _, err := AsLong(Int(1)); err == nil {
		t.Error("AsLong(Int) should fail")
	}
	_, err := AsInt(Null)
	var ue *UnsupportedError
	if !errors.As(err, &ue) || ue.Op != "AsInt" || ue.Type != "null" {
		t.Errorf("AsInt(Null) error = %v", err)
	}
}

func TestCopySemantics(t *testing.T) {
	a, err := NewArray("[I", 3)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewArray("[I", 3)
	if err != nil {
		t.Fatal(err)
	}
	if a.Copy() != Value(a) {
		t.Error("array Copy should return the same instance")
	}
	if a.Copy() == b.Copy() {
		t.Error("independent arrays must not share an instance")
	}

	o := NewString("s")
	if o.Copy() != Value(o) {
		t.Error("object Copy should return the same instance")
	}
	if v := Int(4); v.Copy() != Value(v) {
		t.Error("value copy should be equal")
	}
}

func TestArraySlotTypes(t *testing.T) {
	a, err := NewArray("[Ljava/lang/Object;", 2)
	if err != nil {
		t.Fatal(err)
	}
	if a.SlotType(0) != "java/lang/Object" || !IsNull(a.Get(0)) {
		t.Errorf("slot 0 = %v (%s)", a.Get(0), a.SlotType(0))
	}
	a.Set(1, NewString("x"))
	if a.SlotType(1) != StringClass {
		t.Errorf("slot 1 type = %s", a.SlotType(1))
	}
	a.Set(1, Null)
	if a.SlotType(1) != "java/lang/Object" {
		t.Errorf("slot 1 type after null = %s", a.SlotType(1))
	}

	chars := ArrayOf("[C", Char('h'), Char('i'))
	if got := chars.Native().([]uint16); !slices.Equal(got, []uint16{'h', 'i'}) {
		t.Errorf("Native = %v", got)
	}

	if _, err := NewArray("[I", -1); err == nil {
		t.Error("negative size should fail")
	}
	if _, err := NewArray("I", 1); err == nil {
		t.Error("non-array descriptor should fail")
	}
}

type named struct{}

func (named) JavaTypeName() string { return "demo/Named" }

func TestValueOf(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		kind     Kind
		typeName string
	}{
		{"nil", nil, KindNull, "null"},
		{"bool", true, KindBoolean, "boolean"},
		{"int32", int32(1), KindInt, "int"},
		{"int64", int64(1), KindLong, "long"},
		{"int", 7, KindInt, "int"},
		{"wide int", 1 << 40, KindLong, "long"},
		{"int slice", []int{1, 2}, KindArray, "[I"},
		{"wide int slice", []int{1, 1 << 40}, KindArray, "[J"},
		{"rune unit", uint16('a'), KindChar, "char"},
		{"string", "abc", KindObject, StringClass},
		{"thread", ThreadHandle{Name: "main"}, KindObject, "java/lang/Thread"},
		{"method handle", MethodHandle{Owner: "a/B"}, KindObject, "java/lang/invoke/MethodHandle"},
		{"reflect method", ReflectMethod{}, KindObject, "java/lang/reflect/Method"},
		{"reflect field", ReflectField{}, KindObject, "java/lang/reflect/Field"},
		{"reflect constructor", ReflectConstructor{}, KindObject, "java/lang/reflect/Constructor"},
		{"constant pool", ConstantPoolHandle{}, KindObject, "jdk/internal/reflect/ConstantPool"},
		{"class", ClassHandle{Name: "a/B"}, KindObject, "java/lang/Class"},
		{"type namer", named{}, KindObject, "demo/Named"},
		{"byte slice", []byte{1, 2}, KindArray, "[B"},
		{"string slice", []string{"a"}, KindArray, "[Ljava/lang/String;"},
		{"nested", [][]int32{{1}}, KindArray, "[[I"},
		{"host fallback", struct{ X int }{}, KindObject, "struct { X int }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValueOf(tt.in)
			if v.Kind() != tt.kind || v.TypeName() != tt.typeName {
				t.Errorf("ValueOf(%v) = %v %q, want %v %q", tt.in, v.Kind(), v.TypeName(), tt.kind, tt.typeName)
			}
		})
	}

	const big = 1 << 40
	if v := ValueOf(-big); v != Long(-big) {
		t.Errorf("ValueOf(-big) = %v", Format(v))
	}
	wide := ValueOf([]int{1, big}).(*Array)
	if wide.Get(0) != Long(1) || wide.Get(1) != Long(big) {
		t.Errorf("wide elements = %v, %v", Format(wide.Get(0)), Format(wide.Get(1)))
	}

	mixed := ValueOf([]any{"s", int32(1)}).(*Array)
	if mixed.SlotType(0) != StringClass || mixed.SlotType(1) != "int" {
		t.Errorf("slot types = %s, %s", mixed.SlotType(0), mixed.SlotType(1))
	}
}

func TestInitializeOnce(t *testing.T) {
	patches := Patches{
		"demo/Key": func(native any) any { return "patched" },
	}
	u := NewUninitialized("demo/Key")
	obj, err := u.Initialize("raw", patches)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Native() != "patched" || obj.TypeName() != "demo/Key" {
		t.Errorf("object = %v %s", obj.Native(), obj.TypeName())
	}
	if _, err := u.Initialize("again", patches); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize error = %v", err)
	}

	plain, err := NewUninitialized("demo/Other").Initialize("raw", patches)
	if err != nil || plain.Native() != "raw" {
		t.Errorf("unpatched object = %v, %v", plain.Native(), err)
	}
}
