package descriptor

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		desc string
		sort Sort
		size int
	}{
		{"I", Int, 1},
		{"J", Long, 2},
		{"D", Double, 2},
		{"Z", Boolean, 1},
		{"Ljava/lang/String;", Object, 1},
		{"[I", Array, 1},
		{"[[Ljava/lang/Object;", Array, 1},
		{"V", Void, 0},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := Parse(tt.desc)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.desc, err)
			}
			if got.Sort != tt.sort {
				t.Errorf("sort = %v, want %v", got.Sort, tt.sort)
			}
			if got.Size() != tt.size {
				t.Errorf("size = %d, want %d", got.Size(), tt.size)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, desc := range []string{"", "X", "Ljava/lang/String", "[V", "II"} {
		if _, err := Parse(desc); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", desc)
		}
	}
}

func TestMethodTypes(t *testing.T) {
	desc := "(IJLjava/lang/String;[B)Ljava/lang/Object;"

	args, err := ArgumentTypes(desc)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"I", "J", "Ljava/lang/String;", "[B"}
	if len(args) != len(want) {
		t.Fatalf("got %d args, want %d", len(args), len(want))
	}
	for i, a := range args {
		if a.Desc != want[i] {
			t.Errorf("arg %d = %s, want %s", i, a.Desc, want[i])
		}
	}

	ret, err := ReturnType(desc)
	if err != nil {
		t.Fatal(err)
	}
	if ret.InternalName() != "java/lang/Object" {
		t.Errorf("return = %s", ret.InternalName())
	}

	size, _ := ArgumentsSize(desc, false)
	if size != 6 {
		t.Errorf("ArgumentsSize = %d, want 6", size)
	}
	if got := MethodDescriptor(IntType, StringType, LongType); got != "(Ljava/lang/String;J)I" {
		t.Errorf("MethodDescriptor = %s", got)
	}
}

func TestElementType(t *testing.T) {
	arr := MustParse("[[I")
	if arr.Dimensions() != 2 {
		t.Errorf("Dimensions = %d", arr.Dimensions())
	}
	if e := arr.ElementType(); e.Desc != "[I" {
		t.Errorf("ElementType = %s", e.Desc)
	}
	if ObjectOf("java/lang/String") != StringType {
		t.Errorf("ObjectOf mismatch")
	}
}
