package jdk

import (
	"math"
	"slices"
	"testing"

	"jdeobf/internal/insn"
	"jdeobf/internal/jstring"
	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

const (
	stringClass = value.StringClass
	sbClass     = "java/lang/StringBuilder"
)

func run(t *testing.T, m *insn.Method) (value.Value, error) {
	t.Helper()
	ctx := vm.NewContext(vm.WithProviders(Providers()...))
	return vm.Execute(ctx, m, nil, nil)
}

func fragment(desc string) *insn.Builder {
	return insn.NewBuilder("demo/Fragment", "run", desc)
}

// returnsString wraps a body that leaves one String on the stack.
func returnsString(body func(b *insn.Builder) *insn.Builder) *insn.Method {
	return body(fragment("()Ljava/lang/String;")).Op(insn.ARETURN).Build()
}

func returnsInt(body func(b *insn.Builder) *insn.Builder) *insn.Method {
	return body(fragment("()I")).Op(insn.IRETURN).Build()
}

func thrownMessage(t *testing.T, err error) (string, string) {
	t.Helper()
	thrown, ok := vm.Thrown(err)
	if !ok {
		t.Fatalf("not thrown: %v", err)
	}
	tr, ok := thrown.Native().(*vm.Throwable)
	if !ok {
		t.Fatalf("thrown native = %T", thrown.Native())
	}
	return thrown.TypeName(), tr.Message
}

func TestStringMethods(t *testing.T) {
	tests := []struct {
		name string
		m    *insn.Method
		want value.Value
	}{
		{"length", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("abc").Invoke(insn.INVOKEVIRTUAL, stringClass, "length", "()I")
		}), value.Int(3)},
		{"hashCode", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("hello").Invoke(insn.INVOKEVIRTUAL, stringClass, "hashCode", "()I")
		}), value.Int(99162322)},
		{"equals", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("ab").Ldc("ab").Invoke(insn.INVOKEVIRTUAL, stringClass, "equals", "(Ljava/lang/Object;)Z")
		}), value.Int(1)},
		{"indexOf", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("hello").Ldc("ll").Invoke(insn.INVOKEVIRTUAL, stringClass, "indexOf", "(Ljava/lang/String;)I")
		}), value.Int(2)},
		{"utf8 bytes", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("é").Ldc("UTF-8").
				Invoke(insn.INVOKEVIRTUAL, stringClass, "getBytes", "(Ljava/lang/String;)[B").
				Op(insn.ARRAYLENGTH)
		}), value.Int(2)},
		{"latin1 bytes", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("é").Ldc("ISO-8859-1").
				Invoke(insn.INVOKEVIRTUAL, stringClass, "getBytes", "(Ljava/lang/String;)[B").
				Op(insn.ICONST_0).Op(insn.BALOAD)
		}), value.Int(-23)},
		{"substring", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("hello").PushInt(1).PushInt(3).
				Invoke(insn.INVOKEVIRTUAL, stringClass, "substring", "(II)Ljava/lang/String;")
		}), value.NewString("el")},
		{"concat", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("a").Ldc("b").
				Invoke(insn.INVOKEVIRTUAL, stringClass, "concat", "(Ljava/lang/String;)Ljava/lang/String;")
		}), value.NewString("ab")},
		{"valueOf int", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.PushInt(-42).Invoke(insn.INVOKESTATIC, stringClass, "valueOf", "(I)Ljava/lang/String;")
		}), value.NewString("-42")},
		{"chars roundtrip", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Type(insn.NEW, stringClass).Op(insn.DUP).
				Ldc("héllo").Invoke(insn.INVOKEVIRTUAL, stringClass, "toCharArray", "()[C").
				Invoke(insn.INVOKESPECIAL, stringClass, "<init>", "([C)V")
		}), value.NewString("héllo")},
		{"latin1 decode", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Type(insn.NEW, stringClass).Op(insn.DUP).
				Op(insn.ICONST_1).Int(insn.NEWARRAY, insn.T_BYTE).
				Op(insn.DUP).Op(insn.ICONST_0).PushInt(-23).Op(insn.BASTORE).
				Ldc("ISO-8859-1").
				Invoke(insn.INVOKESPECIAL, stringClass, "<init>", "([BLjava/lang/String;)V")
		}), value.NewString("é")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.m)
			if err != nil {
				t.Fatal(err)
			}
			if s, ok := value.StringOf(tt.want); ok {
				if g, _ := value.StringOf(got); g != s {
					t.Errorf("result = %v, want %q", value.Format(got), s)
				}
				return
			}
			if got != tt.want {
				t.Errorf("result = %v, want %v", value.Format(got), value.Format(tt.want))
			}
		})
	}
}

func TestStringExceptions(t *testing.T) {
	tests := []struct {
		name  string
		m     *insn.Method
		class string
		msg   string
	}{
		{"charAt", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("abc").PushInt(5).Invoke(insn.INVOKEVIRTUAL, stringClass, "charAt", "(I)C")
		}), vm.StringIndexOutOfBounds, "Index 5 out of bounds for length 3"},
		{"substring", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("abc").PushInt(2).PushInt(1).
				Invoke(insn.INVOKEVIRTUAL, stringClass, "substring", "(II)Ljava/lang/String;")
		}), vm.StringIndexOutOfBounds, "begin 2, end 1, length 3"},
		{"parseInt", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("x1").Invoke(insn.INVOKESTATIC, "java/lang/Integer", "parseInt", "(Ljava/lang/String;)I")
		}), vm.NumberFormatException, `For input string: "x1"`},
		{"charset", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("a").Ldc("EBCDIC").
				Invoke(insn.INVOKEVIRTUAL, stringClass, "getBytes", "(Ljava/lang/String;)[B").
				Op(insn.ARRAYLENGTH)
		}), "java/io/UnsupportedEncodingException", "EBCDIC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.m)
			if vm.StateOf(err) != vm.Threw {
				t.Fatalf("state = %v (%v)", vm.StateOf(err), err)
			}
			class, msg := thrownMessage(t, err)
			if class != tt.class || msg != tt.msg {
				t.Errorf("thrown %s(%q), want %s(%q)", class, msg, tt.class, tt.msg)
			}
		})
	}
}

func TestStringBuilder(t *testing.T) {
	self := "L" + sbClass + ";"
	m := returnsString(func(b *insn.Builder) *insn.Builder {
		return b.Type(insn.NEW, sbClass).Op(insn.DUP).
			Invoke(insn.INVOKESPECIAL, sbClass, "<init>", "()V").
			Ldc("a").Invoke(insn.INVOKEVIRTUAL, sbClass, "append", "(Ljava/lang/String;)"+self).
			PushInt(5).Invoke(insn.INVOKEVIRTUAL, sbClass, "append", "(I)"+self).
			Ldc(1.5).Invoke(insn.INVOKEVIRTUAL, sbClass, "append", "(D)"+self).
			PushInt('x').Invoke(insn.INVOKEVIRTUAL, sbClass, "append", "(C)"+self).
			Op(insn.ACONST_NULL).Invoke(insn.INVOKEVIRTUAL, sbClass, "append", "(Ljava/lang/Object;)"+self).
			Invoke(insn.INVOKEVIRTUAL, sbClass, "reverse", "()"+self).
			Invoke(insn.INVOKEVIRTUAL, sbClass, "toString", "()Ljava/lang/String;")
	})
	got, err := run(t, m)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := value.StringOf(got); s != "llunx5.15a" {
		t.Errorf("result = %q", s)
	}
}

func TestReverseKeepsSurrogatePairs(t *testing.T) {
	units := jstring.UTF16("ab😀c")
	reverseUnits(units)
	if got := jstring.FromUTF16(units); got != "c😀ba" {
		t.Errorf("reverse = %q", got)
	}
}

func TestJavaFloat(t *testing.T) {
	tests := []struct {
		in   float64
		bits int
		want string
	}{
		{1, 64, "1.0"},
		{100.5, 64, "100.5"},
		{1e7, 64, "1.0E7"},
		{1.234e-5, 64, "1.234E-5"},
		{0.001, 64, "0.001"},
		{-2.5e10, 64, "-2.5E10"},
		{math.NaN(), 64, "NaN"},
		{math.Inf(-1), 64, "-Infinity"},
		{math.Copysign(0, -1), 64, "-0.0"},
		{float64(float32(0.1)), 32, "0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := javaFloat(tt.in, tt.bits); got != tt.want {
				t.Errorf("javaFloat(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		name string
		m    *insn.Method
		want value.Value
	}{
		{"parseInt radix", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Ldc("ff").PushInt(16).Invoke(insn.INVOKESTATIC, "java/lang/Integer", "parseInt", "(Ljava/lang/String;I)I")
		}), value.Int(255)},
		{"box unbox", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.PushInt(7).
				Invoke(insn.INVOKESTATIC, "java/lang/Integer", "valueOf", "(I)Ljava/lang/Integer;").
				Invoke(insn.INVOKEVIRTUAL, "java/lang/Integer", "intValue", "()I")
		}), value.Int(7)},
		{"abs min", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.PushInt(-9).Invoke(insn.INVOKESTATIC, "java/lang/Math", "abs", "(I)I").
				PushInt(4).Invoke(insn.INVOKESTATIC, "java/lang/Math", "min", "(II)I")
		}), value.Int(4)},
		{"max value", returnsInt(func(b *insn.Builder) *insn.Builder {
			return b.Field(insn.GETSTATIC, "java/lang/Integer", "MAX_VALUE", "I")
		}), value.Int(math.MaxInt32)},
		{"hex", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Op(insn.ICONST_M1).Invoke(insn.INVOKESTATIC, "java/lang/Integer", "toHexString", "(I)Ljava/lang/String;")
		}), value.NewString("ffffffff")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.m)
			if err != nil {
				t.Fatal(err)
			}
			if s, ok := value.StringOf(tt.want); ok {
				if g, _ := value.StringOf(got); g != s {
					t.Errorf("result = %v, want %q", value.Format(got), s)
				}
				return
			}
			if got != tt.want {
				t.Errorf("result = %v, want %v", value.Format(got), value.Format(tt.want))
			}
		})
	}
}

func TestCallerSensitive(t *testing.T) {
	tests := []struct {
		name string
		m    *insn.Method
		want string
	}{
		{"stack trace caller", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Invoke(insn.INVOKESTATIC, "java/lang/Thread", "currentThread", "()Ljava/lang/Thread;").
				Invoke(insn.INVOKEVIRTUAL, "java/lang/Thread", "getStackTrace", "()[Ljava/lang/StackTraceElement;").
				Op(insn.ICONST_1).Op(insn.AALOAD).
				Invoke(insn.INVOKEVIRTUAL, stackTraceElementClass, "getClassName", "()Ljava/lang/String;")
		}), "demo.Fragment"},
		{"stack trace self", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Invoke(insn.INVOKESTATIC, "java/lang/Thread", "currentThread", "()Ljava/lang/Thread;").
				Invoke(insn.INVOKEVIRTUAL, "java/lang/Thread", "getStackTrace", "()[Ljava/lang/StackTraceElement;").
				Op(insn.ICONST_0).Op(insn.AALOAD).
				Invoke(insn.INVOKEVIRTUAL, stackTraceElementClass, "getMethodName", "()Ljava/lang/String;")
		}), "getStackTrace"},
		{"lookup class", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Invoke(insn.INVOKESTATIC, "java/lang/invoke/MethodHandles", "lookup", "()Ljava/lang/invoke/MethodHandles$Lookup;").
				Invoke(insn.INVOKEVIRTUAL, "java/lang/invoke/MethodHandles$Lookup", "lookupClass", "()Ljava/lang/Class;").
				Invoke(insn.INVOKEVIRTUAL, "java/lang/Class", "getName", "()Ljava/lang/String;")
		}), "demo.Fragment"},
		{"exception trace", returnsString(func(b *insn.Builder) *insn.Builder {
			return b.Type(insn.NEW, "java/lang/Exception").Op(insn.DUP).
				Invoke(insn.INVOKESPECIAL, "java/lang/Exception", "<init>", "()V").
				Invoke(insn.INVOKEVIRTUAL, "java/lang/Exception", "getStackTrace", "()[Ljava/lang/StackTraceElement;").
				Op(insn.ICONST_0).Op(insn.AALOAD).
				Invoke(insn.INVOKEVIRTUAL, stackTraceElementClass, "getMethodName", "()Ljava/lang/String;")
		}), "run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.m)
			if err != nil {
				t.Fatal(err)
			}
			if s, _ := value.StringOf(got); s != tt.want {
				t.Errorf("result = %v, want %q", value.Format(got), tt.want)
			}
		})
	}
}

func TestThrowAndCatchMessage(t *testing.T) {
	b := fragment("()Ljava/lang/String;")
	start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
	m := b.Mark(start).
		Type(insn.NEW, "java/lang/IllegalStateException").Op(insn.DUP).
		Ldc("boom").
		Invoke(insn.INVOKESPECIAL, "java/lang/IllegalStateException", "<init>", "(Ljava/lang/String;)V").
		Op(insn.ATHROW).
		Mark(end).
		Mark(handler).
		Invoke(insn.INVOKEVIRTUAL, "java/lang/RuntimeException", "getMessage", "()Ljava/lang/String;").
		Op(insn.ARETURN).
		TryCatch(start, end, handler, "java/lang/RuntimeException").
		Build()
	got, err := run(t, m)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := value.StringOf(got); s != "boom" {
		t.Errorf("message = %v", value.Format(got))
	}
}

func TestArraycopy(t *testing.T) {
	m := returnsString(func(b *insn.Builder) *insn.Builder {
		return b.Ldc("hello").Invoke(insn.INVOKEVIRTUAL, stringClass, "toCharArray", "()[C").
			Var(insn.ASTORE, 0).
			Op(insn.ICONST_3).Int(insn.NEWARRAY, insn.T_CHAR).Var(insn.ASTORE, 1).
			Var(insn.ALOAD, 0).Op(insn.ICONST_1).Var(insn.ALOAD, 1).Op(insn.ICONST_0).Op(insn.ICONST_3).
			Invoke(insn.INVOKESTATIC, "java/lang/System", "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V").
			Var(insn.ALOAD, 1).
			Invoke(insn.INVOKESTATIC, stringClass, "valueOf", "([C)Ljava/lang/String;")
	})
	got, err := run(t, m)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := value.StringOf(got); s != "ell" {
		t.Errorf("result = %v", value.Format(got))
	}
}

func TestInstanceOf(t *testing.T) {
	str := value.NewString("x")
	tests := []struct {
		v    value.Value
		typ  string
		want bool
	}{
		{str, stringClass, true},
		{str, "java/lang/CharSequence", true},
		{str, "java/lang/Object", true},
		{str, "java/lang/Integer", false},
		{value.Null, "java/lang/Object", false},
		{box("java/lang/Integer", value.Int(1)), "java/lang/Number", true},
		{value.ArrayOf("[Ljava/lang/String;", str), "[Ljava/lang/Object;", true},
		{value.ArrayOf("[Ljava/lang/String;", str), "[Ljava/lang/CharSequence;", true},
		{value.ArrayOf("[Ljava/lang/Object;"), "[Ljava/lang/String;", false},
		{value.ArrayOf("[I"), "[J", false},
		{value.ArrayOf("[I"), "java/lang/Cloneable", true},
		{value.ArrayOf("[[I"), "[Ljava/lang/Object;", true},
		{vm.NewThrowable(vm.NewContext(), vm.NumberFormatException, ""), "java/lang/RuntimeException", true},
	}
	for _, tt := range tests {
		t.Run(tt.v.TypeName()+"/"+tt.typ, func(t *testing.T) {
			if got := InstanceOf(nil, tt.v, tt.typ); got != tt.want {
				t.Errorf("InstanceOf = %v, want %v", got, tt.want)
			}
		})
	}
}

// hierarchy is a fixed class hierarchy.
type hierarchy map[string][]string

func (h hierarchy) Ancestors(class string) []string   { return h[class] }
func (h hierarchy) Descendants(class string) []string { return nil }

func TestInheritedMethodLookup(t *testing.T) {
	ctx := vm.NewContext(
		vm.WithProviders(Providers()...),
		vm.WithHierarchy(hierarchy{"demo/Failure": {"java/lang/RuntimeException"}}),
	)
	target := value.NewObject("demo/Failure", &vm.Throwable{Message: "custom"})
	c := &vm.Call{Op: insn.INVOKEVIRTUAL, Owner: "demo/Failure", Name: "getMessage", Desc: "()Ljava/lang/String;", Target: target}
	if !ctx.Provider.CanInvokeMethod(c, ctx) {
		t.Fatal("inherited getMessage not found")
	}
	got, err := ctx.Provider.InvokeMethod(c, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := value.StringOf(got); s != "custom" {
		t.Errorf("message = %v", value.Format(got))
	}

	static := &vm.Call{Op: insn.INVOKESTATIC, Owner: "demo/Failure", Name: "getMessage", Desc: "()Ljava/lang/String;"}
	if ctx.Provider.CanInvokeMethod(static, ctx) {
		t.Error("static call resolved through ancestors")
	}
}

func TestRegistryKeys(t *testing.T) {
	p := Standard()
	keys := p.Keys()
	if len(keys) != p.Len() || !slices.IsSorted(keys) {
		t.Fatalf("keys not sorted or incomplete")
	}
	for _, k := range []string{
		"java/lang/String.length()I",
		"java/lang/StringBuffer.append(Ljava/lang/String;)Ljava/lang/StringBuffer;",
		"java/lang/Character.charValue()C",
		"java/lang/invoke/MethodHandles.lookup()Ljava/lang/invoke/MethodHandles$Lookup;",
	} {
		if _, ok := slices.BinarySearch(keys, k); !ok {
			t.Errorf("missing %s", k)
		}
	}
}

func TestStaticConstantsReadOnly(t *testing.T) {
	fields := StandardFields()
	call := &vm.Call{Op: insn.PUTSTATIC, Owner: "java/lang/Integer", Name: "MAX_VALUE", Desc: "I"}
	if fields.CanPutField(call, value.Int(0), nil) {
		t.Error("constant accepted a store")
	}
	if err := fields.PutField(call, value.Int(0), nil); err != vm.ErrUnsupported {
		t.Errorf("PutField err = %v", err)
	}

	m := fragment("()I").
		PushInt(0).
		Field(insn.PUTSTATIC, "java/lang/Integer", "MAX_VALUE", "I").
		Field(insn.GETSTATIC, "java/lang/Integer", "MAX_VALUE", "I").
		Op(insn.IRETURN).
		Build()
	if _, err := run(t, m); vm.StateOf(err) != vm.Threw {
		t.Errorf("store to constant: state = %v (%v)", vm.StateOf(err), err)
	}
}
