package vm

import (
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"jdeobf/internal/insn"
	"jdeobf/internal/jstring"
	"jdeobf/internal/value"
)

// stringLength handles String.length() and nothing else.
type stringLength struct {
	MethodProvider
}

func (stringLength) CanInvokeMethod(c *Call, ctx *Context) bool {
	return c.Owner == value.StringClass && c.Name == "length" && c.Desc == "()I"
}

func (stringLength) InvokeMethod(c *Call, ctx *Context) (value.Value, error) {
	s, _ := value.StringOf(c.Target)
	return value.Int(jstring.Length(s)), nil
}

func lengthOfABC() *insn.Method {
	return insn.NewBuilder("demo/Fragment", "run", "()I").
		Ldc("abc").
		Invoke(insn.INVOKEVIRTUAL, value.StringClass, "length", "()I").
		Op(insn.IRETURN).
		Build()
}

func TestExecuteStringLength(t *testing.T) {
	ctx := NewContext(WithProviders(stringLength{}))
	got, err := Execute(ctx, lengthOfABC(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if StateOf(err) != Returned {
		t.Errorf("state = %v", StateOf(err))
	}
	if got != value.Int(3) {
		t.Errorf("result = %v, want 3", got)
	}
	if ctx.CallStack.Len() != 0 {
		t.Errorf("call stack depth after return = %d", ctx.CallStack.Len())
	}
}

func TestExecuteFailureIsolation(t *testing.T) {
	m := insn.NewBuilder("demo/Fragment", "run", "()Ljava/lang/String;").
		Ldc("x").
		Invoke(insn.INVOKESTATIC, "demo/Missing", "decrypt", "(Ljava/lang/String;)Ljava/lang/String;").
		Op(insn.ARETURN).
		Build()

	ctx := NewContext()
	got, err := Execute(ctx, m, nil, nil)
	if got != nil {
		t.Errorf("result = %v, want nil", got)
	}
	if StateOf(err) != Threw {
		t.Fatalf("state = %v (%v), want threw", StateOf(err), err)
	}
	var npe *NoProviderError
	if !errors.As(err, &npe) || npe.Owner != "demo/Missing" {
		t.Errorf("error = %v, want NoProviderError", err)
	}
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Class != "demo/Fragment" || ee.Method != "run" {
		t.Errorf("execution error context = %+v", ee)
	}
	if ctx.CallStack.Len() != 0 {
		t.Errorf("call stack not unwound: %d", ctx.CallStack.Len())
	}

	fresh := NewContext(WithProviders(stringLength{}))
	got, err = Execute(fresh, lengthOfABC(), nil, nil)
	if err != nil || got != value.Int(3) {
		t.Errorf("fresh execution = %v, %v", got, err)
	}
}

func TestExecuteArithmetic(t *testing.T) {
	tests := []struct {
		name  string
		desc  string
		build func(b *insn.Builder)
		want  value.Value
	}{
		{"int overflow wraps", "()I", func(b *insn.Builder) {
			b.Ldc(int32(math.MaxInt32)).Op(insn.ICONST_1).Op(insn.IADD).Op(insn.IRETURN)
		}, value.Int(math.MinInt32)},
		{"min int divided by -1", "()I", func(b *insn.Builder) {
			b.Ldc(int32(math.MinInt32)).Op(insn.ICONST_M1).Op(insn.IDIV).Op(insn.IRETURN)
		}, value.Int(math.MinInt32)},
		{"shift distance masked", "()I", func(b *insn.Builder) {
			b.Op(insn.ICONST_1).PushInt(33).Op(insn.ISHL).Op(insn.IRETURN)
		}, value.Int(2)},
		{"unsigned shift", "()I", func(b *insn.Builder) {
			b.Op(insn.ICONST_M1).PushInt(28).Op(insn.IUSHR).Op(insn.IRETURN)
		}, value.Int(15)},
		{"xor", "()I", func(b *insn.Builder) {
			b.PushInt(0x5a).PushInt(0x0f).Op(insn.IXOR).Op(insn.IRETURN)
		}, value.Int(0x55)},
		{"long remainder", "()J", func(b *insn.Builder) {
			b.Ldc(int64(-7)).Ldc(int64(3)).Op(insn.LREM).Op(insn.LRETURN)
		}, value.Long(-1)},
		{"long shift", "()J", func(b *insn.Builder) {
			b.Op(insn.LCONST_1).PushInt(65).Op(insn.LSHL).Op(insn.LRETURN)
		}, value.Long(2)},
		{"nan to int", "()I", func(b *insn.Builder) {
			b.Op(insn.FCONST_0).Op(insn.FCONST_0).Op(insn.FDIV).Op(insn.F2I).Op(insn.IRETURN)
		}, value.Int(0)},
		{"double saturates", "()I", func(b *insn.Builder) {
			b.Ldc(1e20).Op(insn.D2I).Op(insn.IRETURN)
		}, value.Int(math.MaxInt32)},
		{"int to byte", "()I", func(b *insn.Builder) {
			b.PushInt(200).Op(insn.I2B).Op(insn.IRETURN)
		}, value.Int(-56)},
		{"int to char", "()I", func(b *insn.Builder) {
			b.Op(insn.ICONST_M1).Op(insn.I2C).Op(insn.IRETURN)
		}, value.Int(0xFFFF)},
		{"char return type", "()C", func(b *insn.Builder) {
			b.PushInt('A').Op(insn.IRETURN)
		}, value.Char('A')},
		{"fcmpg nan", "()I", func(b *insn.Builder) {
			b.Op(insn.FCONST_0).Op(insn.FCONST_0).Op(insn.FDIV).Op(insn.FCONST_1).Op(insn.FCMPG).Op(insn.IRETURN)
		}, value.Int(1)},
		{"dcmpl nan", "()I", func(b *insn.Builder) {
			b.Op(insn.DCONST_0).Op(insn.DCONST_0).Op(insn.DDIV).Op(insn.DCONST_1).Op(insn.DCMPL).Op(insn.IRETURN)
		}, value.Int(-1)},
		{"lcmp", "()I", func(b *insn.Builder) {
			b.Op(insn.LCONST_0).Op(insn.LCONST_1).Op(insn.LCMP).Op(insn.IRETURN)
		}, value.Int(-1)},
		{"float remainder", "()F", func(b *insn.Builder) {
			b.Ldc(float32(5.5)).Op(insn.FCONST_2).Op(insn.FREM).Op(insn.FRETURN)
		}, value.Float(1.5)},
		{"dup2 of long", "()J", func(b *insn.Builder) {
			b.Ldc(int64(7)).Op(insn.DUP2).Op(insn.LADD).Op(insn.LRETURN)
		}, value.Long(14)},
		{"dup_x1", "()I", func(b *insn.Builder) {
			b.Op(insn.ICONST_1).Op(insn.ICONST_2).Op(insn.DUP_X1).Op(insn.IADD).Op(insn.ISUB).Op(insn.IRETURN)
		}, value.Int(-1)},
		{"dup2_x1 with long", "()I", func(b *insn.Builder) {
			b.Op(insn.ICONST_5).Ldc(int64(10)).Op(insn.DUP2_X1).Op(insn.POP2).Op(insn.POP).Op(insn.L2I).Op(insn.IRETURN)
		}, value.Int(10)},
		{"swap", "()I", func(b *insn.Builder) {
			b.Op(insn.ICONST_1).Op(insn.ICONST_2).Op(insn.SWAP).Op(insn.ISUB).Op(insn.IRETURN)
		}, value.Int(1)},
		{"boolean return", "()Z", func(b *insn.Builder) {
			b.Op(insn.ICONST_1).Op(insn.IRETURN)
		}, value.Boolean(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := insn.NewBuilder("demo/Arith", "run", tt.desc)
			tt.build(b)
			got, err := Execute(NewContext(), b.Build(), nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("result = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExecuteLoop(t *testing.T) {
	b := insn.NewBuilder("demo/Loop", "sum", "(I)I")
	loop, end := b.NewLabel(), b.NewLabel()
	m := b.Op(insn.ICONST_0).Var(insn.ISTORE, 1).
		Op(insn.ICONST_1).Var(insn.ISTORE, 2).
		Mark(loop).
		Var(insn.ILOAD, 2).Var(insn.ILOAD, 0).Jump(insn.IF_ICMPGT, end).
		Var(insn.ILOAD, 1).Var(insn.ILOAD, 2).Op(insn.IADD).Var(insn.ISTORE, 1).
		Iinc(2, 1).
		Jump(insn.GOTO, loop).
		Mark(end).
		Var(insn.ILOAD, 1).Op(insn.IRETURN).
		Build()

	got, err := Execute(NewContext(), m, []value.Value{value.Int(10)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != value.Int(55) {
		t.Errorf("sum = %v, want 55", got)
	}
}

func TestExecuteSwitches(t *testing.T) {
	build := func(lookup bool) *insn.Method {
		b := insn.NewBuilder("demo/Switch", "pick", "(I)I")
		one, two, dflt := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Var(insn.ILOAD, 0)
		if lookup {
			b.LookupSwitch(dflt, []int32{1, 1000}, []int{one, two})
		} else {
			b.TableSwitch(1, dflt, one, two)
		}
		return b.Mark(one).PushInt(10).Op(insn.IRETURN).
			Mark(two).PushInt(20).Op(insn.IRETURN).
			Mark(dflt).Op(insn.ICONST_M1).Op(insn.IRETURN).
			Build()
	}

	tests := []struct {
		lookup bool
		in     int32
		want   int32
	}{
		{false, 1, 10},
		{false, 2, 20},
		{false, 3, -1},
		{false, -5, -1},
		{true, 1, 10},
		{true, 1000, 20},
		{true, 2, -1},
	}
	for _, tt := range tests {
		got, err := Execute(NewContext(), build(tt.lookup), []value.Value{value.Int(tt.in)}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got != value.Int(tt.want) {
			t.Errorf("lookup=%v pick(%d) = %v, want %d", tt.lookup, tt.in, got, tt.want)
		}
	}

	// A table spanning the whole int range with only two targets.
	wide := build(false)
	for _, in := range wide.Instructions {
		if in.Op == insn.TABLESWITCH {
			in.Min, in.Max = math.MinInt32, math.MaxInt32
		}
	}
	for _, k := range []int32{math.MinInt32, math.MinInt32 + 1, math.MaxInt32, 0} {
		want := value.Int(-1)
		switch k {
		case math.MinInt32:
			want = value.Int(10)
		case math.MinInt32 + 1:
			want = value.Int(20)
		}
		got, err := Execute(NewContext(), wide, []value.Value{value.Int(k)}, nil)
		if err != nil {
			t.Fatalf("wide pick(%d): %v", k, err)
		}
		if got != want {
			t.Errorf("wide pick(%d) = %v, want %v", k, got, want)
		}
	}
}

func divideByZero(catchType string) *insn.Method {
	b := insn.NewBuilder("demo/Catch", "run", "()I")
	start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
	return b.Mark(start).
		Op(insn.ICONST_1).Op(insn.ICONST_0).Op(insn.IDIV).Op(insn.IRETURN).
		Mark(end).
		Mark(handler).
		Op(insn.POP).PushInt(42).Op(insn.IRETURN).
		TryCatch(start, end, handler, catchType).
		Build()
}

func TestExecuteExceptionHandlers(t *testing.T) {
	for _, typ := range []string{"", ArithmeticException, "java/lang/RuntimeException", "java/lang/Throwable"} {
		got, err := Execute(NewContext(), divideByZero(typ), nil, nil)
		if err != nil {
			t.Fatalf("catch %q: %v", typ, err)
		}
		if got != value.Int(42) {
			t.Errorf("catch %q: result = %v", typ, got)
		}
	}

	_, err := Execute(NewContext(), divideByZero(NullPointerException), nil, nil)
	if StateOf(err) != Threw {
		t.Fatalf("state = %v", StateOf(err))
	}
	thrown, ok := Thrown(err)
	if !ok || thrown.TypeName() != ArithmeticException {
		t.Fatalf("thrown = %v", thrown)
	}
	tr := thrown.Native().(*Throwable)
	if tr.Message != "/ by zero" || len(tr.StackTrace) != 1 || tr.StackTrace[0].Class != "demo/Catch" {
		t.Errorf("throwable = %+v", tr)
	}
}

func TestExecuteAbort(t *testing.T) {
	capture := &funcProvider{
		can: matchName("capture"),
		do: func(c *Call, ctx *Context) (value.Value, error) {
			return nil, &AbortError{Reason: "captured", Result: c.Args[0]}
		},
	}
	m := insn.NewBuilder("demo/Abort", "run", "()V").
		PushInt(9).
		Invoke(insn.INVOKESTATIC, "demo/Hook", "capture", "(I)V").
		Op(insn.RETURN).
		Build()

	_, err := Execute(NewContext(WithProviders(capture)), m, nil, nil)
	if StateOf(err) != Aborted {
		t.Fatalf("state = %v (%v)", StateOf(err), err)
	}
	var ae *AbortError
	if !errors.As(err, &ae) || ae.Result != value.Int(9) {
		t.Errorf("abort = %+v", ae)
	}
}

func TestExecuteBudgets(t *testing.T) {
	b := insn.NewBuilder("demo/Spin", "run", "()V")
	l := b.NewLabel()
	spin := b.Mark(l).Jump(insn.GOTO, l).Build()

	ctx := NewContext(WithMaxSteps(100))
	_, err := Execute(ctx, spin, nil, nil)
	if StateOf(err) != Aborted {
		t.Errorf("spin state = %v", StateOf(err))
	}

	src := newFakeSource()
	src.add("demo/Rec", "", insn.NewBuilder("demo/Rec", "f", "()V").
		Invoke(insn.INVOKESTATIC, "demo/Rec", "f", "()V").
		Op(insn.RETURN).
		Build())
	ctx = NewContext(WithMaxDepth(8), WithProviders(NewClasspathProvider(src, NewStaticFields(src))))
	m, _ := src.LookupMethod("demo/Rec", "f", "()V")
	_, err = Execute(ctx, m, nil, nil)
	if StateOf(err) != Aborted {
		t.Errorf("recursion state = %v (%v)", StateOf(err), err)
	}
	if ctx.CallStack.Len() != 0 {
		t.Errorf("call stack not unwound: %d", ctx.CallStack.Len())
	}

	for _, depth := range []int{0, HardMaxDepth * 10} {
		ctx = NewContext(WithMaxDepth(depth), WithProviders(NewClasspathProvider(src, NewStaticFields(src))))
		if got := ctx.DepthLimit(); got != HardMaxDepth {
			t.Errorf("DepthLimit with MaxDepth %d = %d", depth, got)
		}
		_, err = Execute(ctx, m, nil, nil)
		if StateOf(err) != Aborted {
			t.Errorf("unbounded recursion with MaxDepth %d: state = %v", depth, StateOf(err))
		}
		if ctx.CallStack.Len() != 0 {
			t.Errorf("call stack not unwound: %d", ctx.CallStack.Len())
		}
	}

	ctx = NewContext(WithConstantBudget(2))
	consts := insn.NewBuilder("demo/Consts", "run", "()V").
		Ldc("a").Op(insn.POP).Ldc("b").Op(insn.POP).Ldc("c").Op(insn.POP).Op(insn.RETURN).
		Build()
	if _, err := Execute(ctx, consts, nil, nil); StateOf(err) != Aborted {
		t.Errorf("constant budget state = %v", StateOf(err))
	}
}

func TestExecuteProviderPanic(t *testing.T) {
	bad := &funcProvider{
		can: matchName("explode"),
		do:  func(*Call, *Context) (value.Value, error) { panic("boom") },
	}
	m := insn.NewBuilder("demo/Panic", "run", "()V").
		Invoke(insn.INVOKESTATIC, "demo/Hook", "explode", "()V").
		Op(insn.RETURN).
		Build()
	_, err := Execute(NewContext(WithProviders(bad)), m, nil, nil)
	if StateOf(err) != Threw || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteUnsupported(t *testing.T) {
	m := insn.NewBuilder("demo/Indy", "run", "()V").Build()
	m.Instructions = append(m.Instructions,
		&insn.Instruction{Op: insn.INVOKEDYNAMIC, Name: "makeConcat", Desc: "()Ljava/lang/String;"},
		&insn.Instruction{Op: insn.RETURN})
	_, err := Execute(NewContext(), m, nil, nil)
	if StateOf(err) != Threw || !errors.Is(err, ErrUnsupported) {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteConstructorAndPatches(t *testing.T) {
	keyInit := &funcProvider{
		can: func(c *Call) bool { return c.Owner == "demo/Key" && c.Name == "<init>" },
		do: func(c *Call, ctx *Context) (value.Value, error) {
			s, _ := value.StringOf(c.Args[0])
			return value.NewString(s + "!"), nil
		},
	}
	m := insn.NewBuilder("demo/New", "run", "()Ljava/lang/Object;").
		Type(insn.NEW, "demo/Key").
		Op(insn.DUP).
		Ldc("raw").
		Invoke(insn.INVOKESPECIAL, "demo/Key", "<init>", "(Ljava/lang/String;)V").
		Op(insn.ARETURN).
		Build()

	patches := value.Patches{"demo/Key": func(n any) any { return n.(string) + "?" }}
	got, err := Execute(NewContext(WithProviders(keyInit), WithPatches(patches)), m, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, ok := got.(*value.Object)
	if !ok {
		t.Fatalf("result = %T, want *value.Object", got)
	}
	if obj.TypeName() != "demo/Key" || obj.Native() != "raw!?" {
		t.Errorf("object = %s %v", obj.TypeName(), obj.Native())
	}
}

func TestExecuteArrays(t *testing.T) {
	tests := []struct {
		name   string
		build  func(b *insn.Builder)
		want   value.Value
		thrown string
	}{
		{"store and load", func(b *insn.Builder) {
			b.Op(insn.ICONST_3).Int(insn.NEWARRAY, insn.T_INT).Var(insn.ASTORE, 0).
				Var(insn.ALOAD, 0).Op(insn.ICONST_1).PushInt(7).Op(insn.IASTORE).
				Var(insn.ALOAD, 0).Op(insn.ICONST_1).Op(insn.IALOAD).
				Var(insn.ALOAD, 0).Op(insn.ARRAYLENGTH).
				Op(insn.IADD).Op(insn.IRETURN)
		}, value.Int(10), ""},
		{"byte store truncates", func(b *insn.Builder) {
			b.Op(insn.ICONST_1).Int(insn.NEWARRAY, insn.T_BYTE).Var(insn.ASTORE, 0).
				Var(insn.ALOAD, 0).Op(insn.ICONST_0).PushInt(0x1ff).Op(insn.BASTORE).
				Var(insn.ALOAD, 0).Op(insn.ICONST_0).Op(insn.BALOAD).Op(insn.IRETURN)
		}, value.Int(-1), ""},
		{"multianewarray", func(b *insn.Builder) {
			b.Op(insn.ICONST_2).Op(insn.ICONST_3).MultiANewArray("[[I", 2).
				Op(insn.ICONST_1).Op(insn.AALOAD).Op(insn.ARRAYLENGTH).Op(insn.IRETURN)
		}, value.Int(3), ""},
		{"out of bounds", func(b *insn.Builder) {
			b.Op(insn.ICONST_1).Int(insn.NEWARRAY, insn.T_BYTE).Op(insn.ICONST_2).Op(insn.BALOAD).Op(insn.IRETURN)
		}, nil, ArrayIndexOutOfBounds},
		{"negative size", func(b *insn.Builder) {
			b.Op(insn.ICONST_M1).Type(insn.ANEWARRAY, value.StringClass).Op(insn.ARRAYLENGTH).Op(insn.IRETURN)
		}, nil, NegativeArraySizeException},
		{"null array", func(b *insn.Builder) {
			b.Op(insn.ACONST_NULL).Op(insn.ARRAYLENGTH).Op(insn.IRETURN)
		}, nil, NullPointerException},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := insn.NewBuilder("demo/Arrays", "run", "()I")
			tt.build(b)
			got, err := Execute(NewContext(), b.Build(), nil, nil)
			if tt.thrown != "" {
				thrown, ok := Thrown(err)
				if !ok || thrown.TypeName() != tt.thrown {
					t.Fatalf("error = %v, want thrown %s", err, tt.thrown)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
		})
	}

	m := insn.NewBuilder("demo/Arrays", "chars", "()[C").
		Op(insn.ICONST_2).Int(insn.NEWARRAY, insn.T_CHAR).
		Op(insn.DUP).Op(insn.ICONST_0).PushInt('o').Op(insn.CASTORE).
		Op(insn.DUP).Op(insn.ICONST_1).PushInt('k').Op(insn.CASTORE).
		Op(insn.ARETURN).
		Build()
	got, err := Execute(NewContext(), m, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if chars := got.Native().([]uint16); !slices.Equal(chars, []uint16{'o', 'k'}) {
		t.Errorf("chars = %v", chars)
	}
}

func TestExecuteCallStackVisibleToProviders(t *testing.T) {
	var seen []Frame
	probe := &funcProvider{
		can: matchName("probe"),
		do: func(c *Call, ctx *Context) (value.Value, error) {
			seen = ctx.CallStack.Frames()
			return value.NewString(ctx.CallerClass(0)), nil
		},
	}
	m := insn.NewBuilder("demo/Caller", "run", "()Ljava/lang/String;").
		Ldc("k").Op(insn.POP).
		Invoke(insn.INVOKESTATIC, "demo/Hook", "probe", "()Ljava/lang/String;").
		Op(insn.ARETURN).
		Build()

	ctx := NewContext(WithProviders(probe))
	got, err := Execute(ctx, m, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := value.StringOf(got); s != "demo/Caller" {
		t.Errorf("caller = %q", s)
	}
	if len(seen) != 1 || seen[0].Method != "run" || seen[0].Constants != 1 || seen[0].Index != 2 {
		t.Errorf("frames = %+v", seen)
	}
	if ctx.Constants() != 1 || ctx.Steps() != 4 {
		t.Errorf("constants = %d steps = %d", ctx.Constants(), ctx.Steps())
	}
}
