package detectors

import (
	"slices"
	"strings"
	"testing"

	"jdeobf/internal/classfile"
	"jdeobf/internal/classpath"
	"jdeobf/internal/insn"
	"jdeobf/internal/vm"
)

const (
	cryptClass = "demo/Crypt"
	decryptSig = "(Ljava/lang/String;I)Ljava/lang/String;"
	keyedSig   = "(Ljava/lang/String;)Ljava/lang/String;"
)

// xorDecrypt is decrypt(String s, int k): every char of s xor k.
func xorDecrypt() *insn.Method {
	b := insn.NewBuilder(cryptClass, "decrypt", decryptSig)
	loop, end := b.NewLabel(), b.NewLabel()
	return b.
		Var(insn.ALOAD, 0).
		Invoke(insn.INVOKEVIRTUAL, "java/lang/String", "toCharArray", "()[C").
		Var(insn.ASTORE, 2).
		Op(insn.ICONST_0).Var(insn.ISTORE, 3).
		Mark(loop).
		Var(insn.ILOAD, 3).Var(insn.ALOAD, 2).Op(insn.ARRAYLENGTH).
		Jump(insn.IF_ICMPGE, end).
		Var(insn.ALOAD, 2).Var(insn.ILOAD, 3).
		Var(insn.ALOAD, 2).Var(insn.ILOAD, 3).Op(insn.CALOAD).
		Var(insn.ILOAD, 1).Op(insn.IXOR).Op(insn.I2C).
		Op(insn.CASTORE).
		Iinc(3, 1).
		Jump(insn.GOTO, loop).
		Mark(end).
		Type(insn.NEW, "java/lang/String").Op(insn.DUP).
		Var(insn.ALOAD, 2).
		Invoke(insn.INVOKESPECIAL, "java/lang/String", "<init>", "([C)V").
		Op(insn.ARETURN).
		Build()
}

// keyed derives the key from the name of the calling method.
func keyed() *insn.Method {
	return insn.NewBuilder(cryptClass, "keyed", keyedSig).
		Var(insn.ALOAD, 0).
		Invoke(insn.INVOKESTATIC, "java/lang/Thread", "currentThread", "()Ljava/lang/Thread;").
		Invoke(insn.INVOKEVIRTUAL, "java/lang/Thread", "getStackTrace", "()[Ljava/lang/StackTraceElement;").
		Op(insn.ICONST_2).Op(insn.AALOAD).
		Invoke(insn.INVOKEVIRTUAL, "java/lang/StackTraceElement", "getMethodName", "()Ljava/lang/String;").
		Invoke(insn.INVOKEVIRTUAL, "java/lang/String", "length", "()I").
		Invoke(insn.INVOKESTATIC, cryptClass, "decrypt", decryptSig).
		Op(insn.ARETURN).
		Build()
}

func broken() *insn.Method {
	return insn.NewBuilder(cryptClass, "broken", keyedSig).
		Op(insn.ICONST_1).Op(insn.ICONST_0).Op(insn.IDIV).Op(insn.POP).
		Var(insn.ALOAD, 0).Op(insn.ARETURN).
		Build()
}

func app() *insn.Method {
	return insn.NewBuilder("demo/App", "main", "([Ljava/lang/String;)V").
		Ldc("obkkh").PushInt(7).
		Invoke(insn.INVOKESTATIC, cryptClass, "decrypt", decryptSig).Op(insn.POP).
		Ldc("skvh`").
		Invoke(insn.INVOKESTATIC, cryptClass, "keyed", keyedSig).Op(insn.POP).
		Var(insn.ALOAD, 0).Op(insn.ICONST_0).Op(insn.AALOAD).PushInt(1).
		Invoke(insn.INVOKESTATIC, cryptClass, "decrypt", decryptSig).Op(insn.POP).
		Ldc("x").
		Invoke(insn.INVOKESTATIC, cryptClass, "broken", keyedSig).Op(insn.POP).
		Ldc("x").
		Invoke(insn.INVOKESTATIC, cryptClass, "missing", keyedSig).Op(insn.POP).
		Op(insn.RETURN).
		Build()
}

func fixture() (*classpath.Classpath, []*classfile.Class) {
	classes := []*classfile.Class{
		{Name: "demo/App", Super: "java/lang/Object", Methods: []*insn.Method{app()}},
		{Name: cryptClass, Super: "java/lang/Object", Methods: []*insn.Method{xorDecrypt(), keyed(), broken()}},
	}
	cp := classpath.New()
	for _, c := range classes {
		cp.Add(c)
	}
	return cp, classes
}

func TestScan(t *testing.T) {
	_, classes := fixture()
	findings := NewScanner(nil).Scan(classes)

	var got []string
	for _, f := range findings {
		got = append(got, f.Name+"("+strings.Join(f.Args, ", ")+")")
	}
	want := []string{`decrypt("obkkh", 7)`, "keyed(\"skvh`\")", `broken("x")`, `missing("x")`}
	if !slices.Equal(got, want) {
		t.Errorf("candidates = %v, want %v", got, want)
	}
	for _, f := range findings {
		if f.Class != "demo/App" || f.Method != "main" {
			t.Errorf("%s found in %s.%s", f.Name, f.Class, f.Method)
		}
	}
}

func TestStringDecryptorChain(t *testing.T) {
	cp, classes := fixture()
	chain := NewDetectorChain(NewStringDecryptor(cp, nil), Printable{})
	findings := chain.Detect(NewScanner(nil).Scan(classes))
	if len(findings) != 4 {
		t.Fatalf("findings = %d, want 4", len(findings))
	}

	tests := []struct {
		name  string
		state vm.State
		value string
	}{
		{"decrypt", vm.Returned, "hello"},
		{"keyed", vm.Returned, "world"},
		{"broken", vm.Threw, ""},
		{"missing", vm.Threw, ""},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := findings[i]
			if f.Name != tt.name {
				t.Fatalf("finding %d is %s", i, f.Name)
			}
			if f.State != tt.state.String() {
				t.Errorf("state = %s (%s), want %s", f.State, f.Error, tt.state)
			}
			if f.Value != tt.value {
				t.Errorf("value = %q, want %q", f.Value, tt.value)
			}
			if tt.state == vm.Returned {
				if f.Meta["printable"] != true || !strings.HasSuffix(f.Comment, `= "`+tt.value+`"`) {
					t.Errorf("annotation = %v %q", f.Meta, f.Comment)
				}
			} else if f.Error == "" {
				t.Error("failure without error text")
			}
		})
	}
}

func TestStringDecryptorBudget(t *testing.T) {
	cp, classes := fixture()
	d := NewStringDecryptor(cp, nil)
	d.MaxSteps = 10
	findings := d.Detect(NewScanner(nil).Scan(classes)[:1])
	if findings[0].State != vm.Aborted.String() {
		t.Errorf("state = %s, want aborted", findings[0].State)
	}
}

func TestFragment(t *testing.T) {
	f := &Finding{
		Class: "demo/App", Method: "main",
		Owner: cryptClass, Name: "decrypt", Desc: decryptSig,
		constants: []any{"abc", int32(300)},
	}
	m := Fragment(f)
	if m.Owner != "demo/App" || m.Name != "main" || !m.IsStatic() {
		t.Errorf("fragment identity = %s", m)
	}
	var ops []insn.Opcode
	for _, in := range m.Instructions {
		ops = append(ops, in.Op)
	}
	want := []insn.Opcode{insn.LDC, insn.SIPUSH, insn.INVOKESTATIC, insn.ARETURN}
	if !slices.Equal(ops, want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}
}

func TestEscapeUnprintable(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"tab\there", `tab\u0009here`},
		{"é\x00", `é\u0000`},
		{"\xff", `\xFF`},
	}
	for _, tt := range tests {
		if got := EscapeUnprintable(tt.in); got != tt.want {
			t.Errorf("EscapeUnprintable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	findings := Printable{}.Detect([]Finding{{Name: "d", State: "returned", Value: "a\x01"}})
	if findings[0].Meta["printable"] != false {
		t.Errorf("printable = %v", findings[0].Meta["printable"])
	}
}
