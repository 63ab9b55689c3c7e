package detectors

import (
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"jdeobf/internal/classpath"
	"jdeobf/internal/insn"
	"jdeobf/internal/jdk"
	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

// StringDecryptor runs each candidate call in a fresh interpreter context
// against the loaded classes and the simulated standard library.
type StringDecryptor struct {
	Classpath *classpath.Classpath
	Logger    *log.Logger

	MaxSteps       int
	MaxDepth       int
	ConstantBudget int
}

// NewStringDecryptor creates a decryptor over cp with default budgets.
func NewStringDecryptor(cp *classpath.Classpath, logger *log.Logger) *StringDecryptor {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &StringDecryptor{
		Classpath: cp,
		Logger:    logger,
		MaxSteps:  vm.DefaultMaxSteps,
		MaxDepth:  vm.DefaultMaxDepth,
	}
}

// Context returns the environment a single call site runs in: the
// classpath first, so loaded code shadows the simulated library.
func (d *StringDecryptor) Context() *vm.Context {
	statics := vm.NewStaticFields(d.Classpath)
	providers := []vm.Provider{
		vm.NewClasspathProvider(d.Classpath, statics),
		statics,
		&vm.ObjectFields{Source: d.Classpath},
	}
	providers = append(providers, jdk.Providers()...)
	return vm.NewContext(
		vm.WithProviders(providers...),
		vm.WithHierarchy(d.Classpath),
		vm.WithLogger(d.Logger),
		vm.WithMaxSteps(d.MaxSteps),
		vm.WithMaxDepth(d.MaxDepth),
		vm.WithConstantBudget(d.ConstantBudget),
	)
}

// Fragment synthesises a method that replays the call. It poses as the
// calling method so caller-sensitive routines see the original frame.
func Fragment(f *Finding) *insn.Method {
	b := insn.NewBuilder(f.Class, f.Method, "()Ljava/lang/String;")
	for _, c := range f.constants {
		switch c := c.(type) {
		case nil:
			b.Op(insn.ACONST_NULL)
		case int32:
			b.PushInt(c)
		default:
			b.Ldc(c)
		}
	}
	return b.Invoke(insn.INVOKESTATIC, f.Owner, f.Name, f.Desc).
		Op(insn.ARETURN).
		Build()
}

// Detect fills State, Value and Error of every finding not yet run. A
// failing call site is recorded and the scan continues.
func (d *StringDecryptor) Detect(findings []Finding) []Finding {
	result := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.State == "" {
			d.run(&f)
		}
		result = append(result, f)
	}
	return result
}

func (d *StringDecryptor) run(f *Finding) {
	ctx := d.Context()
	got, err := vm.Execute(ctx, Fragment(f), nil, nil)
	f.State = vm.StateOf(err).String()
	if f.Meta == nil {
		f.Meta = make(map[string]any)
	}
	f.Meta["steps"] = ctx.Steps()
	if err != nil {
		f.Error = err.Error()
		d.Logger.Debug("decryption failed", "site", f.Class+"."+f.Method, "target", f.Target(), "state", f.State, "err", err)
		return
	}
	s, ok := value.StringOf(got)
	if !ok {
		f.Meta["null"] = value.IsNull(got)
		return
	}
	f.Value = s
	d.Logger.Debug("decrypted", "site", f.Class+"."+f.Method, "target", f.Target(), "value", s)
}

// EscapeUnprintable returns s with printable runes preserved and control or
// unprintable runes escaped as \uXXXX.
func EscapeUnprintable(s string) string {
	var sb strings.Builder
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&sb, "\\x%02X", s[0])
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "\\u%04X", r)
		}
		s = s[size:]
	}
	return sb.String()
}

// Printable annotates decrypted findings with a readable comment and marks
// values that contain unprintable runes.
type Printable struct{}

func (Printable) Detect(findings []Finding) []Finding {
	result := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.State == vm.Returned.String() && f.Error == "" {
			escaped := EscapeUnprintable(f.Value)
			if f.Meta == nil {
				f.Meta = make(map[string]any)
			}
			f.Meta["printable"] = escaped == f.Value
			f.Comment = fmt.Sprintf("%s(%s) = \"%s\"", f.Name, strings.Join(f.Args, ", "), escaped)
		}
		result = append(result, f)
	}
	return result
}
