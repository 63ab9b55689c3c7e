package detectors

import (
	"io"

	"github.com/charmbracelet/log"

	"jdeobf/internal/classfile"
	"jdeobf/internal/descriptor"
	"jdeobf/internal/flow"
	"jdeobf/internal/insn"
)

// Scanner walks method bodies for candidate decryption calls.
type Scanner struct {
	Logger *log.Logger
	// Returns lists the return descriptors a candidate may have.
	Returns []string
}

// NewScanner returns a scanner for calls returning java.lang.String.
func NewScanner(logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scanner{Logger: logger, Returns: []string{"Ljava/lang/String;"}}
}

// Scan returns the candidates found in classes, in class, method and
// instruction order. Methods whose graph cannot be built are logged and
// skipped.
func (s *Scanner) Scan(classes []*classfile.Class) []Finding {
	var out []Finding
	for _, c := range classes {
		for _, m := range c.Methods {
			if !m.HasCode() {
				continue
			}
			out = append(out, s.ScanMethod(m)...)
		}
	}
	return out
}

// ScanMethod returns the candidates in one method.
func (s *Scanner) ScanMethod(m *insn.Method) []Finding {
	g, err := flow.Build(m, flow.WithLogger(s.Logger))
	if err != nil {
		s.Logger.Warn("skipping method", "method", m.String(), "err", err)
		return nil
	}
	var out []Finding
	for _, n := range g.All() {
		if n.Kind != flow.MethodInvoke || n.Op != insn.INVOKESTATIC || !s.returns(n.Desc) {
			continue
		}
		parents := g.Parents(n.ID)
		if len(parents) == 0 {
			continue
		}
		f := Finding{
			Class:      m.Owner,
			Method:     m.Name,
			MethodDesc: m.Desc,
			Index:      n.Index,
			Owner:      n.Owner,
			Name:       n.Name,
			Desc:       n.Desc,
		}
		constant := true
		for _, p := range parents {
			if p.Kind != flow.ConstantLoad {
				constant = false
				break
			}
			f.constants = append(f.constants, p.Constant)
			f.Args = append(f.Args, insn.FormatConstant(p.Constant))
		}
		if constant {
			out = append(out, f)
		}
	}
	return out
}

func (s *Scanner) returns(desc string) bool {
	ret, err := descriptor.ReturnType(desc)
	if err != nil {
		return false
	}
	for _, r := range s.Returns {
		if ret.Desc == r {
			return true
		}
	}
	return false
}
