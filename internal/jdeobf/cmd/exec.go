package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"jdeobf/internal/classpath"
	"jdeobf/internal/descriptor"
	"jdeobf/internal/detectors"
	"jdeobf/internal/insn"
	"jdeobf/internal/jdeobf/styles"
	"jdeobf/internal/jstring"
	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

var execCmd = &cobra.Command{
	Use:   "exec <path> <owner.name(desc)> [args...]",
	Short: "Run one static method with literal arguments",
	Long: `Run a static method from the input, the configured classpath or the
simulated standard library, and report the outcome.

Arguments are parsed by parameter type. Strings are taken verbatim unless
they are double-quoted, in which case Go escapes apply; an unquoted null is
the null reference. char[] arguments are given as strings and byte[]
arguments as strings (UTF-8) or hex: prefixed hex.`,
	Example: `
jdeobf exec app.jar 'demo/Crypt.decrypt(Ljava/lang/String;I)Ljava/lang/String;' obkkh 7
jdeobf exec app.jar 'java.lang.Integer.toHexString(I)Ljava/lang/String;' 255
  `,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cp, _, err := a.load(args[0])
		if err != nil {
			return err
		}
		owner, name, desc, err := parseTarget(args[1])
		if err != nil {
			return err
		}
		params, err := parseArguments(desc, args[2:])
		if err != nil {
			return err
		}

		r := invoke(a.decryptor(cp), owner, name, desc, params)
		md := r.markdown()
		if plainOutput(nil) {
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), styles.RenderMarkdown(md, 100))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}

// decryptor returns a string decryptor bounded by the configured budgets.
func (a *app) decryptor(cp *classpath.Classpath) *detectors.StringDecryptor {
	d := detectors.NewStringDecryptor(cp, a.logger.Logger)
	d.MaxSteps = a.cfg.Execution.MaxSteps
	d.MaxDepth = a.cfg.Execution.MaxDepth
	d.ConstantBudget = a.cfg.Execution.ConstantBudget
	return d
}

// parseTarget splits owner.name(desc). The owner may use dots or slashes.
func parseTarget(s string) (owner, name, desc string, err error) {
	paren := strings.IndexByte(s, '(')
	if paren < 0 {
		return "", "", "", fmt.Errorf("target %q: missing method descriptor", s)
	}
	member, desc := s[:paren], s[paren:]
	dot := strings.LastIndexByte(member, '.')
	if dot <= 0 || dot == len(member)-1 {
		return "", "", "", fmt.Errorf("target %q: want owner.name(desc)", s)
	}
	owner = strings.ReplaceAll(member[:dot], ".", "/")
	name = member[dot+1:]
	if _, err := descriptor.ArgumentTypes(desc); err != nil {
		return "", "", "", fmt.Errorf("target %q: %w", s, err)
	}
	return owner, name, desc, nil
}

// parseArguments converts literal arguments to values of the parameter
// types of desc.
func parseArguments(desc string, args []string) ([]value.Value, error) {
	types, err := descriptor.ArgumentTypes(desc)
	if err != nil {
		return nil, err
	}
	if len(types) != len(args) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", desc, len(types), len(args))
	}
	out := make([]value.Value, len(args))
	for i, t := range types {
		v, err := parseArgument(t, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i+1, t.Desc, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseArgument(t descriptor.Type, s string) (value.Value, error) {
	switch t.Sort {
	case descriptor.Boolean:
		b, err := strconv.ParseBool(s)
		return value.Boolean(b), err
	case descriptor.Byte:
		n, err := strconv.ParseInt(s, 0, 8)
		return value.Byte(n), err
	case descriptor.Short:
		n, err := strconv.ParseInt(s, 0, 16)
		return value.Short(n), err
	case descriptor.Int:
		n, err := strconv.ParseInt(s, 0, 32)
		return value.Int(n), err
	case descriptor.Long:
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "L"), 0, 64)
		return value.Long(n), err
	case descriptor.Float:
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "F"), 32)
		return value.Float(f), err
	case descriptor.Double:
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "D"), 64)
		return value.Double(f), err
	case descriptor.Char:
		if u := jstring.UTF16(s); len(u) == 1 {
			return value.Char(u[0]), nil
		}
		n, err := strconv.ParseUint(s, 0, 16)
		return value.Char(n), err
	}

	if s == "null" {
		return value.Null, nil
	}
	text, err := unquote(s)
	if err != nil {
		return nil, err
	}
	switch t.Desc {
	case "Ljava/lang/String;", "Ljava/lang/Object;", "Ljava/lang/CharSequence;":
		return value.NewString(text), nil
	case "[C":
		return value.ValueOf(jstring.UTF16(text)), nil
	case "[B":
		if h, ok := strings.CutPrefix(text, "hex:"); ok {
			raw, err := hex.DecodeString(h)
			if err != nil {
				return nil, err
			}
			return value.ValueOf(signed(raw)), nil
		}
		return value.ValueOf(signed([]byte(text))), nil
	}
	return nil, fmt.Errorf("cannot build a %s from the command line", t.Desc)
}

func unquote(s string) (string, error) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strconv.Unquote(s)
	}
	return s, nil
}

func signed(b []byte) []int8 {
	out := make([]int8, len(b))
	for i, c := range b {
		out[i] = int8(c)
	}
	return out
}

// execResult is the outcome of one exec run.
type execResult struct {
	Target string
	Args   []value.Value
	State  vm.State
	Result value.Value
	Err    error
	Steps  int
}

// invoke dispatches a static call through the decryptor's provider chain,
// so classpath methods and simulated library methods are both reachable.
func invoke(d *detectors.StringDecryptor, owner, name, desc string, args []value.Value) *execResult {
	ctx := d.Context()
	call := &vm.Call{Op: insn.INVOKESTATIC, Owner: owner, Name: name, Desc: desc, Args: args}
	r := &execResult{Target: owner + "." + name + desc, Args: args}

	var err error
	if ctx.Provider.CanInvokeMethod(call, ctx) {
		r.Result, err = ctx.Provider.InvokeMethod(call, ctx)
	} else {
		err = &vm.NoProviderError{Op: "invoke", Owner: owner, Name: name, Desc: desc}
	}
	r.Err = err
	r.State = vm.StateOf(err)
	r.Steps = ctx.Steps()
	return r
}

// maxElements bounds the element table of an array result.
const maxElements = 32

func writeElements(b *strings.Builder, arr *value.Array) {
	b.WriteString("| # | Type | Value |\n|---|---|---|\n")
	n := min(arr.Len(), maxElements)
	for i := range n {
		fmt.Fprintf(b, "| %d | `%s` | `%s` |\n", i, arr.SlotType(i), value.Format(arr.Get(i)))
	}
	if arr.Len() > n {
		fmt.Fprintf(b, "\n%d more elements.\n", arr.Len()-n)
	}
	b.WriteString("\n")
}

func (r *execResult) markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.State)
	fmt.Fprintf(&b, "`%s`\n\n", r.Target)
	if len(r.Args) > 0 {
		b.WriteString("## Arguments\n\n")
		for i, v := range r.Args {
			fmt.Fprintf(&b, "%d. `%s`\n", i+1, value.Format(v))
		}
		b.WriteString("\n")
	}

	switch {
	case r.Err == nil:
		b.WriteString("## Result\n\n")
		if s, ok := value.StringOf(r.Result); ok {
			fmt.Fprintf(&b, "```\n%s\n```\n\n", detectors.EscapeUnprintable(s))
		} else {
			fmt.Fprintf(&b, "`%s`\n\n", value.Format(r.Result))
		}
		if arr, ok := r.Result.(*value.Array); ok && arr.Len() > 0 {
			writeElements(&b, arr)
		}
	default:
		b.WriteString("## Error\n\n")
		if thrown, ok := vm.Thrown(r.Err); ok {
			fmt.Fprintf(&b, "Exception `%s`", thrown.TypeName())
			if o, ok := thrown.(*value.Object); ok {
				if t, ok := o.Native().(*vm.Throwable); ok && t.Message != "" {
					fmt.Fprintf(&b, ": %s", t.Message)
				}
			}
			b.WriteString("\n\n")
		} else {
			fmt.Fprintf(&b, "%v\n\n", r.Err)
		}
		var np *vm.NoProviderError
		if errors.As(r.Err, &np) {
			b.WriteString("> No loaded class or simulated library method matches the target.\n\n")
		}
	}
	fmt.Fprintf(&b, "Executed %d instructions.\n", r.Steps)
	return b.String()
}
