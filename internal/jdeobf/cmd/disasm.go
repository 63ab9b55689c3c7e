package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jdeobf/internal/insn"
	"jdeobf/internal/ui/colorize"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <path> [method]",
	Short: "Print bytecode listings",
	Long: `Print the instruction listing of every method with code in the input, or of
the methods matching [method] (see graph for the accepted forms).`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		_, classes, err := a.load(args[0])
		if err != nil {
			return err
		}
		pattern := ""
		if len(args) > 1 {
			pattern = args[1]
		}
		methods := selectMethods(classes, pattern)
		if len(methods) == 0 {
			return fmt.Errorf("no method with code matches %q", pattern)
		}
		out := cmd.OutOrStdout()
		for _, m := range methods {
			fmt.Fprintln(out, listing(m))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(disasmCmd)
}

// listing returns the colorized listing of m, one instruction per line.
func listing(m *insn.Method) string {
	lines := strings.Split(strings.TrimSuffix(insn.Format(m), "\n"), "\n")
	for i, line := range lines {
		lines[i] = colorize.InstructionLine(line)
	}
	return strings.Join(lines, "\n")
}
