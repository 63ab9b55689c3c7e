package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"jdeobf/internal/classfile"
	"jdeobf/internal/flow"
	"jdeobf/internal/insn"
	"jdeobf/internal/ui/colorize"
)

var graphCmd = &cobra.Command{
	Use:   "graph <path> [method]",
	Short: "Print the provenance graph of method bodies",
	Long: `Print the provenance graph of every method with code in the input, or of
the methods matching [method]: a name, name+descriptor, owner.name or
owner.name+descriptor.`,
	Example: `
# Graph of one method as JSON
jdeobf graph app.jar 'demo/App.main' --json

# Export every graph as a CBOR sequence
jdeobf graph app.jar --cbor graphs.cbor
  `,
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

		var dumps []*flow.Dump
		var listing strings.Builder
		for _, m := range methods {
			g, err := flow.Build(m, flow.WithLogger(a.logger.Logger))
			if err != nil {
				a.logger.Warn("graph unavailable", "method", m.String(), "err", err)
				fmt.Fprintf(&listing, "%s\n; graph unavailable: %v\n\n", m, err)
				continue
			}
			dumps = append(dumps, g.Export())
			listing.WriteString(graphListing(g))
			listing.WriteByte('\n')
		}

		if path, _ := cmd.Flags().GetString("cbor"); path != "" {
			if err := writeCBOR(path, dumps); err != nil {
				return err
			}
			a.logger.Info("graphs exported", "file", path, "methods", len(dumps))
		}

		out := cmd.OutOrStdout()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			bts, err := json.MarshalIndent(dumps, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal graphs: %w", err)
			}
			fmt.Fprintln(out, string(bts))
			return nil
		}
		colored, _ := colorize.Listing(listing.String())
		fmt.Fprint(out, colored)
		return nil
	},
}

func init() {
	graphCmd.Flags().BoolP("json", "j", false, "Output graphs as JSON")
	graphCmd.Flags().String("cbor", "", "Write graphs to file as a CBOR sequence")
	rootCmd.AddCommand(graphCmd)
}

// selectMethods returns the methods with code that match pattern, in class
// order. An empty pattern matches every method.
func selectMethods(classes []*classfile.Class, pattern string) []*insn.Method {
	var out []*insn.Method
	for _, c := range classes {
		for _, m := range c.Methods {
			if !m.HasCode() {
				continue
			}
			if pattern == "" || pattern == m.Name || pattern == m.Signature() ||
				pattern == m.Owner+"."+m.Name || pattern == m.String() {
				out = append(out, m)
			}
		}
	}
	return out
}

// graphListing renders one node per line followed by its consumers.
func graphListing(g *flow.Graph) string {
	var b strings.Builder
	if g.Method != nil {
		fmt.Fprintf(&b, "%s\n", g.Method)
	}
	for _, n := range g.All() {
		fmt.Fprintf(&b, "  %s", n)
		if cs := n.Children(); len(cs) > 0 {
			b.WriteString(" ->")
			for _, c := range cs {
				fmt.Fprintf(&b, " #%d", c)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// writeCBOR writes dumps as a CBOR sequence, one item per method.
func writeCBOR(path string, dumps []*flow.Dump) error {
	var buf []byte
	for _, d := range dumps {
		bts, err := d.MarshalCBOR()
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", d.Method, err)
		}
		buf = append(buf, bts...)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
