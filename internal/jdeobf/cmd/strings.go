package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"jdeobf/internal/classfile"
	"jdeobf/internal/classpath"
	"jdeobf/internal/detectors"
	"jdeobf/internal/jdeobf/styles"
	"jdeobf/internal/vm"
)

// StringsOutput is the JSON document printed by `strings --json`.
type StringsOutput struct {
	Input    string              `json:"input"`
	Classes  int                 `json:"classes"`
	Findings []detectors.Finding `json:"findings"`
	Summary  map[string]int      `json:"summary"`
}

var stringsCmd = &cobra.Command{
	Use:   "strings <path>",
	Short: "Recover strings from decryption call sites",
	Long: `Scan every method of the input for static calls returning a string whose
arguments are all constants, run each call in a fresh interpreter and report
the recovered values.`,
	Example: `
jdeobf strings app.jar
jdeobf strings --json app.jar > strings.json
jdeobf strings --all --save app.jar
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cp, classes, err := a.load(args[0])
		if err != nil {
			return err
		}
		findings := a.findings(cp, classes)
		all, _ := cmd.Flags().GetBool("all")
		if !all {
			findings = recovered(findings)
		}

		doc := &StringsOutput{
			Input:    args[0],
			Classes:  len(classes),
			Findings: findings,
			Summary:  summarize(findings),
		}
		bts, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal findings: %w", err)
		}
		if save, _ := cmd.Flags().GetBool("save"); save {
			path, err := a.save(args[0], bts)
			if err != nil {
				return err
			}
			a.logger.Info("report saved", "file", path)
		}

		out := cmd.OutOrStdout()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			fmt.Fprintln(out, string(bts))
			return nil
		}
		md := findingsMarkdown(doc)
		if plainOutput(nil) {
			fmt.Fprint(out, md)
			return nil
		}
		fmt.Fprint(out, styles.RenderMarkdown(md, 120))
		return nil
	},
}

func init() {
	stringsCmd.Flags().BoolP("json", "j", false, "Output results as JSON")
	stringsCmd.Flags().BoolP("all", "a", false, "Include call sites that failed to run")
	stringsCmd.Flags().Bool("save", false, "Also write the JSON report to the data directory")
	rootCmd.AddCommand(stringsCmd)
}

// findings scans classes and runs the enabled detectors.
func (a *app) findings(cp *classpath.Classpath, classes []*classfile.Class) []detectors.Finding {
	var chain []detectors.Detector
	if a.cfg.Detectors.Strings {
		chain = append(chain, a.decryptor(cp))
	}
	if a.cfg.Detectors.Printable {
		chain = append(chain, detectors.Printable{})
	}
	found := detectors.NewScanner(a.logger.Logger).Scan(classes)
	a.logger.Debug("candidates found", "count", len(found))
	return detectors.NewDetectorChain(chain...).Detect(found)
}

func recovered(findings []detectors.Finding) []detectors.Finding {
	var out []detectors.Finding
	for _, f := range findings {
		if f.State == vm.Returned.String() && f.Error == "" {
			out = append(out, f)
		}
	}
	return out
}

func summarize(findings []detectors.Finding) map[string]int {
	sum := make(map[string]int)
	for _, f := range findings {
		state := f.State
		if state == "" {
			state = "pending"
		}
		sum[state]++
	}
	return sum
}

// save writes a report under the data directory, named after the input.
func (a *app) save(input string, data []byte) (string, error) {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	path := filepath.Join(a.cfg.DataDir, base+".strings.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func findingsMarkdown(doc *StringsOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Strings\n\n`%s`: %d classes, %d call sites\n\n", doc.Input, doc.Classes, len(doc.Findings))
	if len(doc.Findings) == 0 {
		b.WriteString("No decryptable call sites found.\n")
		return b.String()
	}

	current := ""
	for _, f := range doc.Findings {
		site := f.Class + "." + f.Method + f.MethodDesc
		if site != current {
			fmt.Fprintf(&b, "## %s\n\n", site)
			current = site
		}
		call := fmt.Sprintf("%s(%s)", f.Name, strings.Join(f.Args, ", "))
		switch {
		case f.Comment != "":
			fmt.Fprintf(&b, "- `@%d` `%s`\n", f.Index, f.Comment)
		case f.State == vm.Returned.String():
			fmt.Fprintf(&b, "- `@%d` `%s = %q`\n", f.Index, call, f.Value)
		default:
			fmt.Fprintf(&b, "- `@%d` `%s` **%s** %s\n", f.Index, call, f.State, f.Error)
		}
	}
	b.WriteString("\n")
	return b.String()
}
