// Package colorize highlights bytecode listings for the terminal.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether JDEOBF_NO_COLOR is set.
func Disabled() bool {
	return os.Getenv("JDEOBF_NO_COLOR") != ""
}

// getListingStyle returns the listing style with fallbacks
func getListingStyle() *chroma.Style {
	candidates := []string{"bytecode-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Listing highlights a whole listing.
func Listing(code string) (string, error) {
	if Disabled() {
		return code, nil
	}

	iterator, err := Bytecode.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getListingStyle(), iterator); err != nil {
		return code, err
	}
	out := buf.String()
	// drop the newline the lexer appended, which may be followed by a reset
	if !strings.HasSuffix(code, "\n") {
		if i := strings.LastIndex(out, "\n"); i >= 0 {
			out = out[:i] + out[i+1:]
		}
	}
	return out, nil
}

// InstructionLine highlights one listing line, keeping the leading
// instruction index gray.
// Format: "   12      INVOKESTATIC owner.name(desc)"
func InstructionLine(line string) string {
	if Disabled() {
		return line
	}

	trimmed := strings.TrimLeft(line, " ")
	pad := line[:len(line)-len(trimmed)]
	idx, rest, ok := strings.Cut(trimmed, " ")
	if !ok || !isDigits(idx) {
		return colorizeFullLine(line)
	}

	indexColored := fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m", idx)
	return pad + indexColored + " " + colorizeFullLine(rest)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func colorizeFullLine(line string) string {
	out, err := Listing(line)
	if err != nil {
		return line
	}
	return out
}

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// VisibleWidth returns the number of runes outside escape sequences.
func VisibleWidth(s string) int {
	return len([]rune(StripANSI(s)))
}
