// Package styles holds the colors and markdown styles shared by the
// reports, the listing colorizer and the browser.
package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Listing colors, dark background.
const (
	Foreground = "#D4D4D4"
	Background = "#1E1E1E"
	Opcode     = "#569CD6"
	Label      = "#FFD700"
	Number     = "#FF5F87"
	String     = "#EACD53"
	Owner      = "#4EC9B0"
	Member     = "#DCDCAA"
	Descriptor = "#9CDCFE"
	Comment    = "#6A9955"
	Index      = "#4F4F4F"
)

// Finding states.
var (
	Returned = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Guac.Hex()))
	Threw    = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Cheeky.Hex()))
	Aborted  = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Zest.Hex()))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Selected = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	Menu     = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)

// State returns the style for an execution state name.
func State(state string) lipgloss.Style {
	switch state {
	case "returned":
		return Returned
	case "threw":
		return Threw
	case "aborted":
		return Aborted
	}
	return Dim
}
