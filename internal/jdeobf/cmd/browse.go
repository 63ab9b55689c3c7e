package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"jdeobf/internal/classfile"
	"jdeobf/internal/classpath"
	"jdeobf/internal/detectors"
	"jdeobf/internal/flow"
	"jdeobf/internal/insn"
	"jdeobf/internal/jdeobf/styles"
	"jdeobf/internal/ui/colorize"
)

type viewMode int

const (
	viewSummary viewMode = iota
	viewMethods
	viewCode
	viewFindings
)

type methodItem struct {
	method   *insn.Method
	findings int
}

func (i methodItem) Title() string       { return i.method.String() }
func (i methodItem) Description() string { return "" }
func (i methodItem) FilterValue() string { return i.method.String() }

// Custom item delegate for the methods list
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(methodItem)
	if !ok {
		return
	}

	indicator := " "
	nameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Member))
	if index == m.Index() {
		indicator = ">"
		nameStyle = styles.Selected
	}
	badge := "    "
	if i.findings > 0 {
		badge = styles.Returned.Render(fmt.Sprintf("%3d ", i.findings))
	}

	fmt.Fprintf(w, " %s %s%s%s%s",
		indicator,
		badge,
		lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Owner)).Render(i.method.Owner),
		styles.Dim.Render("."),
		nameStyle.Render(i.method.Name)+styles.Dim.Render(i.method.Desc))
}

type model struct {
	app  *app
	path string

	viewport     viewport.Model
	methodsList  list.Model
	codeView     viewport.Model
	findingsView viewport.Model
	spinner      spinner.Model
	mode         viewMode

	cp       *classpath.Classpath
	classes  []*classfile.Class
	findings []detectors.Finding
	err      error

	loadingClasses  bool
	runningDetector bool
	width           int
	height          int
}

// Message types
type classesMsg struct {
	cp      *classpath.Classpath
	classes []*classfile.Class
	err     error
}

type findingsMsg struct {
	findings []detectors.Finding
}

// Commands
func loadClassesCmd(a *app, path string) tea.Cmd {
	return func() tea.Msg {
		cp, classes, err := a.load(path)
		return classesMsg{cp: cp, classes: classes, err: err}
	}
}

func runDetectorsCmd(a *app, cp *classpath.Classpath, classes []*classfile.Class) tea.Cmd {
	return func() tea.Msg {
		return findingsMsg{findings: a.findings(cp, classes)}
	}
}

func newViewport() viewport.Model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)
	return vp
}

func NewModel(a *app, path string) model {
	methodsList := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	methodsList.SetShowStatusBar(false)
	methodsList.SetFilteringEnabled(true)
	methodsList.Title = "Methods"
	methodsList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	methodsList.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	m := model{
		app:            a,
		path:           path,
		viewport:       newViewport(),
		methodsList:    methodsList,
		codeView:       newViewport(),
		findingsView:   newViewport(),
		spinner:        s,
		mode:           viewSummary,
		loadingClasses: true,
		width:          80,
		height:         24,
	}
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		loadClassesCmd(m.app, m.path),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case classesMsg:
		m.loadingClasses = false
		if msg.err != nil {
			m.err = msg.err
			m.updateContent()
			return m, nil
		}
		m.cp, m.classes = msg.cp, msg.classes
		m.updateMethodsList()
		m.runningDetector = true
		m.updateContent()
		return m, runDetectorsCmd(m.app, m.cp, m.classes)

	case findingsMsg:
		m.findings = msg.findings
		m.runningDetector = false
		m.updateMethodsList()
		m.updateFindings()
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.loadingClasses || m.runningDetector {
			m.updateContent()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			for _, vp := range []*viewport.Model{&m.viewport, &m.codeView, &m.findingsView} {
				vp.SetWidth(msg.Width)
				vp.SetHeight(msg.Height - 2)
			}
			m.methodsList.SetWidth(msg.Width)
			m.methodsList.SetHeight(msg.Height - 2)
			m.updateContent()
			m.updateFindings()
		}

	case tea.KeyMsg:
		if m.mode == viewMethods && m.methodsList.FilterState() == list.Filtering {
			// the list owns every key but quit while filtering
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "i":
			m.mode = viewSummary
			return m, nil
		case "m":
			if len(m.classes) > 0 {
				m.mode = viewMethods
			}
			return m, nil
		case "f":
			if m.findings != nil {
				m.mode = viewFindings
			}
			return m, nil
		case "esc":
			if m.mode == viewCode {
				m.mode = viewMethods
				return m, nil
			}
		case "enter":
			if m.mode == viewMethods {
				if item, ok := m.methodsList.SelectedItem().(methodItem); ok {
					m.showMethod(item.method)
					m.mode = viewCode
				}
				return m, nil
			}
		case "tab":
			m.mode = m.nextMode(1)
			return m, nil
		case "shift+tab":
			m.mode = m.nextMode(-1)
			return m, nil
		}
	}

	switch m.mode {
	case viewMethods:
		m.methodsList, cmd = m.methodsList.Update(msg)
	case viewCode:
		m.codeView, cmd = m.codeView.Update(msg)
	case viewFindings:
		m.findingsView, cmd = m.findingsView.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

// nextMode cycles through the views that have content.
func (m model) nextMode(step int) viewMode {
	modes := []viewMode{viewSummary}
	if len(m.classes) > 0 {
		modes = append(modes, viewMethods)
	}
	if m.findings != nil {
		modes = append(modes, viewFindings)
	}
	cur := 0
	for i, mode := range modes {
		if mode == m.mode || (m.mode == viewCode && mode == viewMethods) {
			cur = i
		}
	}
	return modes[(cur+step+len(modes))%len(modes)]
}

func (m model) View() string {
	var content, menu string
	switch m.mode {
	case viewMethods:
		content = m.methodsList.View()
		menu = " Enter: view method • I: info • F: findings • Tab: cycle • Q: quit "
	case viewCode:
		content = m.codeView.View()
		menu = " Esc: back • I: info • F: findings • Q: quit "
	case viewFindings:
		content = m.findingsView.View()
		menu = " I: info • M: methods • Tab: cycle • Q: quit "
	default:
		content = m.viewport.View()
		if len(m.classes) > 0 {
			menu = " M: methods • F: findings • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}
	return content + "\n" + styles.Menu.Width(m.width).Render(menu)
}

func (m *model) summaryMarkdown() string {
	var lines []string
	lines = append(lines, "; "+pathpkg.Base(m.path))
	if dir := pathpkg.Dir(m.path); dir != "." {
		lines = append(lines, "; "+dir+"/")
	}
	if m.classes != nil {
		methods := 0
		for _, c := range m.classes {
			methods += len(selectMethods([]*classfile.Class{c}, ""))
		}
		lines = append(lines, fmt.Sprintf("; %d classes, %d methods with code", len(m.classes), methods))
		lines = append(lines, fmt.Sprintf("; %d classes on the classpath", m.cp.Len()))
	}
	md := fmt.Sprintf("# jdeobf\n\n```\n%s\n```", strings.Join(lines, "\n"))

	if m.err != nil {
		md += fmt.Sprintf("\n\n## Error\n\n%v", m.err)
	}
	if m.findings != nil {
		md += "\n\n## Call sites\n\n"
		sum := summarize(m.findings)
		if len(sum) == 0 {
			md += "No decryptable call sites found."
		}
		for _, state := range []string{"returned", "threw", "aborted", "pending"} {
			if n := sum[state]; n > 0 {
				md += fmt.Sprintf("- %s: %d\n", state, n)
			}
		}
	}

	if m.loadingClasses {
		md += fmt.Sprintf("\n\n%s Loading classes...", m.spinner.View())
	}
	if m.runningDetector {
		md += fmt.Sprintf("\n\n%s Running decryption call sites...", m.spinner.View())
	}
	return md
}

func (m *model) contentWidth() int {
	if m.width == 0 {
		return 78
	}
	return m.width - 2
}

func (m *model) updateContent() {
	rendered := styles.RenderMarkdown(m.summaryMarkdown(), m.contentWidth())
	m.viewport.SetContent(strings.TrimSuffix(rendered, "\n"))
}

func (m *model) updateMethodsList() {
	perMethod := make(map[string]int)
	for _, f := range m.findings {
		perMethod[f.Class+"."+f.Method+f.MethodDesc]++
	}
	methods := selectMethods(m.classes, "")
	items := make([]list.Item, 0, len(methods))
	for _, method := range methods {
		items = append(items, methodItem{method: method, findings: perMethod[method.String()]})
	}
	m.methodsList.SetItems(items)
	m.methodsList.Title = fmt.Sprintf("Methods (%d total)", len(items))
}

func (m *model) updateFindings() {
	if m.findings == nil {
		return
	}
	doc := &StringsOutput{Input: m.path, Classes: len(m.classes), Findings: m.findings}
	rendered := styles.RenderMarkdown(findingsMarkdown(doc), m.contentWidth())
	m.findingsView.SetContent(strings.TrimSuffix(rendered, "\n"))
}

// methodContent is the listing, the findings and the graph of one method.
func (m *model) methodContent(method *insn.Method) string {
	var b strings.Builder
	b.WriteString(listing(method))
	b.WriteString("\n\n")

	for _, f := range m.findings {
		if f.Class == method.Owner && f.Method == method.Name && f.MethodDesc == method.Desc {
			text := f.Comment
			if text == "" {
				text = fmt.Sprintf("%s(%s) %s %s", f.Name, strings.Join(f.Args, ", "), f.State, f.Error)
			}
			fmt.Fprintf(&b, "%s %s\n", styles.Dim.Render(fmt.Sprintf("%4d", f.Index)), styles.State(f.State).Render(text))
		}
	}

	g, err := flow.Build(method, flow.WithLogger(m.app.logger.Logger))
	if err != nil {
		fmt.Fprintf(&b, "\n; graph unavailable: %v\n", err)
		return b.String()
	}
	colored, _ := colorize.Listing(graphListing(g))
	b.WriteString("\n")
	b.WriteString(colored)
	return b.String()
}

func (m *model) showMethod(method *insn.Method) {
	m.codeView.SetContent(m.methodContent(method))
	m.codeView.GotoTop()
}

var browseCmd = &cobra.Command{
	Use:   "browse <path>",
	Short: "Explore methods, graphs and recovered strings interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		// stderr belongs to the terminal UI
		if os.Getenv("JDEOBF_LOG_TO_FILE") != "1" {
			a.logger.SetOutput(io.Discard)
		}

		absPath, err := pathpkg.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}

		program := tea.NewProgram(
			NewModel(a, absPath),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)
}
