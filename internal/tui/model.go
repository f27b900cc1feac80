// Package tui is an interactive menu over the session commands. Each entry
// re-runs this binary with the matching subcommand, handing it the terminal
// until it exits.
package tui

import (
	"fmt"
	"os/exec"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF00")).Margin(1, 0)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")).Bold(true)
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF00FF")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// Action is one menu entry. An entry without Args quits.
type Action struct {
	Label string
	Args  []string
}

// Actions is the menu, in display order.
var Actions = []Action{
	{Label: "Launch Steam", Args: []string{"run"}},
	{Label: "Launch Gamescope session", Args: []string{"run", "gamescope-session-steam"}},
	{Label: "Update image", Args: []string{"update"}},
	{Label: "Kill session", Args: []string{"kill"}},
	{Label: "Restart session", Args: []string{"restart"}},
	{Label: "Remove session", Args: []string{"remove"}},
	{Label: "Create session", Args: []string{"create"}},
	{Label: "Status", Args: []string{"status"}},
	{Label: "Quit"},
}

// doneMsg reports a finished subcommand.
type doneMsg struct {
	action Action
	err    error
}

// Model is the bubbletea model of the menu.
type Model struct {
	actions  []Action
	cursor   int
	status   string
	failed   bool
	running  bool
	quitting bool

	// command builds the process for an action's arguments.
	command func(args ...string) *exec.Cmd
}

// New returns a menu that runs exe for each action.
func New(exe string) Model {
	return Model{
		actions: Actions,
		status:  "Choose an option",
		command: func(args ...string) *exec.Cmd { return exec.Command(exe, args...) },
	}
}

// Run shows the menu until the user quits.
func Run(exe string) error {
	_, err := tea.NewProgram(New(exe)).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.running {
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.actions)-1 {
				m.cursor++
			}
		case "enter", " ":
			return m.choose()
		}

	case doneMsg:
		m.running = false
		name := strings.Join(msg.action.Args, " ")
		if msg.err != nil {
			m.failed = true
			m.status = fmt.Sprintf("%s failed: %v", name, msg.err)
		} else {
			m.failed = false
			m.status = fmt.Sprintf("%s finished", name)
		}
	}
	return m, nil
}

func (m Model) choose() (tea.Model, tea.Cmd) {
	action := m.actions[m.cursor]
	if len(action.Args) == 0 {
		m.quitting = true
		return m, tea.Quit
	}
	m.running = true
	m.failed = false
	m.status = fmt.Sprintf("Running %s...", strings.Join(action.Args, " "))
	return m, tea.ExecProcess(m.command(action.Args...), func(err error) tea.Msg {
		return doneMsg{action: action, err: err}
	})
}

func (m Model) View() string {
	if m.quitting {
		return "Bye!\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("HackerOS Steam"))
	sb.WriteString("\n")

	for i, a := range m.actions {
		if i == m.cursor {
			sb.WriteString(selectedStyle.Render("> " + a.Label))
		} else {
			sb.WriteString(normalStyle.Render("  " + a.Label))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if m.failed {
		sb.WriteString(errorStyle.Render(m.status))
	} else {
		sb.WriteString(statusStyle.Render(m.status))
	}
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("↑/↓ move • enter select • q quit"))
	sb.WriteString("\n")
	return sb.String()
}
