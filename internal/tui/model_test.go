package tui

import (
	"errors"
	"os/exec"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(calls *[][]string) Model {
	m := New("/usr/bin/hackerosteam")
	m.command = func(args ...string) *exec.Cmd {
		*calls = append(*calls, args)
		return exec.Command("true")
	}
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, keys ...string) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(Model)
	}
	return m, cmd
}

func TestCursorStaysInBounds(t *testing.T) {
	var calls [][]string
	m := testModel(&calls)

	m, _ = press(t, m, "up")
	assert.Equal(t, 0, m.cursor)

	for range len(Actions) + 3 {
		m, _ = press(t, m, "down")
	}
	assert.Equal(t, len(Actions)-1, m.cursor)

	m, _ = press(t, m, "k", "k")
	assert.Equal(t, len(Actions)-3, m.cursor)
	m, _ = press(t, m, "j")
	assert.Equal(t, len(Actions)-2, m.cursor)
}

func TestEnterRunsSubcommand(t *testing.T) {
	var calls [][]string
	m := testModel(&calls)

	m, cmd := press(t, m, "down", "enter")
	require.NotNil(t, cmd)
	assert.True(t, m.running)
	assert.Equal(t, [][]string{{"run", "gamescope-session-steam"}}, calls)
	assert.Contains(t, m.View(), "Running run gamescope-session-steam...")

	// Keys are ignored while a subcommand owns the terminal.
	m, cmd = press(t, m, "down", "q")
	assert.Nil(t, cmd)
	assert.Equal(t, 1, m.cursor)
}

func TestDoneMessageUpdatesStatus(t *testing.T) {
	var calls [][]string
	m := testModel(&calls)
	m, _ = press(t, m, "enter")

	next, _ := m.Update(doneMsg{action: Actions[0]})
	m = next.(Model)
	assert.False(t, m.running)
	assert.False(t, m.failed)
	assert.Contains(t, m.View(), "run finished")

	next, _ = m.Update(doneMsg{action: Actions[3], err: errors.New("exit status 1")})
	m = next.(Model)
	assert.True(t, m.failed)
	assert.Contains(t, m.View(), "kill failed: exit status 1")
}

func TestQuit(t *testing.T) {
	for _, keys := range [][]string{{"q"}, {"ctrl+c"}} {
		var calls [][]string
		m, cmd := press(t, testModel(&calls), keys...)
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		assert.Equal(t, "Bye!\n", m.View())
	}

	t.Run("quit entry", func(t *testing.T) {
		var calls [][]string
		m := testModel(&calls)
		for range len(Actions) {
			m, _ = press(t, m, "down")
		}
		m, cmd := press(t, m, "enter")
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		assert.Empty(t, calls)
		assert.True(t, m.quitting)
	})
}

func TestViewListsEveryAction(t *testing.T) {
	var calls [][]string
	view := testModel(&calls).View()

	for _, a := range Actions {
		assert.Contains(t, view, a.Label)
	}
	assert.Contains(t, view, "> "+Actions[0].Label)
	assert.Equal(t, 1, strings.Count(view, "> "))
}
