package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hackeros/hackerosteam/internal/config"
)

func TestParseState(t *testing.T) {
	tests := map[string]State{
		"created":     Created,
		"configured":  Created,
		"initialized": Created,
		"running":     Running,
		"Running":     Running,
		"paused":      Running,
		"exited":      Stopped,
		"stopped":     Stopped,
		"stopping":    Stopped,
		"unknown":     Stopped,
	}
	for status, want := range tests {
		assert.Equal(t, want, ParseState(status), status)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestStatusLines(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		s := Status{
			Name:        "hackerosteam",
			State:       Running,
			PID:         4242,
			ContainerID: "0123456789abcdef0123",
			Image:       "registry.fedoraproject.org/fedora:41",
			StartedAt:   time.Now().Add(-2 * time.Hour),
			LayerID:     "6f1c",
			DataDir:     "/home/gamer/.local/share/hackerosteam",
			DataEntries: 12345,
			DataBytes:   3 << 30,
		}
		out := strings.Join(s.Lines(), "\n")
		assert.Contains(t, out, "State:   running")
		assert.Contains(t, out, "PID:     4242")
		assert.Contains(t, out, "ID:      0123456789ab\n")
		assert.Contains(t, out, "Started: 2 hours ago")
		assert.Contains(t, out, "3.0 GiB in 12,345 files")
		assert.Contains(t, out, "Layer:   6f1c")
	})

	t.Run("stopped hides pid", func(t *testing.T) {
		out := strings.Join(Status{Name: "s", State: Stopped, PID: 7}.Lines(), "\n")
		assert.Contains(t, out, "State:   stopped")
		assert.NotContains(t, out, "PID")
	})

	t.Run("absent is a normal report", func(t *testing.T) {
		lines := Status{Name: "s", State: Absent, DataDir: "/d", DataSkipped: 2}.Lines()
		out := strings.Join(lines, "\n")
		assert.Contains(t, out, "absent")
		assert.Contains(t, out, "2 unreadable")
		assert.NotContains(t, out, "Layer")
	})
}

func TestCommandFor(t *testing.T) {
	l := config.Default().Launch

	tests := []struct {
		profile string
		want    string
	}{
		{"gamescope-session-steam", "gamescope -e -- steam -gamepadui"},
		{"deck", "gamescope -e -- steam -gamepadui"},
		{"", "steam -silent || steam"},
		{"desktop", "steam -silent || steam"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CommandFor(tt.profile, l), tt.profile)
	}
}

func TestLaunchExec(t *testing.T) {
	cfg := config.Default()
	e := LaunchExec("deck", cfg)

	assert.Equal(t, []string{"/bin/bash", "-lc", "gamescope -e -- steam -gamepadui"}, e.Cmd)
	assert.Equal(t, "steam", e.User)
	assert.Equal(t, "/home/steam", e.WorkingDir)
	assert.True(t, e.Tty)
}
