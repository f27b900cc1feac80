package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// State is the session container state as observed through inspect. It is
// never cached beyond a single operation.
type State int

const (
	Absent State = iota
	Created
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState maps a daemon status string onto State. Unknown statuses
// count as stopped: the container exists but nothing runs in it.
func ParseState(status string) State {
	switch strings.ToLower(status) {
	case "configured", "created", "initialized":
		return Created
	case "running", "paused":
		return Running
	default:
		return Stopped
	}
}

// Status is the report printed by `status`.
type Status struct {
	Name        string
	State       State
	PID         int
	ContainerID string
	Image       string
	StartedAt   time.Time

	LayerID     string
	DataDir     string
	DataEntries int
	DataBytes   int64
	// DataSkipped counts unreadable directories left out of the totals.
	DataSkipped int
}

// Lines renders the report for the terminal.
func (s Status) Lines() []string {
	lines := []string{fmt.Sprintf("Session: %s", s.Name)}
	if s.State == Absent {
		lines = append(lines, "State:   absent (run 'hackerosteam create')")
	} else {
		lines = append(lines, fmt.Sprintf("State:   %s", s.State))
		if s.State == Running && s.PID > 0 {
			lines = append(lines, fmt.Sprintf("PID:     %d", s.PID))
		}
		if s.ContainerID != "" {
			lines = append(lines, fmt.Sprintf("ID:      %s", shortID(s.ContainerID)))
		}
		if s.Image != "" {
			lines = append(lines, fmt.Sprintf("Image:   %s", s.Image))
		}
		if s.State == Running && !s.StartedAt.IsZero() {
			lines = append(lines, fmt.Sprintf("Started: %s", humanize.Time(s.StartedAt)))
		}
	}

	if s.DataDir != "" {
		data := fmt.Sprintf("Data:    %s (%s in %s files)", s.DataDir,
			humanize.IBytes(uint64(s.DataBytes)), humanize.Comma(int64(s.DataEntries)))
		if s.DataSkipped > 0 {
			data += fmt.Sprintf(", %d unreadable", s.DataSkipped)
		}
		lines = append(lines, data)
	}
	if s.LayerID != "" {
		lines = append(lines, fmt.Sprintf("Layer:   %s", s.LayerID))
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ExecConfig describes a process started inside the running session.
type ExecConfig struct {
	Cmd        []string
	User       string
	Env        []string
	WorkingDir string
	Tty        bool
}
