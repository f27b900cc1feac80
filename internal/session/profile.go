package session

import "github.com/hackeros/hackerosteam/internal/config"

// CommandFor returns the shell command for a session profile. Unknown or
// empty profiles use the default command.
func CommandFor(profile string, l config.Launch) string {
	if cmd, ok := l.Profiles[profile]; ok && profile != "" {
		return cmd
	}
	return l.DefaultCommand
}

// LaunchExec is the interactive exec started by `run`: the profile command
// in a login shell as the session user, attached to a terminal.
func LaunchExec(profile string, cfg *config.Config) ExecConfig {
	return ExecConfig{
		Cmd:        []string{"/bin/bash", "-lc", CommandFor(profile, cfg.Launch)},
		User:       cfg.Session.User,
		WorkingDir: cfg.Session.Home,
		Tty:        true,
	}
}
