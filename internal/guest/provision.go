package guest

import (
	"fmt"
	"strings"
)

// ReadyMessage is printed as the last line of a successful provisioning run.
const ReadyMessage = "Steam session ready"

// ProfileScript is where session markers are exported for login shells.
const ProfileScript = "/etc/profile.d/hackerosteam.sh"

// shellQuote wraps a string in single quotes with proper escaping for shell interpolation.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// Provision describes the first-boot setup run as root inside a freshly
// created session.
type Provision struct {
	Packages []string
	User     string
	UID      int
	GID      int
	Home     string
	// Markers are KEY=VALUE pairs exported for every login shell.
	Markers []string
}

// Command is the argv handed to the exec.
func (p Provision) Command() []string {
	return []string{"/bin/bash", "-c", p.Script()}
}

// Script renders the provisioning script. Every step is idempotent so a
// provisioning run interrupted halfway can simply be repeated.
func (p Provision) Script() string {
	var sb strings.Builder

	sb.WriteString("#!/bin/bash\n")
	sb.WriteString("set -euo pipefail\n\n")

	if len(p.Packages) > 0 {
		quoted := make([]string, 0, len(p.Packages))
		for _, pkg := range p.Packages {
			quoted = append(quoted, shellQuote(pkg))
		}
		sb.WriteString("# Install Steam and the session tooling\n")
		fmt.Fprintf(&sb, "dnf install -y %s\n\n", strings.Join(quoted, " "))
	}

	user := shellQuote(p.User)
	home := shellQuote(p.Home)

	// keep-id maps the caller's ids into the session, so the session user
	// must own exactly those ids.
	sb.WriteString("# Session user matching the host caller\n")
	fmt.Fprintf(&sb, "getent group %d >/dev/null || groupadd -g %d %s\n", p.GID, p.GID, user)
	fmt.Fprintf(&sb, "id -u %s >/dev/null 2>&1 || useradd -M -d %s -u %d -g %d %s\n\n", user, home, p.UID, p.GID, user)

	sb.WriteString("# Home lives on the persistent layer\n")
	fmt.Fprintf(&sb, "mkdir -p %s/.steam\n", home)
	fmt.Fprintf(&sb, "chown %d:%d %s %s/.steam\n\n", p.UID, p.GID, home, home)

	if len(p.Markers) > 0 {
		sb.WriteString("# Session markers for login shells\n")
		fmt.Fprintf(&sb, "cat > %s <<'EOF'\n", ProfileScript)
		for _, m := range p.Markers {
			k, v, _ := strings.Cut(m, "=")
			fmt.Fprintf(&sb, "export %s=%s\n", k, shellQuote(v))
		}
		sb.WriteString("EOF\n\n")
	}

	fmt.Fprintf(&sb, "echo %s\n", shellQuote(ReadyMessage))
	return sb.String()
}
