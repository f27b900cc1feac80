package podman

import (
	"path/filepath"
	"strings"
)

// ResolveSocket picks the daemon socket: the configured path, then a
// unix:// CONTAINER_HOST, then the rootless default under the runtime dir.
func ResolveSocket(configured string, getenv func(string) string, runtimeDir string) string {
	if configured != "" {
		return configured
	}
	if host := getenv("CONTAINER_HOST"); strings.HasPrefix(host, "unix://") {
		return strings.TrimPrefix(host, "unix://")
	}
	return filepath.Join(runtimeDir, "podman", "podman.sock")
}
