// Package identity resolves the numeric identity of the invoking user.
package identity

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/hackeros/hackerosteam/internal/diag"
	"github.com/mitchellh/go-homedir"
)

// Identity is the caller as seen by the host kernel.
type Identity struct {
	UID      int
	GID      int
	Username string
	Home     string
	// RuntimeDir is $XDG_RUNTIME_DIR, or /run/user/<uid> when unset.
	RuntimeDir string
}

// Resolver looks up the caller. The zero value uses the real process
// environment; tests replace the hooks.
type Resolver struct {
	Current func() (*user.User, error)
	Getenv  func(string) string
}

// Current resolves the identity of the running process.
func Current() (Identity, error) {
	return Resolver{}.Resolve()
}

// Resolve fails with diag.InvalidIdentity when the uid or gid cannot be
// determined as non-negative integers.
func (r Resolver) Resolve() (Identity, error) {
	current := r.Current
	if current == nil {
		current = user.Current
	}
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	u, err := current()
	if err != nil {
		return Identity{}, diag.InvalidIdentity("lookup current user", err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil || uid < 0 {
		return Identity{}, diag.InvalidIdentity(fmt.Sprintf("uid %q", u.Uid), err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil || gid < 0 {
		return Identity{}, diag.InvalidIdentity(fmt.Sprintf("gid %q", u.Gid), err)
	}

	home := u.HomeDir
	if h := getenv("HOME"); h != "" {
		home = h
	} else if home == "" {
		if home, err = homedir.Dir(); err != nil {
			return Identity{}, fmt.Errorf("resolve home directory: %w", err)
		}
	}

	runtimeDir := getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join("/run/user", strconv.Itoa(uid))
	}

	return Identity{
		UID:        uid,
		GID:        gid,
		Username:   u.Username,
		Home:       home,
		RuntimeDir: runtimeDir,
	}, nil
}
