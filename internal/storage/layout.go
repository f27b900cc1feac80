// Package storage manages the on-disk layers behind the session's overlay
// home: a permanently empty lower layer, the durable upper layer, and the
// overlay work area. Nothing here ever deletes the upper layer.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hackeros/hackerosteam/internal/identity"
	"go.uber.org/zap"
)

// Layout names the four directories of the persistent layer.
type Layout struct {
	Base  string
	Upper string
	Work  string
	Lower string
}

// Manager resolves and initializes layouts.
type Manager struct {
	// DataDir overrides the data root when set.
	DataDir string
	AppName string
	Getenv  func(string) string
	Log     *zap.Logger
}

// NewManager returns a Manager for appName with an optional data root override.
func NewManager(appName, dataDir string, log *zap.Logger) *Manager {
	return &Manager{
		DataDir: dataDir,
		AppName: appName,
		Getenv:  os.Getenv,
		Log:     log,
	}
}

// Root returns the data root for id: the override, $XDG_DATA_HOME/<app>,
// or ~/.local/share/<app>.
func (m *Manager) Root(id identity.Identity) string {
	if m.DataDir != "" {
		return filepath.Clean(m.DataDir)
	}
	getenv := m.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, m.AppName)
	}
	return filepath.Join(id.Home, ".local", "share", m.AppName)
}

// LayoutFor computes the layout without touching the filesystem.
func (m *Manager) LayoutFor(id identity.Identity) Layout {
	base := m.Root(id)
	return Layout{
		Base:  base,
		Upper: filepath.Join(base, "upper"),
		Work:  filepath.Join(base, "work"),
		Lower: filepath.Join(base, "empty"),
	}
}

// Resolve computes the layout for id and creates all four directories.
// Creation is idempotent.
func (m *Manager) Resolve(id identity.Identity) (Layout, error) {
	l := m.LayoutFor(id)
	for _, dir := range []string{l.Base, l.Lower, l.Upper, l.Work} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Layout{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	m.log().Debug("storage layout", zap.String("base", l.Base))
	return l, nil
}

func (m *Manager) log() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}
