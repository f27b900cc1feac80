package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const markerName = "layer.json"

// Marker identifies the persistent layer across container replacements.
type Marker struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	LastInitAt    *time.Time `json:"last_init_at,omitempty"`
	LastRestoreAt *time.Time `json:"last_restore_at,omitempty"`
	// Inits counts first-boot initializations of an empty upper layer.
	Inits int `json:"inits"`
}

func markerPath(l Layout) string {
	return filepath.Join(l.Base, markerName)
}

// ReadMarker returns the layer marker, or nil when none was written yet.
func ReadMarker(l Layout) (*Marker, error) {
	data, err := os.ReadFile(markerPath(l))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read layer marker: %w", err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layer marker: %w", err)
	}
	return &m, nil
}

// writeMarker replaces the marker atomically (temp file + rename).
func writeMarker(l Layout, m *Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal layer marker: %w", err)
	}

	tmp, err := os.CreateTemp(l.Base, markerName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create layer marker: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write layer marker: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync layer marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close layer marker: %w", err)
	}
	if err := os.Rename(tmp.Name(), markerPath(l)); err != nil {
		return fmt.Errorf("failed to install layer marker: %w", err)
	}
	return nil
}
