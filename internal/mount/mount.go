package mount

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Mount is a user-requested bind of a host path into the session.
type Mount struct {
	Source   string // Host path (expanded absolute path)
	Target   string // Session path (defaults to same as source)
	ReadOnly bool   // Default true
}

// Parse parses a mount specification string into a Mount.
//
// Formats:
//   - "~/Games" -> source and target both the expanded path, read-only
//   - "~/Games:rw" -> same, read-write
//   - "/mnt/library:/home/steam/Library" -> explicit target, read-only
//   - "/mnt/library:/home/steam/Library:rw" -> explicit target, read-write
//
// The target is a path inside the session, so ~ is not expanded there and it
// must be absolute.
func Parse(spec string) (*Mount, error) {
	if spec == "" {
		return nil, fmt.Errorf("mount specification cannot be empty")
	}

	parts := strings.Split(spec, ":")

	source, err := expandPath(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid source path: %w", err)
	}
	m := &Mount{Source: source, Target: source, ReadOnly: true}

	mode := ""
	switch len(parts) {
	case 1:
	case 2:
		if parts[1] == "ro" || parts[1] == "rw" {
			mode = parts[1]
		} else {
			m.Target = parts[1]
		}
	case 3:
		m.Target = parts[1]
		mode = parts[2]
		if mode != "ro" && mode != "rw" {
			return nil, fmt.Errorf("invalid mode '%s': must be 'ro' or 'rw'", mode)
		}
	default:
		return nil, fmt.Errorf("invalid mount specification: too many colons")
	}

	if !filepath.IsAbs(m.Target) {
		return nil, fmt.Errorf("invalid target path '%s': must be absolute", m.Target)
	}
	m.Target = filepath.Clean(m.Target)
	m.ReadOnly = mode != "rw"

	return m, nil
}

// OCI converts the mount into a runtime-spec bind mount.
func (m *Mount) OCI() specs.Mount {
	mode := "rw"
	if m.ReadOnly {
		mode = "ro"
	}
	return specs.Mount{
		Destination: m.Target,
		Type:        "bind",
		Source:      m.Source,
		Options:     []string{"rbind", mode},
	}
}

// ParseAll parses and validates every spec, in order.
func ParseAll(mountSpecs []string, v *Validator) ([]specs.Mount, error) {
	out := make([]specs.Mount, 0, len(mountSpecs))
	for _, s := range mountSpecs {
		m, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid mount '%s': %w", s, err)
		}
		if v != nil {
			if err := v.Validate(m); err != nil {
				return nil, fmt.Errorf("mount validation failed: %w", err)
			}
		}
		out = append(out, m.OCI())
	}
	return out, nil
}

// expandPath expands ~ to home directory and returns an absolute path
func expandPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %w", err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to convert to absolute path: %w", err)
	}

	return filepath.Clean(abs), nil
}
