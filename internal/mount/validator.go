package mount

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// Validator rejects mounts whose source is, or lies under, a blocked path.
type Validator struct {
	blockedPaths []string // expanded, symlink-resolved absolute paths
	reserved     []string // session paths the fixed mount set already owns
}

// NewValidator creates a Validator. Blocked paths are expanded and
// symlink-resolved so that comparisons match what the kernel would bind.
// Reserved targets are session paths that extra mounts may not shadow.
func NewValidator(blockedPaths, reservedTargets []string) (*Validator, error) {
	expanded := make([]string, 0, len(blockedPaths))

	for _, path := range blockedPaths {
		if path == "" {
			continue
		}

		expandedPath, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand blocked path '%s': %w", path, err)
		}

		absPath, err := filepath.Abs(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to convert blocked path '%s' to absolute: %w", path, err)
		}

		// A blocked path may not exist yet.
		realPath, err := filepath.EvalSymlinks(absPath)
		if err != nil {
			realPath = filepath.Clean(absPath)
		}

		expanded = append(expanded, realPath)
	}

	reserved := make([]string, 0, len(reservedTargets))
	for _, t := range reservedTargets {
		reserved = append(reserved, filepath.Clean(t))
	}

	return &Validator{blockedPaths: expanded, reserved: reserved}, nil
}

// Validate checks the source against blocked paths and the target against
// reserved session paths.
func (v *Validator) Validate(m *Mount) error {
	if m == nil {
		return fmt.Errorf("mount cannot be nil")
	}

	sourcePath, err := filepath.Abs(m.Source)
	if err != nil {
		sourcePath = filepath.Clean(m.Source)
	}

	realPath, err := filepath.EvalSymlinks(sourcePath)
	if err != nil {
		realPath = sourcePath
	}

	for _, blocked := range v.blockedPaths {
		if isUnderOrEqual(realPath, blocked) {
			if realPath != sourcePath {
				return fmt.Errorf("mount blocked: %s resolves to protected path %s", m.Source, blocked)
			}
			return fmt.Errorf("mount blocked: %s is a protected path", blocked)
		}
	}

	// Mounting inside the overlay home is allowed; replacing it is not.
	for _, r := range v.reserved {
		if m.Target == r {
			return fmt.Errorf("mount target %s is managed by the session", r)
		}
	}

	return nil
}

// isUnderOrEqual returns true if testPath is under or equal to basePath.
//   - "/home/user/.ssh" is under "/home/user/.ssh" (equal)
//   - "/home/user/.ssh/id_rsa" is under "/home/user/.ssh"
//   - "/home/user/.sshrc" is NOT under "/home/user/.ssh"
func isUnderOrEqual(testPath, basePath string) bool {
	if testPath == basePath {
		return true
	}

	baseWithSep := basePath
	if !strings.HasSuffix(baseWithSep, string(filepath.Separator)) {
		baseWithSep += string(filepath.Separator)
	}

	return strings.HasPrefix(testPath, baseWithSep)
}
