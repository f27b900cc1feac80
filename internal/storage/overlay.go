package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const lockName = ".lock"

// lockPollInterval bounds how long a cancelled context can go unnoticed
// while another process holds the layer lock.
const lockPollInterval = 50 * time.Millisecond

// ErrLowerNotEmpty means something wrote into the read-only floor of the
// overlay. The session would see those files in its home directory.
var ErrLowerNotEmpty = errors.New("overlay lower layer is not empty")

// Init reports what EnsureOverlay did.
type Init struct {
	// FirstBoot is true when the upper layer was absent or empty, so the
	// session starts from a fresh writable layer.
	FirstBoot bool
	LayerID   string
}

// EnsureOverlay prepares the upper and work directories. An absent or empty
// upper layer (or a missing work area) takes the first-boot path and both
// directories are (re)created; a populated upper layer is left untouched and
// restored as is.
//
// The check-then-act sequence runs under an exclusive flock on
// <base>/.lock, so concurrent invocations for the same data root serialize.
func (m *Manager) EnsureOverlay(ctx context.Context, l Layout) (Init, error) {
	unlock, err := lockLayer(ctx, l)
	if err != nil {
		return Init{}, err
	}
	defer unlock()

	lowerEmpty, err := isEmptyDir(l.Lower)
	if err != nil {
		return Init{}, fmt.Errorf("failed to inspect lower layer: %w", err)
	}
	if !lowerEmpty {
		return Init{}, fmt.Errorf("%w: %s", ErrLowerNotEmpty, l.Lower)
	}

	upperEmpty, err := isEmptyDir(l.Upper)
	if err != nil {
		return Init{}, fmt.Errorf("failed to inspect upper layer: %w", err)
	}
	_, workErr := os.Stat(l.Work)
	workMissing := os.IsNotExist(workErr)

	marker, err := ReadMarker(l)
	if err != nil {
		return Init{}, err
	}
	now := time.Now().UTC()
	if marker == nil {
		marker = &Marker{ID: uuid.NewString(), CreatedAt: now}
	}

	firstBoot := upperEmpty || workMissing
	if firstBoot {
		m.log().Info("initializing overlay layer", zap.String("upper", l.Upper))
		for _, dir := range []string{l.Upper, l.Work} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return Init{}, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		marker.Inits++
		marker.LastInitAt = &now
	} else {
		m.log().Info("restoring persistent layer", zap.String("upper", l.Upper), zap.String("layer", marker.ID))
		marker.LastRestoreAt = &now
	}

	if err := writeMarker(l, marker); err != nil {
		return Init{}, err
	}
	return Init{FirstBoot: firstBoot, LayerID: marker.ID}, nil
}

// lockLayer takes an exclusive advisory lock on the layer, polling so that
// ctx cancellation is honored while waiting.
func lockLayer(ctx context.Context, l Layout) (func(), error) {
	if err := os.MkdirAll(l.Base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", l.Base, err)
	}
	f, err := os.OpenFile(filepath.Join(l.Base, lockName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open layer lock: %w", err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = f.Close()
			return nil, fmt.Errorf("failed to lock layer: %w", err)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// isEmptyDir reports whether dir has no entries. A missing dir is empty.
func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
