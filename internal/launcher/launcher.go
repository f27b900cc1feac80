package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackeros/hackerosteam/internal/session"
)

// exitPollInterval and exitPollAttempts bound the wait for the daemon to
// mark an exec finished after its stream closed.
const (
	exitPollInterval = 50 * time.Millisecond
	exitPollAttempts = 40
)

// SizeFunc reports the caller's terminal size. ok is false when there is
// no terminal.
type SizeFunc func() (height, width uint16, ok bool)

// Output is where a launched process writes.
type Output struct {
	Stdout io.Writer
	Stderr io.Writer
	// Size, when set, sizes the exec to the caller's terminal and follows
	// SIGWINCH while the process runs.
	Size SizeFunc
}

// Launcher runs processes in the session container.
type Launcher struct {
	rt  Runtime
	log *zap.Logger
}

// New returns a Launcher using rt.
func New(rt Runtime, log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{rt: rt, log: log}
}

// Run starts cfg in container, writes every chunk through as it arrives
// and returns the process exit code once the output ends.
func (l *Launcher) Run(ctx context.Context, container string, cfg session.ExecConfig, out Output) (int, error) {
	a, err := Attach(ctx, l.rt, container, cfg)
	if err != nil {
		return -1, err
	}
	l.log.Debug("exec attached", zap.String("container", container), zap.String("exec", a.ID), zap.Strings("cmd", cfg.Cmd))

	if out.Size != nil && cfg.Tty {
		l.resize(ctx, a, out.Size)
		stop := l.followResize(ctx, a, out.Size)
		defer stop()
	}

	stdout, stderr := out.Stdout, out.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = stdout
	}

	for chunk, err := range a.Chunks() {
		if err != nil {
			return -1, err
		}
		w := stdout
		if chunk.Stream == Stderr {
			w = stderr
		}
		if _, err := w.Write(chunk.Data); err != nil {
			return -1, fmt.Errorf("writing exec output: %w", err)
		}
	}

	return l.exitCode(ctx, a.ID)
}

// exitCode waits for the daemon to report the exec finished.
func (l *Launcher) exitCode(ctx context.Context, id string) (int, error) {
	for i := 0; ; i++ {
		info, err := l.rt.ExecInspect(ctx, id)
		if err != nil {
			return -1, err
		}
		if !info.Running {
			return info.ExitCode, nil
		}
		if i >= exitPollAttempts {
			return -1, fmt.Errorf("exec %s still running after its output ended", id)
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(exitPollInterval):
		}
	}
}

func (l *Launcher) resize(ctx context.Context, a *Attachment, size SizeFunc) {
	h, w, ok := size()
	if !ok || h == 0 || w == 0 {
		return
	}
	// Fails while the exec is still setting up its terminal.
	if err := a.Resize(ctx, h, w); err != nil {
		l.log.Debug("exec resize failed", zap.String("exec", a.ID), zap.Error(err))
	}
}

func (l *Launcher) followResize(ctx context.Context, a *Attachment, size SizeFunc) func() {
	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigwinch:
				l.resize(ctx, a, size)
			}
		}
	}()
	return func() {
		signal.Stop(sigwinch)
		close(done)
	}
}
