package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/hackeros/hackerosteam/internal/config"
	"github.com/hackeros/hackerosteam/internal/lifecycle"
	"github.com/hackeros/hackerosteam/internal/logging"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

// ExitError carries a launched command's non-zero exit code up to main.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("session command exited with status %d", e.Code)
}

var rootCmd = &cobra.Command{
	Use:   "hackerosteam",
	Short: "HackerOS Steam - Steam in a persistent, GPU-enabled container",
	Long: `hackerosteam runs Steam inside a rootless Podman container with access to
the host GPU, display, audio and input devices. The session home lives on a
persistent overlay layer that survives container removal.

Create the session and launch Steam:
  hackerosteam create
  hackerosteam run

Launch the Gamescope (Steam Deck) session:
  hackerosteam run gamescope-session-steam

Manage the session:
  hackerosteam status
  hackerosteam kill | restart | remove
  hackerosteam update

Interactive menu:
  hackerosteam tui`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { _ = logger.Sync() },
}

// Execute adds all child commands to the root command and runs it.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// setup loads the configuration and builds the logger before any command.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	l, err := logging.New(logging.Config{Level: c.Log.Level})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	cfg, logger = c, l
	logger.Debug("configuration loaded",
		zap.String("session", cfg.Session.Name),
		zap.String("image", cfg.Session.Image))
	return nil
}

func newController(cmd *cobra.Command) *lifecycle.Controller {
	return lifecycle.New(cfg, lifecycle.Options{
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Size:   terminalSize,
		Log:    logger,
	})
}

// terminalSize reports the size of the terminal on stdout.
func terminalSize() (height, width uint16, ok bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0, false
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return uint16(h), uint16(w), true
}

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}
