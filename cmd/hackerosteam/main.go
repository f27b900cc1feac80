package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackeros/hackerosteam/internal/cmd"
	"github.com/hackeros/hackerosteam/internal/diag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err == nil {
		return
	}
	code := cmd.ExitCode(err)
	var exit *cmd.ExitError
	if !errors.As(err, &exit) {
		fmt.Fprintln(os.Stderr, diag.Describe(err, diag.Language()))
	}
	os.Exit(code)
}
