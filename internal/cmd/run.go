package cmd

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [session-profile]",
	Short: "Launch Steam inside the session",
	Long: `Create the session if needed, start it and launch Steam attached to
this terminal.

Profiles:
  (none)                    steam -silent || steam
  gamescope-session-steam   gamescope -e -- steam -gamepadui
  deck                      gamescope -e -- steam -gamepadui`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	profile := ""
	if len(args) == 1 {
		profile = args[0]
	}

	code, err := newController(cmd).Run(cmd.Context(), profile)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
