package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state and persistent data usage",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := newController(cmd).Status(cmd.Context())
	if err != nil {
		return err
	}

	for _, line := range st.Lines() {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
