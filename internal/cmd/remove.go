package cmd

import (
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete the session container, keeping persistent data",
	Long: `Stop and delete the session container. The persistent home layer stays
on disk and is reused by the next create.`,
	Args: cobra.NoArgs,
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	return newController(cmd).Remove(cmd.Context())
}
