package cmd

import (
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create and provision the session container",
	Long: `Create the session container if it does not exist yet.

A new container is started once to install Steam and create the session
user, then stopped. An existing container is left untouched.`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	return newController(cmd).Create(cmd.Context())
}
