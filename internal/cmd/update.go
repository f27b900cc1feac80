package cmd

import (
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Pull the latest session image",
	Long: `Pull the latest session image. The existing session keeps running on
the image it was created from until it is removed and created again.`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return newController(cmd).Update(cmd.Context())
}
