package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is the semantic version of this build.
const version = "0.2.0"

// versionCmd represents the command provider for the version
var versionCmd = &cobra.Command{
	Use:           "version",
	Short:         "Displays the version",
	Long:          `Displays the version`,
	Args:          cobra.NoArgs,
	RunE:          cmdRunVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func cmdRunVersion(cmd *cobra.Command, args []string) error {
	fmt.Println("evmsim " + version)
	return nil
}
