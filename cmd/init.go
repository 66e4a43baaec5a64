package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evmsim/evmsim/chain/config"
)

// initCmd represents the command provider for project initialization
var initCmd = &cobra.Command{
	Use:           "init",
	Short:         "Initializes a project configuration",
	Long:          `Initializes a project configuration`,
	Args:          cobra.NoArgs,
	RunE:          cmdRunInit,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	initCmd.Flags().String("out", "", fmt.Sprintf("output path for the new config file (default is ./%s)", DefaultProjectConfigFilename))
	initCmd.Flags().String("rpc-url", "", "endpoint of the node serving remote state to record in the new config")
	initCmd.Flags().Uint64("rpc-block", 0, "block height to pin state reads to in the new config")

	rootCmd.AddCommand(initCmd)
}

// cmdRunInit writes a default project configuration, updated with any provided flags, to the output path.
func cmdRunInit(cmd *cobra.Command, args []string) error {
	outputPath, err := cmd.Flags().GetString("out")
	if err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}
	if outputPath == "" {
		workingDirectory, err := os.Getwd()
		if err != nil {
			cmdLogger.Error("Failed to run the init command", err)
			return err
		}
		outputPath = filepath.Join(workingDirectory, DefaultProjectConfigFilename)
	}

	projectConfig := config.GetDefaultProjectConfig()

	if cmd.Flags().Changed("rpc-url") {
		projectConfig.Fork.RpcUrl, err = cmd.Flags().GetString("rpc-url")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("rpc-block") {
		projectConfig.Fork.RpcBlock, err = cmd.Flags().GetUint64("rpc-block")
		if err != nil {
			return err
		}
	}

	if err = projectConfig.WriteToFile(outputPath); err != nil {
		cmdLogger.Error("Failed to write the project configuration", err)
		return err
	}

	cmdLogger.Info("Project configuration successfully written to: ", outputPath)
	return nil
}
