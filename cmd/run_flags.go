package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evmsim/evmsim/chain/config"
)

// addRunFlags adds the various flags for the run command
func addRunFlags() {
	defaultConfig := config.GetDefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	runCmd.Flags().SortFlags = false

	// Config file
	runCmd.Flags().String("config", "", "path to config file")

	// Fork endpoint
	runCmd.Flags().String("rpc-url", "",
		fmt.Sprintf("endpoint of the node serving remote state (unless a config file is provided, default is %q)", defaultConfig.Fork.RpcUrl))

	// Fork anchor
	runCmd.Flags().Uint64("rpc-block", 0,
		fmt.Sprintf("block height every state read is pinned to (unless a config file is provided, default is %d)", defaultConfig.Fork.RpcBlock))

	// RPC client pool size
	runCmd.Flags().Uint("pool-size", 0,
		fmt.Sprintf("number of RPC clients to dial against the endpoint (unless a config file is provided, default is %d)", defaultConfig.Fork.PoolSize))

	// RPC request timeout
	runCmd.Flags().Uint("timeout", 0,
		fmt.Sprintf("number of seconds each RPC request attempt is bounded by (unless a config file is provided, default is %d)", defaultConfig.Fork.RequestTimeoutSeconds))

	// Cache directory
	runCmd.Flags().String("cache-dir", "",
		"directory path for the on-disk RPC result cache (default is in-memory caching only)")
}

// updateProjectConfigWithRunFlags will update the given projectConfig with any CLI arguments that were provided to
// the run command
func updateProjectConfigWithRunFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update the fork endpoint
	if cmd.Flags().Changed("rpc-url") {
		projectConfig.Fork.RpcUrl, err = cmd.Flags().GetString("rpc-url")
		if err != nil {
			return err
		}
	}

	// Update the fork anchor
	if cmd.Flags().Changed("rpc-block") {
		projectConfig.Fork.RpcBlock, err = cmd.Flags().GetUint64("rpc-block")
		if err != nil {
			return err
		}
	}

	// Update the pool size
	if cmd.Flags().Changed("pool-size") {
		projectConfig.Fork.PoolSize, err = cmd.Flags().GetUint("pool-size")
		if err != nil {
			return err
		}
	}

	// Update the request timeout
	if cmd.Flags().Changed("timeout") {
		projectConfig.Fork.RequestTimeoutSeconds, err = cmd.Flags().GetUint("timeout")
		if err != nil {
			return err
		}
	}

	// Update the cache directory
	if cmd.Flags().Changed("cache-dir") {
		projectConfig.Fork.CacheDirectory, err = cmd.Flags().GetString("cache-dir")
		if err != nil {
			return err
		}
	}

	return nil
}
