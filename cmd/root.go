package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/evmsim/evmsim/logging"
)

// cmdLogger is the logger used for command-surface output before a run's logging configuration takes effect.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel, true)

var rootCmd = &cobra.Command{
	Use:   "evmsim",
	Short: "A transaction simulator over forked live-chain state",
	Long:  "evmsim simulates execution against the state of a live chain, pinned to a fixed historical block height",
}

func Execute() error {
	return rootCmd.Execute()
}
