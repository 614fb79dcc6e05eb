package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ankit-raj78/xv6-RDMA/internal/logging"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "rdma-sim",
		Short: "Exercise the RDMA core over simulated memory and links",
		Long: `rdma-sim drives the RDMA core end to end without a kernel underneath:
user buffers live in simulated physical memory, and the network is an
in-memory Ethernet pipe between two simulated hosts.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config := logging.DefaultConfig()
			if verbose {
				config.Level = logging.LevelDebug
			}
			logging.SetDefault(logging.NewLogger(config))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newLoopbackCommand(),
		newNetworkCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
