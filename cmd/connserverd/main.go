// Command connserverd runs a pooled line-echo server on top of the server
// package and offers probing of its interfaces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "connserverd: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "connserverd",
		Short: "Pooled connection server daemon",
		Long: `connserverd accepts connections on one or more interfaces and hands
each one to a pool of workers running a line-echo protocol.

Signals: SIGHUP reopens log files and reloads admission lists,
SIGQUIT drains the queue and stops, SIGTERM and SIGINT stop at once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	root.AddCommand(
		serveCmd(&configPath),
		probeCmd(&configPath),
		versionCmd(),
	)

	return root
}
