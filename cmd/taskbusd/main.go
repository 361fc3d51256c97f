package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// version is stamped into the tracing resource's service.version
// attribute alongside service.name, so a span from this build is
// distinguishable from one emitted by a different taskbusd release.
const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskbusd",
		Short: "taskbusd task bus daemon",
		Long:  "Run the taskbus deferred task bus as a long-lived daemon (daemon), or print the build version (version)",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the taskbusd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("taskbusd " + version)
			return nil
		},
	}
}
