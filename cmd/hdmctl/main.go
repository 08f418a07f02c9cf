// Hdmctl is a command-line client for HDM fiscal printers.
//
// It keeps a registry of devices, prints receipts and returns, ends shifts,
// synchronizes device clocks and can run the HTTP bridge that point-of-sale
// front ends use to reach the devices.
//
// Usage:
//
//	hdmctl [command] [flags]
//
// See 'hdmctl --help' for available commands.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/hdmctl/internal/logging"
	"github.com/muurk/hdmctl/internal/version"
)

// errReported marks failures whose result box has already been printed
var errReported = errors.New("operation failed")

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hdmctl",
	Short: "HDM fiscal printer client",
	Long: `A command-line client for HDM fiscal printers.

Devices are kept in a registry (~/.config/hdmctl/config.yaml by default).
Every operation logs in, sends one request and closes the connection; the
request sequence is saved back to the registry after each operation.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/hdmctl/config.yaml, .toml accepted)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent unless set or HDM_LOG_LEVEL is set")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show request payloads")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "hdmctl %s (commit: %s, protocol v%d, %s %s)\n",
			info.Version, info.Commit, info.ProtocolVersion, info.GoVersion, info.Platform)
	},
}
