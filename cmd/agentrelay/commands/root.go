// Package commands provides the CLI commands for agentrelay.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel string
	pretty   bool
)

var rootCmd = &cobra.Command{
	Use:   "agentrelay",
	Short: "agentrelay - SSE relay between a browser chat UI and an upstream agent API",
	Long: `agentrelay bridges a browser chat UI and an upstream agent API.

It opens agent sessions upstream, forwards user messages, decodes the
upstream event stream and re-emits it to the browser as Server-Sent
Events. Run 'agentrelay serve' to start the relay.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand, show help
		cmd.Help()
	},
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human-readable log output")

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("agentrelay %s (%s)\n", Version, BuildTime))

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
