// Package cmd wires the calder CLI: serve runs the agent runtime, chat
// attaches a terminal client to a running gateway, and the remaining
// commands manage configuration and sessions.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/calder-ai/calder/pkg/protocol"
)

// Version is set via ldflags at release build time.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "calder",
	Short: "Calder is a conversational agent runtime",
	Long: `Calder runs a multi-channel conversational agent: a turn pipeline with
a bounded tool loop, layered memory, autonomous goals, and plan mode,
reachable over Telegram, Discord, WebSocket, and webhooks.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.calder/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("calder %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

// resolveConfigPath picks the config file: --config flag, then the
// CALDER_CONFIG env var, then ~/.calder/config.json.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := os.Getenv("CALDER_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".calder", "config.json")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
