// Package cmd implements muxd's command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via
// -ldflags "-X github.com/mux-run/mux/backend/cmd/muxd/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	bind    string
	muxHome string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "muxd",
	Short: "muxd — multi-workspace AI coding agent host",
	Long:  "muxd hosts one AgentSession per workspace, mediating provider streams, tool calls, and git worktree lifecycle behind an HTTP API.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/mux/config.jsonc)")
	rootCmd.PersistentFlags().StringVar(&muxHome, "home", "", "directory for durable state: history, partials, init logs (default: ~/.local/share/mux)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("muxd %s\n", Version)
		},
	}
}

func resolveConfigPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	if v := os.Getenv("MUX_CONFIG"); v != "" {
		return v, nil
	}
	return defaultConfigPath()
}

func resolveMuxHome() (string, error) {
	if muxHome != "" {
		return muxHome, nil
	}
	if v := os.Getenv("MUX_HOME"); v != "" {
		return v, nil
	}
	return defaultMuxHome()
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
