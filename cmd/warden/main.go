package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/commands"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - per-directory supervisor for debug-capable browser sessions",
	Long: `Warden supervises one service instance per working directory: it claims
an instance lock, secures a service port, hosts the real-time channel and
control surface, and coordinates remotely-debuggable browser sessions.

Commands:
  start      Start the supervisor in the foreground
  stop       Stop the running instance
  restart    Stop the running instance and start a fresh one
  status     Show instance status

Examples:
  warden start                    # Start on the configured port
  warden start --port 9000        # Prefer a specific port
  warden start --stay-alive       # Never replace a live instance
  warden stop

Config: .warden/config.yaml (override the directory with WARDEN_HOME)
Lock:   .warden/warden.lock`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.StopCmd)
	rootCmd.AddCommand(commands.RestartCmd)
	rootCmd.AddCommand(commands.StatusCmd)
}

func main() {
	commands.AppVersion = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
