package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/supervisor"
)

// AppVersion is stamped at build time and recorded in the instance lock.
var AppVersion = "0.0.0-dev"

var (
	startPort      int
	startStayAlive bool
)

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the supervisor in the foreground",
	Long: `Starts the supervisor: claims the per-directory instance lock, secures
the service port, and serves the real-time channel and control surface
until stopped.

By default a prior instance holding the preferred port is gracefully
replaced. With --stay-alive the prior instance is left in place and this
invocation reports it and exits successfully.`,
	RunE: runStart,
}

func init() {
	StartCmd.Flags().IntVar(&startPort, "port", 0, "Preferred service port (overrides config and WARDEN_PORT)")
	StartCmd.Flags().BoolVar(&startStayAlive, "stay-alive", false, "Never replace a live prior instance")
}

func runStart(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	log := logging.New(verbose)

	dir, err := config.Dir()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sup := supervisor.New(cfg, dir, AppVersion, log)
	if err := sup.Run(startPort, startStayAlive); err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			// The service the user asked for is up; that is success.
			fmt.Println("An instance is already running; leaving it in place.")
			return nil
		}
		return err
	}
	return nil
}
