package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/lockfile"
	"github.com/wardenhq/warden/internal/logging"
)

var RestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the instance",
	Long: `Stops the running instance if there is one, then starts a fresh one in
the foreground.`,
	RunE: runRestart,
}

func init() {
	RestartCmd.Flags().IntVar(&startPort, "port", 0, "Preferred service port (overrides config and WARDEN_PORT)")
}

func runRestart(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	log := logging.New(verbose)

	dir, err := config.Dir()
	if err != nil {
		return err
	}
	mgr := lockfile.NewManager(dir, log.WithField("component", "lockfile"))

	running, _, err := mgr.Status()
	if err != nil {
		return err
	}
	if running {
		if err := stopInstance(mgr); err != nil {
			return fmt.Errorf("stop prior instance: %w", err)
		}
	}
	return runStart(cmd, args)
}
