package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/lockfile"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/procutil"
)

const (
	// stopGraceWindow is how long the instance gets to run its own teardown
	// after the cooperative signal.
	stopGraceWindow = 10 * time.Second
	stopPollEvery   = 250 * time.Millisecond
)

var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running instance",
	Long: `Signals the instance recorded in the lock file to shut down and waits
for it to exit. Escalates to a forceful kill if the instance ignores the
cooperative signal.`,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
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
	if !running {
		fmt.Println("No instance is running.")
		return nil
	}
	return stopInstance(mgr)
}

// stopInstance signals the lock holder and waits for it to die, clearing
// the lock if the instance never got to its own teardown.
func stopInstance(mgr *lockfile.Manager) error {
	running, lock, err := mgr.Status()
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	pid := lock.PID

	fmt.Printf("Stopping instance (pid %d)...\n", pid)
	if err := procutil.Terminate(pid); err != nil {
		return fmt.Errorf("signal instance: %w", err)
	}
	if waitDead(pid, stopGraceWindow) {
		clearLockFor(mgr, pid)
		fmt.Println("Instance stopped.")
		return nil
	}

	fmt.Println("Instance ignored the termination signal, killing forcefully...")
	if err := procutil.ForceKill(pid); err != nil {
		return fmt.Errorf("kill instance: %w", err)
	}
	if !waitDead(pid, 2*time.Second) {
		return fmt.Errorf("instance %d still alive after forceful kill", pid)
	}
	clearLockFor(mgr, pid)
	fmt.Println("Instance killed.")
	return nil
}

func waitDead(pid int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !procutil.Alive(pid) {
			return true
		}
		time.Sleep(stopPollEvery)
	}
	return !procutil.Alive(pid)
}

// clearLockFor removes a lock left behind by an instance that died without
// running its teardown. A lock naming any other pid is left alone.
func clearLockFor(mgr *lockfile.Manager, pid int) {
	lock, err := mgr.Read()
	if err != nil || lock == nil || lock.PID != pid {
		return
	}
	os.Remove(mgr.Path())
}
