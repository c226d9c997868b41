package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/browser"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/lockfile"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/wsserver"
)

// Styles for the status report
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show instance status",
	Long: `Reports whether an instance is running in this directory and, when it
is, its port, connected clients, and live debug sessions.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	mgr := lockfile.NewManager(dir, log.WithField("component", "lockfile"))
	running, lock, err := mgr.Status()
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Warden Status"))

	if !running {
		fmt.Println(badStyle.Render("● Not running"))
		if lock != nil {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  Stale lock from dead pid %d; it will be reclaimed on the next start.", lock.PID)))
		}
		fmt.Println(dimStyle.Render("  Run 'warden start' to launch."))
		return nil
	}

	fmt.Println(okStyle.Render("● Running"))
	fmt.Printf("  PID:      %d\n", lock.PID)
	fmt.Printf("  Version:  %s\n", lock.Version)
	fmt.Printf("  Started:  %s\n", lock.StartTime.Local().Format(time.RFC1123))

	reply, err := fetchStatus(cfg.Host, cfg.Port)
	if err != nil {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  Control surface not answering on port %d (%v); the instance may be on a discovered port.", cfg.Port, err)))
		return nil
	}

	fmt.Printf("  Port:     %d\n", reply.Port)
	fmt.Printf("  Clients:  %d\n", reply.Connections)
	fmt.Printf("  Socket:   %s\n", renderBool(reply.SocketOK, "healthy", "degraded"))
	fmt.Printf("  Browser:  %s\n", renderBool(reply.BrowserReachable, "reachable", "not reachable"))
	if !reply.CheckedAt.IsZero() {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  Last health check: %s", reply.CheckedAt.Local().Format(time.RFC1123))))
	}

	if len(reply.Sessions) > 0 {
		fmt.Println()
		fmt.Printf("Debug sessions: %d\n", len(reply.Sessions))
		for _, s := range reply.Sessions {
			fmt.Printf("  • %s/%s  port %d  %s\n", s.Purpose, s.Persona, s.Port, s.Status)
			for _, title := range pageTitles(s.Port) {
				fmt.Println(dimStyle.Render("      " + title))
			}
		}
	}
	return nil
}

// pageTitles lists the open page targets of one session's browser. Best
// effort: an unreachable browser just yields no titles.
func pageTitles(port int) []string {
	targets, err := browser.ListTargets(port)
	if err != nil {
		return nil
	}
	var titles []string
	for _, target := range targets {
		if target.Type != "page" {
			continue
		}
		title := target.Title
		if title == "" {
			title = target.URL
		}
		titles = append(titles, title)
	}
	return titles
}

func renderBool(ok bool, yes, no string) string {
	if ok {
		return okStyle.Render(yes)
	}
	return badStyle.Render(no)
}

// fetchStatus asks the running instance for its live state over the
// control surface.
func fetchStatus(host string, port int) (*wsserver.StatusReply, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/control/status", host, port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var reply wsserver.StatusReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode status reply: %w", err)
	}
	return &reply, nil
}
