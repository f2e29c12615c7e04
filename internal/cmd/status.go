package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/command"
	"github.com/artificial-imagination/tamaki/internal/launcher"
	"github.com/artificial-imagination/tamaki/internal/style"
	"github.com/artificial-imagination/tamaki/internal/tmux"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: GroupSession,
	Short:   "Show session, lock, and sender health",
	Long: `Shows the state of the whole installation in one place: the tmux
session and its zombie classification, who holds the sender lock, and
a live get_status round-trip to the running sender.

Examples:
  tamaki status
  tamaki status --json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "JSON output for scripting")
}

// statusReport is the JSON shape of "tamaki status --json".
type statusReport struct {
	Session       string                `json:"session"`
	SessionExists bool                  `json:"session_exists"`
	Health        string                `json:"health"`
	PanePID       string                `json:"pane_pid,omitempty"`
	PaneCommand   string                `json:"pane_command,omitempty"`
	LastActivity  string                `json:"last_activity,omitempty"`
	LockPID       int                   `json:"lock_pid,omitempty"`
	LockHostname  string                `json:"lock_hostname,omitempty"`
	LockStale     bool                  `json:"lock_stale,omitempty"`
	Sender        *command.StatusReport `json:"sender,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := launcher.NewManager(cfg, path)
	if err != nil {
		return err
	}

	st, err := mgr.Status()
	if err != nil {
		return err
	}

	// Live round trip; a dead or absent sender just times out.
	var sender *command.StatusReport
	if st.Health == tmux.SessionHealthy {
		c := command.NewClient(cfg.CommandAddr())
		c.SetTimeout(1500 * time.Millisecond)
		if report, err := c.GetStatus(); err == nil {
			sender = report
		}
	}

	if statusJSON {
		report := statusReport{
			Session:       st.Session,
			SessionExists: st.SessionExists,
			Health:        st.Health.String(),
			PanePID:       st.PanePID,
			PaneCommand:   st.PaneCommand,
			Sender:        sender,
		}
		if !st.Activity.IsZero() {
			report.LastActivity = st.Activity.Format(time.RFC3339)
		}
		if st.Lock != nil {
			report.LockPID = st.Lock.PID
			report.LockHostname = st.Lock.Hostname
			report.LockStale = st.LockStale
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printSessionStatus(st)
	printLockStatus(st)
	printSenderStatus(sender, st)
	return nil
}

func printSessionStatus(st *launcher.Status) {
	switch {
	case !st.SessionExists:
		fmt.Printf("%s No session named %s\n", style.Dim.Render("·"), style.Bold.Render(st.Session))
	case st.Health == tmux.SessionHealthy:
		fmt.Printf("%s Session %s healthy (pane pid %s, %s)\n",
			style.SuccessPrefix, style.Bold.Render(st.Session), st.PanePID, st.PaneCommand)
		if !st.Activity.IsZero() {
			fmt.Printf("  %s\n", style.Dim.Render("last activity "+ageString(st.Activity)))
		}
	default:
		fmt.Printf("%s Session %s is a zombie: %s\n",
			style.WarningPrefix, style.Bold.Render(st.Session), st.Health)
		fmt.Printf("  %s\n", style.Dim.Render("tamaki up replaces it; tamaki down removes it"))
	}
}

func printLockStatus(st *launcher.Status) {
	switch {
	case st.Lock == nil:
		fmt.Printf("%s No sender lock\n", style.Dim.Render("·"))
	case st.LockStale:
		fmt.Printf("%s Stale sender lock (pid %d is dead)\n", style.WarningPrefix, st.Lock.PID)
		fmt.Printf("  %s\n", style.Dim.Render("tamaki doctor --fix cleans it up"))
	default:
		fmt.Printf("%s Sender lock held by pid %d since %s\n",
			style.SuccessPrefix, st.Lock.PID, st.Lock.AcquiredAt.Format("15:04:05"))
	}
}

func printSenderStatus(sender *command.StatusReport, st *launcher.Status) {
	if sender == nil {
		if st.Health == tmux.SessionHealthy {
			fmt.Printf("%s Sender not answering on the command port\n", style.WarningPrefix)
		}
		return
	}
	fmt.Printf("%s Sender responding: %s Hz, %d/%d sensors initialized\n",
		style.SuccessPrefix,
		command.FormatHz(sender.SendFrequencyHz),
		sender.InitializedSensors,
		sender.ActiveConfiguredSensors)
}

func ageString(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%.1fh ago", d.Hours())
	}
}
