package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/launcher"
	"github.com/artificial-imagination/tamaki/internal/style"
)

var upCmd = &cobra.Command{
	Use:     "up",
	GroupID: GroupSession,
	Short:   "Start the sender in a detached tmux session",
	Long: `Starts the sender inside a detached tmux session so it keeps
running after this terminal disconnects.

If a healthy session already exists, up leaves it alone. If a session
exists but the sender inside it died, the zombie is killed and a fresh
one is created. The inner command defaults to this binary re-invoked
as "tamaki send"; [launcher] command in the config overrides it.

Examples:
  tamaki up
  tamaki up --config /etc/tamaki/config.toml`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := launcher.NewManager(cfg, path)
	if err != nil {
		return err
	}

	res, err := mgr.Up(context.Background())
	if err != nil {
		if errors.Is(err, launcher.ErrAlreadyRunning) {
			fmt.Printf("%s Session %s already running\n",
				style.SuccessPrefix, style.Bold.Render(mgr.SessionName()))
			fmt.Printf("  %s\n", style.Dim.Render("tamaki peek shows its output; tamaki attach joins it"))
			return nil
		}
		return err
	}

	if res.Replaced {
		fmt.Printf("%s Replaced zombie session %s\n",
			style.WarningPrefix, style.Bold.Render(res.Session))
	}
	fmt.Printf("%s Session %s started (pane pid %s)\n",
		style.SuccessPrefix, style.Bold.Render(res.Session), res.PanePID)
	fmt.Printf("  %s\n", style.Dim.Render("command: "+res.Command))
	return nil
}
