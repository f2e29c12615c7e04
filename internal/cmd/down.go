package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/launcher"
	"github.com/artificial-imagination/tamaki/internal/style"
)

var downForce bool

var downCmd = &cobra.Command{
	Use:     "down",
	GroupID: GroupSession,
	Short:   "Stop the sender session",
	Long: `Stops the sender session and every process inside it.

The sender first gets Ctrl-C and a short grace period so its shutdown
totals land in the scrollback; --force skips that and kills
immediately. Stopping an absent session is not an error.

Examples:
  tamaki down
  tamaki down --force`,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
	downCmd.Flags().BoolVar(&downForce, "force", false, "Skip graceful Ctrl-C, kill immediately")
}

func runDown(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := launcher.NewManager(cfg, path)
	if err != nil {
		return err
	}

	res, err := mgr.Down(downForce)
	if err != nil {
		return err
	}
	if !res.Stopped {
		fmt.Printf("%s No session named %s\n", style.Dim.Render("·"), res.Session)
		return nil
	}
	fmt.Printf("%s Session %s stopped\n", style.SuccessPrefix, style.Bold.Render(res.Session))
	return nil
}
