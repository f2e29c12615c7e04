package cmd

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/artificial-imagination/tamaki/internal/launcher"
)

var attachCmd = &cobra.Command{
	Use:     "attach",
	GroupID: GroupSession,
	Short:   "Attach this terminal to the sender session",
	Long: `Replaces this process with "tmux attach" on the sender session,
giving you its live output and scrollback. Detach with the usual
tmux binding (Ctrl-b d); the sender keeps running.

Requires a real terminal. For a non-interactive look at the output,
use "tamaki peek".`,
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("attach needs a terminal; use 'tamaki peek' instead")
	}

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := launcher.NewManager(cfg, path)
	if err != nil {
		return err
	}

	bin, argv, err := mgr.AttachArgv()
	if err != nil {
		if errors.Is(err, launcher.ErrNotRunning) {
			return fmt.Errorf("no session named %s; start one with 'tamaki up'", mgr.SessionName())
		}
		return err
	}

	// Exec replaces this process; on success nothing after runs.
	return syscall.Exec(bin, argv, os.Environ())
}
