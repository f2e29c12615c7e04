package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/launcher"
	"github.com/artificial-imagination/tamaki/internal/style"
)

var (
	peekLines int
	peekAll   bool
)

var peekCmd = &cobra.Command{
	Use:     "peek",
	GroupID: GroupSession,
	Short:   "Print the sender session's recent output",
	Long: `Prints the sender session's scrollback without attaching to it.
Useful over flaky SSH links where a full attach is risky.

Examples:
  tamaki peek           # last 40 lines
  tamaki peek -n 200
  tamaki peek --all`,
	RunE: runPeek,
}

func init() {
	rootCmd.AddCommand(peekCmd)
	peekCmd.Flags().IntVarP(&peekLines, "lines", "n", 40, "Number of scrollback lines to print")
	peekCmd.Flags().BoolVar(&peekAll, "all", false, "Print the entire scrollback")
}

func runPeek(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := launcher.NewManager(cfg, path)
	if err != nil {
		return err
	}

	n := peekLines
	if peekAll {
		n = 0
	}
	out, err := mgr.Peek(n)
	if err != nil {
		if errors.Is(err, launcher.ErrNotRunning) {
			return fmt.Errorf("no session named %s; start one with 'tamaki up'", mgr.SessionName())
		}
		return err
	}

	fmt.Printf("%s\n", style.Dim.Render("── "+mgr.SessionName()+" ──"))
	fmt.Println(out)
	return nil
}
