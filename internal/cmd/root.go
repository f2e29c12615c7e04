// Package cmd implements the tamaki CLI.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/style"
	"github.com/artificial-imagination/tamaki/internal/version"
)

// Command groups for help output.
const (
	GroupSession = "session"
	GroupSender  = "sender"
	GroupDiag    = "diag"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "tamaki",
	Short: "Magnetometer telemetry sender and session supervisor",
	Long: `tamaki reads TLV493D magnetometers behind a TCA9548A multiplexer
and streams their field vectors over UDP to a rendering host, with a
tmux-supervised sender that survives SSH disconnects.

Typical day on the installation:
  tamaki up         # start the sender in a detached session
  tamaki status     # is it healthy?
  tamaki peek       # what is it logging?
  tamaki ctl set-frequency 30
  tamaki down       # stop it

Configuration is read from config.toml (see --config and TAMAKI_CONFIG).`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (default config.toml, or TAMAKI_CONFIG)")

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSession, Title: "Session Commands:"},
		&cobra.Group{ID: GroupSender, Title: "Sender Commands:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostic Commands:"},
	)
}

// Execute runs the root command. Errors print styled to stderr; the
// process exits non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path and loads it. A missing file
// falls back to defaults so diagnostics work on a bare host; any other
// error is fatal.
func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return config.Default(), path, nil
		}
		return nil, path, err
	}
	return cfg, path, nil
}
