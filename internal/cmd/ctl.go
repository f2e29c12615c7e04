package cmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/command"
	"github.com/artificial-imagination/tamaki/internal/style"
)

var (
	ctlHost    string
	ctlPort    int
	ctlTimeout time.Duration
)

var ctlCmd = &cobra.Command{
	Use:     "ctl",
	GroupID: GroupSender,
	Short:   "Send a command to the running sender",
	Long: `Sends a JSON command over UDP to the sender's command port and
prints the reply. Targets the local sender by default; --host reaches
a sender on another machine.

Examples:
  tamaki ctl status
  tamaki ctl set-frequency 30
  tamaki ctl set-frequency 0        # unpaced, full speed
  tamaki ctl reboot                 # needs [system] enable_system_commands
  tamaki ctl raw '{"command":"get_status"}'
  tamaki ctl status --host 192.168.6.20`,
	RunE: requireSubcommand,
}

var ctlStatusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"get-status"},
	Short:   "Query the sender's frequency and sensor counts",
	RunE:    runCtlStatus,
}

var ctlSetFrequencyCmd = &cobra.Command{
	Use:     "set-frequency <hz>",
	Aliases: []string{"freq"},
	Short:   "Change the send frequency at runtime",
	Args:    cobra.ExactArgs(1),
	RunE:    runCtlSetFrequency,
}

var ctlRebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Ask the sender's host to reboot",
	RunE:  runCtlReboot,
}

var ctlShutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the sender's host to shut down",
	RunE:  runCtlShutdown,
}

var ctlRawCmd = &cobra.Command{
	Use:   "raw <json>",
	Short: "Send a raw JSON command",
	Args:  cobra.ExactArgs(1),
	RunE:  runCtlRaw,
}

func init() {
	rootCmd.AddCommand(ctlCmd)
	ctlCmd.AddCommand(ctlStatusCmd, ctlSetFrequencyCmd, ctlRebootCmd, ctlShutdownCmd, ctlRawCmd)

	ctlCmd.PersistentFlags().StringVar(&ctlHost, "host", "127.0.0.1", "Sender host")
	ctlCmd.PersistentFlags().IntVar(&ctlPort, "port", 0, "Command port (default from config)")
	ctlCmd.PersistentFlags().DurationVar(&ctlTimeout, "timeout", command.DefaultTimeout, "Reply timeout")
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// ctlClient builds a client for the flags plus config fallback.
func ctlClient() (*command.Client, error) {
	port := ctlPort
	if port == 0 {
		cfg, _, err := loadConfig()
		if err != nil {
			return nil, err
		}
		port = cfg.Network.CommandPort
	}
	c := command.NewClient(net.JoinHostPort(ctlHost, strconv.Itoa(port)))
	c.SetTimeout(ctlTimeout)
	return c, nil
}

func runCtlStatus(cmd *cobra.Command, args []string) error {
	c, err := ctlClient()
	if err != nil {
		return err
	}
	report, err := c.GetStatus()
	if err != nil {
		return fmt.Errorf("sender not answering: %w", err)
	}
	fmt.Printf("%s Sender %s\n", style.SuccessPrefix, report.Status)
	fmt.Printf("  frequency:   %s Hz\n", command.FormatHz(report.SendFrequencyHz))
	fmt.Printf("  sensors:     %d initialized / %d configured\n",
		report.InitializedSensors, report.ActiveConfiguredSensors)
	return nil
}

func runCtlSetFrequency(cmd *cobra.Command, args []string) error {
	hz, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid frequency %q", args[0])
	}
	c, err := ctlClient()
	if err != nil {
		return err
	}
	reply, err := c.SetFrequency(hz)
	if err != nil {
		return fmt.Errorf("sender not answering: %w", err)
	}
	printReply(reply)
	return nil
}

func runCtlReboot(cmd *cobra.Command, args []string) error {
	c, err := ctlClient()
	if err != nil {
		return err
	}
	reply, err := c.Reboot()
	if err != nil {
		return fmt.Errorf("sender not answering: %w", err)
	}
	printReply(reply)
	return nil
}

func runCtlShutdown(cmd *cobra.Command, args []string) error {
	c, err := ctlClient()
	if err != nil {
		return err
	}
	reply, err := c.Shutdown()
	if err != nil {
		return fmt.Errorf("sender not answering: %w", err)
	}
	printReply(reply)
	return nil
}

func runCtlRaw(cmd *cobra.Command, args []string) error {
	c, err := ctlClient()
	if err != nil {
		return err
	}
	reply, err := c.Raw([]byte(args[0]))
	if err != nil {
		return fmt.Errorf("sender not answering: %w", err)
	}
	printReply(reply)
	return nil
}

func printReply(reply string) {
	if strings.HasPrefix(reply, "NACK") {
		fmt.Printf("%s %s\n", style.ErrorPrefix, reply)
		return
	}
	fmt.Printf("%s %s\n", style.SuccessPrefix, reply)
}
