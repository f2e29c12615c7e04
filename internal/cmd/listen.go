package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/receiver"
	"github.com/artificial-imagination/tamaki/internal/style"
)

var (
	listenPort int
	listenRaw  bool
)

var listenCmd = &cobra.Command{
	Use:     "listen",
	GroupID: GroupDiag,
	Short:   "Print telemetry arriving on the data port",
	Long: `Runs a debug receiver that prints every datagram with its source
address. Run it on the rendering machine (or anywhere) to verify data
is flowing before TouchDesigner enters the picture. JSON payloads
print as-is; OSC messages decode to address and arguments.

Examples:
  tamaki listen
  tamaki listen --port 9000
  tamaki listen --raw`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().IntVar(&listenPort, "port", 0, "Port to listen on (default from config)")
	listenCmd.Flags().BoolVar(&listenRaw, "raw", false, "Print raw bytes without decoding")
}

func runListen(cmd *cobra.Command, args []string) error {
	port := listenPort
	if port == 0 {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		port = cfg.Network.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	r := &receiver.Receiver{
		Addr: fmt.Sprintf(":%d", port),
		Out:  os.Stdout,
		Raw:  listenRaw,
	}
	fmt.Printf("%s Listening for UDP packets on port %d (Ctrl-C stops)\n",
		style.SuccessPrefix, port)
	return r.Run(ctx)
}
