package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/command"
	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/events"
	"github.com/artificial-imagination/tamaki/internal/i2c"
	"github.com/artificial-imagination/tamaki/internal/launcher"
	"github.com/artificial-imagination/tamaki/internal/lock"
	"github.com/artificial-imagination/tamaki/internal/metrics"
	"github.com/artificial-imagination/tamaki/internal/tca9548a"
	"github.com/artificial-imagination/tamaki/internal/telemetry"
)

var sendCmd = &cobra.Command{
	Use:     "send",
	GroupID: GroupSender,
	Short:   "Run the sender in the foreground",
	Long: `Runs the telemetry sender in the foreground: initializes the
configured sensors, streams their readings over UDP at the configured
frequency, and answers commands on the command port.

This is what "tamaki up" runs inside the supervised session. Running
it directly is useful for debugging; logs go to stdout as JSON lines.

The sender holds a lock under the state dir so two senders cannot
fight over the I2C bus and the command port.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("sender starting",
		"config", path,
		"target", cfg.DataAddr(),
		"format", cfg.Sender.Format,
		"frequency_hz", cfg.Sender.FrequencyHz,
		"sensors_configured", len(cfg.Sensors))

	stateDir, err := config.StateDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	// One sender per host: two would fight over the bus and the port.
	senderLock := lock.New(launcher.SenderLockPath(stateDir))
	if err := senderLock.Acquire(os.Getenv("TAMAKI_LAUNCH_ID")); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("another sender is running (%s)", senderLock.Status())
		}
		return err
	}
	defer func() { _ = senderLock.Release() }()

	met := metrics.New()

	// Missing hardware is fatal only when sensors are configured; a
	// sensorless sender still exercises the wire path.
	var sources []*telemetry.Source
	bus, err := i2c.Open(cfg.Bus.Device)
	if err != nil {
		if len(cfg.Sensors) > 0 {
			return fmt.Errorf("opening %s: %w", cfg.Bus.Device, err)
		}
		logger.Warn("i2c bus unavailable, running sensorless",
			"device", cfg.Bus.Device, "error", err.Error())
	} else {
		defer bus.Close()
		mux := tca9548a.New(bus, cfg.Bus.MuxAddress)
		sources = telemetry.BuildSources(bus, mux, cfg.Sensors, logger)
	}

	sender, err := telemetry.New(cfg, sources, met, logger)
	if err != nil {
		return err
	}
	defer sender.Close()

	_ = events.Log(stateDir, events.TypeSenderStart, events.ActorSender,
		events.SenderStartPayload(sender.SourceIDs(), sender.Frequency(), cfg.Sender.Format))

	srv := command.NewServer(cfg.Network.CommandPort, sender, cfg.System.EnableSystemCommands, logger)
	srv.OnCommand = func(name, remote string, ok bool, detail string) {
		met.CommandsTotal.WithLabelValues(name).Inc()
		_ = events.Log(stateDir, events.TypeCommand, events.ActorSender,
			events.CommandPayload(name, remote, ok, detail))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	start := func(f func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(ctx); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}()
	}

	start(srv.Run)
	start(sender.Run)
	if cfg.Metrics.Enabled {
		start(func(ctx context.Context) error {
			return met.Serve(ctx, cfg.Metrics.Listen)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	reason := "signal"
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case runErr = <-errCh:
		logger.Error("component failed", "error", runErr.Error())
		reason = "error"
	}
	cancel()
	wg.Wait()

	_ = events.Log(stateDir, events.TypeSenderStop, events.ActorSender,
		events.SenderStopPayload(reason, sender.PacketsSent()))
	return runErr
}
