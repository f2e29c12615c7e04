// Package command implements the UDP control channel: a JSON request
// per datagram, a text ACK/NACK or JSON status reply to the caller's
// address. The rendering host uses it to retune the sender without
// touching the Pi.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Wire command names.
const (
	CmdReboot       = "reboot"
	CmdShutdown     = "shutdown"
	CmdSetFrequency = "set_frequency"
	CmdGetStatus    = "get_status"
)

// maxRequestSize bounds a request datagram.
const maxRequestSize = 1024

// readTimeout is the receive deadline, which doubles as the shutdown
// poll interval.
const readTimeout = time.Second

// Controller is what the server steers. *telemetry.Sender implements it.
type Controller interface {
	Frequency() float64
	SetFrequency(hz float64) error
	SensorCounts() (initialized, configured int)
}

// StatusReport is the get_status reply. Field order and names are part
// of the wire contract.
type StatusReport struct {
	Status                  string  `json:"status"`
	SendFrequencyHz         float64 `json:"send_frequency_hz"`
	InitializedSensors      int     `json:"initialized_sensors"`
	ActiveConfiguredSensors int     `json:"active_configured_sensors"`
}

// Server listens for control datagrams.
type Server struct {
	Port        int
	Controller  Controller
	AllowSystem bool
	Logger      *slog.Logger

	// OnCommand, when set, observes every processed command. The sender
	// uses it to append to the events feed.
	OnCommand func(command, remote string, ok bool, detail string)

	// Ready, when set, is called once with the bound address.
	Ready func(addr net.Addr)

	execCommand func(argv ...string) error
}

// NewServer builds a control server on port. AllowSystem gates reboot
// and shutdown.
func NewServer(port int, ctrl Controller, allowSystem bool, logger *slog.Logger) *Server {
	return &Server{
		Port:        port,
		Controller:  ctrl,
		AllowSystem: allowSystem,
		Logger:      logger,
		execCommand: runSystemCommand,
	}
}

// Run binds the port and serves until ctx is canceled. The socket sets
// SO_REUSEADDR so a quick restart does not trip over the old binding.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(ctx, "udp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("binding command port %d: %w", s.Port, err)
	}
	defer pc.Close()
	s.Logger.Info("command listener started", "addr", pc.LocalAddr().String())
	if s.Ready != nil {
		s.Ready(pc.LocalAddr())
	}

	buf := make([]byte, maxRequestSize)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("command listener stopped")
			return nil
		default:
		}

		_ = pc.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.Logger.Error("command receive failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		reply, after := s.handle(buf[:n], addr.String())
		if reply != nil {
			if _, err := pc.WriteTo(reply, addr); err != nil {
				s.Logger.Error("command reply failed", "remote", addr.String(), "error", err)
			}
		}
		// System commands run after the reply is on the wire; the host
		// may not be around to send it afterwards.
		if after != nil {
			after()
		}
	}
}

// handle processes one request and returns the reply plus an optional
// post-reply action.
func (s *Server) handle(data []byte, remote string) ([]byte, func()) {
	s.Logger.Info("command received", "remote", remote, "raw", strings.TrimSpace(string(data)))

	var req map[string]any
	if err := json.Unmarshal(data, &req); err != nil {
		s.note("", remote, false, "invalid JSON")
		return []byte("NACK: Invalid JSON format"), nil
	}

	action, _ := req["command"].(string)
	switch action {
	case CmdReboot:
		return s.systemCommand(CmdReboot, remote, "sudo", "reboot")
	case CmdShutdown:
		return s.systemCommand(CmdShutdown, remote, "sudo", "shutdown", "-h", "now")
	case CmdSetFrequency:
		return s.setFrequency(req["hz"], remote), nil
	case CmdGetStatus:
		return s.status(remote), nil
	default:
		s.note(fmt.Sprintf("%v", req["command"]), remote, false, "unknown command")
		return []byte(fmt.Sprintf("NACK: Unknown command '%v'", req["command"])), nil
	}
}

func (s *Server) systemCommand(name, remote string, argv ...string) ([]byte, func()) {
	if !s.AllowSystem {
		s.Logger.Warn("system command refused", "command", name)
		s.note(name, remote, false, "disabled by configuration")
		return []byte(fmt.Sprintf("NACK: %s disabled by configuration.", name)), nil
	}

	s.Logger.Warn("executing system command", "command", name, "remote", remote)
	s.note(name, remote, true, "")
	after := func() {
		if err := s.execCommand(argv...); err != nil {
			s.Logger.Error("system command failed", "command", name, "error", err)
		}
	}
	return []byte(fmt.Sprintf("ACK: %s initiated.", name)), after
}

func (s *Server) setFrequency(val any, remote string) []byte {
	hz, ok := val.(float64)
	if !ok || hz < 0 {
		s.note(CmdSetFrequency, remote, false, fmt.Sprintf("invalid value %v", val))
		return []byte(fmt.Sprintf("NACK: Invalid frequency value '%v'", val))
	}
	if err := s.Controller.SetFrequency(hz); err != nil {
		s.note(CmdSetFrequency, remote, false, err.Error())
		return []byte(fmt.Sprintf("NACK: Invalid frequency value '%v'", val))
	}
	s.note(CmdSetFrequency, remote, true, FormatHz(hz)+" Hz")
	return []byte(fmt.Sprintf("ACK: Frequency set to %s Hz", FormatHz(hz)))
}

func (s *Server) status(remote string) []byte {
	initialized, configured := s.Controller.SensorCounts()
	report := StatusReport{
		Status:                  "OK",
		SendFrequencyHz:         s.Controller.Frequency(),
		InitializedSensors:      initialized,
		ActiveConfiguredSensors: configured,
	}
	data, err := json.Marshal(report)
	if err != nil {
		s.note(CmdGetStatus, remote, false, err.Error())
		return []byte(fmt.Sprintf("NACK: Error processing command - %v", err))
	}
	s.note(CmdGetStatus, remote, true, "")
	return data
}

func (s *Server) note(command, remote string, ok bool, detail string) {
	if s.OnCommand != nil {
		s.OnCommand(command, remote, ok, detail)
	}
}

// FormatHz renders a frequency the way the replies always have: whole
// values keep one decimal ("10.0"), fractional values print exact.
func FormatHz(hz float64) string {
	if hz == math.Trunc(hz) && math.Abs(hz) < 1e15 {
		return strconv.FormatFloat(hz, 'f', 1, 64)
	}
	return strconv.FormatFloat(hz, 'f', -1, 64)
}

func runSystemCommand(argv ...string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	return cmd.Run()
}
