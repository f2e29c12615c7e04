package doctor

import (
	"fmt"
	"net"

	"github.com/artificial-imagination/tamaki/internal/launcher"
	"github.com/artificial-imagination/tamaki/internal/lock"
)

// PortCheck probes the command port. A running sender holding it is
// healthy; anything else holding it will break "tamaki send".
type PortCheck struct {
	BaseCheck
}

func NewPortCheck() *PortCheck {
	return &PortCheck{
		BaseCheck: BaseCheck{
			CheckName:        "command-port",
			CheckDescription: "Check the UDP command port is bindable or held by the sender",
		},
	}
}

func (c *PortCheck) Run(ctx *CheckContext) *CheckResult {
	if ctx.Config == nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Skipped (no config)",
		}
	}
	port := ctx.Config.Network.CommandPort

	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err == nil {
		_ = pc.Close()
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: fmt.Sprintf("Port %d free", port),
		}
	}

	// Bind failed. A live sender lock explains it.
	info, readErr := lock.New(launcher.SenderLockPath(ctx.StateDir)).Read()
	if readErr == nil && !info.IsStale() {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: fmt.Sprintf("Port %d held by running sender (pid %d)", port, info.PID),
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusWarning,
		Message: fmt.Sprintf("Port %d in use by an unknown process", port),
		Details: []string{err.Error()},
		FixHint: fmt.Sprintf("Find the holder: sudo ss -ulpn 'sport = :%d'", port),
	}
}
