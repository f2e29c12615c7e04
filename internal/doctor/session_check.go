package doctor

import (
	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/launcher"
	"github.com/artificial-imagination/tamaki/internal/tmux"
)

// SessionCheck classifies the supervised session: absent sessions are
// fine, zombies (session alive, sender dead) get flagged.
type SessionCheck struct {
	BaseCheck
}

func NewSessionCheck() *SessionCheck {
	return &SessionCheck{
		BaseCheck: BaseCheck{
			CheckName:        "session-health",
			CheckDescription: "Check the sender session for zombie state",
		},
	}
}

func (c *SessionCheck) Run(ctx *CheckContext) *CheckResult {
	tm := ctx.Tmux
	if tm == nil {
		tm = tmux.New()
	}
	if !tm.IsAvailable() {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Skipped (tmux not available)",
		}
	}

	cfg := ctx.Config
	if cfg == nil {
		cfg = config.Default()
	}
	session := cfg.Launcher.Session
	if session == "" {
		session = config.DefaultSession
	}

	health := tm.CheckSessionHealth(session, launcher.ProcessNames(cfg), 0)
	switch health {
	case tmux.SessionDead:
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: "No session named " + session,
		}
	case tmux.SessionHealthy:
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: "Session " + session + " healthy",
		}
	default:
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Session " + session + " is a zombie (" + health.String() + ")",
			FixHint: "Run 'tamaki up' to replace it, or 'tamaki down' to remove it",
		}
	}
}
