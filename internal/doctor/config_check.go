package doctor

import (
	"errors"
	"fmt"

	"github.com/artificial-imagination/tamaki/internal/config"
)

// ConfigCheck reports whether the configuration file loaded and which
// installation it describes. A missing file is fixable: Fix writes a
// starter config with every default spelled out.
type ConfigCheck struct {
	BaseCheck
}

func NewConfigCheck() *ConfigCheck {
	return &ConfigCheck{
		BaseCheck: BaseCheck{
			CheckName:        "config-loads",
			CheckDescription: "Check the configuration file parses and validates",
		},
	}
}

func (c *ConfigCheck) CanFix() bool { return true }

func (c *ConfigCheck) Fix(ctx *CheckContext) error {
	if !errors.Is(ctx.ConfigErr, config.ErrNotFound) {
		return errors.New("config file exists; edit it by hand")
	}
	if err := config.WriteStarter(ctx.ConfigPath); err != nil {
		return err
	}
	// Reload so this check's re-run and the checks after it see the
	// starter config instead of the stale not-found error.
	ctx.Config, ctx.ConfigErr = config.Load(ctx.ConfigPath)
	return ctx.ConfigErr
}

func (c *ConfigCheck) Run(ctx *CheckContext) *CheckResult {
	if ctx.ConfigErr != nil {
		if errors.Is(ctx.ConfigErr, config.ErrNotFound) {
			return &CheckResult{
				Name:    c.Name(),
				Status:  StatusWarning,
				Message: "No config file; defaults apply",
				Details: []string{"Looked for: " + ctx.ConfigPath},
				FixHint: "Run 'tamaki doctor --fix' to write a starter config, then set [network] host",
			}
		}
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "Config failed to load",
			Details: []string{ctx.ConfigErr.Error()},
		}
	}

	cfg := ctx.Config
	details := []string{
		"Telemetry: " + cfg.DataAddr() + " (" + cfg.Sender.Format + ")",
		fmt.Sprintf("Command port: %d", cfg.Network.CommandPort),
		fmt.Sprintf("Sensors configured: %d", len(cfg.Sensors)),
	}
	if len(cfg.Sensors) == 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Config valid but no sensors configured",
			Details: details,
			FixHint: "Add [[sensors]] blocks; run 'tamaki scan' to find attached sensors",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: "Config valid: " + ctx.ConfigPath,
		Details: details,
	}
}
