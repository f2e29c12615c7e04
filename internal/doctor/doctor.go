// Package doctor implements environment diagnostics behind "tamaki
// doctor": each check inspects one precondition the sender or launcher
// depends on and reports OK, a warning, or an error with a fix hint.
package doctor

import (
	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/tmux"
)

// Status is the severity of a check result.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// CheckContext carries the environment every check inspects. Config is
// nil when loading failed; ConfigErr holds why.
type CheckContext struct {
	Config     *config.Config
	ConfigPath string
	ConfigErr  error
	StateDir   string
	Tmux       *tmux.Tmux
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name    string
	Status  Status
	Message string
	Details []string
	FixHint string
}

// Check is a single diagnostic.
type Check interface {
	Name() string
	Description() string
	Run(ctx *CheckContext) *CheckResult
	CanFix() bool
	Fix(ctx *CheckContext) error
}

// BaseCheck provides common check metadata.
type BaseCheck struct {
	CheckName        string
	CheckDescription string
}

func (b *BaseCheck) Name() string               { return b.CheckName }
func (b *BaseCheck) Description() string        { return b.CheckDescription }
func (b *BaseCheck) CanFix() bool               { return false }
func (b *BaseCheck) Fix(ctx *CheckContext) error { return nil }

// All returns the default check set in run order: toolchain first, then
// config, then the hardware and runtime state that depend on it.
func All() []Check {
	return []Check{
		NewTmuxCheck(),
		NewConfigCheck(),
		NewBusCheck(),
		NewPortCheck(),
		NewLockCheck(),
		NewSessionCheck(),
	}
}

// RunAll executes checks in order and returns every result.
func RunAll(ctx *CheckContext, checks []Check) []*CheckResult {
	results := make([]*CheckResult, 0, len(checks))
	for _, c := range checks {
		results = append(results, c.Run(ctx))
	}
	return results
}

// Worst returns the most severe status in results.
func Worst(results []*CheckResult) Status {
	worst := StatusOK
	for _, r := range results {
		if r.Status > worst {
			worst = r.Status
		}
	}
	return worst
}
