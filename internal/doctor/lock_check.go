package doctor

import (
	"fmt"

	"github.com/artificial-imagination/tamaki/internal/lock"
)

// LockCheck scans the state dir for sender locks and flags stale ones
// left behind by crashed processes. Stale locks are fixable.
type LockCheck struct {
	BaseCheck
}

func NewLockCheck() *LockCheck {
	return &LockCheck{
		BaseCheck: BaseCheck{
			CheckName:        "sender-locks",
			CheckDescription: "Check for stale sender lock files",
		},
	}
}

func (c *LockCheck) CanFix() bool { return true }

func (c *LockCheck) Fix(ctx *CheckContext) error {
	_, err := lock.CleanStaleLocks(ctx.StateDir)
	return err
}

func (c *LockCheck) Run(ctx *CheckContext) *CheckResult {
	locks, err := lock.FindAllLocks(ctx.StateDir)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "Cannot scan state dir",
			Details: []string{err.Error()},
		}
	}
	if len(locks) == 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: "No lock files",
		}
	}

	var details []string
	stale := 0
	for path, info := range locks {
		if info.IsStale() {
			stale++
			details = append(details, fmt.Sprintf("stale: %s (pid %d, acquired %s)",
				path, info.PID, info.AcquiredAt.Format("2006-01-02 15:04:05")))
		} else {
			details = append(details, fmt.Sprintf("live: %s (pid %d)", path, info.PID))
		}
	}

	if stale > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d stale lock file(s)", stale),
			Details: details,
			FixHint: "Run 'tamaki doctor --fix' to remove stale locks",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("%d live lock file(s)", len(locks)),
		Details: details,
	}
}
