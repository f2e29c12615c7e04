package doctor

import "os/exec"

// TmuxCheck verifies the tmux binary is installed. Without it "tamaki
// up" has nothing to supervise the sender with.
type TmuxCheck struct {
	BaseCheck
}

func NewTmuxCheck() *TmuxCheck {
	return &TmuxCheck{
		BaseCheck: BaseCheck{
			CheckName:        "tmux-available",
			CheckDescription: "Check tmux is installed (required for session supervision)",
		},
	}
}

func (c *TmuxCheck) Run(ctx *CheckContext) *CheckResult {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "tmux not found in PATH",
			FixHint: "Install tmux: apt install tmux (Raspberry Pi OS) or brew install tmux (macOS)",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: "tmux found at " + path,
	}
}
