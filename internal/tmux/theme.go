package tmux

import "fmt"

// Theme defines a color theme for the session's tmux status bar. A
// distinct bar makes the supervised session recognizable when the
// operator has other tmux sessions open on the same server.
type Theme struct {
	Name string // Human-readable name
	BG   string // Background color (hex or tmux color name)
	FG   string // Foreground color (hex or tmux color name)
}

// Style returns a human-readable representation of the theme colors.
func (t Theme) Style() string {
	return "bg:" + t.BG + " fg:" + t.FG
}

// SenderTheme returns the status bar theme for the sender session.
func SenderTheme() Theme {
	return Theme{Name: "sender", BG: "#0d5c63", FG: "#e0e0e0"}
}

// ReceiverTheme returns the status bar theme for debug receiver sessions.
func ReceiverTheme() Theme {
	return Theme{Name: "receiver", BG: "#1e3a5f", FG: "#e0e0e0"}
}

// ApplyTheme styles the session's status bar. Cosmetic only; failures
// are returned but callers may ignore them.
func (t *Tmux) ApplyTheme(session string, theme Theme) error {
	style := fmt.Sprintf("bg=%s,fg=%s", theme.BG, theme.FG)
	if _, err := t.run("set-option", "-t", session, "status-style", style); err != nil {
		return err
	}
	left := fmt.Sprintf(" %s │ #{session_name} ", theme.Name)
	_, err := t.run("set-option", "-t", session, "status-left", left)
	return err
}
