// Package style centralizes terminal styling for CLI output.
//
// All human-facing output goes through these styles so color policy
// lives in one place. NO_COLOR and dumb terminals degrade to plain text
// via termenv profile detection.
package style

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette (256-color codes, consistent across commands).
var (
	colorPrimary = lipgloss.Color("39")  // blue
	colorSuccess = lipgloss.Color("76")  // green
	colorWarning = lipgloss.Color("214") // orange
	colorError   = lipgloss.Color("196") // red
	colorMuted   = lipgloss.Color("242") // gray
)

var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Foreground(colorMuted)
	Success = lipgloss.NewStyle().Foreground(colorSuccess)
	Warning = lipgloss.NewStyle().Foreground(colorWarning)
	Error   = lipgloss.NewStyle().Foreground(colorError)
	Info    = lipgloss.NewStyle().Foreground(colorPrimary)
)

// Rendered prefixes for one-line status messages.
var (
	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("!")
	ErrorPrefix   = Error.Render("✗")
)

func init() {
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}
