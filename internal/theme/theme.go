// Package theme holds the terminal palette and status styles shared by the
// CLI reports and the confirmation prompt.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	// Butterscotch is the primary accent color.
	Butterscotch = "#FF9966"
	// Blue is the informational blue.
	Blue = "#9999CC"
	// RedAlert is the high-severity red.
	RedAlert = "#FF3333"
	// YellowCaution is the caution yellow.
	YellowCaution = "#FFCC00"
	// GreenOk is the success green.
	GreenOk = "#33FF33"
	// GalaxyGray is the muted neutral.
	GalaxyGray = "#52526A"
)

const (
	// IconDone marks a passing check or completed session.
	IconDone = "✓"
	// IconFailed marks a failing check or failed session.
	IconFailed = "✗"
	// IconAlert marks a warning.
	IconAlert = "⚠"
	// IconRunning marks an in-flight cycle.
	IconRunning = "▸"
)

var (
	// ButterscotchColor is the profile-aware terminal color for Butterscotch.
	ButterscotchColor = paletteColor(Butterscotch, "209", "11")
	// BlueColor is the profile-aware terminal color for Blue.
	BlueColor = paletteColor(Blue, "146", "12")
	// RedAlertColor is the profile-aware terminal color for RedAlert.
	RedAlertColor = paletteColor(RedAlert, "203", "9")
	// YellowCautionColor is the profile-aware terminal color for YellowCaution.
	YellowCautionColor = paletteColor(YellowCaution, "220", "11")
	// GreenOkColor is the profile-aware terminal color for GreenOk.
	GreenOkColor = paletteColor(GreenOk, "46", "10")
	// GalaxyGrayColor is the profile-aware terminal color for GalaxyGray.
	GalaxyGrayColor = paletteColor(GalaxyGray, "60", "8")
)

var (
	// ActiveStyle marks prompts awaiting the operator.
	ActiveStyle = lipgloss.NewStyle().Foreground(ButterscotchColor).Bold(true)
	// SuccessStyle marks passing and completed states.
	SuccessStyle = lipgloss.NewStyle().Foreground(GreenOkColor).Bold(true)
	// ErrorStyle marks failing states.
	ErrorStyle = lipgloss.NewStyle().Foreground(RedAlertColor).Bold(true)
	// WarningStyle marks caution states.
	WarningStyle = lipgloss.NewStyle().Foreground(YellowCautionColor).Bold(true)
	// InfoStyle marks informational text.
	InfoStyle = lipgloss.NewStyle().Foreground(BlueColor)
	// MutedStyle marks secondary detail.
	MutedStyle = lipgloss.NewStyle().Foreground(GalaxyGrayColor)
)

// Status renders a status word (ok, warn, fail, completed, failed,
// cancelled) with its icon and style. Unknown words render as info.
func Status(status string) string {
	word := strings.ToLower(strings.TrimSpace(status))
	switch word {
	case "ok", "pass", "completed":
		return SuccessStyle.Render(IconDone + " " + word)
	case "warn", "cancelled":
		return WarningStyle.Render(IconAlert + " " + word)
	case "fail", "failed":
		return ErrorStyle.Render(IconFailed + " " + word)
	default:
		return InfoStyle.Render(IconRunning + " " + word)
	}
}

var colorProfileFn = lipgloss.ColorProfile

func paletteColor(hex string, ansi256 string, ansi string) lipgloss.TerminalColor {
	switch colorProfileFn() {
	case termenv.ANSI256, termenv.ANSI:
		return lipgloss.CompleteAdaptiveColor{
			Light: lipgloss.CompleteColor{TrueColor: hex, ANSI256: ansi256, ANSI: ansi},
			Dark:  lipgloss.CompleteColor{TrueColor: hex, ANSI256: ansi256, ANSI: ansi},
		}
	default:
		return lipgloss.AdaptiveColor{Light: hex, Dark: hex}
	}
}
