package color

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// SuccessStyle marks running forwards and successful operations.
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1B7F3B", Dark: "#5AF78E"})
	// WarningStyle marks partial outcomes such as a forward that is declared but not running.
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#F3F99D"})
	// ErrorStyle marks failures.
	ErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF5C57"}).Bold(true)
	// MutedStyle de-emphasizes secondary details.
	MutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"})
	// HeaderStyle is used for section titles.
	HeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0550AE", Dark: "#57C7FF"}).Bold(true)
)

// Initialize tells lipgloss which background the terminal has, so adaptive
// colors pick the readable variant.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
}

// Success renders s with SuccessStyle.
func Success(s string) string { return SuccessStyle.Render(s) }

// Warning renders s with WarningStyle.
func Warning(s string) string { return WarningStyle.Render(s) }

// Error renders s with ErrorStyle.
func Error(s string) string { return ErrorStyle.Render(s) }

// Muted renders s with MutedStyle.
func Muted(s string) string { return MutedStyle.Render(s) }
