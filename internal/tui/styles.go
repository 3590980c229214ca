package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/diagnostics"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan

	ColorSuccess = lipgloss.Color("#10B981") // Green
	ColorWarning = lipgloss.Color("#F59E0B") // Amber
	ColorError   = lipgloss.Color("#EF4444") // Red

	ColorText      = lipgloss.Color("#E5E7EB")
	ColorTextMuted = lipgloss.Color("#9CA3AF")
	ColorBorder    = lipgloss.Color("#374151")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Width(12)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	SearchMarkStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	AddedStyle   = lipgloss.NewStyle().Foreground(ColorSuccess)
	RemovedStyle = lipgloss.NewStyle().Foreground(ColorError)
)

// StatusColor maps a run status onto the palette.
func StatusColor(s core.RunStatus) lipgloss.Color {
	switch s {
	case core.StatusCompleted:
		return ColorSuccess
	case core.StatusCompletedWithDegraded, core.StatusAwaitingApproval:
		return ColorWarning
	case core.StatusFailed:
		return ColorError
	case core.StatusRunning, core.StatusPlanning:
		return ColorSecondary
	default:
		return ColorTextMuted
	}
}

// StatusStyle styles a status label.
func StatusStyle(s core.RunStatus) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(StatusColor(s)).Bold(true)
}

func checkStyle(s diagnostics.Status) lipgloss.Style {
	switch s {
	case diagnostics.StatusOK:
		return lipgloss.NewStyle().Foreground(ColorSuccess)
	case diagnostics.StatusWarn:
		return lipgloss.NewStyle().Foreground(ColorWarning)
	default:
		return lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	}
}
