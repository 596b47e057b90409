package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/n0roo/toc-kit/internal/buffer"
	"github.com/n0roo/toc-kit/internal/task"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Yellow
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray

	// Base styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	// Box styles
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	// Zone styles
	zoneGreenStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	zoneYellowStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	zoneRedStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	statusMutedStyle = lipgloss.NewStyle().
				Foreground(mutedColor)

	// Tab styles
	tabStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(mutedColor)

	activeTabStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(primaryColor).
			Bold(true).
			Underline(true)

	// Help style
	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// Progress bar
	progressFullStyle = lipgloss.NewStyle().
				Foreground(secondaryColor)

	progressEmptyStyle = lipgloss.NewStyle().
				Foreground(mutedColor)
)

// RenderProgressBar renders a progress bar for a 0..100 percentage
func RenderProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	empty := width - filled

	return progressFullStyle.Render(strings.Repeat("█", filled)) +
		progressEmptyStyle.Render(strings.Repeat("░", empty))
}

// ZoneStyle returns the style for a buffer zone
func ZoneStyle(zone string) lipgloss.Style {
	switch zone {
	case buffer.ZoneGreen:
		return zoneGreenStyle
	case buffer.ZoneYellow:
		return zoneYellowStyle
	case buffer.ZoneRed:
		return zoneRedStyle
	default:
		return statusMutedStyle
	}
}

// StatusIcon returns a styled icon for a task status
func StatusIcon(status string) string {
	switch status {
	case task.StatusInProgress:
		return zoneGreenStyle.Render("▶")
	case task.StatusReady:
		return zoneGreenStyle.Render("●")
	case task.StatusPending, task.StatusWaitingForKit:
		return zoneYellowStyle.Render("○")
	case task.StatusBlocked:
		return zoneRedStyle.Render("✗")
	case task.StatusCompleted:
		return zoneGreenStyle.Render("✓")
	default:
		return statusMutedStyle.Render("○")
	}
}
