// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// COLORS
// =============================================================================

// All colors adapt to light and dark terminals.
var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"} // cyan
	colorPurple  = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	colorError   = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
	colorText    = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#45475A"}
)

// Progress bar gradient endpoints. bubbles/progress takes plain hex strings.
const (
	gradientStart = "#22D3EE"
	gradientEnd   = "#A78BFA"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	activeStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	hintStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	sectionStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)
)

// temperatureStyle colors a GPU temperature by how hot it runs.
func temperatureStyle(celsius float64) lipgloss.Style {
	switch {
	case celsius >= 85:
		return valueStyle.Foreground(colorError)
	case celsius >= 70:
		return valueStyle.Foreground(colorWarning)
	default:
		return valueStyle
	}
}

// errorRateStyle colors the chat error rate.
func errorRateStyle(rate float64) lipgloss.Style {
	switch {
	case rate >= 0.1:
		return valueStyle.Foreground(colorError)
	case rate > 0:
		return valueStyle.Foreground(colorWarning)
	default:
		return valueStyle.Foreground(colorSuccess)
	}
}
