// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/runnerchat/internal/storage"
	"github.com/jeranaias/runnerchat/internal/util"
)

const maxErrorRunes = 120

// =============================================================================
// RENDERING
// =============================================================================

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(panelStyle.Render(m.renderHardware()))
	if m.summary != nil {
		b.WriteString("\n")
		b.WriteString(panelStyle.Render(renderSummary(*m.summary)))
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	status := idleStyle.Render("○ idle")
	if m.snapshot.InferenceActive {
		status = activeStyle.Render("● inference active")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render(m.title), "  ", status)
}

func (m Model) renderHardware() string {
	s := m.snapshot
	rows := []string{
		sectionStyle.Render("Hardware"),
		row("GPU", m.utilBar.ViewAs(s.GPUUtilization/100)+" "+valueStyle.Render(formatPercent(s.GPUUtilization))),
		row("Memory", m.memBar.ViewAs(s.GPUMemoryUsage/100)+" "+valueStyle.Render(formatPercent(s.GPUMemoryUsage))),
		row("Tokens/sec", valueStyle.Render(fmt.Sprintf("%.1f", s.TokensPerSecond))),
		row("Latency", valueStyle.Render(formatLatency(s.Latency))),
		row("Temperature", formatTemperature(s.Temperature)),
	}
	return strings.Join(rows, "\n")
}

func renderSummary(sum storage.Summary) string {
	rows := []string{
		sectionStyle.Render("Requests"),
		row("Total", valueStyle.Render(fmt.Sprintf("%d", sum.TotalRequests))),
		row("Errors", valueStyle.Render(fmt.Sprintf("%d", sum.TotalErrors))),
		row("Error rate", errorRateStyle(sum.ErrorRate).Render(fmt.Sprintf("%.1f%%", sum.ErrorRate*100))),
		row("Avg response", valueStyle.Render(formatMillis(sum.AvgResponseTimeMs))),
		row("Avg first tok", valueStyle.Render(formatMillis(sum.AvgTimeToFirstTokenMs))),
		row("Avg tokens", valueStyle.Render(fmt.Sprintf("%.0f", sum.AvgTokensOut))),
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderFooter() string {
	var parts []string
	if m.lastErr != nil {
		parts = append(parts, errorStyle.Render("error: "+util.TruncateRunes(m.lastErr.Error(), maxErrorRunes)))
	}
	if m.updatedAt.IsZero() {
		parts = append(parts, hintStyle.Render("waiting for first sample..."))
	} else {
		parts = append(parts, hintStyle.Render(fmt.Sprintf("updated %s · every %s · %d samples",
			m.updatedAt.Format("15:04:05"), m.interval, m.samples)))
	}
	parts = append(parts, hintStyle.Render("r refresh · q quit"))
	return strings.Join(parts, "\n")
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

// =============================================================================
// FORMATTING
// =============================================================================

func formatPercent(v float64) string {
	return fmt.Sprintf("%5.1f%%", v)
}

func formatLatency(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f ms/token", ms)
}

func formatTemperature(celsius float64) string {
	if celsius <= 0 {
		return idleStyle.Render("n/a")
	}
	return temperatureStyle(celsius).Render(fmt.Sprintf("%.0f°C", celsius))
}

func formatMillis(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond).String()
}
