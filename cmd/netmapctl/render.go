package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/henno/go-topology/internal/session"
)

var (
	colorScanning  = lipgloss.Color("#EAB308")
	colorComplete  = lipgloss.Color("#22C55E")
	colorCancelled = lipgloss.Color("#6B7280")
	colorError     = lipgloss.Color("#EF4444")
	colorBorder    = lipgloss.Color("#374151")

	styleHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleCell   = lipgloss.NewStyle().Padding(0, 1)
	styleDimmed = lipgloss.NewStyle().Foreground(colorCancelled)
)

func statusBadge(s session.Status) string {
	var color lipgloss.Color
	switch s {
	case session.StatusScanning:
		color = colorScanning
	case session.StatusComplete:
		color = colorComplete
	case session.StatusError:
		color = colorError
	default:
		color = colorCancelled
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(string(s))
}

// summaryLine renders one line describing a session.
func summaryLine(s session.Snapshot) string {
	parts := []string{
		statusBadge(s.Status),
		fmt.Sprintf("%s via %s", s.Network, s.CoreSwitch),
		fmt.Sprintf("%d devices", s.DiscoveredCount),
		styleDimmed.Render(s.ID),
	}
	if s.Error != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(colorError).Render(s.Error))
	}
	return strings.Join(parts, "  ")
}

// deviceTable renders devices in discovery order.
func deviceTable(devices []session.Device) string {
	if len(devices) == 0 {
		return styleDimmed.Render("no devices discovered")
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.IPAddress, orDash(d.Hostname), orDash(d.Type), orDash(d.Vendor)})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			return styleCell
		}).
		Headers("IP ADDRESS", "HOSTNAME", "TYPE", "VENDOR").
		Rows(rows...).
		String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
