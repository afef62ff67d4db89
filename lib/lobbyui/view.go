// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyui

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// column describes one table column: a header label and a width.
// Width -1 marks the flexible column that absorbs leftover space.
type column struct {
	label string
	width int
}

func (model Model) columns() []column {
	switch model.activeTab {
	case TabLeaderboard:
		return []column{
			{"#", 4},
			{"PLAYER", -1},
			{"RATING", 8},
			{"GAMES", 7},
			{"W/L", 9},
		}
	case TabModeration:
		return []column{
			{"KIND", 9},
			{"PLAYER", -1},
			{"BY", 22},
			{"WHEN", 9},
			{"DETAIL", -1},
		}
	default:
		return []column{
			{"HOST", -1},
			{"STATE", 12},
			{"PLAYERS", 8},
			{"ANNOUNCED", 10},
			{"DETAIL", -1},
		}
	}
}

// columnWidths resolves flexible columns against the terminal width.
// Every column gets at least a few cells even on absurdly narrow
// terminals.
func (model Model) columnWidths() []int {
	columns := model.columns()
	widths := make([]int, len(columns))

	fixed := 0
	flexCount := 0
	for index, spec := range columns {
		if spec.width > 0 {
			widths[index] = spec.width
			fixed += spec.width + 1
		} else {
			flexCount++
		}
	}

	remaining := model.width - 1 - fixed
	for index, spec := range columns {
		if spec.width > 0 {
			continue
		}
		share := remaining / flexCount
		if share < 8 {
			share = 8
		}
		widths[index] = share - 1
	}
	return widths
}

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}

	var sections []string

	// Top chrome line: either the tab bar or the filter bar. The
	// filter bar replaces the tab bar so the layout doesn't shift.
	filterView := model.filter.View(model.theme, model.width)
	if filterView != "" {
		sections = append(sections, filterView)
	} else {
		sections = append(sections, model.renderTabBar())
	}

	if banner := model.renderBanner(); banner != "" {
		sections = append(sections, banner)
	}

	if motd := model.renderedMOTD(); motd != "" {
		sections = append(sections, motd)
	}

	sections = append(sections, model.renderColumnHeader())
	sections = append(sections, model.renderBody())

	separator := lipgloss.NewStyle().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", model.width))
	sections = append(sections, separator)
	sections = append(sections, model.renderStatusBar())

	return strings.Join(sections, "\n")
}

// renderTabBar renders the tab line with the active tab highlighted
// and per-tab row counts.
func (model Model) renderTabBar() string {
	labels := []string{
		fmt.Sprintf("1:Games (%d)", len(model.snapshot.Games)),
		fmt.Sprintf("2:Leaderboard (%d)", len(model.snapshot.Leaderboard)),
		fmt.Sprintf("3:Moderation (%d)", len(model.snapshot.Mutes)+len(model.snapshot.Bans)+len(model.snapshot.Reports)),
	}

	active := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Bold(true)
	inactive := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)

	var parts []string
	for index, label := range labels {
		if Tab(index) == model.activeTab {
			parts = append(parts, active.Render(label))
		} else {
			parts = append(parts, inactive.Render(label))
		}
	}
	bar := " " + strings.Join(parts, "  ")

	// Right-align the service identity when there is room.
	if model.haveSnapshot {
		identity := inactive.Render(model.snapshot.Status.Room)
		gap := model.width - ansi.StringWidth(bar) - ansi.StringWidth(identity) - 1
		if gap > 0 {
			bar += strings.Repeat(" ", gap) + identity
		}
	}
	return ansi.Truncate(bar, model.width, "")
}

// renderBanner renders the degraded/error line, or "" when healthy.
func (model Model) renderBanner() string {
	style := lipgloss.NewStyle().
		Foreground(model.theme.DegradedForeground).
		Bold(true).
		Width(model.width)

	if model.fetchError != "" {
		return style.Render(ansi.Truncate(" ✗ "+model.fetchError, model.width, "…"))
	}

	var degraded []string
	if model.snapshot.Status.RatingsDegraded {
		degraded = append(degraded, "ratings")
	}
	if model.snapshot.Status.SanctionsDegraded {
		degraded = append(degraded, "sanctions")
	}
	if len(degraded) == 0 {
		return ""
	}
	return style.Render(" ⚠ degraded (read-only): " + strings.Join(degraded, ", "))
}

// renderedMOTD returns the message-of-the-day block for the games
// tab. The markdown is rendered once per width change (in Update, on
// WindowSizeMsg), never per frame.
func (model Model) renderedMOTD() string {
	if model.motdRendered == "" || model.activeTab != TabGames {
		return ""
	}
	var indented []string
	for _, line := range strings.Split(model.motdRendered, "\n") {
		indented = append(indented, " "+line)
	}
	return strings.Join(indented, "\n")
}

func (model Model) renderColumnHeader() string {
	widths := model.columnWidths()
	columns := model.columns()
	style := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Bold(true)

	var cells []string
	for index, spec := range columns {
		cells = append(cells, padCell(spec.label, widths[index]))
	}
	return style.Render(ansi.Truncate(" "+strings.Join(cells, " "), model.width, ""))
}

// renderBody renders the visible slice of the active tab's rows.
func (model Model) renderBody() string {
	visible := model.visibleHeight()
	if visible < 0 {
		visible = 0
	}
	widths := model.columnWidths()

	var lines []string
	for index := model.scrollOffset; index < model.scrollOffset+visible && index < len(model.rows); index++ {
		lines = append(lines, model.renderRow(index, widths, index == model.cursor))
	}

	if len(model.rows) == 0 {
		lines = append(lines, model.renderEmptyNotice())
	}

	for len(lines) < visible {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (model Model) renderEmptyNotice() string {
	notice := "nothing here yet"
	if !model.haveSnapshot {
		notice = "connecting to the lobby service..."
	} else if model.filter.Input != "" {
		notice = "no rows match the filter"
	}
	return lipgloss.NewStyle().
		Foreground(model.theme.FaintText).
		Render("  " + notice)
}

// renderRow renders one table row, applying the accent color, the
// selection highlight, and filter match highlighting on the filter
// column.
func (model Model) renderRow(index int, widths []int, selected bool) string {
	entry := model.rows[index]

	base := lipgloss.NewStyle().Foreground(model.theme.NormalText)
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	match := lipgloss.NewStyle().
		Foreground(model.theme.NormalText).
		Background(model.theme.MatchBackground)

	var cells []string
	for cellIndex, cell := range entry.cells {
		width := widths[cellIndex]
		truncated := ansi.Truncate(cell, width, "…")
		padding := width - ansi.StringWidth(truncated)

		var rendered string
		switch {
		case cellIndex == entry.accentCell:
			rendered = lipgloss.NewStyle().Foreground(entry.accent).Render(truncated)
		case cell == entry.filterText && len(model.highlights[index]) > 0:
			rendered = highlightRunes(truncated, model.highlights[index], base, match)
		case cellIndex == len(entry.cells)-1:
			rendered = faint.Render(truncated)
		default:
			rendered = base.Render(truncated)
		}
		if padding > 0 {
			rendered += strings.Repeat(" ", padding)
		}
		cells = append(cells, rendered)
	}

	line := " " + strings.Join(cells, " ")
	if selected {
		return lipgloss.NewStyle().
			Background(model.theme.SelectedBackground).
			Foreground(model.theme.SelectedForeground).
			Width(model.width).
			Render(ansi.Strip(line))
	}
	return ansi.Truncate(line, model.width, "")
}

// renderStatusBar renders the bottom line: a faded log notice when one
// is pending, otherwise the keyboard help.
func (model Model) renderStatusBar() string {
	if model.logNotice != "" {
		color := model.theme.StateStarting
		if model.logLevel >= slog.LevelError {
			color = model.theme.DegradedForeground
		}
		return lipgloss.NewStyle().
			Foreground(color).
			Render(ansi.Truncate(" "+model.logNotice, model.width, "…"))
	}

	help := " 1/2/3 tabs · j/k move · / filter · r refresh · q quit"
	if model.haveSnapshot {
		help += fmt.Sprintf(" · up %s", formatUptime(model.snapshot.Status.UptimeSeconds))
	}
	return lipgloss.NewStyle().
		Foreground(model.theme.HelpText).
		Render(ansi.Truncate(help, model.width, "…"))
}

// visibleHeight returns the number of table rows that fit between the
// chrome elements.
func (model Model) visibleHeight() int {
	chrome := 4 // tab bar + column header + separator + status bar
	if model.renderBanner() != "" {
		chrome++
	}
	if motd := model.renderedMOTD(); motd != "" {
		chrome += strings.Count(motd, "\n") + 1
	}
	return model.height - chrome
}

// padCell truncates or pads a cell to the given width.
func padCell(cell string, width int) string {
	truncated := ansi.Truncate(cell, width, "…")
	if padding := width - ansi.StringWidth(truncated); padding > 0 {
		truncated += strings.Repeat(" ", padding)
	}
	return truncated
}

// formatUptime renders seconds as a compact age for the status bar.
func formatUptime(seconds int64) string {
	switch {
	case seconds >= 86400:
		return fmt.Sprintf("%dd%dh", seconds/86400, seconds%86400/3600)
	case seconds >= 3600:
		return fmt.Sprintf("%dh%dm", seconds/3600, seconds%3600/60)
	default:
		return fmt.Sprintf("%dm", seconds/60)
	}
}
