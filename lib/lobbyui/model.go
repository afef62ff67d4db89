// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyui

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muster-project/muster/lib/lobbyapi"
)

// Tab identifies which data view is active.
type Tab int

const (
	// TabGames shows announced sessions and their lifecycle state.
	TabGames Tab = iota
	// TabLeaderboard shows the rating ladder.
	TabLeaderboard
	// TabModeration shows active sanctions and open reports.
	TabModeration
)

// defaultRefreshInterval is how often the dashboard polls the admin
// socket when the config does not say otherwise.
const defaultRefreshInterval = 5 * time.Second

// snapshotMsg delivers the result of a background fetch.
type snapshotMsg struct {
	snapshot Snapshot
	err      error
}

// refreshTickMsg drives the periodic poll.
type refreshTickMsg struct{}

// row is one rendered line of the active tab's table: pre-formatted
// cells, the text the fuzzy filter runs against, and the accent color
// applied to one cell (session state, sanction kind).
type row struct {
	cells      []string
	filterText string
	accentCell int // index into cells; -1 for none
	accent     lipgloss.Color
}

// Config carries everything NewModel needs.
type Config struct {
	// Source provides dashboard snapshots. Required.
	Source Source

	// MOTD is an optional markdown message-of-the-day shown above the
	// games table.
	MOTD string

	// RefreshInterval is the poll period. Zero means 5 seconds.
	RefreshInterval time.Duration

	// Theme defaults to DefaultTheme when zero.
	Theme *Theme
}

// Model is the top-level bubbletea model for the lobby dashboard.
type Model struct {
	source  Source
	theme   Theme
	keys    KeyMap
	motd    string
	refresh time.Duration

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	// Latest snapshot. haveSnapshot distinguishes "not loaded yet"
	// from "service reports nothing".
	snapshot     Snapshot
	haveSnapshot bool
	fetching     bool
	fetchError   string

	// Active tab and filter.
	activeTab Tab
	filter    FilterModel

	// Rendered rows for the active tab after filtering, plus
	// highlight positions per visible row.
	rows       []row
	highlights [][]int

	cursor       int
	scrollOffset int

	// Rendered MOTD, cached per width.
	motdRendered string
	motdWidth    int

	// Status bar notice from the background logger.
	logNotice string
	logLevel  slog.Level
}

// NewModel creates the dashboard model.
func NewModel(config Config) Model {
	theme := DefaultTheme
	if config.Theme != nil {
		theme = *config.Theme
	}
	refresh := config.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	return Model{
		source:  config.Source,
		theme:   theme,
		keys:    DefaultKeyMap,
		motd:    config.MOTD,
		refresh: refresh,
	}
}

// Init implements tea.Model: kick off the first fetch and the poll
// timer.
func (model Model) Init() tea.Cmd {
	return tea.Batch(model.fetchCmd(), model.tickCmd())
}

// fetchCmd fetches a snapshot off the update loop.
func (model Model) fetchCmd() tea.Cmd {
	source := model.source
	return func() tea.Msg {
		snapshot, err := source.Fetch(context.Background())
		return snapshotMsg{snapshot: snapshot, err: err}
	}
}

func (model Model) tickCmd() tea.Cmd {
	return tea.Tick(model.refresh, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		if model.filter.Active {
			return model.handleFilterKeys(message)
		}

		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit

		case key.Matches(message, model.keys.TabGames):
			model.switchTab(TabGames)
		case key.Matches(message, model.keys.TabLeaderboard):
			model.switchTab(TabLeaderboard)
		case key.Matches(message, model.keys.TabModeration):
			model.switchTab(TabModeration)

		case key.Matches(message, model.keys.FilterActivate):
			model.filter.Active = true
			model.cursor = 0
			model.scrollOffset = 0

		case key.Matches(message, model.keys.FilterClear):
			if model.filter.Input != "" {
				model.filter.Clear()
				model.rebuildRows()
			}

		case key.Matches(message, model.keys.Refresh):
			if !model.fetching {
				model.fetching = true
				return model, model.fetchCmd()
			}

		default:
			model.handleListKeys(message)
		}

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		if model.motd != "" && model.motdWidth != model.width {
			model.motdRendered = RenderMOTD(model.motd, model.theme, model.width-2)
			model.motdWidth = model.width
		}
		model.clampCursor()

	case snapshotMsg:
		model.fetching = false
		if message.err != nil {
			model.fetchError = message.err.Error()
			break
		}
		model.fetchError = ""
		model.snapshot = message.snapshot
		model.haveSnapshot = true
		model.rebuildRows()

	case refreshTickMsg:
		if model.fetching {
			return model, model.tickCmd()
		}
		model.fetching = true
		return model, tea.Batch(model.fetchCmd(), model.tickCmd())

	case logRecordMsg:
		model.logNotice = message.Summary
		model.logLevel = message.Level
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{}
		})

	case logRecordFadeMsg:
		model.logNotice = ""
	}
	return model, nil
}

// handleFilterKeys routes keystrokes while the filter input is
// focused.
func (model Model) handleFilterKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch message.Type {
	case tea.KeyEscape:
		model.filter.Clear()
		model.rebuildRows()
	case tea.KeyEnter:
		// Keep the filter text, return focus to the list.
		model.filter.Active = false
	case tea.KeyBackspace:
		if model.filter.HandleBackspace() {
			model.rebuildRows()
		}
	case tea.KeyRunes:
		for _, character := range message.Runes {
			model.filter.HandleRune(character)
		}
		model.rebuildRows()
	case tea.KeyCtrlC:
		return model, tea.Quit
	}
	return model, nil
}

// handleListKeys moves the cursor within the active tab.
func (model *Model) handleListKeys(message tea.KeyMsg) {
	page := model.visibleHeight()
	if page < 1 {
		page = 1
	}
	switch {
	case key.Matches(message, model.keys.Up):
		model.cursor--
	case key.Matches(message, model.keys.Down):
		model.cursor++
	case key.Matches(message, model.keys.PageUp):
		model.cursor -= page
	case key.Matches(message, model.keys.PageDown):
		model.cursor += page
	case key.Matches(message, model.keys.Home):
		model.cursor = 0
	case key.Matches(message, model.keys.End):
		model.cursor = len(model.rows) - 1
	}
	model.clampCursor()
}

func (model *Model) switchTab(tab Tab) {
	if model.activeTab == tab {
		return
	}
	model.activeTab = tab
	model.cursor = 0
	model.scrollOffset = 0
	model.rebuildRows()
}

func (model *Model) clampCursor() {
	if model.cursor >= len(model.rows) {
		model.cursor = len(model.rows) - 1
	}
	if model.cursor < 0 {
		model.cursor = 0
	}
	visible := model.visibleHeight()
	if visible <= 0 {
		return
	}
	if model.cursor < model.scrollOffset {
		model.scrollOffset = model.cursor
	}
	if model.cursor >= model.scrollOffset+visible {
		model.scrollOffset = model.cursor - visible + 1
	}
	maxOffset := len(model.rows) - visible
	if maxOffset < 0 {
		maxOffset = 0
	}
	if model.scrollOffset > maxOffset {
		model.scrollOffset = maxOffset
	}
}

// rebuildRows regenerates the active tab's table rows from the
// snapshot and applies the fuzzy filter.
func (model *Model) rebuildRows() {
	var unfiltered []row
	switch model.activeTab {
	case TabGames:
		unfiltered = model.gameRows()
	case TabLeaderboard:
		unfiltered = model.leaderboardRows()
	case TabModeration:
		unfiltered = model.moderationRows()
	}

	filterTexts := make([]string, len(unfiltered))
	for index, entry := range unfiltered {
		filterTexts[index] = entry.filterText
	}
	matches := model.filter.Apply(filterTexts)

	model.rows = make([]row, len(matches))
	model.highlights = make([][]int, len(matches))
	for index, match := range matches {
		model.rows[index] = unfiltered[match.Index]
		model.highlights[index] = match.Positions
	}
	model.clampCursor()
}

func (model *Model) gameRows() []row {
	rows := make([]row, 0, len(model.snapshot.Games))
	for _, game := range model.snapshot.Games {
		players := fmt.Sprintf("%d", len(game.Players))
		rows = append(rows, row{
			cells: []string{
				game.Host,
				game.State,
				players,
				relativeTime(game.CreatedAt, model.snapshot.FetchedAt),
				gameDetail(game),
			},
			filterText: game.Host,
			accentCell: 1,
			accent:     model.theme.StateColor(game.State),
		})
	}
	return rows
}

func (model *Model) leaderboardRows() []row {
	rows := make([]row, 0, len(model.snapshot.Leaderboard))
	for position, entry := range model.snapshot.Leaderboard {
		rows = append(rows, row{
			cells: []string{
				fmt.Sprintf("%d", position+1),
				entry.Player,
				fmt.Sprintf("%.0f", entry.Rating),
				fmt.Sprintf("%d", entry.GamesPlayed),
				fmt.Sprintf("%d/%d", entry.Wins, entry.Losses),
			},
			filterText: entry.Player,
			accentCell: -1,
		})
	}
	return rows
}

// moderationRows merges active sanctions and open reports into one
// log, newest first.
func (model *Model) moderationRows() []row {
	type entry struct {
		when int64
		row  row
	}
	var entries []entry

	for _, sanction := range model.snapshot.Mutes {
		entries = append(entries, entry{when: sanction.IssuedAt, row: model.sanctionRow(sanction)})
	}
	for _, sanction := range model.snapshot.Bans {
		entries = append(entries, entry{when: sanction.IssuedAt, row: model.sanctionRow(sanction)})
	}
	for _, report := range model.snapshot.Reports {
		detail := report.Body
		if report.EvidenceRef != "" {
			detail += " [evidence]"
		}
		by := report.Reporting
		if by == "" {
			by = "-"
		}
		entries = append(entries, entry{
			when: report.FiledAt,
			row: row{
				cells: []string{
					report.Kind,
					report.Reported,
					by,
					relativeTime(report.FiledAt, model.snapshot.FetchedAt),
					detail,
				},
				filterText: report.Reported,
				accentCell: 0,
				accent:     model.theme.SanctionColor(report.Kind),
			},
		})
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].when > entries[b].when
	})

	rows := make([]row, len(entries))
	for index, item := range entries {
		rows[index] = item.row
	}
	return rows
}

func (model *Model) sanctionRow(sanction lobbyapi.Sanction) row {
	detail := sanction.Reason
	if sanction.ExpiresAt == 0 {
		detail = "permanent — " + detail
	} else {
		detail = "until " + time.Unix(sanction.ExpiresAt, 0).UTC().Format("Jan 2 15:04") + " — " + detail
	}
	return row{
		cells: []string{
			sanction.Kind,
			sanction.Player,
			sanction.IssuedBy,
			relativeTime(sanction.IssuedAt, model.snapshot.FetchedAt),
			detail,
		},
		filterText: sanction.Player,
		accentCell: 0,
		accent:     model.theme.SanctionColor(sanction.Kind),
	}
}

// gameDetail squeezes the interesting metadata into one cell.
func gameDetail(game lobbyapi.Game) string {
	var parts []string
	for _, metaKey := range []string{"map", "mode", "victory"} {
		if value := game.Metadata[metaKey]; value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " · ")
}

// relativeTime renders "3m ago" style ages for table cells.
func relativeTime(unix int64, now time.Time) string {
	if unix == 0 {
		return "-"
	}
	if now.IsZero() {
		now = time.Now()
	}
	age := now.Sub(time.Unix(unix, 0))
	switch {
	case age < time.Minute:
		return "now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours())/24)
	}
}
