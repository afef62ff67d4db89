// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/junegunn/fzf/src/util"
)

// FilterModel holds the fuzzy player filter. The tab chooses the base
// set (games, leaderboard, moderation rows); the filter narrows it
// client-side without round-tripping to the service.
type FilterModel struct {
	// Input is the current filter query text.
	Input string

	// Active is true when the filter input has keyboard focus
	// (the user pressed / to start typing).
	Active bool
}

// FilterMatch pairs a row index in the unfiltered slice with its match
// score and highlight positions.
type FilterMatch struct {
	// Index into the unfiltered row slice.
	Index int

	// Score is the fuzzy relevance; rows are sorted by it descending.
	Score int

	// Positions are matched rune offsets into the row's filter text,
	// used to highlight the matched characters.
	Positions []int
}

// Apply fuzzy-matches the filter against each row's filter text and
// returns the matching rows sorted by score (ties keep source order).
// An empty filter returns every row unscored.
func (filter *FilterModel) Apply(rows []string) []FilterMatch {
	if filter.Input == "" {
		matches := make([]FilterMatch, len(rows))
		for index := range rows {
			matches[index] = FilterMatch{Index: index}
		}
		return matches
	}

	pattern := []rune(filter.Input)
	slab := util.MakeSlab(100*1024, 2048)

	var matches []FilterMatch
	for index, row := range rows {
		result := fuzzyMatch(row, pattern, slab)
		if result.Score <= 0 {
			continue
		}
		matches = append(matches, FilterMatch{
			Index:     index,
			Score:     result.Score,
			Positions: result.Positions,
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	return matches
}

// HandleRune processes a character typed while the filter is active.
func (filter *FilterModel) HandleRune(character rune) {
	filter.Input += string(character)
}

// HandleBackspace removes the last character from the filter input.
// Returns true if the input changed.
func (filter *FilterModel) HandleBackspace() bool {
	if len(filter.Input) == 0 {
		return false
	}
	runes := []rune(filter.Input)
	filter.Input = string(runes[:len(runes)-1])
	return true
}

// Clear resets the filter input and deactivates it.
func (filter *FilterModel) Clear() {
	filter.Input = ""
	filter.Active = false
}

// View renders the filter bar. When active, shows the input with a
// cursor. When inactive with text, shows the filter text. When
// inactive with no text, returns empty string (hidden).
func (filter *FilterModel) View(theme Theme, width int) string {
	if !filter.Active && filter.Input == "" {
		return ""
	}

	style := lipgloss.NewStyle().
		Foreground(theme.NormalText).
		Width(width)

	if filter.Active {
		cursor := lipgloss.NewStyle().
			Foreground(theme.HeaderForeground).
			Bold(true).
			Render("▎")
		return style.Render(" / " + filter.Input + cursor)
	}

	dimStyle := lipgloss.NewStyle().
		Foreground(theme.FaintText).
		Width(width)
	return dimStyle.Render(" filter: " + filter.Input)
}

// highlightRunes styles the runes of text at the given positions with
// the theme's match background. Positions outside the text are
// ignored. The surrounding style is applied to unmatched runes.
func highlightRunes(text string, positions []int, base, match lipgloss.Style) string {
	if len(positions) == 0 {
		return base.Render(text)
	}

	matched := make(map[int]bool, len(positions))
	for _, position := range positions {
		matched[position] = true
	}

	var builder strings.Builder
	for index, character := range []rune(text) {
		if matched[index] {
			builder.WriteString(match.Render(string(character)))
		} else {
			builder.WriteString(base.Render(string(character)))
		}
	}
	return builder.String()
}
