// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/muster-project/muster/lobby"
)

// Theme defines the color palette for the lobby dashboard. All colors
// use lipgloss ANSI 256-color codes for broad terminal compatibility.
//
// The fields cover both universal chrome (text, selection, borders)
// and the semantic categories that recur across the dashboard's tabs:
// session lifecycle states and sanction kinds.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Session state colors.
	StateInit       lipgloss.Color
	StateWaiting    lipgloss.Color
	StateStarting   lipgloss.Color
	StateInProgress lipgloss.Color
	StateFinished   lipgloss.Color

	// Sanction kind colors.
	SanctionMute    lipgloss.Color
	SanctionBan     lipgloss.Color
	SanctionKick    lipgloss.Color
	SanctionWarning lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Degraded-engine banner.
	DegradedForeground lipgloss.Color

	// Filter match highlighting.
	MatchBackground lipgloss.Color
}

// StateColor returns the color for a session state string. Unknown
// states render as FaintText.
func (theme Theme) StateColor(state string) lipgloss.Color {
	switch state {
	case lobby.StateInit.String():
		return theme.StateInit
	case lobby.StateWaiting.String():
		return theme.StateWaiting
	case lobby.StateStarting.String():
		return theme.StateStarting
	case lobby.StateInProgress.String():
		return theme.StateInProgress
	case lobby.StateFinished.String():
		return theme.StateFinished
	default:
		return theme.FaintText
	}
}

// SanctionColor returns the color for a sanction or report kind.
func (theme Theme) SanctionColor(kind string) lipgloss.Color {
	switch kind {
	case lobby.SanctionMute.String():
		return theme.SanctionMute
	case lobby.SanctionBan.String():
		return theme.SanctionBan
	case lobby.SanctionKick.String():
		return theme.SanctionKick
	case lobby.ReportKindWarning.String():
		return theme.SanctionWarning
	default:
		return theme.NormalText
	}
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed
// for 256-color terminals with a dark background.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StateInit:       lipgloss.Color("245"), // gray: not yet open
	StateWaiting:    lipgloss.Color("114"), // green: joinable
	StateStarting:   lipgloss.Color("220"), // amber: filling up
	StateInProgress: lipgloss.Color("75"),  // blue: running
	StateFinished:   lipgloss.Color("240"), // dim gray

	SanctionMute:    lipgloss.Color("220"), // amber
	SanctionBan:     lipgloss.Color("196"), // red
	SanctionKick:    lipgloss.Color("208"), // orange
	SanctionWarning: lipgloss.Color("141"), // light purple

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	DegradedForeground: lipgloss.Color("196"),

	MatchBackground: lipgloss.Color("58"), // dark amber
}
