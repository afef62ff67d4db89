// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Reply formatting. Each answer is a single notice; multi-line bodies
// render fine in chat clients and keep one room event per query.

// defaultLeaderboardSize is how many entries a bare "top" query
// returns.
const defaultLeaderboardSize = 10

func formatRatingSummary(summary RatingUpdateSummary) string {
	if len(summary.Changes) == 0 {
		return fmt.Sprintf("match recorded (unrated), archived as %s", summary.Ref.Short())
	}
	parts := make([]string, 0, len(summary.Changes))
	for _, change := range summary.Changes {
		parts = append(parts, fmt.Sprintf("%s %.0f→%.0f",
			change.Player.Localpart(), change.OldRating, change.NewRating))
	}
	return "match recorded: " + strings.Join(parts, ", ")
}

func formatGames(sessions []GameSession) string {
	if len(sessions) == 0 {
		return "no games announced right now"
	}
	lines := make([]string, 0, len(sessions)+1)
	lines = append(lines, fmt.Sprintf("%d announced game(s):", len(sessions)))
	for _, session := range sessions {
		line := fmt.Sprintf("  %s — %s, %d player(s)",
			session.Host, session.State, len(session.Players))
		if len(session.Metadata) > 0 {
			line += " [" + formatMetadata(session.Metadata) + "]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatMetadata(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+metadata[key])
	}
	return strings.Join(parts, " ")
}

func formatTop(records []RatingRecord) string {
	if len(records) == 0 {
		return "no rated players yet"
	}
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, "leaderboard:")
	for i, record := range records {
		lines = append(lines, fmt.Sprintf("  %d. %s — %.0f (%d games)",
			i+1, record.Player, record.Rating, record.GamesPlayed))
	}
	return strings.Join(lines, "\n")
}

func formatProfile(profile PlayerProfile) string {
	return fmt.Sprintf("%s: rating %.0f (peak %.0f), %d games, %d-%d",
		profile.Player, profile.Rating, profile.HighestRating,
		profile.GamesPlayed, profile.Wins, profile.Losses)
}

func formatSanctionList(label string, list []Sanction) string {
	if len(list) == 0 {
		return "nobody is " + label
	}
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, fmt.Sprintf("%d %s player(s):", len(list), label))
	for _, sanction := range list {
		line := fmt.Sprintf("  #%d %s — %s", sanction.ID, sanction.Player, sanction.Reason)
		if sanction.ExpiresAt.IsZero() {
			line += " (permanent)"
		} else {
			line += fmt.Sprintf(" (until %s)", sanction.ExpiresAt.UTC().Format(time.RFC3339))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func pastTense(kind SanctionKind) string {
	switch kind {
	case SanctionMute:
		return "muted"
	case SanctionBan:
		return "banned"
	case SanctionKick:
		return "kicked"
	default:
		return kind.String()
	}
}

func helpText() string {
	return "I keep the game list and ratings for this lobby. " +
		"Send a " + MsgTypeListQuery + " message for active games, or a " +
		MsgTypeRatingQuery + " message with query \"top\" or \"profile\". " +
		"Moderator commands: " + strings.Join(modCommandVerbs, ", ") + "."
}
