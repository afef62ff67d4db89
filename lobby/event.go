// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The muster wire protocol rides on m.room.message events with a
// custom msgtype family. Ordinary clients render the Body fallback;
// muster-aware senders and this service read the structured fields.
const (
	// MsgTypeAnnouncement is a game session announcement from a host.
	MsgTypeAnnouncement = "muster.announcement"

	// MsgTypeReport is a match result report from a session host.
	MsgTypeReport = "muster.report"

	// MsgTypeModCommand is a structured moderation command. The Body
	// carries the same grammar as typed chat commands.
	MsgTypeModCommand = "muster.modcmd"

	// MsgTypeListQuery asks for the active game list.
	MsgTypeListQuery = "muster.listquery"

	// MsgTypeRatingQuery asks for a rating, a profile, or the
	// leaderboard.
	MsgTypeRatingQuery = "muster.ratingquery"
)

// Outcome is one participant's result in a finished match.
type Outcome int

const (
	// OutcomeWin marks a winner. Winners gain rating from every
	// defeated opponent.
	OutcomeWin Outcome = iota

	// OutcomeLoss marks a player who resigned or was eliminated before
	// the end.
	OutcomeLoss

	// OutcomeSurvived marks a player who was still standing at the end
	// without winning (a drawn or abandoned game). Survivors pair with
	// nobody and their rating does not move.
	OutcomeSurvived

	// OutcomeDefeated marks a player defeated by the winners at game
	// end. Rates identically to OutcomeLoss; the distinction is kept
	// for the record.
	OutcomeDefeated
)

var outcomeNames = map[Outcome]string{
	OutcomeWin:      "win",
	OutcomeLoss:     "loss",
	OutcomeSurvived: "survived",
	OutcomeDefeated: "defeated",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ParseOutcome converts a wire-format outcome name, matched
// case-insensitively.
func ParseOutcome(name string) (Outcome, error) {
	folded := strings.ToLower(strings.TrimSpace(name))
	for outcome, outcomeName := range outcomeNames {
		if folded == outcomeName {
			return outcome, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", name)
}

// AnnouncementContent is the wire shape of a muster.announcement
// message.
type AnnouncementContent struct {
	MsgType  string            `json:"msgtype"`
	Body     string            `json:"body"`
	State    string            `json:"state"`
	Players  []string          `json:"players,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ReportContent is the wire shape of a muster.report message. Outcomes
// maps participant user IDs to outcome names.
type ReportContent struct {
	MsgType  string            `json:"msgtype"`
	Body     string            `json:"body"`
	Outcomes map[string]string `json:"outcomes"`
}

// ModCommandContent is the wire shape of a muster.modcmd message. The
// Command field holds the command text in the chat grammar, without
// the leading bang.
type ModCommandContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
	Command string `json:"command"`
}

// ListQueryContent is the wire shape of a muster.listquery message.
type ListQueryContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// RatingQueryContent is the wire shape of a muster.ratingquery
// message. Query selects the lookup: "rating" and "profile" need
// Player, "top" honors Count.
type RatingQueryContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
	Query   string `json:"query"`
	Player  string `json:"player,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// decodeEventContent converts the untyped content map of a sync event
// into a typed wire struct by round-tripping through JSON. Matrix
// event content arrives as map[string]any; the round-trip applies the
// struct's field validation and ignores unknown fields the same way a
// direct unmarshal of the raw event would.
func decodeEventContent(content map[string]any, dst any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal event content: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse event content: %w", err)
	}
	return nil
}

// canonicalPayload renders event content to deterministic bytes for
// content-addressed archiving and duplicate detection. encoding/json
// sorts map keys, so the same logical content always produces the
// same bytes regardless of delivery order.
func canonicalPayload(content map[string]any) ([]byte, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal event content: %w", err)
	}
	return raw, nil
}
