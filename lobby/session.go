// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/muster-project/muster/lib/ref"
)

// SessionState is a game session's position in its lifecycle. States
// are ordered: an announcement may only hold a state or advance it,
// never move it backwards. The one exception is StateInit, which
// always starts a fresh session, replacing whatever the host had.
type SessionState int

const (
	// StateInit is a newly announced game gathering players.
	StateInit SessionState = iota

	// StateWaiting is a full or configured game waiting on the host.
	StateWaiting

	// StateStarting is a game in its launch countdown.
	StateStarting

	// StateInProgress is a running game. Entering this state stamps
	// the session's StartedAt exactly once.
	StateInProgress

	// StateFinished is a completed game. Finished sessions drop out of
	// ListActive and are removed by the idle sweep; the registry keeps
	// them briefly so a second match report can be told the game was
	// already scored.
	StateFinished
)

var sessionStateNames = map[SessionState]string{
	StateInit:       "init",
	StateWaiting:    "waiting",
	StateStarting:   "starting",
	StateInProgress: "in_progress",
	StateFinished:   "finished",
}

func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// ParseSessionState converts a wire-format state name to a
// SessionState. Names are matched case-insensitively.
func ParseSessionState(name string) (SessionState, error) {
	folded := strings.ToLower(strings.TrimSpace(name))
	for state, stateName := range sessionStateNames {
		if folded == stateName {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown session state %q", name)
}

// GameSession is one host's announced game. The registry owns all
// GameSession values; callers receive defensive copies.
type GameSession struct {
	// Host is the announcing user. A host has at most one
	// non-Finished session.
	Host ref.UserID

	// State is the current lifecycle position.
	State SessionState

	// Players is the current player list as of the latest
	// announcement, in announcement order.
	Players []string

	// InitialPlayers and InitialPlayerCount capture the player list
	// from the founding announcement. They are recorded once when the
	// session is created and never overwritten, so the original
	// line-up survives later announcements that list only remaining
	// players.
	InitialPlayers     []string
	InitialPlayerCount int

	// Metadata carries opaque descriptive fields from the
	// announcement: map name, victory condition, mod set. The registry
	// does not interpret it.
	Metadata map[string]string

	// CreatedAt is when the founding announcement arrived. Oldest
	// CreatedAt is evicted first when the registry is full.
	CreatedAt time.Time

	// StartedAt is when the session entered InProgress; zero until
	// then. Set exactly once.
	StartedAt time.Time

	// LastRefreshed is when the most recent announcement for this
	// session arrived. Sessions idle past the staleness window are
	// swept.
	LastRefreshed time.Time
}

// clone returns an independent copy safe to hand outside the registry
// loop.
func (s *GameSession) clone() GameSession {
	out := *s
	out.Players = slices.Clone(s.Players)
	out.InitialPlayers = slices.Clone(s.InitialPlayers)
	out.Metadata = maps.Clone(s.Metadata)
	return out
}

// hasPlayer reports whether the session's player list contains player,
// compared case-insensitively.
func (s *GameSession) hasPlayer(player string) bool {
	for _, candidate := range s.Players {
		if strings.EqualFold(candidate, player) {
			return true
		}
	}
	return false
}

// Announcement is the registry-facing form of a gossiped game
// announcement, already parsed off the wire.
type Announcement struct {
	Host     ref.UserID
	State    SessionState
	Players  []string
	Metadata map[string]string
}
