// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyapi

// Action names understood by the lobby service socket.
const (
	ActionStatus   = "status"
	ActionInfo     = "info"
	ActionGames    = "games"
	ActionTop      = "top"
	ActionProfile  = "profile"
	ActionMutelist = "mutelist"
	ActionBanlist  = "banlist"
	ActionReports  = "reports"
	ActionMute     = "mute"
	ActionUnmute   = "unmute"
	ActionBan      = "ban"
	ActionUnban    = "unban"
	ActionKick     = "kick"
	ActionWarn     = "warn"
	ActionReport   = "report"
	ActionResolve  = "resolve"
)

// Status is the liveness answer. Degraded engines still answer
// queries; mutations are refused until the store recovers.
type Status struct {
	UserID            string `cbor:"user_id"`
	Room              string `cbor:"room"`
	UptimeSeconds     int64  `cbor:"uptime_seconds"`
	ActiveGames       int    `cbor:"active_games"`
	RatingsDegraded   bool   `cbor:"ratings_degraded"`
	SanctionsDegraded bool   `cbor:"sanctions_degraded"`
}

// Info describes the running build and its configuration surface.
type Info struct {
	Version     string `cbor:"version"`
	UserID      string `cbor:"user_id"`
	Room        string `cbor:"room"`
	Socket      string `cbor:"socket"`
	Database    string `cbor:"database"`
	Archive     string `cbor:"archive"`
	Environment string `cbor:"environment"`
}

// Game is one announced session.
type Game struct {
	Host      string            `cbor:"host"`
	State     string            `cbor:"state"`
	Players   []string          `cbor:"players,omitempty"`
	Metadata  map[string]string `cbor:"metadata,omitempty"`
	CreatedAt int64             `cbor:"created_at"`
	StartedAt int64             `cbor:"started_at,omitempty"`
}

// RatingEntry is one leaderboard row.
type RatingEntry struct {
	Player      string  `cbor:"player"`
	Rating      float64 `cbor:"rating"`
	GamesPlayed int     `cbor:"games_played"`
	Wins        int     `cbor:"wins"`
	Losses      int     `cbor:"losses"`
}

// Profile is one player's career summary.
type Profile struct {
	Player        string  `cbor:"player"`
	Rating        float64 `cbor:"rating"`
	HighestRating float64 `cbor:"highest_rating"`
	GamesPlayed   int     `cbor:"games_played"`
	Wins          int     `cbor:"wins"`
	Losses        int     `cbor:"losses"`
}

// Sanction is one moderation action, active or historical.
type Sanction struct {
	ID        int64  `cbor:"id"`
	Player    string `cbor:"player"`
	Kind      string `cbor:"kind"`
	State     string `cbor:"state"`
	Reason    string `cbor:"reason,omitempty"`
	IssuedBy  string `cbor:"issued_by"`
	IssuedAt  int64  `cbor:"issued_at"`
	ExpiresAt int64  `cbor:"expires_at,omitempty"`
}

// Report is one filed report or warning.
type Report struct {
	ID          int64  `cbor:"id"`
	Reported    string `cbor:"reported"`
	Reporting   string `cbor:"reporting,omitempty"`
	Kind        string `cbor:"kind"`
	Body        string `cbor:"body"`
	FiledAt     int64  `cbor:"filed_at"`
	Resolved    bool   `cbor:"resolved"`
	EvidenceRef string `cbor:"evidence_ref,omitempty"`
}

// SanctionResult is the answer to a sanction mutation. Pending is true
// when the sanction committed but its outward enforcement is still
// queued behind a transport failure.
type SanctionResult struct {
	ID      int64 `cbor:"id"`
	Pending bool  `cbor:"pending,omitempty"`
}

// ReportResult is the answer to filing a report or warning.
type ReportResult struct {
	ID      int64 `cbor:"id"`
	Pending bool  `cbor:"pending,omitempty"`
}
