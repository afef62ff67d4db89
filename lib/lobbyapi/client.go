// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyapi

import (
	"context"

	"github.com/muster-project/muster/lib/service"
)

// Client is a typed wrapper over the lobby service socket.
type Client struct {
	socket *service.ServiceClient
}

// NewClient creates a client for the lobby service socket at
// socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socket: service.NewServiceClient(socketPath)}
}

// Status fetches the liveness summary.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.socket.Call(ctx, ActionStatus, nil, &status)
	return status, err
}

// Info fetches build and configuration details.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	err := c.socket.Call(ctx, ActionInfo, nil, &info)
	return info, err
}

// Games lists the announced sessions, oldest first.
func (c *Client) Games(ctx context.Context) ([]Game, error) {
	var games []Game
	err := c.socket.Call(ctx, ActionGames, nil, &games)
	return games, err
}

// Top fetches the leaderboard. count <= 0 uses the service default.
func (c *Client) Top(ctx context.Context, count int) ([]RatingEntry, error) {
	fields := map[string]any{}
	if count > 0 {
		fields["count"] = count
	}
	var entries []RatingEntry
	err := c.socket.Call(ctx, ActionTop, fields, &entries)
	return entries, err
}

// Profile fetches one player's career summary.
func (c *Client) Profile(ctx context.Context, player string) (Profile, error) {
	var profile Profile
	err := c.socket.Call(ctx, ActionProfile, map[string]any{"player": player}, &profile)
	return profile, err
}

// Mutelist lists active mutes sorted by player.
func (c *Client) Mutelist(ctx context.Context) ([]Sanction, error) {
	var list []Sanction
	err := c.socket.Call(ctx, ActionMutelist, nil, &list)
	return list, err
}

// Banlist lists active bans sorted by player.
func (c *Client) Banlist(ctx context.Context) ([]Sanction, error) {
	var list []Sanction
	err := c.socket.Call(ctx, ActionBanlist, nil, &list)
	return list, err
}

// Reports lists unresolved reports and warnings, oldest first.
func (c *Client) Reports(ctx context.Context) ([]Report, error) {
	var reports []Report
	err := c.socket.Call(ctx, ActionReports, nil, &reports)
	return reports, err
}

// Mute issues a mute. duration uses the chat grammar ("2h", "7d",
// "perm"); by is the issuing operator's user ID.
func (c *Client) Mute(ctx context.Context, player, duration, reason, by string) (SanctionResult, error) {
	return c.sanction(ctx, ActionMute, map[string]any{
		"player":   player,
		"duration": duration,
		"reason":   reason,
		"by":       by,
	})
}

// Unmute lifts a player's active mute.
func (c *Client) Unmute(ctx context.Context, player, by string) (SanctionResult, error) {
	return c.sanction(ctx, ActionUnmute, map[string]any{"player": player, "by": by})
}

// Ban issues a ban.
func (c *Client) Ban(ctx context.Context, player, duration, reason, by string) (SanctionResult, error) {
	return c.sanction(ctx, ActionBan, map[string]any{
		"player":   player,
		"duration": duration,
		"reason":   reason,
		"by":       by,
	})
}

// Unban lifts a player's active ban.
func (c *Client) Unban(ctx context.Context, player, by string) (SanctionResult, error) {
	return c.sanction(ctx, ActionUnban, map[string]any{"player": player, "by": by})
}

// Kick removes a player from the lobby room once.
func (c *Client) Kick(ctx context.Context, player, reason, by string) (SanctionResult, error) {
	return c.sanction(ctx, ActionKick, map[string]any{
		"player": player,
		"reason": reason,
		"by":     by,
	})
}

// Warn files a warning against a player and notifies them.
func (c *Client) Warn(ctx context.Context, player, reason, by string) (ReportResult, error) {
	var result ReportResult
	err := c.socket.Call(ctx, ActionWarn, map[string]any{
		"player": player,
		"reason": reason,
		"by":     by,
	}, &result)
	return result, err
}

// Report files a report against a player, optionally with an evidence
// excerpt archived alongside it.
func (c *Client) Report(ctx context.Context, player, text, by string, evidence []byte) (ReportResult, error) {
	fields := map[string]any{
		"player": player,
		"text":   text,
		"by":     by,
	}
	if len(evidence) > 0 {
		fields["evidence"] = evidence
	}
	var result ReportResult
	err := c.socket.Call(ctx, ActionReport, fields, &result)
	return result, err
}

// Resolve marks a report resolved.
func (c *Client) Resolve(ctx context.Context, id int64) error {
	return c.socket.Call(ctx, ActionResolve, map[string]any{"id": id}, nil)
}

func (c *Client) sanction(ctx context.Context, action string, fields map[string]any) (SanctionResult, error) {
	var result SanctionResult
	err := c.socket.Call(ctx, action, fields, &result)
	return result, err
}
