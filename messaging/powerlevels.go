// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/muster-project/muster/lib/ref"
)

// EventTypePowerLevels is the Matrix state event type governing who may
// send what in a room.
const EventTypePowerLevels ref.EventType = "m.room.power_levels"

// MutedPowerLevel is the user power level assigned to muted players.
// It sits below events_default (0 in a default room), so the server
// rejects the user's message events while leaving their membership
// intact — they can still read the room.
const MutedPowerLevel = -1

// PowerLevelsContent is the read-side shape of m.room.power_levels.
// Muster consults it for two checks: whether a sender clears the
// moderator threshold, and whether a player is currently muted. Only
// the fields those checks need are decoded.
//
// This type is not used for writes. Power-level updates go through
// MuteUser/UnmuteUser, which patch the raw event content so fields
// muster does not model (ban/kick/redact levels, event overrides,
// notifications) survive the round trip unchanged.
type PowerLevelsContent struct {
	UsersDefault  int            `json:"users_default"`
	EventsDefault int            `json:"events_default"`
	Users         map[string]int `json:"users"`
}

// UserLevel returns the effective power level for a user: their
// explicit entry if present, otherwise the room default.
func (p *PowerLevelsContent) UserLevel(userID ref.UserID) int {
	if level, ok := p.Users[userID.String()]; ok {
		return level
	}
	return p.UsersDefault
}

// Muted reports whether a user's level is below the room's
// events_default, i.e. the server will reject their messages.
func (p *PowerLevelsContent) Muted(userID ref.UserID) bool {
	return p.UserLevel(userID) < p.EventsDefault
}

// PowerLevels fetches and decodes the room's m.room.power_levels state.
func (s *DirectSession) PowerLevels(ctx context.Context, roomID ref.RoomID) (*PowerLevelsContent, error) {
	raw, err := s.GetStateEvent(ctx, roomID, EventTypePowerLevels, "")
	if err != nil {
		return nil, err
	}
	var content PowerLevelsContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse power levels for %q: %w", roomID, err)
	}
	return &content, nil
}

// MuteUser demotes a user below the room's events_default so the
// server rejects their messages. The change is a read-modify-write of
// the full power-levels event: only the target's entry in "users" is
// touched, everything else is re-sent byte-for-byte equivalent.
//
// The session user must have permission to send m.room.power_levels
// in the room (the lobby service account is provisioned at level 100).
// Muting an already-muted user is a no-op; no state event is sent.
func (s *DirectSession) MuteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	return s.patchUserPowerLevel(ctx, roomID, userID, func(users map[string]any) bool {
		// JSON numbers decode as float64.
		if level, ok := users[userID.String()].(float64); ok && int(level) == MutedPowerLevel {
			return false
		}
		users[userID.String()] = MutedPowerLevel
		return true
	})
}

// UnmuteUser removes the user's explicit power-level entry, restoring
// the room default. A user who held an elevated level before being
// muted comes back at the default, not the elevated level — the
// sanction record is the place to look up history, not the room state.
// Unmuting a user with no entry is a no-op; no state event is sent.
func (s *DirectSession) UnmuteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	return s.patchUserPowerLevel(ctx, roomID, userID, func(users map[string]any) bool {
		if _, ok := users[userID.String()]; !ok {
			return false
		}
		delete(users, userID.String())
		return true
	})
}

// patchUserPowerLevel applies a mutation to the "users" map of the
// room's power-levels event and writes the result back. The content is
// handled as raw JSON so that fields this package does not model are
// preserved exactly. If mutate reports no change, nothing is written.
func (s *DirectSession) patchUserPowerLevel(ctx context.Context, roomID ref.RoomID, userID ref.UserID, mutate func(users map[string]any) bool) error {
	raw, err := s.GetStateEvent(ctx, roomID, EventTypePowerLevels, "")
	if err != nil {
		return fmt.Errorf("messaging: reading power levels in %q: %w", roomID, err)
	}

	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return fmt.Errorf("messaging: failed to parse power levels for %q: %w", roomID, err)
	}

	users, ok := content["users"].(map[string]any)
	if !ok {
		users = map[string]any{}
		content["users"] = users
	}
	if !mutate(users) {
		return nil
	}

	if _, err := s.SendStateEvent(ctx, roomID, EventTypePowerLevels, "", content); err != nil {
		return fmt.Errorf("messaging: updating power level of %q in %q: %w", userID, roomID, err)
	}
	return nil
}
