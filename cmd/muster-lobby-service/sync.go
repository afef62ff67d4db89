// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/muster-project/muster/lib/ref"
	"github.com/muster-project/muster/lib/service"
	"github.com/muster-project/muster/messaging"
)

// syncFilter restricts /sync to the event types the service consumes:
// messages (announcements, match reports, moderator commands), member
// changes (roster, sanction re-application), power levels (moderator
// standing), and presence (host availability).
const syncFilter = `{` +
	`"room":{` +
	`"timeline":{"types":["m.room.message","m.room.member","m.room.power_levels"],"limit":50},` +
	`"state":{"types":["m.room.member","m.room.power_levels"]},` +
	`"ephemeral":{"types":[]}` +
	`},` +
	`"presence":{"types":["m.presence"]},` +
	`"account_data":{"types":[]}` +
	`}`

// seedFromInitialSync builds the service's starting state from the
// first /sync snapshot: room rosters and power levels feed the engines
// through the normal ingress path, and pending invites are accepted.
//
// Timelines are dropped before routing. The initial snapshot includes
// recent history, and replaying old moderator commands or match
// reports would double-apply actions the engines already persisted.
// Current state alone is sufficient: the roster gate and moderator set
// rebuild from state events, and the engines load their own durable
// state from the database.
func (s *lobbyService) seedFromInitialSync(ctx context.Context, response *messaging.SyncResponse) {
	service.AcceptInvites(ctx, s.session, response.Rooms.Invite, s.logger)

	stateOnly := &messaging.SyncResponse{
		Presence: response.Presence,
		Rooms: messaging.RoomsSection{
			Join: make(map[ref.RoomID]messaging.JoinedRoom, len(response.Rooms.Join)),
		},
	}
	for roomID, joined := range response.Rooms.Join {
		stateOnly.Rooms.Join[roomID] = messaging.JoinedRoom{State: joined.State}
	}
	s.ingress.HandleSync(ctx, stateOnly)
}

// handleSync is the incremental sync-loop handler: accept any new
// invites, then route everything else through the ingress adapter.
func (s *lobbyService) handleSync(ctx context.Context, response *messaging.SyncResponse) {
	if len(response.Rooms.Invite) > 0 {
		service.AcceptInvites(ctx, s.session, response.Rooms.Invite, s.logger)
	}
	s.ingress.HandleSync(ctx, response)
}
