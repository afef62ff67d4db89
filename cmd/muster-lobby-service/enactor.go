// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/muster-project/muster/lib/ref"
	"github.com/muster-project/muster/messaging"
)

// roomEnactor applies sanction decisions to the lobby room. It binds
// the sanction engine's room-agnostic Enactor verbs to a messaging
// session and the one room the service moderates: kicks and bans are
// the Matrix membership operations, mutes are power-level demotions,
// and notifications are addressed notices.
type roomEnactor struct {
	session *messaging.DirectSession
	room    ref.RoomID
}

func (e *roomEnactor) KickUser(ctx context.Context, user ref.UserID, reason string) error {
	return e.session.KickUser(ctx, e.room, user, reason)
}

func (e *roomEnactor) BanUser(ctx context.Context, user ref.UserID, reason string) error {
	return e.session.BanUser(ctx, e.room, user, reason)
}

func (e *roomEnactor) UnbanUser(ctx context.Context, user ref.UserID) error {
	return e.session.UnbanUser(ctx, e.room, user)
}

func (e *roomEnactor) MuteUser(ctx context.Context, user ref.UserID) error {
	return e.session.MuteUser(ctx, e.room, user)
}

func (e *roomEnactor) UnmuteUser(ctx context.Context, user ref.UserID) error {
	return e.session.UnmuteUser(ctx, e.room, user)
}

func (e *roomEnactor) NotifyUser(ctx context.Context, user ref.UserID, body string) error {
	_, err := e.session.SendMessage(ctx, e.room, messaging.NewReplyNotice(user, body))
	return err
}
