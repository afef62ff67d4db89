// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import "errors"

// Sentinel errors shared across the lobby engines. Call sites wrap
// them with context (fmt.Errorf and %w) and callers match with
// errors.Is; the ingress adapter uses the match to decide whether a
// failure earns a chat reply, a log line, or both.
var (
	// ErrInvalidTransition reports a session state announcement that
	// would move backwards through the lifecycle. The announcement is
	// dropped; gossip is fire-and-forget, so nobody is told.
	ErrInvalidTransition = errors.New("lobby: invalid session state transition")

	// ErrInvalidReport reports a match result that cannot be applied:
	// unknown or already-finalized session, participants that were not
	// in the game, a duplicate payload, or no outcomes at all. The
	// reporter gets an explicit reply.
	ErrInvalidReport = errors.New("lobby: invalid match report")

	// ErrNotFound reports a lookup miss: no such session, sanction,
	// report, or player profile.
	ErrNotFound = errors.New("lobby: not found")

	// ErrConflict reports that a revision-checked rating write lost a
	// race. The rating engine retries once internally; callers see it
	// only when the retry lost too.
	ErrConflict = errors.New("lobby: storage revision conflict")

	// ErrUnauthorized reports a moderation command from a sender who is
	// not a moderator, or an announcement from a host the registry has
	// never seen in the room.
	ErrUnauthorized = errors.New("lobby: unauthorized")

	// ErrTransportUnavailable reports that a sanction was committed but
	// its outward enforcement (kick, ban, power-level change, notice)
	// could not be delivered. The engine retries delivery on a timer;
	// the committed state is not rolled back.
	ErrTransportUnavailable = errors.New("lobby: transport unavailable")

	// ErrDegraded reports that an engine has entered read-only degraded
	// mode after persistent storage failure. Queries still work from
	// memory; mutations are refused until the service restarts against
	// a healthy store.
	ErrDegraded = errors.New("lobby: degraded, mutations suspended")
)
