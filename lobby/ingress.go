// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/muster-project/muster/lib/ref"
	"github.com/muster-project/muster/messaging"
)

// defaultQueryQueueDepth bounds the responder queue. Queries are
// best-effort: when the queue is full new ones are dropped with a
// log line, never blocking sync ingestion.
const defaultQueryQueueDepth = 8

// Responder is the slice of the messaging session the ingress needs:
// its own identity, and a way to send replies. *messaging.DirectSession
// satisfies it; tests substitute a recorder.
type Responder interface {
	UserID() ref.UserID
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
}

// IngressConfig holds the parameters for creating the event ingress.
type IngressConfig struct {
	// Registry, Ratings, and Sanctions are the engines fed by inbound
	// events. All required.
	Registry  *Registry
	Ratings   *Ratings
	Sanctions *Sanctions

	// Moderators gates moderation commands. Required.
	Moderators *ModeratorSet

	// Session sends replies. Required.
	Session Responder

	// Room is the lobby arena room carrying announcements, reports,
	// and player queries. Required.
	Room ref.RoomID

	// ModRoom carries moderation commands. Zero means moderation
	// happens in the arena room.
	ModRoom ref.RoomID

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// QueryQueueDepth overrides the responder queue bound.
	QueryQueueDepth int
}

// Ingress routes sync events to the engines and answers player
// queries. HandleSync is the sync-loop handler; it dispatches
// mutations inline (blocking on the owning engine, which is the
// ordering guarantee) and hands queries to the responder goroutine
// started by Run so a burst of lookups cannot stall ingestion.
type Ingress struct {
	registry   *Registry
	ratings    *Ratings
	sanctions  *Sanctions
	moderators *ModeratorSet
	session    Responder
	self       ref.UserID
	room       ref.RoomID
	modRoom    ref.RoomID
	logger     *slog.Logger

	queries chan queryJob
}

// NewIngress creates the ingress. Call Run to start the query
// responder.
func NewIngress(config IngressConfig) (*Ingress, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("ingress: Registry is required")
	}
	if config.Ratings == nil {
		return nil, fmt.Errorf("ingress: Ratings is required")
	}
	if config.Sanctions == nil {
		return nil, fmt.Errorf("ingress: Sanctions is required")
	}
	if config.Moderators == nil {
		return nil, fmt.Errorf("ingress: Moderators is required")
	}
	if config.Session == nil {
		return nil, fmt.Errorf("ingress: Session is required")
	}
	if config.Room.IsZero() {
		return nil, fmt.Errorf("ingress: Room is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("ingress: Logger is required")
	}

	modRoom := config.ModRoom
	if modRoom.IsZero() {
		modRoom = config.Room
	}
	depth := config.QueryQueueDepth
	if depth <= 0 {
		depth = defaultQueryQueueDepth
	}

	return &Ingress{
		registry:   config.Registry,
		ratings:    config.Ratings,
		sanctions:  config.Sanctions,
		moderators: config.Moderators,
		session:    config.Session,
		self:       config.Session.UserID(),
		room:       config.Room,
		modRoom:    modRoom,
		logger:     config.Logger,
		queries:    make(chan queryJob, depth),
	}, nil
}

// Run answers queued player queries until ctx is cancelled.
func (in *Ingress) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-in.queries:
			in.answer(ctx, job)
		}
	}
}

// HandleSync routes one sync response. It has the service sync-loop
// handler shape and is called from that single goroutine; event order
// within the response is preserved.
func (in *Ingress) HandleSync(ctx context.Context, response *messaging.SyncResponse) {
	for _, presence := range response.Presence.Events {
		in.handlePresence(ctx, presence)
	}
	for roomID, joined := range response.Rooms.Join {
		for _, event := range joined.State.Events {
			in.handleStateEvent(ctx, roomID, event)
		}
		for _, event := range joined.Timeline.Events {
			// Membership and power-level changes arrive in the
			// timeline with a state key set.
			if event.StateKey != nil {
				in.handleStateEvent(ctx, roomID, event)
				continue
			}
			in.handleMessage(ctx, roomID, event)
		}
	}
}

// handlePresence maps presence transitions onto the registry: a host
// dropping to "unavailable" or "offline" takes their game down with
// them.
func (in *Ingress) handlePresence(ctx context.Context, event messaging.PresenceEvent) {
	if event.Sender.IsZero() || event.Sender.EqualFold(in.self) {
		return
	}
	switch event.Content.Presence {
	case "offline", "unavailable":
		if err := in.registry.RemoveHost(ctx, event.Sender); err != nil {
			in.logger.Warn("presence departure not recorded",
				"user", event.Sender,
				"error", err,
			)
		}
	case "online":
		if err := in.registry.ObserveJoin(ctx, event.Sender); err != nil {
			in.logger.Warn("presence arrival not recorded",
				"user", event.Sender,
				"error", err,
			)
		}
	}
}

func (in *Ingress) handleStateEvent(ctx context.Context, roomID ref.RoomID, event messaging.Event) {
	switch event.Type {
	case "m.room.member":
		if roomID != in.room || event.StateKey == nil {
			return
		}
		user, err := ref.ParseUserID(*event.StateKey)
		if err != nil {
			in.logger.Debug("ignoring member event with malformed state key",
				"state_key", *event.StateKey,
			)
			return
		}
		if user.EqualFold(in.self) {
			return
		}
		var content messaging.RoomMemberContent
		if err := decodeEventContent(event.Content, &content); err != nil {
			in.logger.Debug("ignoring malformed member event",
				"user", user,
				"error", err,
			)
			return
		}
		switch content.Membership {
		case "join":
			if err := in.registry.ObserveJoin(ctx, user); err != nil {
				in.logger.Warn("join not recorded", "user", user, "error", err)
			}
			if err := in.sanctions.ObserveJoin(ctx, user); err != nil {
				in.logger.Warn("standing sanctions not re-applied on join",
					"user", user,
					"error", err,
				)
			}
		case "leave", "ban":
			if err := in.registry.RemoveHost(ctx, user); err != nil {
				in.logger.Warn("departure not recorded", "user", user, "error", err)
			}
		}

	case messaging.EventTypePowerLevels:
		// Moderator standing follows the room where commands are
		// issued.
		if roomID != in.modRoom {
			return
		}
		var content messaging.PowerLevelsContent
		if err := decodeEventContent(event.Content, &content); err != nil {
			in.logger.Warn("ignoring malformed power levels event", "error", err)
			return
		}
		in.moderators.ApplyPowerLevels(content.Users)
	}
}

func (in *Ingress) handleMessage(ctx context.Context, roomID ref.RoomID, event messaging.Event) {
	if event.Sender.IsZero() || event.Sender.EqualFold(in.self) {
		return
	}
	if event.Type != "m.room.message" {
		return
	}

	msgType, _ := event.Content["msgtype"].(string)
	body, _ := event.Content["body"].(string)

	// Moderation commands win in a shared room: "!mute ..." is never a
	// lobby chat line.
	if roomID == in.modRoom && (msgType == MsgTypeModCommand || (msgType == "m.text" && IsModCommand(body))) {
		command := body
		if msgType == MsgTypeModCommand {
			var content ModCommandContent
			if err := decodeEventContent(event.Content, &content); err != nil {
				in.logger.Debug("ignoring malformed mod command event",
					"sender", event.Sender,
					"error", err,
				)
				return
			}
			command = content.Command
			if command == "" {
				command = content.Body
			}
		}
		in.handleModCommand(ctx, roomID, event.Sender, command)
		return
	}

	if roomID != in.room {
		return
	}

	// The power-level demotion silences a muted player's chat server
	// side, but nothing stops a client from publishing structured
	// lobby events regardless of power levels. Sanctioned senders are
	// cut off here: reports get a refusal reply, everything else is
	// dropped.
	if in.senderSanctioned(ctx, event.Sender) {
		if msgType == MsgTypeReport {
			in.reply(ctx, roomID, event.Sender, "report not accepted: you are currently sanctioned")
		} else {
			in.logger.Debug("dropping message from sanctioned sender",
				"sender", event.Sender,
				"msgtype", msgType,
			)
		}
		return
	}

	switch msgType {
	case MsgTypeAnnouncement:
		in.handleAnnouncement(ctx, event)
	case MsgTypeReport:
		in.handleReport(ctx, roomID, event)
	case MsgTypeListQuery:
		in.submitQuery(queryJob{kind: queryGames, room: roomID, sender: event.Sender})
	case MsgTypeRatingQuery:
		in.handleRatingQuery(roomID, event)
	case "m.text":
		in.handleChat(roomID, event, body)
	}
}

// senderSanctioned reports whether the sender holds an active mute or
// ban. Check failures fail open with a warning: the sanction engine
// answers these from memory even when degraded, so an error means the
// engine is gone and dropping all lobby traffic would not help.
func (in *Ingress) senderSanctioned(ctx context.Context, sender ref.UserID) bool {
	banned, err := in.sanctions.IsActiveBan(ctx, sender)
	if err != nil {
		in.logger.Warn("ban check failed", "sender", sender, "error", err)
		return false
	}
	if banned {
		return true
	}
	muted, err := in.sanctions.IsActiveMute(ctx, sender)
	if err != nil {
		in.logger.Warn("mute check failed", "sender", sender, "error", err)
		return false
	}
	return muted
}

// handleAnnouncement feeds a session announcement to the registry.
// Announcements are periodic machine output, so refusals only log —
// replying to every stale heartbeat would drown the room.
func (in *Ingress) handleAnnouncement(ctx context.Context, event messaging.Event) {
	var content AnnouncementContent
	if err := decodeEventContent(event.Content, &content); err != nil {
		in.logger.Debug("ignoring malformed announcement",
			"host", event.Sender,
			"error", err,
		)
		return
	}
	state, err := ParseSessionState(content.State)
	if err != nil {
		in.logger.Debug("ignoring announcement with unknown state",
			"host", event.Sender,
			"state", content.State,
		)
		return
	}

	announcement := Announcement{
		Host:     event.Sender,
		State:    state,
		Players:  content.Players,
		Metadata: content.Metadata,
	}
	if err := in.registry.Announce(ctx, announcement); err != nil {
		in.logger.Debug("announcement refused",
			"host", event.Sender,
			"state", state.String(),
			"error", err,
		)
	}
}

// handleReport feeds a match result to the rating engine and tells
// the host what happened. The canonical encoding of the event content
// is the dedup payload: a republished report hashes identically.
func (in *Ingress) handleReport(ctx context.Context, roomID ref.RoomID, event messaging.Event) {
	var content ReportContent
	if err := decodeEventContent(event.Content, &content); err != nil {
		in.reply(ctx, roomID, event.Sender, fmt.Sprintf("report not accepted: %v", err))
		return
	}

	outcomes := make(map[string]Outcome, len(content.Outcomes))
	for player, outcomeName := range content.Outcomes {
		outcome, err := ParseOutcome(outcomeName)
		if err != nil {
			in.reply(ctx, roomID, event.Sender, fmt.Sprintf("report not accepted: %v", err))
			return
		}
		outcomes[player] = outcome
	}

	payload, err := canonicalPayload(event.Content)
	if err != nil {
		in.logger.Warn("report payload not canonicalizable",
			"host", event.Sender,
			"error", err,
		)
		return
	}

	summary, err := in.ratings.ReportResult(ctx, event.Sender, outcomes, payload)
	switch {
	case errors.Is(err, ErrInvalidReport):
		in.reply(ctx, roomID, event.Sender, fmt.Sprintf("report not accepted: %v", err))
	case errors.Is(err, ErrDegraded):
		in.reply(ctx, roomID, event.Sender, "report not accepted: rating service is read-only right now")
	case err != nil:
		in.logger.Warn("match report failed",
			"host", event.Sender,
			"error", err,
		)
	default:
		in.reply(ctx, roomID, event.Sender, formatRatingSummary(summary))
	}
}

func (in *Ingress) handleRatingQuery(roomID ref.RoomID, event messaging.Event) {
	var content RatingQueryContent
	if err := decodeEventContent(event.Content, &content); err != nil {
		in.logger.Debug("ignoring malformed rating query",
			"sender", event.Sender,
			"error", err,
		)
		return
	}

	switch content.Query {
	case "top":
		in.submitQuery(queryJob{kind: queryTop, room: roomID, sender: event.Sender, count: content.Count})
	case "rating", "profile", "":
		player := event.Sender
		if content.Player != "" {
			parsed, err := in.resolveTarget(content.Player)
			if err != nil {
				in.logger.Debug("ignoring rating query with bad player",
					"sender", event.Sender,
					"player", content.Player,
				)
				return
			}
			player = parsed
		}
		in.submitQuery(queryJob{kind: queryProfile, room: roomID, sender: event.Sender, player: player})
	default:
		in.logger.Debug("ignoring unknown rating query",
			"sender", event.Sender,
			"query", content.Query,
		)
	}
}

// handleChat watches plain chat for messages addressed to the service
// and points the sender at the structured queries.
func (in *Ingress) handleChat(roomID ref.RoomID, event messaging.Event, body string) {
	addressed := false
	if mentions, ok := event.Content["m.mentions"].(map[string]any); ok {
		if ids, ok := mentions["user_ids"].([]any); ok {
			for _, id := range ids {
				name, _ := id.(string)
				if parsed, err := ref.ParseUserID(name); err == nil && parsed.EqualFold(in.self) {
					addressed = true
					break
				}
			}
		}
	}
	if !addressed {
		if _, ok := stripAddress(body, in.self.Localpart()); ok {
			addressed = true
		}
	}
	if addressed {
		in.submitQuery(queryJob{kind: queryHelp, room: roomID, sender: event.Sender})
	}
}

func (in *Ingress) handleModCommand(ctx context.Context, roomID ref.RoomID, sender ref.UserID, body string) {
	command, err := ParseModCommand(body)
	if err != nil {
		in.reply(ctx, roomID, sender, err.Error())
		return
	}
	if !in.moderators.IsModerator(sender) {
		in.reply(ctx, roomID, sender, "you are not authorized to use moderation commands")
		return
	}

	var target ref.UserID
	if command.Target != "" {
		target, err = in.resolveTarget(command.Target)
		if err != nil {
			in.reply(ctx, roomID, sender, fmt.Sprintf("bad player %q: %v", command.Target, err))
			return
		}
	}

	switch command.Verb {
	case "mute":
		in.issueSanction(ctx, roomID, sender, target, SanctionMute, command)
	case "ban":
		in.issueSanction(ctx, roomID, sender, target, SanctionBan, command)
	case "kick":
		in.issueSanction(ctx, roomID, sender, target, SanctionKick, command)

	case "unmute", "unban":
		kind := SanctionMute
		if command.Verb == "unban" {
			kind = SanctionBan
		}
		sanction, err := in.sanctions.Lift(ctx, target, kind, sender)
		switch {
		case errors.Is(err, ErrNotFound):
			in.reply(ctx, roomID, sender, fmt.Sprintf("no active %s for %s", kind, target))
		case errors.Is(err, ErrTransportUnavailable):
			in.reply(ctx, roomID, sender, fmt.Sprintf("%s #%d lifted; room update pending", kind, sanction.ID))
		case err != nil:
			in.reply(ctx, roomID, sender, fmt.Sprintf("lifting %s failed: %v", kind, err))
		default:
			in.reply(ctx, roomID, sender, fmt.Sprintf("%s #%d for %s lifted", kind, sanction.ID, target))
		}

	case "warn":
		report, err := in.sanctions.Warn(ctx, target, sender, command.Reason)
		switch {
		case errors.Is(err, ErrTransportUnavailable):
			in.reply(ctx, roomID, sender, fmt.Sprintf("warning #%d recorded; delivery to %s pending", report.ID, target))
		case err != nil:
			in.reply(ctx, roomID, sender, fmt.Sprintf("warning failed: %v", err))
		default:
			in.reply(ctx, roomID, sender, fmt.Sprintf("warning #%d recorded for %s", report.ID, target))
		}

	case "report":
		report, err := in.sanctions.FileReport(ctx, target, sender, command.Reason, nil)
		if err != nil {
			in.reply(ctx, roomID, sender, fmt.Sprintf("filing report failed: %v", err))
			return
		}
		in.reply(ctx, roomID, sender, fmt.Sprintf("report #%d filed against %s", report.ID, target))

	case "resolve":
		err := in.sanctions.Resolve(ctx, command.ReportID)
		switch {
		case errors.Is(err, ErrNotFound):
			in.reply(ctx, roomID, sender, fmt.Sprintf("no report #%d", command.ReportID))
		case err != nil:
			in.reply(ctx, roomID, sender, fmt.Sprintf("resolving report failed: %v", err))
		default:
			in.reply(ctx, roomID, sender, fmt.Sprintf("report #%d resolved", command.ReportID))
		}

	case "mutelist":
		list, err := in.sanctions.Mutelist(ctx)
		if err != nil {
			in.reply(ctx, roomID, sender, fmt.Sprintf("listing mutes failed: %v", err))
			return
		}
		in.reply(ctx, roomID, sender, formatSanctionList("muted", list))

	case "banlist":
		list, err := in.sanctions.Banlist(ctx)
		if err != nil {
			in.reply(ctx, roomID, sender, fmt.Sprintf("listing bans failed: %v", err))
			return
		}
		in.reply(ctx, roomID, sender, formatSanctionList("banned", list))
	}
}

func (in *Ingress) issueSanction(ctx context.Context, roomID ref.RoomID, sender, target ref.UserID, kind SanctionKind, command ModCommand) {
	sanction, err := in.sanctions.Issue(ctx, target, kind, command.Duration, command.Reason, sender)
	switch {
	case errors.Is(err, ErrTransportUnavailable):
		in.reply(ctx, roomID, sender, fmt.Sprintf("%s #%d recorded; enforcement pending", kind, sanction.ID))
	case errors.Is(err, ErrDegraded):
		in.reply(ctx, roomID, sender, fmt.Sprintf("%s refused: sanction records are read-only right now", kind))
	case err != nil:
		in.reply(ctx, roomID, sender, fmt.Sprintf("%s failed: %v", kind, err))
	case kind == SanctionKick:
		in.reply(ctx, roomID, sender, fmt.Sprintf("kicked %s", target))
	default:
		in.reply(ctx, roomID, sender, fmt.Sprintf("%s #%d: %s %s %s", kind, sanction.ID, target, pastTense(kind), formatSanctionDuration(command.Duration)))
	}
}

// resolveTarget turns a command's player argument into a user ID.
// Bare localparts resolve against the service's own server.
func (in *Ingress) resolveTarget(raw string) (ref.UserID, error) {
	if !strings.HasPrefix(raw, "@") {
		raw = "@" + raw + ":" + in.self.Server()
	}
	return ref.ParseUserID(raw)
}

// submitQuery hands a query to the responder without blocking. A full
// queue drops the query; mutations never take this path.
func (in *Ingress) submitQuery(job queryJob) {
	select {
	case in.queries <- job:
	default:
		in.logger.Warn("query dropped, responder queue full",
			"kind", job.kind.String(),
			"sender", job.sender,
		)
	}
}

func (in *Ingress) answer(ctx context.Context, job queryJob) {
	switch job.kind {
	case queryGames:
		sessions, err := in.registry.ListActive(ctx)
		if err != nil {
			in.logger.Warn("game list query failed", "error", err)
			return
		}
		in.reply(ctx, job.room, job.sender, formatGames(sessions))

	case queryTop:
		count := job.count
		if count <= 0 {
			count = defaultLeaderboardSize
		}
		records, err := in.ratings.TopN(ctx, count)
		if err != nil {
			in.logger.Warn("leaderboard query failed", "error", err)
			return
		}
		in.reply(ctx, job.room, job.sender, formatTop(records))

	case queryProfile:
		profile, err := in.ratings.Profile(ctx, job.player)
		if errors.Is(err, ErrNotFound) {
			in.reply(ctx, job.room, job.sender, fmt.Sprintf("no rating on record for %s", job.player))
			return
		}
		if err != nil {
			in.logger.Warn("profile query failed", "player", job.player, "error", err)
			return
		}
		in.reply(ctx, job.room, job.sender, formatProfile(profile))

	case queryHelp:
		in.reply(ctx, job.room, job.sender, helpText())
	}
}

// reply sends an addressed notice. Send failures log and move on —
// the engines already committed, a lost confirmation is cosmetic.
func (in *Ingress) reply(ctx context.Context, roomID ref.RoomID, to ref.UserID, body string) {
	if _, err := in.session.SendMessage(ctx, roomID, messaging.NewReplyNotice(to, body)); err != nil {
		in.logger.Warn("reply not delivered",
			"room", roomID,
			"to", to,
			"error", err,
		)
	}
}

type queryKind int

const (
	queryGames queryKind = iota
	queryTop
	queryProfile
	queryHelp
)

func (k queryKind) String() string {
	switch k {
	case queryGames:
		return "games"
	case queryTop:
		return "top"
	case queryProfile:
		return "profile"
	case queryHelp:
		return "help"
	default:
		return fmt.Sprintf("queryKind(%d)", int(k))
	}
}

type queryJob struct {
	kind   queryKind
	room   ref.RoomID
	sender ref.UserID
	player ref.UserID
	count  int
}
