// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/codec"
	"github.com/muster-project/muster/lib/config"
	"github.com/muster-project/muster/lib/lobbyapi"
	"github.com/muster-project/muster/lib/ref"
	"github.com/muster-project/muster/lib/service"
	"github.com/muster-project/muster/lib/version"
	"github.com/muster-project/muster/lobby"
	"github.com/muster-project/muster/messaging"
)

// lobbyService ties the engines to the admin socket and the sync loop.
type lobbyService struct {
	registry  *lobby.Registry
	ratings   *lobby.Ratings
	sanctions *lobby.Sanctions
	ingress   *lobby.Ingress

	session   messaging.Session
	self      ref.UserID
	room      ref.RoomID
	config    *config.Config
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger
}

// registerActions wires the admin protocol onto the socket server.
func (s *lobbyService) registerActions(server *service.SocketServer) {
	server.Handle(lobbyapi.ActionStatus, s.handleStatus)
	server.Handle(lobbyapi.ActionInfo, s.handleInfo)
	server.Handle(lobbyapi.ActionGames, s.handleGames)
	server.Handle(lobbyapi.ActionTop, s.handleTop)
	server.Handle(lobbyapi.ActionProfile, s.handleProfile)
	server.Handle(lobbyapi.ActionMutelist, s.handleMutelist)
	server.Handle(lobbyapi.ActionBanlist, s.handleBanlist)
	server.Handle(lobbyapi.ActionReports, s.handleReports)
	server.Handle(lobbyapi.ActionMute, s.sanctionAction(lobby.SanctionMute))
	server.Handle(lobbyapi.ActionBan, s.sanctionAction(lobby.SanctionBan))
	server.Handle(lobbyapi.ActionKick, s.handleKick)
	server.Handle(lobbyapi.ActionUnmute, s.liftAction(lobby.SanctionMute))
	server.Handle(lobbyapi.ActionUnban, s.liftAction(lobby.SanctionBan))
	server.Handle(lobbyapi.ActionWarn, s.handleWarn)
	server.Handle(lobbyapi.ActionReport, s.handleReport)
	server.Handle(lobbyapi.ActionResolve, s.handleResolve)
}

func (s *lobbyService) handleStatus(ctx context.Context, raw []byte) (any, error) {
	sessions, err := s.registry.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	ratingsDegraded, err := s.ratings.Degraded(ctx)
	if err != nil {
		return nil, err
	}
	sanctionsDegraded, err := s.sanctions.Degraded(ctx)
	if err != nil {
		return nil, err
	}
	return lobbyapi.Status{
		UserID:            s.self.String(),
		Room:              s.room.String(),
		UptimeSeconds:     int64(s.clock.Now().Sub(s.startedAt).Seconds()),
		ActiveGames:       len(sessions),
		RatingsDegraded:   ratingsDegraded,
		SanctionsDegraded: sanctionsDegraded,
	}, nil
}

func (s *lobbyService) handleInfo(ctx context.Context, raw []byte) (any, error) {
	return lobbyapi.Info{
		Version:     version.Info(),
		UserID:      s.self.String(),
		Room:        s.room.String(),
		Socket:      s.config.Paths.Socket,
		Database:    s.config.Paths.Database,
		Archive:     s.config.Paths.Archive,
		Environment: string(s.config.Environment),
	}, nil
}

func (s *lobbyService) handleGames(ctx context.Context, raw []byte) (any, error) {
	sessions, err := s.registry.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	games := make([]lobbyapi.Game, 0, len(sessions))
	for _, session := range sessions {
		games = append(games, lobbyapi.Game{
			Host:      session.Host.String(),
			State:     session.State.String(),
			Players:   session.Players,
			Metadata:  session.Metadata,
			CreatedAt: session.CreatedAt.Unix(),
			StartedAt: unixOrZero(session.StartedAt),
		})
	}
	return games, nil
}

func (s *lobbyService) handleTop(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		Count int `cbor:"count"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	count := request.Count
	if count <= 0 {
		count = 10
	}
	records, err := s.ratings.TopN(ctx, count)
	if err != nil {
		return nil, err
	}
	entries := make([]lobbyapi.RatingEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, lobbyapi.RatingEntry{
			Player:      record.Player.String(),
			Rating:      record.Rating,
			GamesPlayed: record.GamesPlayed,
			Wins:        record.Wins,
			Losses:      record.Losses,
		})
	}
	return entries, nil
}

func (s *lobbyService) handleProfile(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		Player string `cbor:"player"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	player, err := s.resolvePlayer(request.Player)
	if err != nil {
		return nil, err
	}
	profile, err := s.ratings.Profile(ctx, player)
	if err != nil {
		return nil, err
	}
	return lobbyapi.Profile{
		Player:        profile.Player.String(),
		Rating:        profile.Rating,
		HighestRating: profile.HighestRating,
		GamesPlayed:   profile.GamesPlayed,
		Wins:          profile.Wins,
		Losses:        profile.Losses,
	}, nil
}

func (s *lobbyService) handleMutelist(ctx context.Context, raw []byte) (any, error) {
	list, err := s.sanctions.Mutelist(ctx)
	if err != nil {
		return nil, err
	}
	return wireSanctions(list), nil
}

func (s *lobbyService) handleBanlist(ctx context.Context, raw []byte) (any, error) {
	list, err := s.sanctions.Banlist(ctx)
	if err != nil {
		return nil, err
	}
	return wireSanctions(list), nil
}

func (s *lobbyService) handleReports(ctx context.Context, raw []byte) (any, error) {
	reports, err := s.sanctions.OpenReports(ctx)
	if err != nil {
		return nil, err
	}
	wire := make([]lobbyapi.Report, 0, len(reports))
	for _, report := range reports {
		wire = append(wire, wireReport(report))
	}
	return wire, nil
}

// sanctionRequest is the shared shape of the mute/ban/kick mutations.
type sanctionRequest struct {
	Player   string `cbor:"player"`
	Duration string `cbor:"duration"`
	Reason   string `cbor:"reason"`
	By       string `cbor:"by"`
}

func (s *lobbyService) sanctionAction(kind lobby.SanctionKind) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request sanctionRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		player, err := s.resolvePlayer(request.Player)
		if err != nil {
			return nil, err
		}
		by, err := s.resolveIssuer(request.By)
		if err != nil {
			return nil, err
		}
		if request.Duration == "" {
			return nil, fmt.Errorf("duration is required (a duration like 2h, 7d, or perm)")
		}
		duration, err := lobby.ParseSanctionDuration(request.Duration)
		if err != nil {
			return nil, fmt.Errorf("bad duration %q: %w", request.Duration, err)
		}
		sanction, err := s.sanctions.Issue(ctx, player, kind, duration, request.Reason, by)
		return sanctionOutcome(sanction, err)
	}
}

func (s *lobbyService) handleKick(ctx context.Context, raw []byte) (any, error) {
	var request sanctionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	player, err := s.resolvePlayer(request.Player)
	if err != nil {
		return nil, err
	}
	by, err := s.resolveIssuer(request.By)
	if err != nil {
		return nil, err
	}
	sanction, err := s.sanctions.Issue(ctx, player, lobby.SanctionKick, 0, request.Reason, by)
	return sanctionOutcome(sanction, err)
}

func (s *lobbyService) liftAction(kind lobby.SanctionKind) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request sanctionRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		player, err := s.resolvePlayer(request.Player)
		if err != nil {
			return nil, err
		}
		by, err := s.resolveIssuer(request.By)
		if err != nil {
			return nil, err
		}
		sanction, err := s.sanctions.Lift(ctx, player, kind, by)
		return sanctionOutcome(sanction, err)
	}
}

func (s *lobbyService) handleWarn(ctx context.Context, raw []byte) (any, error) {
	var request sanctionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	player, err := s.resolvePlayer(request.Player)
	if err != nil {
		return nil, err
	}
	by, err := s.resolveIssuer(request.By)
	if err != nil {
		return nil, err
	}
	report, err := s.sanctions.Warn(ctx, player, by, request.Reason)
	return reportOutcome(report, err)
}

func (s *lobbyService) handleReport(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		Player   string `cbor:"player"`
		Text     string `cbor:"text"`
		By       string `cbor:"by"`
		Evidence []byte `cbor:"evidence"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	player, err := s.resolvePlayer(request.Player)
	if err != nil {
		return nil, err
	}
	by, err := s.resolveIssuer(request.By)
	if err != nil {
		return nil, err
	}
	report, err := s.sanctions.FileReport(ctx, player, by, request.Text, request.Evidence)
	return reportOutcome(report, err)
}

func (s *lobbyService) handleResolve(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		ID int64 `cbor:"id"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := s.sanctions.Resolve(ctx, request.ID); err != nil {
		return nil, err
	}
	return nil, nil
}

// resolvePlayer turns a request's player argument into a user ID. Bare
// localparts resolve against the service's own server, matching the
// chat command grammar.
func (s *lobbyService) resolvePlayer(raw string) (ref.UserID, error) {
	if raw == "" {
		return ref.UserID{}, fmt.Errorf("player is required")
	}
	if !strings.HasPrefix(raw, "@") {
		raw = "@" + raw + ":" + s.self.Server()
	}
	return ref.ParseUserID(raw)
}

// resolveIssuer parses the operator identity on a mutation. Empty
// means the service itself (systemd timers, scripts against the
// socket).
func (s *lobbyService) resolveIssuer(raw string) (ref.UserID, error) {
	if raw == "" {
		return s.self, nil
	}
	return ref.ParseUserID(raw)
}

// sanctionOutcome maps an engine sanction result onto the wire.
// Transport failures surface as pending, not errors: the sanction is
// committed and the engine retries delivery on its own.
func sanctionOutcome(sanction lobby.Sanction, err error) (any, error) {
	switch {
	case err == nil:
		return lobbyapi.SanctionResult{ID: sanction.ID}, nil
	case isTransportPending(err):
		return lobbyapi.SanctionResult{ID: sanction.ID, Pending: true}, nil
	default:
		return nil, err
	}
}

func reportOutcome(report lobby.Report, err error) (any, error) {
	switch {
	case err == nil:
		return lobbyapi.ReportResult{ID: report.ID}, nil
	case isTransportPending(err):
		return lobbyapi.ReportResult{ID: report.ID, Pending: true}, nil
	default:
		return nil, err
	}
}

func isTransportPending(err error) bool {
	return errors.Is(err, lobby.ErrTransportUnavailable)
}

func wireSanctions(list []lobby.Sanction) []lobbyapi.Sanction {
	wire := make([]lobbyapi.Sanction, 0, len(list))
	for _, sanction := range list {
		wire = append(wire, lobbyapi.Sanction{
			ID:        sanction.ID,
			Player:    sanction.Player.String(),
			Kind:      sanction.Kind.String(),
			State:     sanction.State.String(),
			Reason:    sanction.Reason,
			IssuedBy:  sanction.IssuedBy.String(),
			IssuedAt:  sanction.IssuedAt.Unix(),
			ExpiresAt: unixOrZero(sanction.ExpiresAt),
		})
	}
	return wire
}

func wireReport(report lobby.Report) lobbyapi.Report {
	wire := lobbyapi.Report{
		ID:          report.ID,
		Reported:    report.Reported.String(),
		Kind:        report.Kind.String(),
		Body:        report.Body,
		FiledAt:     report.FiledAt.Unix(),
		Resolved:    report.Resolved,
		EvidenceRef: report.EvidenceRef,
	}
	if !report.Reporting.IsZero() {
		wire.Reporting = report.Reporting.String()
	}
	return wire
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
