// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/muster-project/muster/lib/archive"
	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/ref"
)

// SanctionKind classifies a sanction.
type SanctionKind int

const (
	// SanctionMute strips a player's voice in the lobby room without
	// removing them.
	SanctionMute SanctionKind = iota

	// SanctionBan removes a player and prevents rejoining.
	SanctionBan

	// SanctionKick removes a player once. Kicks are recorded already
	// terminal — the removal itself is the whole sanction.
	SanctionKick
)

var sanctionKindNames = map[SanctionKind]string{
	SanctionMute: "mute",
	SanctionBan:  "ban",
	SanctionKick: "kick",
}

func (k SanctionKind) String() string {
	if name, ok := sanctionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SanctionKind(%d)", int(k))
}

// ParseSanctionKind converts a wire or stored kind name, matched
// case-insensitively.
func ParseSanctionKind(name string) (SanctionKind, error) {
	folded := strings.ToLower(strings.TrimSpace(name))
	for kind, kindName := range sanctionKindNames {
		if folded == kindName {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown sanction kind %q", name)
}

// SanctionState is a sanction's lifecycle position. Active is the
// only non-terminal state; Expired and Revoked are final.
type SanctionState int

const (
	SanctionActive SanctionState = iota
	SanctionExpired
	SanctionRevoked
)

var sanctionStateNames = map[SanctionState]string{
	SanctionActive:  "active",
	SanctionExpired: "expired",
	SanctionRevoked: "revoked",
}

func (s SanctionState) String() string {
	if name, ok := sanctionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SanctionState(%d)", int(s))
}

func parseSanctionState(name string) (SanctionState, error) {
	for state, stateName := range sanctionStateNames {
		if name == stateName {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown sanction state %q", name)
}

// Sanction is one moderation action against a player. Rows are
// immutable except for the single Active → terminal transition; a
// re-mute creates a new row rather than reviving an old one.
type Sanction struct {
	ID       int64
	Player   ref.UserID
	Kind     SanctionKind
	IssuedBy ref.UserID
	Reason   string
	IssuedAt time.Time

	// ExpiresAt is the scheduled expiry; zero means permanent.
	ExpiresAt time.Time

	State SanctionState

	// RevokedBy and RevokeReason are set when State is Revoked. A
	// superseded sanction carries the reason "superseded".
	RevokedBy    ref.UserID
	RevokeReason string
}

// ReportKind distinguishes player-filed reports from moderator-issued
// warnings.
type ReportKind int

const (
	ReportKindReport ReportKind = iota
	ReportKindWarning
)

var reportKindNames = map[ReportKind]string{
	ReportKindReport:  "report",
	ReportKindWarning: "warning",
}

func (k ReportKind) String() string {
	if name, ok := reportKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ReportKind(%d)", int(k))
}

// ParseReportKind converts a stored kind name.
func ParseReportKind(name string) (ReportKind, error) {
	for kind, kindName := range reportKindNames {
		if name == kindName {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown report kind %q", name)
}

// Report is a filed complaint or warning about a player.
type Report struct {
	ID       int64
	Reported ref.UserID

	// Reporting is the filer; zero means system-generated.
	Reporting ref.UserID

	Kind    ReportKind
	FiledAt time.Time
	Body    string

	// EvidenceRef is an optional content ref into the evidence
	// archive holding the offending excerpt; empty means none.
	EvidenceRef string

	// Resolved is one-way.
	Resolved bool
}

// Enactor applies committed sanction state to the chat room. The
// engine only ever needs these six verbs, so it declares the
// interface itself; the service wires it to a messaging session bound
// to the lobby room, and tests substitute a scripted fake.
type Enactor interface {
	KickUser(ctx context.Context, user ref.UserID, reason string) error
	BanUser(ctx context.Context, user ref.UserID, reason string) error
	UnbanUser(ctx context.Context, user ref.UserID) error
	MuteUser(ctx context.Context, user ref.UserID) error
	UnmuteUser(ctx context.Context, user ref.UserID) error
	NotifyUser(ctx context.Context, user ref.UserID, body string) error
}

const (
	// maxSanctionDuration caps timed sanctions at five years. Longer
	// requests are clamped, not refused — the moderator's intent is
	// clearly "a very long time".
	maxSanctionDuration = 5 * 365 * 24 * time.Hour

	// defaultEnactRetryEvery is how often failed outward enforcement
	// is retried.
	defaultEnactRetryEvery = 30 * time.Second

	// enactRetryLimit drops a failed enforcement after this many
	// retry rounds.
	enactRetryLimit = 10

	// supersededReason marks a sanction revoked because a newer one
	// of the same kind replaced it.
	supersededReason = "superseded"
)

// SanctionsConfig holds the parameters for creating the sanction
// engine.
type SanctionsConfig struct {
	// Store persists sanctions and reports. Required.
	Store *Store

	// Enactor applies sanctions to the room. Required.
	Enactor Enactor

	// Archive stores report evidence excerpts. Optional; nil files
	// reports without evidence refs.
	Archive *archive.Archive

	// Clock drives expiry scheduling. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// RetryEvery overrides the enforcement retry cadence. Defaults to
	// 30 seconds.
	RetryEvery time.Duration

	// MaxMuteDuration rejects mutes longer than this. Zero means no
	// cap beyond the general sanction clamp. Mutes silence a player
	// who is still in the room, so operators may want a tighter bound
	// than the five-year ban ceiling.
	MaxMuteDuration time.Duration
}

// Sanctions is the moderation sanction engine. The active-sanction
// maps are authoritative between restarts; every mutation is
// committed to the store before memory moves, and Run rebuilds the
// maps and the expiry heap from the store's active scan at startup.
type Sanctions struct {
	store      *Store
	enactor    Enactor
	archive    *archive.Archive
	clock      clock.Clock
	logger     *slog.Logger
	retryEvery time.Duration
	maxMute    time.Duration

	requests    chan sanctionRequest
	timerNotify chan struct{}

	// Loop-owned state. mutes and bans are keyed by case-folded user
	// ID and point into the same Sanction values as active (keyed by
	// id).
	mutes    map[string]*Sanction
	bans     map[string]*Sanction
	active   map[int64]*Sanction
	heap     expiryHeap
	timer    *clock.Timer
	pending  []enactment
	degraded bool
}

// NewSanctions creates the sanction engine. Call Run to load state
// and start serving.
func NewSanctions(config SanctionsConfig) (*Sanctions, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("sanction engine: Store is required")
	}
	if config.Enactor == nil {
		return nil, fmt.Errorf("sanction engine: Enactor is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("sanction engine: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("sanction engine: Logger is required")
	}

	retryEvery := config.RetryEvery
	if retryEvery <= 0 {
		retryEvery = defaultEnactRetryEvery
	}

	return &Sanctions{
		store:       config.Store,
		enactor:     config.Enactor,
		archive:     config.Archive,
		clock:       config.Clock,
		logger:      config.Logger,
		retryEvery:  retryEvery,
		maxMute:     config.MaxMuteDuration,
		requests:    make(chan sanctionRequest, engineQueueDepth),
		timerNotify: make(chan struct{}, 1),
		mutes:       make(map[string]*Sanction),
		bans:        make(map[string]*Sanction),
		active:      make(map[int64]*Sanction),
	}, nil
}

// Run rebuilds active state from the store and drains the request
// queue until ctx is cancelled. Sanctions whose deadline passed while
// the service was down fire on the first scheduling pass.
func (s *Sanctions) Run(ctx context.Context) error {
	if err := s.load(ctx); err != nil {
		return fmt.Errorf("sanction engine: %w", err)
	}
	s.scheduleExpiry()

	retry := s.clock.NewTicker(s.retryEvery)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.timer != nil {
				s.timer.Stop()
			}
			return nil
		case request := <-s.requests:
			s.handle(ctx, request)
		case <-s.timerNotify:
			s.fireDueExpiries(ctx)
		case <-retry.C:
			s.retryPending(ctx)
		}
	}
}

func (s *Sanctions) load(ctx context.Context) error {
	loaded, err := s.store.ActiveSanctions(ctx)
	if err != nil {
		return fmt.Errorf("scanning active sanctions: %w", err)
	}

	for i := range loaded {
		sanction := loaded[i]
		table := s.tableFor(sanction.Kind)
		if table == nil {
			s.logger.Warn("ignoring active sanction of one-shot kind",
				"sanction", sanction.ID,
				"kind", sanction.Kind.String(),
			)
			continue
		}
		key := sanction.Player.FoldedKey()
		if existing := table[key]; existing != nil {
			// Two active rows for one player and kind means a crash
			// landed between a supersede's revoke and insert. Keep
			// the newer row; the stale one stays untouched in the
			// store for the next moderator audit.
			if existing.ID >= sanction.ID {
				s.logger.Warn("skipping shadowed active sanction",
					"sanction", sanction.ID,
					"shadowed_by", existing.ID,
					"player", sanction.Player,
				)
				continue
			}
			s.logger.Warn("skipping shadowed active sanction",
				"sanction", existing.ID,
				"shadowed_by", sanction.ID,
				"player", sanction.Player,
			)
			s.removeActive(existing)
		}
		stored := &sanction
		s.addActive(stored)
		if !stored.ExpiresAt.IsZero() {
			heap.Push(&s.heap, expiryEntry{at: stored.ExpiresAt, id: stored.ID})
		}
	}

	s.logger.Info("active sanctions loaded",
		"mutes", len(s.mutes),
		"bans", len(s.bans),
		"timed", s.heap.Len(),
	)
	return nil
}

// Issue applies a new sanction. An existing active sanction of the
// same kind is revoked first with reason "superseded". Timed
// durations above five years are clamped; zero or negative means
// permanent. Kicks are recorded already terminal.
//
// A non-nil Sanction with an ErrTransportUnavailable error means the
// sanction is committed but its enforcement is still queued — the
// engine retries delivery on a timer.
func (s *Sanctions) Issue(ctx context.Context, player ref.UserID, kind SanctionKind, duration time.Duration, reason string, issuedBy ref.UserID) (Sanction, error) {
	request := issueRequest{
		player:   player,
		kind:     kind,
		duration: duration,
		reason:   reason,
		issuedBy: issuedBy,
		reply:    make(chan result[Sanction], 1),
	}
	return call(ctx, s.requests, sanctionRequest(request), request.reply)
}

// Revoke moves an active sanction to Revoked by id. Returns
// ErrNotFound for an unknown or already-terminal sanction.
func (s *Sanctions) Revoke(ctx context.Context, id int64, by ref.UserID, reason string) error {
	request := revokeRequest{id: id, by: by, reason: reason, reply: make(chan error, 1)}
	if err := enqueue(ctx, s.requests, sanctionRequest(request)); err != nil {
		return err
	}
	return awaitErr(ctx, request.reply)
}

// Lift revokes the player's active sanction of the given kind — the
// engine-side form of unmute and unban. Returns ErrNotFound if there
// is none.
func (s *Sanctions) Lift(ctx context.Context, player ref.UserID, kind SanctionKind, by ref.UserID) (Sanction, error) {
	request := liftRequest{player: player, kind: kind, by: by, reply: make(chan result[Sanction], 1)}
	return call(ctx, s.requests, sanctionRequest(request), request.reply)
}

// IsActiveMute reports whether the player has an active mute.
func (s *Sanctions) IsActiveMute(ctx context.Context, player ref.UserID) (bool, error) {
	return s.activeCheck(ctx, player, SanctionMute)
}

// IsActiveBan reports whether the player has an active ban.
func (s *Sanctions) IsActiveBan(ctx context.Context, player ref.UserID) (bool, error) {
	return s.activeCheck(ctx, player, SanctionBan)
}

func (s *Sanctions) activeCheck(ctx context.Context, player ref.UserID, kind SanctionKind) (bool, error) {
	request := activeCheckRequest{player: player, kind: kind, reply: make(chan bool, 1)}
	if err := enqueue(ctx, s.requests, sanctionRequest(request)); err != nil {
		return false, err
	}
	return await(ctx, request.reply)
}

// Mutelist returns the active mutes sorted by player.
func (s *Sanctions) Mutelist(ctx context.Context) ([]Sanction, error) {
	return s.sanctionList(ctx, SanctionMute)
}

// Banlist returns the active bans sorted by player.
func (s *Sanctions) Banlist(ctx context.Context) ([]Sanction, error) {
	return s.sanctionList(ctx, SanctionBan)
}

func (s *Sanctions) sanctionList(ctx context.Context, kind SanctionKind) ([]Sanction, error) {
	request := sanctionListRequest{kind: kind, reply: make(chan []Sanction, 1)}
	if err := enqueue(ctx, s.requests, sanctionRequest(request)); err != nil {
		return nil, err
	}
	return await(ctx, request.reply)
}

// History returns the player's full sanction record, newest first,
// terminal rows included.
func (s *Sanctions) History(ctx context.Context, player ref.UserID) ([]Sanction, error) {
	request := historyRequest{player: player, reply: make(chan result[[]Sanction], 1)}
	return call(ctx, s.requests, sanctionRequest(request), request.reply)
}

// FileReport files a complaint about a player. reporting may be the
// zero UserID for system-generated reports. evidence, if non-empty,
// is stored in the evidence archive and referenced from the report.
func (s *Sanctions) FileReport(ctx context.Context, reported, reporting ref.UserID, text string, evidence []byte) (Report, error) {
	request := fileReportRequest{
		reported:  reported,
		reporting: reporting,
		kind:      ReportKindReport,
		text:      text,
		evidence:  evidence,
		reply:     make(chan result[Report], 1),
	}
	return call(ctx, s.requests, sanctionRequest(request), request.reply)
}

// Warn files a warning entry against the player and tells them so.
// Like Issue, a non-nil Report with ErrTransportUnavailable means the
// warning is recorded but the notice is still queued.
func (s *Sanctions) Warn(ctx context.Context, player, by ref.UserID, text string) (Report, error) {
	request := fileReportRequest{
		reported:  player,
		reporting: by,
		kind:      ReportKindWarning,
		text:      text,
		notify:    true,
		reply:     make(chan result[Report], 1),
	}
	return call(ctx, s.requests, sanctionRequest(request), request.reply)
}

// Resolve marks a report handled. Resolution is one-way; resolving an
// already-resolved report is a no-op, an unknown id is ErrNotFound.
func (s *Sanctions) Resolve(ctx context.Context, id int64) error {
	request := resolveRequest{id: id, reply: make(chan error, 1)}
	if err := enqueue(ctx, s.requests, sanctionRequest(request)); err != nil {
		return err
	}
	return awaitErr(ctx, request.reply)
}

// OpenReports returns unresolved reports and warnings, oldest first.
func (s *Sanctions) OpenReports(ctx context.Context) ([]Report, error) {
	request := openReportsRequest{reply: make(chan result[[]Report], 1)}
	return call(ctx, s.requests, sanctionRequest(request), request.reply)
}

// ObserveJoin re-applies standing state when a player enters the
// room: a player with an active mute is muted again, since rejoining
// resets their room-level voice.
func (s *Sanctions) ObserveJoin(ctx context.Context, player ref.UserID) error {
	request := sanctionJoinRequest{player: player, reply: make(chan struct{}, 1)}
	if err := enqueue(ctx, s.requests, sanctionRequest(request)); err != nil {
		return err
	}
	_, err := await(ctx, request.reply)
	return err
}

// Degraded reports whether the engine has entered read-only degraded
// mode.
func (s *Sanctions) Degraded(ctx context.Context) (bool, error) {
	request := sanctionDegradedRequest{reply: make(chan bool, 1)}
	if err := enqueue(ctx, s.requests, sanctionRequest(request)); err != nil {
		return false, err
	}
	return await(ctx, request.reply)
}

// Sanction request messages.

type sanctionRequest interface{ isSanctionRequest() }

type issueRequest struct {
	player   ref.UserID
	kind     SanctionKind
	duration time.Duration
	reason   string
	issuedBy ref.UserID
	reply    chan result[Sanction]
}

type revokeRequest struct {
	id     int64
	by     ref.UserID
	reason string
	reply  chan error
}

type liftRequest struct {
	player ref.UserID
	kind   SanctionKind
	by     ref.UserID
	reply  chan result[Sanction]
}

type activeCheckRequest struct {
	player ref.UserID
	kind   SanctionKind
	reply  chan bool
}

type sanctionListRequest struct {
	kind  SanctionKind
	reply chan []Sanction
}

type historyRequest struct {
	player ref.UserID
	reply  chan result[[]Sanction]
}

type fileReportRequest struct {
	reported  ref.UserID
	reporting ref.UserID
	kind      ReportKind
	text      string
	evidence  []byte
	notify    bool
	reply     chan result[Report]
}

type resolveRequest struct {
	id    int64
	reply chan error
}

type openReportsRequest struct {
	reply chan result[[]Report]
}

type sanctionJoinRequest struct {
	player ref.UserID
	reply  chan struct{}
}

type sanctionDegradedRequest struct {
	reply chan bool
}

func (issueRequest) isSanctionRequest()            {}
func (revokeRequest) isSanctionRequest()           {}
func (liftRequest) isSanctionRequest()             {}
func (activeCheckRequest) isSanctionRequest()      {}
func (sanctionListRequest) isSanctionRequest()     {}
func (historyRequest) isSanctionRequest()          {}
func (fileReportRequest) isSanctionRequest()       {}
func (resolveRequest) isSanctionRequest()          {}
func (openReportsRequest) isSanctionRequest()      {}
func (sanctionJoinRequest) isSanctionRequest()     {}
func (sanctionDegradedRequest) isSanctionRequest() {}

func (s *Sanctions) handle(ctx context.Context, request sanctionRequest) {
	switch request := request.(type) {
	case issueRequest:
		sanction, err := s.handleIssue(ctx, request)
		request.reply <- result[Sanction]{value: sanction, err: err}
	case revokeRequest:
		request.reply <- s.handleRevoke(ctx, request.id, request.by, request.reason)
	case liftRequest:
		sanction, err := s.handleLift(ctx, request)
		request.reply <- result[Sanction]{value: sanction, err: err}
	case activeCheckRequest:
		table := s.tableFor(request.kind)
		_, found := table[request.player.FoldedKey()]
		request.reply <- found
	case sanctionListRequest:
		request.reply <- s.handleList(request.kind)
	case historyRequest:
		history, err := s.store.SanctionsForPlayer(ctx, request.player)
		request.reply <- result[[]Sanction]{value: history, err: err}
	case fileReportRequest:
		report, err := s.handleFileReport(ctx, request)
		request.reply <- result[Report]{value: report, err: err}
	case resolveRequest:
		request.reply <- s.handleResolve(ctx, request.id)
	case openReportsRequest:
		reports, err := s.store.OpenReports(ctx)
		request.reply <- result[[]Report]{value: reports, err: err}
	case sanctionJoinRequest:
		s.handleObserveJoin(ctx, request.player)
		request.reply <- struct{}{}
	case sanctionDegradedRequest:
		request.reply <- s.degraded
	}
}

func (s *Sanctions) handleIssue(ctx context.Context, request issueRequest) (Sanction, error) {
	if s.degraded {
		return Sanction{}, fmt.Errorf("sanction against %s refused: %w", request.player, ErrDegraded)
	}

	now := s.clock.Now()

	if request.kind == SanctionKick {
		sanction := Sanction{
			Player:   request.player,
			Kind:     SanctionKick,
			IssuedBy: request.issuedBy,
			Reason:   request.reason,
			IssuedAt: now,
			State:    SanctionExpired,
		}
		id, err := s.persistInsert(ctx, sanction)
		if err != nil {
			return Sanction{}, err
		}
		sanction.ID = id
		s.logger.Info("kick issued",
			"sanction", id,
			"player", request.player,
			"by", request.issuedBy,
		)
		err = s.enact(ctx, enactment{action: actionKick, user: request.player, text: request.reason})
		return sanction, err
	}

	table := s.tableFor(request.kind)
	if table == nil {
		return Sanction{}, fmt.Errorf("cannot issue sanction of kind %s", request.kind)
	}

	if request.kind == SanctionMute && s.maxMute > 0 &&
		(request.duration <= 0 || request.duration > s.maxMute) {
		return Sanction{}, fmt.Errorf("mutes are capped at %s; use a shorter duration or a ban", s.maxMute)
	}

	duration := request.duration
	var expiresAt time.Time
	if duration > 0 {
		if duration > maxSanctionDuration {
			s.logger.Warn("clamping sanction duration",
				"player", request.player,
				"requested", duration.String(),
			)
			duration = maxSanctionDuration
		}
		expiresAt = now.Add(duration)
	}

	// Revoke-then-insert, in that order: a crash in between leaves the
	// player momentarily unsanctioned, never double-sanctioned.
	if existing := table[request.player.FoldedKey()]; existing != nil {
		if err := s.persistStateChange(ctx, existing.ID, SanctionRevoked, request.issuedBy, supersededReason); err != nil && !errors.Is(err, ErrNotFound) {
			return Sanction{}, err
		}
		existing.State = SanctionRevoked
		s.removeActive(existing)
		s.logger.Info("superseding active sanction",
			"sanction", existing.ID,
			"player", request.player,
			"kind", request.kind.String(),
		)
	}

	sanction := Sanction{
		Player:    request.player,
		Kind:      request.kind,
		IssuedBy:  request.issuedBy,
		Reason:    request.reason,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		State:     SanctionActive,
	}
	id, err := s.persistInsert(ctx, sanction)
	if err != nil {
		return Sanction{}, err
	}
	sanction.ID = id

	stored := sanction
	s.addActive(&stored)
	if !expiresAt.IsZero() {
		heap.Push(&s.heap, expiryEntry{at: expiresAt, id: id})
		s.scheduleExpiry()
	}

	s.logger.Info("sanction issued",
		"sanction", id,
		"player", request.player,
		"kind", request.kind.String(),
		"expires_at", expiresAt,
		"by", request.issuedBy,
	)

	action := actionMute
	if request.kind == SanctionBan {
		action = actionBan
	}
	err = s.enact(ctx, enactment{action: action, user: request.player, text: request.reason})
	return sanction, err
}

func (s *Sanctions) handleRevoke(ctx context.Context, id int64, by ref.UserID, reason string) error {
	if s.degraded {
		return fmt.Errorf("revoking sanction %d refused: %w", id, ErrDegraded)
	}

	sanction, ok := s.active[id]
	if !ok {
		return fmt.Errorf("no active sanction %d: %w", id, ErrNotFound)
	}
	return s.revoke(ctx, sanction, by, reason)
}

func (s *Sanctions) handleLift(ctx context.Context, request liftRequest) (Sanction, error) {
	if s.degraded {
		return Sanction{}, fmt.Errorf("lifting %s for %s refused: %w", request.kind, request.player, ErrDegraded)
	}

	table := s.tableFor(request.kind)
	if table == nil {
		return Sanction{}, fmt.Errorf("cannot lift sanction of kind %s", request.kind)
	}
	sanction, ok := table[request.player.FoldedKey()]
	if !ok {
		return Sanction{}, fmt.Errorf("no active %s for %s: %w", request.kind, request.player, ErrNotFound)
	}
	if err := s.revoke(ctx, sanction, request.by, "lifted"); err != nil {
		return *sanction, err
	}
	return *sanction, nil
}

// revoke commits one Active sanction to Revoked and lifts its
// enforcement.
func (s *Sanctions) revoke(ctx context.Context, sanction *Sanction, by ref.UserID, reason string) error {
	if err := s.persistStateChange(ctx, sanction.ID, SanctionRevoked, by, reason); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		// Memory said Active, the store said terminal. Trust memory
		// for the outward lift and let the startup scan settle it.
		s.logger.Warn("sanction row was already terminal in the store",
			"sanction", sanction.ID,
		)
	}
	sanction.State = SanctionRevoked
	sanction.RevokedBy = by
	sanction.RevokeReason = reason
	s.removeActive(sanction)
	s.logger.Info("sanction revoked",
		"sanction", sanction.ID,
		"player", sanction.Player,
		"kind", sanction.Kind.String(),
		"by", by,
		"reason", reason,
	)
	return s.enactLifting(ctx, sanction)
}

func (s *Sanctions) handleList(kind SanctionKind) []Sanction {
	table := s.tableFor(kind)
	list := make([]Sanction, 0, len(table))
	for _, sanction := range table {
		list = append(list, *sanction)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Player.FoldedKey() < list[j].Player.FoldedKey()
	})
	return list
}

func (s *Sanctions) handleFileReport(ctx context.Context, request fileReportRequest) (Report, error) {
	if s.degraded {
		return Report{}, fmt.Errorf("report on %s refused: %w", request.reported, ErrDegraded)
	}

	report := Report{
		Reported:  request.reported,
		Reporting: request.reporting,
		Kind:      request.kind,
		FiledAt:   s.clock.Now(),
		Body:      request.text,
	}

	if len(request.evidence) > 0 && s.archive != nil {
		evidenceRef, err := s.archive.Put(request.evidence)
		if err != nil {
			s.logger.Error("archiving report evidence failed",
				"reported", request.reported,
				"error", err,
			)
		} else {
			report.EvidenceRef = evidenceRef.String()
		}
	}

	id, err := s.persistInsertReport(ctx, report)
	if err != nil {
		return Report{}, err
	}
	report.ID = id
	s.logger.Info("report filed",
		"report", id,
		"kind", request.kind.String(),
		"reported", request.reported,
	)

	if request.notify {
		body := fmt.Sprintf("You have been warned by a moderator: %s", request.text)
		if err := s.enact(ctx, enactment{action: actionNotify, user: request.reported, text: body}); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Sanctions) handleResolve(ctx context.Context, id int64) error {
	if s.degraded {
		return fmt.Errorf("resolving report %d refused: %w", id, ErrDegraded)
	}

	err := s.store.ResolveReport(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	if err = s.store.ResolveReport(ctx, id); err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	s.degrade(err)
	return fmt.Errorf("resolving report %d: %w", id, err)
}

func (s *Sanctions) handleObserveJoin(ctx context.Context, player ref.UserID) {
	mute, ok := s.mutes[player.FoldedKey()]
	if !ok {
		return
	}
	s.logger.Info("re-applying mute on join",
		"sanction", mute.ID,
		"player", player,
	)
	// Errors queue for retry inside enact.
	_ = s.enact(ctx, enactment{action: actionMute, user: player, text: mute.Reason})
}

// persistInsert writes a sanction row, retrying once before flipping
// the engine into degraded mode.
func (s *Sanctions) persistInsert(ctx context.Context, sanction Sanction) (int64, error) {
	id, err := s.store.InsertSanction(ctx, sanction)
	if err == nil {
		return id, nil
	}
	if id, err = s.store.InsertSanction(ctx, sanction); err == nil {
		return id, nil
	}
	s.degrade(err)
	return 0, fmt.Errorf("persisting sanction for %s: %w", sanction.Player, err)
}

func (s *Sanctions) persistInsertReport(ctx context.Context, report Report) (int64, error) {
	id, err := s.store.InsertReport(ctx, report)
	if err == nil {
		return id, nil
	}
	if id, err = s.store.InsertReport(ctx, report); err == nil {
		return id, nil
	}
	s.degrade(err)
	return 0, fmt.Errorf("persisting report on %s: %w", report.Reported, err)
}

// persistStateChange moves a sanction row to a terminal state,
// retrying once before degrading. ErrNotFound passes through — it is
// an answer, not a failure.
func (s *Sanctions) persistStateChange(ctx context.Context, id int64, to SanctionState, by ref.UserID, reason string) error {
	err := s.store.UpdateSanctionState(ctx, id, to, by, reason)
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	if err = s.store.UpdateSanctionState(ctx, id, to, by, reason); err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	s.degrade(err)
	return fmt.Errorf("updating sanction %d: %w", id, err)
}

func (s *Sanctions) degrade(cause error) {
	s.degraded = true
	s.logger.Error("sanction engine entering degraded mode", "error", cause)
}

func (s *Sanctions) tableFor(kind SanctionKind) map[string]*Sanction {
	switch kind {
	case SanctionMute:
		return s.mutes
	case SanctionBan:
		return s.bans
	default:
		return nil
	}
}

func (s *Sanctions) addActive(sanction *Sanction) {
	s.active[sanction.ID] = sanction
	if table := s.tableFor(sanction.Kind); table != nil {
		table[sanction.Player.FoldedKey()] = sanction
	}
}

func (s *Sanctions) removeActive(sanction *Sanction) {
	delete(s.active, sanction.ID)
	if table := s.tableFor(sanction.Kind); table != nil {
		key := sanction.Player.FoldedKey()
		if table[key] == sanction {
			delete(table, key)
		}
	}
}

// Outward enforcement. Failed actions queue and are retried on the
// engine's retry ticker; committed sanction state never rolls back on
// a delivery failure.

type enactmentAction int

const (
	actionMute enactmentAction = iota
	actionUnmute
	actionBan
	actionUnban
	actionKick
	actionNotify
)

var enactmentActionNames = map[enactmentAction]string{
	actionMute:   "mute",
	actionUnmute: "unmute",
	actionBan:    "ban",
	actionUnban:  "unban",
	actionKick:   "kick",
	actionNotify: "notify",
}

func (a enactmentAction) String() string {
	if name, ok := enactmentActionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("enactmentAction(%d)", int(a))
}

type enactment struct {
	action   enactmentAction
	user     ref.UserID
	text     string
	attempts int
}

func (s *Sanctions) perform(ctx context.Context, e enactment) error {
	switch e.action {
	case actionMute:
		return s.enactor.MuteUser(ctx, e.user)
	case actionUnmute:
		return s.enactor.UnmuteUser(ctx, e.user)
	case actionBan:
		return s.enactor.BanUser(ctx, e.user, e.text)
	case actionUnban:
		return s.enactor.UnbanUser(ctx, e.user)
	case actionKick:
		return s.enactor.KickUser(ctx, e.user, e.text)
	case actionNotify:
		return s.enactor.NotifyUser(ctx, e.user, e.text)
	default:
		return fmt.Errorf("unknown enactment action %d", int(e.action))
	}
}

func (s *Sanctions) enact(ctx context.Context, e enactment) error {
	err := s.perform(ctx, e)
	if err == nil {
		return nil
	}
	s.pending = append(s.pending, e)
	s.logger.Warn("sanction enforcement failed, queued for retry",
		"action", e.action.String(),
		"user", e.user,
		"error", err,
	)
	return fmt.Errorf("enforcing %s for %s: %w: %w", e.action, e.user, ErrTransportUnavailable, err)
}

// enactLifting delivers the outward lift for a sanction leaving the
// Active state.
func (s *Sanctions) enactLifting(ctx context.Context, sanction *Sanction) error {
	switch sanction.Kind {
	case SanctionMute:
		return s.enact(ctx, enactment{action: actionUnmute, user: sanction.Player})
	case SanctionBan:
		return s.enact(ctx, enactment{action: actionUnban, user: sanction.Player})
	default:
		return nil
	}
}

func (s *Sanctions) retryPending(ctx context.Context) {
	if len(s.pending) == 0 {
		return
	}
	queued := s.pending
	s.pending = nil
	for _, e := range queued {
		if err := s.perform(ctx, e); err != nil {
			e.attempts++
			if e.attempts >= enactRetryLimit {
				s.logger.Error("dropping sanction enforcement after repeated failures",
					"action", e.action.String(),
					"user", e.user,
					"attempts", e.attempts,
					"error", err,
				)
				continue
			}
			s.pending = append(s.pending, e)
			continue
		}
		s.logger.Info("queued sanction enforcement delivered",
			"action", e.action.String(),
			"user", e.user,
		)
	}
}
