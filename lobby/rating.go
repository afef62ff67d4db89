// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/muster-project/muster/lib/archive"
	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/ratingpolicy"
	"github.com/muster-project/muster/lib/ref"
)

// SessionSource is the rating engine's read side of the session
// registry: look a session up to validate a report, and finalize it
// once the report is applied. Registry implements it.
type SessionSource interface {
	Session(ctx context.Context, host ref.UserID) (GameSession, error)
	MarkFinished(ctx context.Context, host ref.UserID) error
}

// RatingRecord is one player's standing. Records are created lazily
// the first time a player appears in a validated match report; absent
// players read as the policy default without creating a row.
type RatingRecord struct {
	Player        ref.UserID
	Rating        float64
	HighestRating float64
	GamesPlayed   int
	Wins          int
	Losses        int
	UpdatedAt     time.Time

	// Revision counts committed writes to this row. The store refuses
	// a write whose expected revision is stale (ErrConflict), which
	// protects the multi-row match commit against concurrent writers
	// (another service instance, manual surgery).
	Revision int64
}

// RatingChange is one player's movement from a single match report.
type RatingChange struct {
	Player    ref.UserID
	OldRating float64
	NewRating float64
}

// RatingUpdateSummary is the reply to a successfully applied match
// report. Changes is empty for unrated results (a draw, or no
// winner/loser pairing).
type RatingUpdateSummary struct {
	Host    ref.UserID
	Ref     archive.Ref
	Changes []RatingChange
}

// PlayerProfile is the public career summary for one player.
type PlayerProfile struct {
	Player        ref.UserID
	Rating        float64
	HighestRating float64
	GamesPlayed   int
	Wins          int
	Losses        int
}

// RatingsConfig holds the parameters for creating the rating engine.
type RatingsConfig struct {
	// Store persists rating records and the applied-report index.
	// Required.
	Store *Store

	// Sessions validates reports against announced games. Required.
	Sessions SessionSource

	// Archive receives the raw payload of every applied report,
	// content-addressed. Required.
	Archive *archive.Archive

	// Policy selects K-factors and thresholds. Nil uses
	// ratingpolicy.Default().
	Policy *ratingpolicy.Policy

	// LeaderboardMinGames hides players with fewer rated games from
	// TopN. Zero or negative means no floor. Profiles and direct
	// rating lookups are unaffected.
	LeaderboardMinGames int

	// Clock stamps record updates. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Ratings is the rating engine. The in-memory record table is
// authoritative between restarts; every mutation is committed to the
// store before memory is updated, and Run reloads the table from the
// store at startup.
type Ratings struct {
	store    *Store
	sessions SessionSource
	archive  *archive.Archive
	policy   ratingpolicy.Policy
	minGames int
	clock    clock.Clock
	logger   *slog.Logger

	requests chan ratingRequest

	// Loop-owned state. Keys are case-folded user IDs.
	records  map[string]*RatingRecord
	degraded bool
}

// NewRatings creates the rating engine. Call Run to load records and
// start serving.
func NewRatings(config RatingsConfig) (*Ratings, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("rating engine: Store is required")
	}
	if config.Sessions == nil {
		return nil, fmt.Errorf("rating engine: Sessions is required")
	}
	if config.Archive == nil {
		return nil, fmt.Errorf("rating engine: Archive is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("rating engine: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("rating engine: Logger is required")
	}

	policy := ratingpolicy.Default()
	if config.Policy != nil {
		policy = *config.Policy
	}

	return &Ratings{
		store:    config.Store,
		sessions: config.Sessions,
		archive:  config.Archive,
		policy:   policy,
		minGames: config.LeaderboardMinGames,
		clock:    config.Clock,
		logger:   config.Logger,
		requests: make(chan ratingRequest, engineQueueDepth),
		records:  make(map[string]*RatingRecord),
	}, nil
}

// Run loads the record table from the store and drains the request
// queue until ctx is cancelled. A load failure is returned before any
// request is served; runtime store failures degrade the engine
// instead of stopping it.
func (r *Ratings) Run(ctx context.Context) error {
	loaded, err := r.store.Ratings(ctx, 0)
	if err != nil {
		return fmt.Errorf("rating engine: loading records: %w", err)
	}
	for i := range loaded {
		record := loaded[i]
		r.records[record.Player.FoldedKey()] = &record
	}
	r.logger.Info("rating records loaded", "players", len(r.records))

	for {
		select {
		case <-ctx.Done():
			return nil
		case request := <-r.requests:
			r.handle(ctx, request)
		}
	}
}

// ReportResult validates and applies a match report from host.
// payload is the canonical report bytes; its content hash is the
// report's identity, so redelivered payloads are rejected as
// duplicates. On success the session is finalized and the payload
// archived.
func (r *Ratings) ReportResult(ctx context.Context, host ref.UserID, outcomes map[string]Outcome, payload []byte) (RatingUpdateSummary, error) {
	request := reportResultRequest{
		host:     host,
		outcomes: outcomes,
		payload:  payload,
		reply:    make(chan result[RatingUpdateSummary], 1),
	}
	return call(ctx, r.requests, ratingRequest(request), request.reply)
}

// GetRating returns the player's record. A player with no record
// reads as the policy default; no row is created.
func (r *Ratings) GetRating(ctx context.Context, player ref.UserID) (RatingRecord, error) {
	request := getRatingRequest{player: player, reply: make(chan RatingRecord, 1)}
	if err := enqueue(ctx, r.requests, ratingRequest(request)); err != nil {
		return RatingRecord{}, err
	}
	return await(ctx, request.reply)
}

// TopN returns the leaderboard: up to n records, rating descending,
// ties broken by fewer games played, then by user ID.
func (r *Ratings) TopN(ctx context.Context, n int) ([]RatingRecord, error) {
	request := topNRequest{n: n, reply: make(chan []RatingRecord, 1)}
	if err := enqueue(ctx, r.requests, ratingRequest(request)); err != nil {
		return nil, err
	}
	return await(ctx, request.reply)
}

// Profile returns the player's career summary, or ErrNotFound for a
// player who has never finished a rated game.
func (r *Ratings) Profile(ctx context.Context, player ref.UserID) (PlayerProfile, error) {
	request := profileRequest{player: player, reply: make(chan result[PlayerProfile], 1)}
	return call(ctx, r.requests, ratingRequest(request), request.reply)
}

// Degraded reports whether the engine has entered read-only degraded
// mode.
func (r *Ratings) Degraded(ctx context.Context) (bool, error) {
	request := ratingDegradedRequest{reply: make(chan bool, 1)}
	if err := enqueue(ctx, r.requests, ratingRequest(request)); err != nil {
		return false, err
	}
	return await(ctx, request.reply)
}

// Rating request messages.

type ratingRequest interface{ isRatingRequest() }

type reportResultRequest struct {
	host     ref.UserID
	outcomes map[string]Outcome
	payload  []byte
	reply    chan result[RatingUpdateSummary]
}

type getRatingRequest struct {
	player ref.UserID
	reply  chan RatingRecord
}

type topNRequest struct {
	n     int
	reply chan []RatingRecord
}

type profileRequest struct {
	player ref.UserID
	reply  chan result[PlayerProfile]
}

type ratingDegradedRequest struct {
	reply chan bool
}

func (reportResultRequest) isRatingRequest()   {}
func (getRatingRequest) isRatingRequest()      {}
func (topNRequest) isRatingRequest()           {}
func (profileRequest) isRatingRequest()        {}
func (ratingDegradedRequest) isRatingRequest() {}

func (r *Ratings) handle(ctx context.Context, request ratingRequest) {
	switch request := request.(type) {
	case reportResultRequest:
		summary, err := r.handleReport(ctx, request)
		request.reply <- result[RatingUpdateSummary]{value: summary, err: err}
	case getRatingRequest:
		request.reply <- r.currentRecord(request.player)
	case topNRequest:
		request.reply <- r.handleTopN(request.n)
	case profileRequest:
		request.reply <- r.handleProfile(request.player)
	case ratingDegradedRequest:
		request.reply <- r.degraded
	}
}

// currentRecord returns a copy of the player's record, or the policy
// default for a player with none.
func (r *Ratings) currentRecord(player ref.UserID) RatingRecord {
	if record, ok := r.records[player.FoldedKey()]; ok {
		return *record
	}
	return RatingRecord{
		Player:        player,
		Rating:        r.policy.DefaultRating,
		HighestRating: r.policy.DefaultRating,
	}
}

// participant is one validated entry from a report's outcome map.
type participant struct {
	user    ref.UserID
	key     string
	outcome Outcome
}

func (r *Ratings) handleReport(ctx context.Context, request reportResultRequest) (RatingUpdateSummary, error) {
	var summary RatingUpdateSummary

	if r.degraded {
		return summary, fmt.Errorf("match report from %s refused: %w", request.host, ErrDegraded)
	}

	session, err := r.sessions.Session(ctx, request.host)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return summary, fmt.Errorf("no announced session for %s: %w", request.host, ErrInvalidReport)
		}
		return summary, fmt.Errorf("looking up session for %s: %w", request.host, err)
	}

	switch session.State {
	case StateInProgress:
	case StateFinished:
		return summary, fmt.Errorf("session of %s was already scored: %w", request.host, ErrInvalidReport)
	default:
		return summary, fmt.Errorf("session of %s is %s, not in progress: %w", request.host, session.State, ErrInvalidReport)
	}

	if len(request.outcomes) == 0 {
		return summary, fmt.Errorf("report from %s has no outcomes: %w", request.host, ErrInvalidReport)
	}

	participants := make([]participant, 0, len(request.outcomes))
	for raw, outcome := range request.outcomes {
		user, err := ref.ParseUserID(raw)
		if err != nil {
			return summary, fmt.Errorf("participant %q is not a user ID: %w", raw, ErrInvalidReport)
		}
		if !session.hasPlayer(raw) {
			return summary, fmt.Errorf("participant %s was not in the game: %w", user, ErrInvalidReport)
		}
		participants = append(participants, participant{user: user, key: user.FoldedKey(), outcome: outcome})
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].key < participants[j].key })

	payloadRef := archive.HashContent(request.payload)
	applied, err := r.store.ReportApplied(ctx, payloadRef)
	if err != nil {
		// Advisory only — the commit re-checks inside its transaction.
		r.logger.Warn("duplicate pre-check failed", "ref", payloadRef.Short(), "error", err)
	} else if applied {
		return summary, fmt.Errorf("report %s was already applied: %w", payloadRef.Short(), ErrInvalidReport)
	}

	now := r.clock.Now()
	updates, changes := r.computeUpdates(participants, now)

	// One retry for a transient failure and one refresh pass for a
	// revision conflict, in either order: a transient retry can lose
	// a race and come back as a conflict, which still deserves the
	// re-read and recompute before the report is rejected.
	conflictRetried := false
	transientRetried := false
	commitErr := r.store.ApplyMatchResult(ctx, payloadRef, request.host, updates, now)
	for commitErr != nil {
		switch {
		case errors.Is(commitErr, ErrInvalidReport):
			return summary, commitErr
		case errors.Is(commitErr, ErrConflict) && !conflictRetried:
			// Another writer moved a row under us. Refresh the
			// touched records from the store and recompute.
			conflictRetried = true
			if err := r.refreshRecords(ctx, participants); err != nil {
				return summary, fmt.Errorf("refreshing records after conflict: %w", err)
			}
			updates, changes = r.computeUpdates(participants, now)
		case errors.Is(commitErr, ErrConflict):
			return summary, commitErr
		case !transientRetried:
			transientRetried = true
		default:
			r.degraded = true
			r.logger.Error("rating engine entering degraded mode",
				"host", request.host,
				"error", commitErr,
			)
			return summary, fmt.Errorf("applying match result: %w", commitErr)
		}
		commitErr = r.store.ApplyMatchResult(ctx, payloadRef, request.host, updates, now)
	}

	for i := range updates {
		committed := updates[i]
		committed.Revision++
		r.records[committed.Player.FoldedKey()] = &committed
	}

	if err := r.sessions.MarkFinished(ctx, request.host); err != nil {
		r.logger.Warn("could not finalize session after scoring",
			"host", request.host,
			"error", err,
		)
	}

	if _, err := r.archive.Put(request.payload); err != nil {
		r.logger.Error("archiving match payload failed",
			"ref", payloadRef.Short(),
			"error", err,
		)
	}

	summary = RatingUpdateSummary{Host: request.host, Ref: payloadRef, Changes: changes}
	r.logger.Info("match report applied",
		"host", request.host,
		"ref", payloadRef.Short(),
		"participants", len(participants),
		"rated_changes", len(changes),
	)
	return summary, nil
}

// computeUpdates runs the pairwise rating algorithm over a report's
// participants against the current record table. Adjustments for all
// winner/loser pairs are computed from the ratings as they stood
// before the match, then summed — the result does not depend on pair
// order. Survivors pair with nobody and are untouched; a report with
// no winners (a draw) produces no updates at all.
func (r *Ratings) computeUpdates(participants []participant, now time.Time) ([]RatingRecord, []RatingChange) {
	var winners, losers []participant
	for _, p := range participants {
		switch p.outcome {
		case OutcomeWin:
			winners = append(winners, p)
		case OutcomeLoss, OutcomeDefeated:
			losers = append(losers, p)
		}
	}
	if len(winners) == 0 || len(losers) == 0 {
		return nil, nil
	}

	before := make(map[string]RatingRecord, len(winners)+len(losers))
	for _, p := range append(winners[:len(winners):len(winners)], losers...) {
		before[p.key] = r.currentRecord(p.user)
	}

	adjustments := make(map[string]float64)
	for _, winner := range winners {
		for _, loser := range losers {
			w, l := before[winner.key], before[loser.key]
			delta := r.policy.Adjustment(w.Rating, l.Rating, w.GamesPlayed, l.GamesPlayed)
			adjustments[winner.key] += delta
			adjustments[loser.key] -= delta
		}
	}

	updates := make([]RatingRecord, 0, len(before))
	changes := make([]RatingChange, 0, len(before))
	apply := func(p participant, won bool) {
		record := before[p.key]
		old := record.Rating
		record.Rating += adjustments[p.key]
		if record.Rating > record.HighestRating {
			record.HighestRating = record.Rating
		}
		record.GamesPlayed++
		if won {
			record.Wins++
		} else {
			record.Losses++
		}
		record.UpdatedAt = now
		updates = append(updates, record)
		changes = append(changes, RatingChange{Player: record.Player, OldRating: old, NewRating: record.Rating})
	}
	for _, winner := range winners {
		apply(winner, true)
	}
	for _, loser := range losers {
		apply(loser, false)
	}
	return updates, changes
}

// refreshRecords replaces the in-memory records for a report's
// participants with fresh reads from the store.
func (r *Ratings) refreshRecords(ctx context.Context, participants []participant) error {
	for _, p := range participants {
		record, found, err := r.store.GetRating(ctx, p.user)
		if err != nil {
			return fmt.Errorf("re-reading rating for %s: %w", p.user, err)
		}
		if !found {
			delete(r.records, p.key)
			continue
		}
		copied := record
		r.records[p.key] = &copied
	}
	return nil
}

func (r *Ratings) handleTopN(n int) []RatingRecord {
	if n <= 0 {
		return nil
	}
	board := make([]RatingRecord, 0, len(r.records))
	for _, record := range r.records {
		if record.GamesPlayed < r.minGames {
			continue
		}
		board = append(board, *record)
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].Rating != board[j].Rating {
			return board[i].Rating > board[j].Rating
		}
		if board[i].GamesPlayed != board[j].GamesPlayed {
			return board[i].GamesPlayed < board[j].GamesPlayed
		}
		return board[i].Player.FoldedKey() < board[j].Player.FoldedKey()
	})
	if len(board) > n {
		board = board[:n]
	}
	return board
}

func (r *Ratings) handleProfile(player ref.UserID) result[PlayerProfile] {
	record, ok := r.records[player.FoldedKey()]
	if !ok {
		return result[PlayerProfile]{err: fmt.Errorf("%s has no rated games: %w", player, ErrNotFound)}
	}
	return result[PlayerProfile]{value: PlayerProfile{
		Player:        record.Player,
		Rating:        record.Rating,
		HighestRating: record.HighestRating,
		GamesPlayed:   record.GamesPlayed,
		Wins:          record.Wins,
		Losses:        record.Losses,
	}}
}
