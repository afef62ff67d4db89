// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/muster-project/muster/lib/archive"
	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/ratingpolicy"
	"github.com/muster-project/muster/lib/ref"
)

// fakeSessions is a scripted SessionSource. Tests seed it with the
// session the report should validate against.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]GameSession
	finished map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]GameSession),
		finished: make(map[string]bool),
	}
}

func (f *fakeSessions) put(session GameSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.Host.FoldedKey()] = session
}

func (f *fakeSessions) Session(ctx context.Context, host ref.UserID) (GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[host.FoldedKey()]
	if !ok {
		return GameSession{}, fmt.Errorf("no session for %s: %w", host, ErrNotFound)
	}
	return session, nil
}

func (f *fakeSessions) MarkFinished(ctx context.Context, host ref.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := host.FoldedKey()
	session, ok := f.sessions[key]
	if !ok {
		return fmt.Errorf("no session for %s: %w", host, ErrNotFound)
	}
	session.State = StateFinished
	f.sessions[key] = session
	f.finished[key] = true
	return nil
}

func (f *fakeSessions) wasFinished(host ref.UserID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished[host.FoldedKey()]
}

func openTestArchive(t *testing.T) *archive.Archive {
	t.Helper()
	key, err := archive.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	store, err := archive.Open(t.TempDir(), key, archive.CompressionNone)
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestRatings starts a rating engine over an in-memory store and a
// scripted session source.
func newTestRatings(t *testing.T, policy *ratingpolicy.Policy) (*Ratings, *fakeSessions, *Store) {
	t.Helper()
	store := openTestStore(t)
	sessions := newFakeSessions()

	ratings, err := NewRatings(RatingsConfig{
		Store:    store,
		Sessions: sessions,
		Archive:  openTestArchive(t),
		Policy:   policy,
		Clock:    clock.Fake(testEpoch),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewRatings: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ratings.Run(ctx)
	return ratings, sessions, store
}

// seedInProgress registers an in-progress session for host with the
// given players.
func seedInProgress(sessions *fakeSessions, host ref.UserID, players ...string) {
	sessions.put(GameSession{
		Host:    host,
		State:   StateInProgress,
		Players: players,
	})
}

func report(t *testing.T, ratings *Ratings, host ref.UserID, payload string, outcomes map[string]Outcome) (RatingUpdateSummary, error) {
	t.Helper()
	return ratings.ReportResult(context.Background(), host, outcomes, []byte(payload))
}

func TestDecidedPairIsZeroSum(t *testing.T) {
	ratings, sessions, _ := newTestRatings(t, nil)
	host := testUser(t, "@alice:arena.example")
	seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")

	summary, err := report(t, ratings, host, "match-1", map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
		"@bob:arena.example":   OutcomeLoss,
	})
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if len(summary.Changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(summary.Changes))
	}

	byPlayer := make(map[string]RatingChange)
	for _, change := range summary.Changes {
		byPlayer[change.Player.Localpart()] = change
	}
	winner, loser := byPlayer["alice"], byPlayer["bob"]

	if winner.NewRating <= winner.OldRating {
		t.Errorf("winner moved %.2f -> %.2f, want a strict increase", winner.OldRating, winner.NewRating)
	}
	if loser.NewRating >= loser.OldRating {
		t.Errorf("loser moved %.2f -> %.2f, want a strict decrease", loser.OldRating, loser.NewRating)
	}
	gain := winner.NewRating - winner.OldRating
	loss := loser.OldRating - loser.NewRating
	if math.Abs(gain-loss) > 1e-9 {
		t.Errorf("gain %.6f != loss %.6f, want zero-sum", gain, loss)
	}

	// Equal starting ratings move by exactly K/2 under the default
	// policy: both players are provisional, E = 0.5.
	policy := ratingpolicy.Default()
	if want := policy.ProvisionalK / 2; math.Abs(gain-want) > 1e-9 {
		t.Errorf("gain = %.4f, want %.4f for equal provisional players", gain, want)
	}
}

func TestReportFinalizesAndRefusesSecondApplication(t *testing.T) {
	ratings, sessions, _ := newTestRatings(t, nil)
	host := testUser(t, "@alice:arena.example")
	seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")

	outcomes := map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
		"@bob:arena.example":   OutcomeDefeated,
	}
	if _, err := report(t, ratings, host, "match-1", outcomes); err != nil {
		t.Fatalf("first report: %v", err)
	}
	if !sessions.wasFinished(host) {
		t.Error("session was not finalized after a successful report")
	}

	// The session is Finished now, so a replay is refused and ratings
	// do not double-apply.
	_, err := report(t, ratings, host, "match-1", outcomes)
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("replay: got %v, want ErrInvalidReport", err)
	}

	record, err := ratings.GetRating(context.Background(), testUser(t, "@alice:arena.example"))
	if err != nil {
		t.Fatalf("GetRating: %v", err)
	}
	if record.GamesPlayed != 1 {
		t.Errorf("GamesPlayed = %d, want 1 after a refused replay", record.GamesPlayed)
	}
}

func TestDuplicatePayloadRefusedAgainstLiveSession(t *testing.T) {
	ratings, sessions, _ := newTestRatings(t, nil)
	host := testUser(t, "@alice:arena.example")
	seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")

	outcomes := map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
		"@bob:arena.example":   OutcomeLoss,
	}
	if _, err := report(t, ratings, host, "same-payload", outcomes); err != nil {
		t.Fatalf("first report: %v", err)
	}

	// Even if the host immediately announces again and the session is
	// back in progress, the identical payload is a duplicate.
	seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")
	_, err := report(t, ratings, host, "same-payload", outcomes)
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("duplicate payload: got %v, want ErrInvalidReport", err)
	}
}

func TestReportValidation(t *testing.T) {
	ratings, sessions, _ := newTestRatings(t, nil)
	host := testUser(t, "@alice:arena.example")

	// Unknown session.
	_, err := report(t, ratings, host, "m1", map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
	})
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("unknown session: got %v, want ErrInvalidReport", err)
	}

	// Session not yet in progress.
	sessions.put(GameSession{Host: host, State: StateWaiting, Players: []string{"@alice:arena.example"}})
	_, err = report(t, ratings, host, "m2", map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
	})
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("waiting session: got %v, want ErrInvalidReport", err)
	}

	// Participant not in the announced player set.
	seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")
	_, err = report(t, ratings, host, "m3", map[string]Outcome{
		"@alice:arena.example":   OutcomeWin,
		"@mallory:arena.example": OutcomeLoss,
	})
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("unknown participant: got %v, want ErrInvalidReport", err)
	}

	// Empty outcome map.
	_, err = report(t, ratings, host, "m4", map[string]Outcome{})
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("empty outcomes: got %v, want ErrInvalidReport", err)
	}

	// Nothing above should have created rating rows.
	record, err := ratings.GetRating(context.Background(), testUser(t, "@alice:arena.example"))
	if err != nil {
		t.Fatalf("GetRating: %v", err)
	}
	if record.GamesPlayed != 0 || record.Revision != 0 {
		t.Errorf("record = %+v, want untouched default", record)
	}
}

func TestDrawAppliesNoChangeButFinalizes(t *testing.T) {
	ratings, sessions, _ := newTestRatings(t, nil)
	host := testUser(t, "@alice:arena.example")
	seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")

	summary, err := report(t, ratings, host, "draw-1", map[string]Outcome{
		"@alice:arena.example": OutcomeSurvived,
		"@bob:arena.example":   OutcomeSurvived,
	})
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if len(summary.Changes) != 0 {
		t.Errorf("draw produced %d rating changes, want 0", len(summary.Changes))
	}
	if !sessions.wasFinished(host) {
		t.Error("draw did not finalize the session")
	}
}

func TestSurvivorUntouchedInDecidedGame(t *testing.T) {
	ratings, sessions, _ := newTestRatings(t, nil)
	host := testUser(t, "@alice:arena.example")
	seedInProgress(sessions, host,
		"@alice:arena.example", "@bob:arena.example", "@carol:arena.example")

	summary, err := report(t, ratings, host, "ffa-1", map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
		"@bob:arena.example":   OutcomeDefeated,
		"@carol:arena.example": OutcomeSurvived,
	})
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if len(summary.Changes) != 2 {
		t.Fatalf("got %d changes, want 2 (survivor pairs with nobody)", len(summary.Changes))
	}
	for _, change := range summary.Changes {
		if change.Player.Localpart() == "carol" {
			t.Error("survivor appeared in the rating changes")
		}
	}

	record, err := ratings.GetRating(context.Background(), testUser(t, "@carol:arena.example"))
	if err != nil {
		t.Fatalf("GetRating: %v", err)
	}
	if record.GamesPlayed != 0 {
		t.Errorf("survivor GamesPlayed = %d, want 0", record.GamesPlayed)
	}
}

func TestFreeForAllDecomposesIntoPairs(t *testing.T) {
	ratings, sessions, _ := newTestRatings(t, nil)
	host := testUser(t, "@alice:arena.example")
	players := []string{
		"@alice:arena.example", "@bob:arena.example",
		"@carol:arena.example", "@dave:arena.example",
	}
	seedInProgress(sessions, host, players...)

	// Team game: two winners over two losers. Every winner pairs with
	// every loser, and the whole report is still zero-sum.
	summary, err := report(t, ratings, host, "team-1", map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
		"@bob:arena.example":   OutcomeWin,
		"@carol:arena.example": OutcomeDefeated,
		"@dave:arena.example":  OutcomeDefeated,
	})
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if len(summary.Changes) != 4 {
		t.Fatalf("got %d changes, want 4", len(summary.Changes))
	}
	total := 0.0
	for _, change := range summary.Changes {
		total += change.NewRating - change.OldRating
	}
	if math.Abs(total) > 1e-9 {
		t.Errorf("net rating movement = %.9f, want 0", total)
	}
}

func TestSureWinGapMovesNothing(t *testing.T) {
	policy := ratingpolicy.Default()
	_, sessions, store := newTestRatings(t, &policy)
	ctx := context.Background()
	host := testUser(t, "@veteran:arena.example")

	// Seed the veteran far above the newcomer, past the sure-win gap.
	// The engine loaded its table before this write, so restart it to
	// pick the row up.
	err := store.ApplyMatchResult(ctx, payloadRef("seed-veteran"), host, []RatingRecord{{
		Player:        host,
		Rating:        policy.DefaultRating + policy.SureWinDifference + 50,
		HighestRating: policy.DefaultRating + policy.SureWinDifference + 50,
		GamesPlayed:   30,
		Wins:          30,
		UpdatedAt:     testEpoch,
	}}, testEpoch)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	restarted, err := NewRatings(RatingsConfig{
		Store:    store,
		Sessions: sessions,
		Archive:  openTestArchive(t),
		Policy:   &policy,
		Clock:    clock.Fake(testEpoch),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewRatings: %v", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go restarted.Run(runCtx)

	seedInProgress(sessions, host, "@veteran:arena.example", "@newbie:arena.example")
	summary, err := restarted.ReportResult(ctx, host, map[string]Outcome{
		"@veteran:arena.example": OutcomeWin,
		"@newbie:arena.example":  OutcomeLoss,
	}, []byte("stomp-1"))
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}

	for _, change := range summary.Changes {
		if change.NewRating != change.OldRating {
			t.Errorf("%s moved %.2f -> %.2f across the sure-win gap, want no change",
				change.Player, change.OldRating, change.NewRating)
		}
	}
	// The game still counts toward careers.
	record, err := restarted.GetRating(ctx, host)
	if err != nil {
		t.Fatalf("GetRating: %v", err)
	}
	if record.GamesPlayed != 31 {
		t.Errorf("GamesPlayed = %d, want 31", record.GamesPlayed)
	}
}

func TestGetRatingDefaultsWithoutCreating(t *testing.T) {
	ratings, _, store := newTestRatings(t, nil)
	ctx := context.Background()
	player := testUser(t, "@ghost:arena.example")

	record, err := ratings.GetRating(ctx, player)
	if err != nil {
		t.Fatalf("GetRating: %v", err)
	}
	if record.Rating != ratingpolicy.Default().DefaultRating {
		t.Errorf("default rating = %.0f, want %.0f", record.Rating, ratingpolicy.Default().DefaultRating)
	}

	_, found, err := store.GetRating(ctx, player)
	if err != nil {
		t.Fatalf("store GetRating: %v", err)
	}
	if found {
		t.Error("a read-only query created a rating row")
	}
}

func TestTopNOrderingAndTieBreak(t *testing.T) {
	_, sessions, store := newTestRatings(t, nil)
	ctx := context.Background()
	host := testUser(t, "@host:arena.example")

	rows := []RatingRecord{
		{Player: testUser(t, "@a:arena.example"), Rating: 1500, GamesPlayed: 7},
		{Player: testUser(t, "@b:arena.example"), Rating: 1600, GamesPlayed: 10},
		{Player: testUser(t, "@c:arena.example"), Rating: 1600, GamesPlayed: 20},
		{Player: testUser(t, "@d:arena.example"), Rating: 1400, GamesPlayed: 3},
		{Player: testUser(t, "@e:arena.example"), Rating: 1550, GamesPlayed: 12},
	}
	if err := store.ApplyMatchResult(ctx, payloadRef("seed-board"), host, rows, testEpoch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	restarted, err := NewRatings(RatingsConfig{
		Store:    store,
		Sessions: sessions,
		Archive:  openTestArchive(t),
		Clock:    clock.Fake(testEpoch),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewRatings: %v", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go restarted.Run(runCtx)

	board, err := restarted.TopN(ctx, 5)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	// B and C tie at 1600; B has fewer games and precedes C.
	want := []string{"b", "c", "e", "a", "d"}
	if len(board) != len(want) {
		t.Fatalf("got %d entries, want %d", len(board), len(want))
	}
	for i, record := range board {
		if record.Player.Localpart() != want[i] {
			t.Errorf("position %d = %s, want %s", i, record.Player.Localpart(), want[i])
		}
	}

	top2, err := restarted.TopN(ctx, 2)
	if err != nil {
		t.Fatalf("TopN(2): %v", err)
	}
	if len(top2) != 2 {
		t.Errorf("TopN(2) returned %d entries", len(top2))
	}
}

func TestTopNHidesPlayersBelowGamesFloor(t *testing.T) {
	store := openTestStore(t)
	sessions := newFakeSessions()
	ctx := context.Background()
	host := testUser(t, "@host:arena.example")

	rows := []RatingRecord{
		{Player: testUser(t, "@veteran:arena.example"), Rating: 1500, GamesPlayed: 12},
		{Player: testUser(t, "@newcomer:arena.example"), Rating: 1700, GamesPlayed: 3},
	}
	if err := store.ApplyMatchResult(ctx, payloadRef("seed-floor"), host, rows, testEpoch); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ratings, err := NewRatings(RatingsConfig{
		Store:               store,
		Sessions:            sessions,
		Archive:             openTestArchive(t),
		LeaderboardMinGames: 10,
		Clock:               clock.Fake(testEpoch),
		Logger:              testLogger(),
	})
	if err != nil {
		t.Fatalf("NewRatings: %v", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go ratings.Run(runCtx)

	board, err := ratings.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(board) != 1 || board[0].Player.Localpart() != "veteran" {
		t.Fatalf("board = %v, want only veteran above the floor", board)
	}

	// The floor hides leaderboard entries only; the newcomer's profile
	// is still served.
	profile, err := ratings.Profile(ctx, testUser(t, "@newcomer:arena.example"))
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.GamesPlayed != 3 {
		t.Errorf("profile.GamesPlayed = %d, want 3", profile.GamesPlayed)
	}
}

func TestProfileTracksCareer(t *testing.T) {
	ratings, sessions, _ := newTestRatings(t, nil)
	ctx := context.Background()
	host := testUser(t, "@alice:arena.example")

	_, err := ratings.Profile(ctx, testUser(t, "@alice:arena.example"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("profile before any game: got %v, want ErrNotFound", err)
	}

	for i, winner := range []string{"@alice:arena.example", "@bob:arena.example"} {
		loser := "@bob:arena.example"
		if winner == loser {
			loser = "@alice:arena.example"
		}
		seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")
		if _, err := report(t, ratings, host, fmt.Sprintf("career-%d", i), map[string]Outcome{
			winner: OutcomeWin,
			loser:  OutcomeLoss,
		}); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	profile, err := ratings.Profile(ctx, testUser(t, "@alice:arena.example"))
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.GamesPlayed != 2 || profile.Wins != 1 || profile.Losses != 1 {
		t.Errorf("career = %d games %d-%d, want 2 games 1-1",
			profile.GamesPlayed, profile.Wins, profile.Losses)
	}
	// Alice won the first game from parity, so her peak is above her
	// current rating after losing the second.
	if profile.HighestRating <= profile.Rating {
		t.Errorf("peak %.2f not above current %.2f after a win then a loss",
			profile.HighestRating, profile.Rating)
	}
}

func TestRatingsSurviveRestart(t *testing.T) {
	ratings, sessions, store := newTestRatings(t, nil)
	ctx := context.Background()
	host := testUser(t, "@alice:arena.example")
	seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")

	if _, err := report(t, ratings, host, "m1", map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
		"@bob:arena.example":   OutcomeLoss,
	}); err != nil {
		t.Fatalf("report: %v", err)
	}
	before, err := ratings.GetRating(ctx, testUser(t, "@alice:arena.example"))
	if err != nil {
		t.Fatalf("GetRating: %v", err)
	}

	restarted, err := NewRatings(RatingsConfig{
		Store:    store,
		Sessions: sessions,
		Archive:  openTestArchive(t),
		Clock:    clock.Fake(testEpoch),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewRatings: %v", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go restarted.Run(runCtx)

	after, err := restarted.GetRating(ctx, testUser(t, "@alice:arena.example"))
	if err != nil {
		t.Fatalf("GetRating after restart: %v", err)
	}
	if after.Rating != before.Rating || after.GamesPlayed != before.GamesPlayed {
		t.Errorf("restarted record = %+v, want %+v", after, before)
	}
}

func TestReportRecoversFromRevisionConflict(t *testing.T) {
	ratings, sessions, store := newTestRatings(t, nil)
	ctx := context.Background()
	host := testUser(t, "@alice:arena.example")
	alice := testUser(t, "@alice:arena.example")

	// Make sure the engine's table load has finished before the
	// out-of-band write, so the cache is definitely stale afterwards.
	if _, err := ratings.GetRating(ctx, alice); err != nil {
		t.Fatalf("GetRating: %v", err)
	}
	err := store.ApplyMatchResult(ctx, payloadRef("out-of-band"), host, []RatingRecord{{
		Player:        alice,
		Rating:        1540,
		HighestRating: 1540,
		GamesPlayed:   5,
		Wins:          4,
		Losses:        1,
		UpdatedAt:     testEpoch,
	}}, testEpoch)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The engine's first commit fails the revision check; the report
	// must still land after the re-read and recompute.
	seedInProgress(sessions, host, "@alice:arena.example", "@bob:arena.example")
	summary, err := report(t, ratings, host, "conflicted-match", map[string]Outcome{
		"@alice:arena.example": OutcomeWin,
		"@bob:arena.example":   OutcomeLoss,
	})
	if err != nil {
		t.Fatalf("ReportResult after out-of-band write: %v", err)
	}

	var change RatingChange
	for _, c := range summary.Changes {
		if c.Player.EqualFold(alice) {
			change = c
		}
	}
	if change.OldRating != 1540 {
		t.Errorf("OldRating = %.0f, want 1540 from the re-read row, not the stale cache", change.OldRating)
	}
	record, err := ratings.GetRating(ctx, alice)
	if err != nil {
		t.Fatalf("GetRating after report: %v", err)
	}
	if record.GamesPlayed != 6 {
		t.Errorf("GamesPlayed = %d, want 6 after the retried commit", record.GamesPlayed)
	}
}
