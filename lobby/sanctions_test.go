// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/ref"
)

// fakeEnactor records outward enforcement calls and can be scripted to
// fail.
type fakeEnactor struct {
	mu    sync.Mutex
	fail  bool
	calls []string
}

func (f *fakeEnactor) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("scripted transport failure")
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeEnactor) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeEnactor) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEnactor) count(call string) int {
	n := 0
	for _, recorded := range f.recorded() {
		if recorded == call {
			n++
		}
	}
	return n
}

func (f *fakeEnactor) KickUser(ctx context.Context, user ref.UserID, reason string) error {
	return f.record("kick " + user.String())
}

func (f *fakeEnactor) BanUser(ctx context.Context, user ref.UserID, reason string) error {
	return f.record("ban " + user.String())
}

func (f *fakeEnactor) UnbanUser(ctx context.Context, user ref.UserID) error {
	return f.record("unban " + user.String())
}

func (f *fakeEnactor) MuteUser(ctx context.Context, user ref.UserID) error {
	return f.record("mute " + user.String())
}

func (f *fakeEnactor) UnmuteUser(ctx context.Context, user ref.UserID) error {
	return f.record("unmute " + user.String())
}

func (f *fakeEnactor) NotifyUser(ctx context.Context, user ref.UserID, body string) error {
	return f.record("notify " + user.String())
}

// newTestSanctions starts a sanction engine over the given store with
// a fake clock and enactor.
func newTestSanctions(t *testing.T, store *Store) (*Sanctions, *fakeEnactor, *clock.FakeClock) {
	t.Helper()
	enactor := &fakeEnactor{}
	clk := clock.Fake(testEpoch)
	sanctions, err := NewSanctions(SanctionsConfig{
		Store:   store,
		Enactor: enactor,
		Clock:   clk,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("NewSanctions: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sanctions.Run(ctx)
	return sanctions, enactor, clk
}

func TestMuteIsActiveImmediately(t *testing.T) {
	sanctions, enactor, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	sanction, err := sanctions.Issue(ctx, player, SanctionMute, time.Hour, "spamming", moderator)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if sanction.ID == 0 || sanction.State != SanctionActive {
		t.Errorf("sanction = %+v, want an active row with an id", sanction)
	}
	if !sanction.ExpiresAt.Equal(testEpoch.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want issue time + 1h", sanction.ExpiresAt)
	}

	muted, err := sanctions.IsActiveMute(ctx, player)
	if err != nil {
		t.Fatalf("IsActiveMute: %v", err)
	}
	if !muted {
		t.Error("IsActiveMute = false immediately after issue")
	}
	if banned, _ := sanctions.IsActiveBan(ctx, player); banned {
		t.Error("IsActiveBan = true for a mute")
	}
	if enactor.count("mute "+player.String()) != 1 {
		t.Errorf("enactor calls = %v, want one mute", enactor.recorded())
	}
}

func TestMuteDurationCap(t *testing.T) {
	enactor := &fakeEnactor{}
	sanctions, err := NewSanctions(SanctionsConfig{
		Store:           openTestStore(t),
		Enactor:         enactor,
		Clock:           clock.Fake(testEpoch),
		Logger:          testLogger(),
		MaxMuteDuration: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewSanctions: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sanctions.Run(ctx)

	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	if _, err := sanctions.Issue(ctx, player, SanctionMute, 48*time.Hour, "spamming", moderator); err == nil {
		t.Error("mute over the cap succeeded, want rejection")
	}
	if _, err := sanctions.Issue(ctx, player, SanctionMute, 0, "spamming", moderator); err == nil {
		t.Error("permanent mute under a cap succeeded, want rejection")
	}
	if muted, _ := sanctions.IsActiveMute(ctx, player); muted {
		t.Error("rejected mutes left the player muted")
	}

	if _, err := sanctions.Issue(ctx, player, SanctionMute, 2*time.Hour, "spamming", moderator); err != nil {
		t.Errorf("mute within the cap: %v", err)
	}
	// The cap binds mutes only; a permanent ban still goes through.
	if _, err := sanctions.Issue(ctx, player, SanctionBan, 0, "repeat offender", moderator); err != nil {
		t.Errorf("permanent ban with a mute cap configured: %v", err)
	}
}

func TestSecondMuteSupersedesFirst(t *testing.T) {
	sanctions, _, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	first, err := sanctions.Issue(ctx, player, SanctionMute, time.Hour, "first offense", moderator)
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	second, err := sanctions.Issue(ctx, player, SanctionMute, 2*time.Hour, "second offense", moderator)
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}

	mutes, err := sanctions.Mutelist(ctx)
	if err != nil {
		t.Fatalf("Mutelist: %v", err)
	}
	if len(mutes) != 1 {
		t.Fatalf("got %d active mutes, want exactly 1", len(mutes))
	}
	if mutes[0].ID != second.ID || mutes[0].Reason != "second offense" {
		t.Errorf("active mute = %+v, want the second sanction", mutes[0])
	}

	history, err := sanctions.History(ctx, player)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var superseded *Sanction
	for i := range history {
		if history[i].ID == first.ID {
			superseded = &history[i]
		}
	}
	if superseded == nil {
		t.Fatal("first sanction missing from history")
	}
	if superseded.State != SanctionRevoked || superseded.RevokeReason != "superseded" {
		t.Errorf("first sanction = %s reason %q, want revoked/superseded",
			superseded.State, superseded.RevokeReason)
	}
}

func TestMuteAndBanCoexist(t *testing.T) {
	sanctions, _, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	if _, err := sanctions.Issue(ctx, player, SanctionMute, 0, "muted", moderator); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if _, err := sanctions.Issue(ctx, player, SanctionBan, 0, "banned", moderator); err != nil {
		t.Fatalf("ban: %v", err)
	}

	muted, _ := sanctions.IsActiveMute(ctx, player)
	banned, _ := sanctions.IsActiveBan(ctx, player)
	if !muted || !banned {
		t.Errorf("muted=%v banned=%v, want both active — different kinds never supersede each other", muted, banned)
	}
}

func TestKickIsOneShot(t *testing.T) {
	sanctions, enactor, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	sanction, err := sanctions.Issue(ctx, player, SanctionKick, 0, "cool off", moderator)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if sanction.State == SanctionActive {
		t.Error("kick recorded as a standing sanction")
	}
	if enactor.count("kick "+player.String()) != 1 {
		t.Errorf("enactor calls = %v, want one kick", enactor.recorded())
	}

	// The kick leaves no active state, only the audit row.
	if muted, _ := sanctions.IsActiveMute(ctx, player); muted {
		t.Error("IsActiveMute = true after a kick")
	}
	history, err := sanctions.History(ctx, player)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Kind != SanctionKick {
		t.Errorf("history = %+v, want the one kick row", history)
	}
}

func TestTimedMuteExpires(t *testing.T) {
	store := openTestStore(t)
	sanctions, enactor, clk := newTestSanctions(t, store)
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	sanction, err := sanctions.Issue(ctx, player, SanctionMute, time.Hour, "timed", moderator)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clk.Advance(59 * time.Minute)
	if muted, _ := sanctions.IsActiveMute(ctx, player); !muted {
		t.Fatal("mute expired before its deadline")
	}

	clk.Advance(2 * time.Minute)
	waitFor(t, "mute expiry", func() bool {
		muted, _ := sanctions.IsActiveMute(ctx, player)
		return !muted
	})
	waitFor(t, "unmute enactment", func() bool {
		return enactor.count("unmute "+player.String()) == 1
	})

	history, err := sanctions.History(ctx, player)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history[0].ID != sanction.ID || history[0].State != SanctionExpired {
		t.Errorf("history row = %+v, want the mute expired", history[0])
	}
}

func TestRevokeLiftsAndIsTerminal(t *testing.T) {
	sanctions, enactor, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	sanction, err := sanctions.Issue(ctx, player, SanctionBan, 0, "permanent", moderator)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := sanctions.Revoke(ctx, sanction.ID, moderator, "appeal accepted"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if banned, _ := sanctions.IsActiveBan(ctx, player); banned {
		t.Error("IsActiveBan = true after revoke")
	}
	if enactor.count("unban "+player.String()) != 1 {
		t.Errorf("enactor calls = %v, want one unban", enactor.recorded())
	}

	// Terminal sanctions cannot be revoked again.
	err = sanctions.Revoke(ctx, sanction.ID, moderator, "again")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second revoke: got %v, want ErrNotFound", err)
	}
	err = sanctions.Revoke(ctx, 9999, moderator, "unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown revoke: got %v, want ErrNotFound", err)
	}
}

func TestLiftByPlayerAndKind(t *testing.T) {
	sanctions, _, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	if _, err := sanctions.Issue(ctx, player, SanctionMute, 0, "muted", moderator); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	lifted, err := sanctions.Lift(ctx, player, SanctionMute, moderator)
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}
	if lifted.RevokeReason != "lifted" {
		t.Errorf("RevokeReason = %q, want lifted", lifted.RevokeReason)
	}

	_, err = sanctions.Lift(ctx, player, SanctionMute, moderator)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("lift without active mute: got %v, want ErrNotFound", err)
	}
}

func TestDurationClamp(t *testing.T) {
	sanctions, _, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()

	sanction, err := sanctions.Issue(ctx, testUser(t, "@troll:arena.example"),
		SanctionBan, 10*365*24*time.Hour, "forever and ever", testUser(t, "@mod:arena.example"))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := testEpoch.Add(maxSanctionDuration); !sanction.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want clamped to %v", sanction.ExpiresAt, want)
	}
}

func TestExpiryScheduleRebuiltOnRestart(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	moderator := testUser(t, "@mod:arena.example")

	// Three active timed sanctions persisted by a previous process: one
	// already past due, two still pending.
	rows := []struct {
		player string
		kind   SanctionKind
		expiry time.Duration
	}{
		{"@early:arena.example", SanctionMute, -10 * time.Minute},
		{"@mid:arena.example", SanctionMute, 30 * time.Minute},
		{"@late:arena.example", SanctionBan, 2 * time.Hour},
	}
	for _, row := range rows {
		if _, err := store.InsertSanction(ctx, Sanction{
			Player:    testUser(t, row.player),
			Kind:      row.kind,
			IssuedBy:  moderator,
			Reason:    "carried over",
			IssuedAt:  testEpoch.Add(-time.Hour),
			ExpiresAt: testEpoch.Add(row.expiry),
			State:     SanctionActive,
		}); err != nil {
			t.Fatalf("InsertSanction %s: %v", row.player, err)
		}
	}

	sanctions, enactor, clk := newTestSanctions(t, store)

	// The standing sanctions are live immediately after the rebuild.
	waitFor(t, "rebuild", func() bool {
		muted, _ := sanctions.IsActiveMute(ctx, testUser(t, "@mid:arena.example"))
		return muted
	})
	if banned, _ := sanctions.IsActiveBan(ctx, testUser(t, "@late:arena.example")); !banned {
		t.Error("rebuilt ban not active")
	}

	// The past-due sanction fires on the first pass, not stuck active.
	waitFor(t, "past-due expiry", func() bool {
		muted, _ := sanctions.IsActiveMute(ctx, testUser(t, "@early:arena.example"))
		return !muted
	})

	// The rest fire at their original deadlines.
	clk.Advance(31 * time.Minute)
	waitFor(t, "mid expiry", func() bool {
		muted, _ := sanctions.IsActiveMute(ctx, testUser(t, "@mid:arena.example"))
		return !muted
	})
	if banned, _ := sanctions.IsActiveBan(ctx, testUser(t, "@late:arena.example")); !banned {
		t.Error("late ban expired with the mid mute, want it held to its own deadline")
	}

	clk.Advance(90 * time.Minute)
	waitFor(t, "late expiry", func() bool {
		banned, _ := sanctions.IsActiveBan(ctx, testUser(t, "@late:arena.example"))
		return !banned
	})

	if enactor.count("unmute @early:arena.example") != 1 {
		t.Errorf("enactor calls = %v, want the early unmute delivered", enactor.recorded())
	}
}

func TestRevokedSanctionDoesNotFireFromHeap(t *testing.T) {
	sanctions, enactor, clk := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	sanction, err := sanctions.Issue(ctx, player, SanctionMute, time.Hour, "timed", moderator)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := sanctions.Revoke(ctx, sanction.ID, moderator, "changed my mind"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	clk.Advance(2 * time.Hour)

	// A History call is a full loop roundtrip, so the stale heap entry
	// has been popped (and skipped) by the time it answers.
	history, err := sanctions.History(ctx, player)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history[0].State != SanctionRevoked {
		t.Errorf("state = %s, want revoked — expiry must not overwrite it", history[0].State)
	}
	// Exactly one unmute, from the revoke; the stale entry enacts
	// nothing.
	if got := enactor.count("unmute " + player.String()); got != 1 {
		t.Errorf("unmute enacted %d times, want 1", got)
	}
}

func TestEnforcementRetriesAfterTransportFailure(t *testing.T) {
	sanctions, enactor, clk := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	enactor.setFail(true)
	sanction, err := sanctions.Issue(ctx, player, SanctionBan, 0, "banned", moderator)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Issue with failing transport: got %v, want ErrTransportUnavailable", err)
	}
	if sanction.ID == 0 {
		t.Fatal("sanction was not committed despite the transport failure")
	}
	// The state change is committed regardless of delivery.
	if banned, _ := sanctions.IsActiveBan(ctx, player); !banned {
		t.Error("IsActiveBan = false, want the committed ban visible")
	}

	enactor.setFail(false)
	clk.Advance(defaultEnactRetryEvery)
	waitFor(t, "queued enforcement delivery", func() bool {
		return enactor.count("ban "+player.String()) == 1
	})
}

func TestObserveJoinReappliesMute(t *testing.T) {
	sanctions, enactor, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	if _, err := sanctions.Issue(ctx, player, SanctionMute, 0, "muted", moderator); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := sanctions.ObserveJoin(ctx, player); err != nil {
		t.Fatalf("ObserveJoin: %v", err)
	}
	if got := enactor.count("mute " + player.String()); got != 2 {
		t.Errorf("mute enacted %d times, want 2 (issue + rejoin)", got)
	}

	// A clean player's join enacts nothing.
	if err := sanctions.ObserveJoin(ctx, testUser(t, "@clean:arena.example")); err != nil {
		t.Fatalf("ObserveJoin: %v", err)
	}
	if got := enactor.count("mute @clean:arena.example"); got != 0 {
		t.Errorf("clean player was muted on join %d times", got)
	}
}

func TestWarnFilesAndNotifies(t *testing.T) {
	sanctions, enactor, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()
	player := testUser(t, "@troll:arena.example")
	moderator := testUser(t, "@mod:arena.example")

	warning, err := sanctions.Warn(ctx, player, moderator, "watch the language")
	if err != nil {
		t.Fatalf("Warn: %v", err)
	}
	if warning.Kind != ReportKindWarning {
		t.Errorf("Kind = %v, want warning", warning.Kind)
	}
	if enactor.count("notify "+player.String()) != 1 {
		t.Errorf("enactor calls = %v, want one notice", enactor.recorded())
	}

	open, err := sanctions.OpenReports(ctx)
	if err != nil {
		t.Fatalf("OpenReports: %v", err)
	}
	if len(open) != 1 || open[0].ID != warning.ID {
		t.Errorf("open reports = %+v, want the warning", open)
	}

	if err := sanctions.Resolve(ctx, warning.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	err = sanctions.Resolve(ctx, 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve unknown: got %v, want ErrNotFound", err)
	}
}

func TestFileReportWithoutNotice(t *testing.T) {
	sanctions, enactor, _ := newTestSanctions(t, openTestStore(t))
	ctx := context.Background()

	filed, err := sanctions.FileReport(ctx,
		testUser(t, "@troll:arena.example"),
		testUser(t, "@alice:arena.example"),
		"griefing in the canyon match", nil)
	if err != nil {
		t.Fatalf("FileReport: %v", err)
	}
	if filed.Kind != ReportKindReport {
		t.Errorf("Kind = %v, want report", filed.Kind)
	}
	if len(enactor.recorded()) != 0 {
		t.Errorf("filing a report enacted %v, want nothing outward", enactor.recorded())
	}
}
