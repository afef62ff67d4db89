// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/ref"
)

// testEpoch is the fixed start time for fake clocks.
var testEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUser(t *testing.T, raw string) ref.UserID {
	t.Helper()
	user, err := ref.ParseUserID(raw)
	if err != nil {
		t.Fatalf("parsing test user ID %q: %v", raw, err)
	}
	return user
}

// waitFor polls until condition holds. For state that flows through an
// engine loop after a fake-clock advance, where the loop goroutine
// needs real time to pick the work up.
func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(time.Millisecond)
	}
}

// newTestRegistry starts a registry on a fake clock.
func newTestRegistry(t *testing.T, config RegistryConfig) (*Registry, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(testEpoch)
	config.Clock = clk
	config.Logger = testLogger()
	registry, err := NewRegistry(config)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go registry.Run(ctx)
	return registry, clk
}

func join(t *testing.T, registry *Registry, user ref.UserID) {
	t.Helper()
	if err := registry.ObserveJoin(context.Background(), user); err != nil {
		t.Fatalf("ObserveJoin(%s): %v", user, err)
	}
}

func announce(t *testing.T, registry *Registry, host ref.UserID, state SessionState, players ...string) error {
	t.Helper()
	return registry.Announce(context.Background(), Announcement{
		Host:    host,
		State:   state,
		Players: players,
	})
}

func TestAnnounceRequiresRosterPresence(t *testing.T) {
	registry, _ := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")

	err := announce(t, registry, host, StateInit, "@alice:arena.example")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("announce before join: got %v, want ErrUnauthorized", err)
	}

	join(t, registry, host)
	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("announce after join: %v", err)
	}
}

func TestInitCreatesSession(t *testing.T) {
	registry, _ := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)

	if err := announce(t, registry, host, StateInit, "@alice:arena.example", "@bob:arena.example"); err != nil {
		t.Fatalf("announce: %v", err)
	}

	session, err := registry.Session(context.Background(), host)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if session.State != StateInit {
		t.Errorf("state = %s, want init", session.State)
	}
	if len(session.Players) != 2 || session.InitialPlayerCount != 2 {
		t.Errorf("players = %v (initial %d), want 2 players", session.Players, session.InitialPlayerCount)
	}
	if !session.CreatedAt.Equal(testEpoch) {
		t.Errorf("CreatedAt = %v, want %v", session.CreatedAt, testEpoch)
	}
	if !session.StartedAt.IsZero() {
		t.Errorf("StartedAt = %v, want zero before the game starts", session.StartedAt)
	}
}

func TestFreshInitReplacesSession(t *testing.T) {
	registry, clk := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)

	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := announce(t, registry, host, StateInProgress, "@alice:arena.example"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	clk.Advance(time.Minute)
	if err := announce(t, registry, host, StateInit, "@alice:arena.example", "@carol:arena.example"); err != nil {
		t.Fatalf("second init: %v", err)
	}

	session, err := registry.Session(context.Background(), host)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if session.State != StateInit {
		t.Errorf("state = %s, want init after replacement", session.State)
	}
	if !session.CreatedAt.Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want the replacement time", session.CreatedAt)
	}
	if len(session.Players) != 2 {
		t.Errorf("players = %v, want the replacement roster", session.Players)
	}

	active, err := registry.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ListActive returned %d sessions, want 1 per host", len(active))
	}
}

func TestStateRegressionRefused(t *testing.T) {
	registry, _ := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)

	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := announce(t, registry, host, StateStarting, "@alice:arena.example"); err != nil {
		t.Fatalf("advance to starting: %v", err)
	}

	err := announce(t, registry, host, StateWaiting, "@alice:arena.example")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("regression: got %v, want ErrInvalidTransition", err)
	}

	session, err := registry.Session(context.Background(), host)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if session.State != StateStarting {
		t.Errorf("state = %s, want starting unchanged after refused regression", session.State)
	}
}

func TestAdvanceWithoutSessionRefused(t *testing.T) {
	registry, _ := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)

	err := announce(t, registry, host, StateInProgress, "@alice:arena.example")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("advance without init: got %v, want ErrNotFound", err)
	}
}

func TestStartedAtStampedOnce(t *testing.T) {
	registry, clk := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)

	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("init: %v", err)
	}

	clk.Advance(time.Minute)
	startTime := clk.Now()
	if err := announce(t, registry, host, StateInProgress, "@alice:arena.example"); err != nil {
		t.Fatalf("start: %v", err)
	}

	clk.Advance(time.Minute)
	if err := announce(t, registry, host, StateInProgress, "@alice:arena.example"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	session, err := registry.Session(context.Background(), host)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !session.StartedAt.Equal(startTime) {
		t.Errorf("StartedAt = %v, want %v (first entry to in_progress)", session.StartedAt, startTime)
	}
}

func TestSameStateRefreshUpdatesRoster(t *testing.T) {
	registry, clk := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)

	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := announce(t, registry, host, StateWaiting, "@alice:arena.example", "@bob:arena.example"); err != nil {
		t.Fatalf("waiting: %v", err)
	}

	clk.Advance(30 * time.Second)
	if err := announce(t, registry, host, StateWaiting, "@alice:arena.example", "@bob:arena.example", "@carol:arena.example"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	session, err := registry.Session(context.Background(), host)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(session.Players) != 3 {
		t.Errorf("players = %v, want refreshed roster of 3", session.Players)
	}
	if session.InitialPlayerCount != 1 {
		t.Errorf("InitialPlayerCount = %d, want the founding count", session.InitialPlayerCount)
	}
	if !session.LastRefreshed.Equal(testEpoch.Add(30 * time.Second)) {
		t.Errorf("LastRefreshed = %v, want the refresh time", session.LastRefreshed)
	}
}

func TestAnnouncementWithoutPlayersDropped(t *testing.T) {
	registry, _ := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)

	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("init: %v", err)
	}

	// No players on a non-founding announcement: dropped, not an error.
	if err := announce(t, registry, host, StateWaiting); err != nil {
		t.Fatalf("empty announcement: %v", err)
	}

	session, err := registry.Session(context.Background(), host)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if session.State != StateInit {
		t.Errorf("state = %s, want init — the empty announcement must not advance it", session.State)
	}
}

func TestListActiveOrderAndFinished(t *testing.T) {
	registry, clk := newTestRegistry(t, RegistryConfig{})
	hosts := []ref.UserID{
		testUser(t, "@alice:arena.example"),
		testUser(t, "@bob:arena.example"),
		testUser(t, "@carol:arena.example"),
	}
	for _, host := range hosts {
		join(t, registry, host)
		if err := announce(t, registry, host, StateInit, host.String()); err != nil {
			t.Fatalf("init for %s: %v", host, err)
		}
		clk.Advance(time.Second)
	}

	if err := registry.MarkFinished(context.Background(), hosts[1]); err != nil {
		t.Fatalf("MarkFinished: %v", err)
	}

	active, err := registry.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActive returned %d sessions, want 2 (finished ones are skipped)", len(active))
	}
	if !active[0].Host.EqualFold(hosts[0]) || !active[1].Host.EqualFold(hosts[2]) {
		t.Errorf("order = [%s, %s], want oldest first", active[0].Host, active[1].Host)
	}

	// The finished session lingers as a tombstone for duplicate-report
	// detection.
	session, err := registry.Session(context.Background(), hosts[1])
	if err != nil {
		t.Fatalf("Session for finished host: %v", err)
	}
	if session.State != StateFinished {
		t.Errorf("state = %s, want finished", session.State)
	}
}

func TestMarkFinishedUnknownHost(t *testing.T) {
	registry, _ := newTestRegistry(t, RegistryConfig{})
	err := registry.MarkFinished(context.Background(), testUser(t, "@nobody:arena.example"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkFinished for unknown host: got %v, want ErrNotFound", err)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	registry, clk := newTestRegistry(t, RegistryConfig{Capacity: 2})
	hosts := []ref.UserID{
		testUser(t, "@alice:arena.example"),
		testUser(t, "@bob:arena.example"),
		testUser(t, "@carol:arena.example"),
	}
	for _, host := range hosts {
		join(t, registry, host)
		if err := announce(t, registry, host, StateInit, host.String()); err != nil {
			t.Fatalf("init for %s: %v", host, err)
		}
		clk.Advance(time.Second)
	}

	if _, err := registry.Session(context.Background(), hosts[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest session survived eviction: %v", err)
	}
	for _, host := range hosts[1:] {
		if _, err := registry.Session(context.Background(), host); err != nil {
			t.Errorf("session for %s missing after eviction of oldest: %v", host, err)
		}
	}
}

func TestHostRemovalDropsSessionAndRoster(t *testing.T) {
	registry, _ := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)
	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := registry.RemoveHost(context.Background(), host); err != nil {
		t.Fatalf("RemoveHost: %v", err)
	}

	if _, err := registry.Session(context.Background(), host); !errors.Is(err, ErrNotFound) {
		t.Errorf("session survived host removal: %v", err)
	}

	// Roster membership went with the host: announcing again needs a
	// fresh join.
	err := announce(t, registry, host, StateInit, "@alice:arena.example")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("announce after removal: got %v, want ErrUnauthorized", err)
	}
}

func TestIdleSessionsSwept(t *testing.T) {
	registry, clk := newTestRegistry(t, RegistryConfig{
		StaleAfter: time.Minute,
		SweepEvery: 30 * time.Second,
	})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)
	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("init: %v", err)
	}

	clk.Advance(2 * time.Minute)

	waitFor(t, "idle session sweep", func() bool {
		_, err := registry.Session(context.Background(), host)
		return errors.Is(err, ErrNotFound)
	})
}

func TestSessionReturnsCopy(t *testing.T) {
	registry, _ := newTestRegistry(t, RegistryConfig{})
	host := testUser(t, "@alice:arena.example")
	join(t, registry, host)
	if err := announce(t, registry, host, StateInit, "@alice:arena.example"); err != nil {
		t.Fatalf("init: %v", err)
	}

	first, err := registry.Session(context.Background(), host)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	first.Players[0] = "@mallory:arena.example"

	second, err := registry.Session(context.Background(), host)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if second.Players[0] != "@alice:arena.example" {
		t.Error("mutating a returned session leaked into the registry")
	}
}
