// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/muster-project/muster/lib/archive"
	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/config"
	"github.com/muster-project/muster/lib/lobbyapi"
	"github.com/muster-project/muster/lib/ref"
	"github.com/muster-project/muster/lib/service"
	"github.com/muster-project/muster/lobby"
	"github.com/muster-project/muster/messaging"
)

var testEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUser(t *testing.T, raw string) ref.UserID {
	t.Helper()
	user, err := ref.ParseUserID(raw)
	if err != nil {
		t.Fatalf("ParseUserID(%q): %v", raw, err)
	}
	return user
}

// fakeEnactor records enforcement calls instead of talking to a room.
type fakeEnactor struct {
	mu    sync.Mutex
	calls []string
}

func (e *fakeEnactor) record(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
}

func (e *fakeEnactor) count(call string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (e *fakeEnactor) KickUser(ctx context.Context, user ref.UserID, reason string) error {
	e.record("kick %s", user)
	return nil
}

func (e *fakeEnactor) BanUser(ctx context.Context, user ref.UserID, reason string) error {
	e.record("ban %s", user)
	return nil
}

func (e *fakeEnactor) UnbanUser(ctx context.Context, user ref.UserID) error {
	e.record("unban %s", user)
	return nil
}

func (e *fakeEnactor) MuteUser(ctx context.Context, user ref.UserID) error {
	e.record("mute %s", user)
	return nil
}

func (e *fakeEnactor) UnmuteUser(ctx context.Context, user ref.UserID) error {
	e.record("unmute %s", user)
	return nil
}

func (e *fakeEnactor) NotifyUser(ctx context.Context, user ref.UserID, body string) error {
	e.record("notify %s", user)
	return nil
}

// nopResponder satisfies the ingress Responder without a homeserver.
type nopResponder struct {
	self ref.UserID
}

func (r nopResponder) UserID() ref.UserID { return r.self }

func (r nopResponder) SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error) {
	return "", nil
}

type socketHarness struct {
	service *lobbyService
	client  *lobbyapi.Client
	enactor *fakeEnactor
}

// newSocketHarness assembles the engines on an in-memory store, serves
// the admin socket from a temp dir, and returns a client against it.
func newSocketHarness(t *testing.T) *socketHarness {
	t.Helper()

	logger := testLogger()
	clk := clock.Fake(testEpoch)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := lobby.OpenStore(lobby.StoreConfig{
		Path:     filepath.Join(t.TempDir(), "lobby.db"),
		PoolSize: 1,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	masterKey, err := archive.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	t.Cleanup(func() { masterKey.Close() })
	evidence, err := archive.Open(t.TempDir(), masterKey, archive.CompressionNone)
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}

	registry, err := lobby.NewRegistry(lobby.RegistryConfig{Clock: clk, Logger: logger})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	enactor := &fakeEnactor{}
	sanctions, err := lobby.NewSanctions(lobby.SanctionsConfig{
		Store:   store,
		Enactor: enactor,
		Archive: evidence,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewSanctions: %v", err)
	}
	ratings, err := lobby.NewRatings(lobby.RatingsConfig{
		Store:    store,
		Sessions: registry,
		Archive:  evidence,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewRatings: %v", err)
	}

	self := testUser(t, "@lobby:arena.example")
	room, err := ref.ParseRoomID("!arena:arena.example")
	if err != nil {
		t.Fatalf("ParseRoomID: %v", err)
	}
	ingress, err := lobby.NewIngress(lobby.IngressConfig{
		Registry:   registry,
		Ratings:    ratings,
		Sanctions:  sanctions,
		Moderators: lobby.NewModeratorSet(nil, 0),
		Session:    nopResponder{self: self},
		Room:       room,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewIngress: %v", err)
	}

	go registry.Run(ctx)
	go ratings.Run(ctx)
	go sanctions.Run(ctx)

	cfg := config.Default()
	socketPath := filepath.Join(t.TempDir(), "lobby.sock")
	cfg.Paths.Socket = socketPath

	svc := &lobbyService{
		registry:  registry,
		ratings:   ratings,
		sanctions: sanctions,
		ingress:   ingress,
		self:      self,
		room:      room,
		config:    cfg,
		clock:     clk,
		startedAt: testEpoch,
		logger:    logger,
	}

	server := service.NewSocketServer(socketPath, logger)
	svc.registerActions(server)
	go server.Serve(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return &socketHarness{
		service: svc,
		client:  lobbyapi.NewClient(socketPath),
		enactor: enactor,
	}
}

func TestSocketStatusAndGames(t *testing.T) {
	h := newSocketHarness(t)
	ctx := context.Background()

	host := testUser(t, "@alice:arena.example")
	if err := h.service.registry.ObserveJoin(ctx, host); err != nil {
		t.Fatalf("ObserveJoin: %v", err)
	}
	err := h.service.registry.Announce(ctx, lobby.Announcement{
		Host:    host,
		State:   lobby.StateWaiting,
		Players: []string{"@alice:arena.example", "@bob:arena.example"},
		Metadata: map[string]string{
			"map": "highlands",
		},
	})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	status, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.UserID != "@lobby:arena.example" {
		t.Errorf("Status.UserID = %q, want @lobby:arena.example", status.UserID)
	}
	if status.ActiveGames != 1 {
		t.Errorf("Status.ActiveGames = %d, want 1", status.ActiveGames)
	}
	if status.RatingsDegraded || status.SanctionsDegraded {
		t.Errorf("fresh service reports degraded: ratings=%v sanctions=%v",
			status.RatingsDegraded, status.SanctionsDegraded)
	}

	games, err := h.client.Games(ctx)
	if err != nil {
		t.Fatalf("Games: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("Games returned %d entries, want 1", len(games))
	}
	game := games[0]
	if game.Host != "@alice:arena.example" {
		t.Errorf("game.Host = %q, want @alice:arena.example", game.Host)
	}
	if game.State != "waiting" {
		t.Errorf("game.State = %q, want waiting", game.State)
	}
	if len(game.Players) != 2 {
		t.Errorf("game.Players = %v, want 2 players", game.Players)
	}
	if game.Metadata["map"] != "highlands" {
		t.Errorf("game.Metadata[map] = %q, want highlands", game.Metadata["map"])
	}
	if game.CreatedAt != testEpoch.Unix() {
		t.Errorf("game.CreatedAt = %d, want %d", game.CreatedAt, testEpoch.Unix())
	}
	if game.StartedAt != 0 {
		t.Errorf("game.StartedAt = %d, want 0 before the game starts", game.StartedAt)
	}
}

func TestSocketMuteLifecycle(t *testing.T) {
	h := newSocketHarness(t)
	ctx := context.Background()

	result, err := h.client.Mute(ctx, "@troll:arena.example", "2h", "spamming", "@operator:arena.example")
	if err != nil {
		t.Fatalf("Mute: %v", err)
	}
	if result.ID == 0 {
		t.Error("Mute returned zero sanction id")
	}
	if result.Pending {
		t.Error("Mute with a working enactor reported pending")
	}
	if got := h.enactor.count("mute @troll:arena.example"); got != 1 {
		t.Errorf("enactor mute calls = %d, want 1", got)
	}

	list, err := h.client.Mutelist(ctx)
	if err != nil {
		t.Fatalf("Mutelist: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Mutelist returned %d entries, want 1", len(list))
	}
	mute := list[0]
	if mute.Player != "@troll:arena.example" {
		t.Errorf("mute.Player = %q, want @troll:arena.example", mute.Player)
	}
	if mute.Kind != "mute" || mute.State != "active" {
		t.Errorf("mute kind/state = %s/%s, want mute/active", mute.Kind, mute.State)
	}
	if mute.IssuedBy != "@operator:arena.example" {
		t.Errorf("mute.IssuedBy = %q, want @operator:arena.example", mute.IssuedBy)
	}
	wantExpiry := testEpoch.Add(2 * time.Hour).Unix()
	if mute.ExpiresAt != wantExpiry {
		t.Errorf("mute.ExpiresAt = %d, want %d", mute.ExpiresAt, wantExpiry)
	}

	if _, err := h.client.Unmute(ctx, "@troll:arena.example", "@operator:arena.example"); err != nil {
		t.Fatalf("Unmute: %v", err)
	}
	if got := h.enactor.count("unmute @troll:arena.example"); got != 1 {
		t.Errorf("enactor unmute calls = %d, want 1", got)
	}
	list, err = h.client.Mutelist(ctx)
	if err != nil {
		t.Fatalf("Mutelist after unmute: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Mutelist after unmute returned %d entries, want 0", len(list))
	}
}

func TestSocketBareLocalpartResolves(t *testing.T) {
	h := newSocketHarness(t)
	ctx := context.Background()

	if _, err := h.client.Ban(ctx, "griefer", "perm", "wallhacks", "@operator:arena.example"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	list, err := h.client.Banlist(ctx)
	if err != nil {
		t.Fatalf("Banlist: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Banlist returned %d entries, want 1", len(list))
	}
	if list[0].Player != "@griefer:arena.example" {
		t.Errorf("ban.Player = %q, want @griefer:arena.example", list[0].Player)
	}
	if list[0].ExpiresAt != 0 {
		t.Errorf("permanent ban ExpiresAt = %d, want 0", list[0].ExpiresAt)
	}
}

func TestSocketMuteRequiresDuration(t *testing.T) {
	h := newSocketHarness(t)

	_, err := h.client.Mute(context.Background(), "@troll:arena.example", "", "spamming", "")
	if err == nil {
		t.Fatal("Mute without duration succeeded, want error")
	}
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("Mute error = %T, want *service.ServiceError", err)
	}
}

func TestSocketReportLifecycle(t *testing.T) {
	h := newSocketHarness(t)
	ctx := context.Background()

	result, err := h.client.Report(ctx, "@cheat:arena.example", "aimbot in game 4", "@witness:arena.example", []byte("chat log excerpt"))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if result.ID == 0 {
		t.Error("Report returned zero id")
	}

	if _, err := h.client.Warn(ctx, "@cheat:arena.example", "final warning", "@operator:arena.example"); err != nil {
		t.Fatalf("Warn: %v", err)
	}
	if got := h.enactor.count("notify @cheat:arena.example"); got != 1 {
		t.Errorf("enactor notify calls = %d, want 1", got)
	}

	reports, err := h.client.Reports(ctx)
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("Reports returned %d entries, want 2", len(reports))
	}
	filed := reports[0]
	if filed.Reported != "@cheat:arena.example" {
		t.Errorf("report.Reported = %q, want @cheat:arena.example", filed.Reported)
	}
	if filed.Reporting != "@witness:arena.example" {
		t.Errorf("report.Reporting = %q, want @witness:arena.example", filed.Reporting)
	}
	if filed.EvidenceRef == "" {
		t.Error("report with evidence has empty EvidenceRef")
	}

	if err := h.client.Resolve(ctx, result.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	reports, err = h.client.Reports(ctx)
	if err != nil {
		t.Fatalf("Reports after resolve: %v", err)
	}
	if len(reports) != 1 {
		t.Errorf("Reports after resolve returned %d entries, want 1", len(reports))
	}
}

func TestSocketProfileUnknownPlayer(t *testing.T) {
	h := newSocketHarness(t)

	_, err := h.client.Profile(context.Background(), "@nobody:arena.example")
	if err == nil {
		t.Fatal("Profile for unrated player succeeded, want error")
	}
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("Profile error = %T, want *service.ServiceError", err)
	}
}

func TestSocketInfo(t *testing.T) {
	h := newSocketHarness(t)

	info, err := h.client.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.UserID != "@lobby:arena.example" {
		t.Errorf("Info.UserID = %q, want @lobby:arena.example", info.UserID)
	}
	if info.Socket != h.service.config.Paths.Socket {
		t.Errorf("Info.Socket = %q, want %q", info.Socket, h.service.config.Paths.Socket)
	}
	if info.Version == "" {
		t.Error("Info.Version is empty")
	}
}
