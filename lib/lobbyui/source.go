// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobbyui

import (
	"context"
	"time"

	"github.com/muster-project/muster/lib/lobbyapi"
)

// Snapshot is a point-in-time view of everything the dashboard shows:
// service liveness, announced games, the leaderboard, active sanctions,
// and open reports.
type Snapshot struct {
	Status      lobbyapi.Status
	Games       []lobbyapi.Game
	Leaderboard []lobbyapi.RatingEntry
	Mutes       []lobbyapi.Sanction
	Bans        []lobbyapi.Sanction
	Reports     []lobbyapi.Report
	FetchedAt   time.Time
}

// Source abstracts lobby data access for the TUI. The socket-backed
// implementation is [SocketSource]; tests substitute an in-memory one.
type Source interface {
	// Fetch returns a fresh snapshot. Called from a bubbletea command
	// goroutine, never from the update loop itself.
	Fetch(ctx context.Context) (Snapshot, error)
}

// leaderboardFetchSize is how many leaderboard rows the dashboard
// requests per refresh. Scrolling beyond this shows the tail cut off;
// the service caps what it returns anyway.
const leaderboardFetchSize = 100

// SocketSource fetches dashboard snapshots from the lobby service's
// admin socket.
type SocketSource struct {
	client  *lobbyapi.Client
	timeout time.Duration
}

// NewSocketSource creates a source backed by the admin socket at
// socketPath. Each Fetch is bounded by the given timeout; zero means
// 10 seconds.
func NewSocketSource(socketPath string, timeout time.Duration) *SocketSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SocketSource{
		client:  lobbyapi.NewClient(socketPath),
		timeout: timeout,
	}
}

// Fetch gathers one snapshot with sequential socket calls. The first
// failing call aborts the fetch; a partially stale dashboard is worse
// than an error banner with the previous snapshot intact.
func (source *SocketSource) Fetch(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, source.timeout)
	defer cancel()

	var snapshot Snapshot
	var err error

	if snapshot.Status, err = source.client.Status(ctx); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Games, err = source.client.Games(ctx); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Leaderboard, err = source.client.Top(ctx, leaderboardFetchSize); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Mutes, err = source.client.Mutelist(ctx); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Bans, err = source.client.Banlist(ctx); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Reports, err = source.client.Reports(ctx); err != nil {
		return Snapshot{}, err
	}

	snapshot.FetchedAt = time.Now()
	return snapshot, nil
}
