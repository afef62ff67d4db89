// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/ref"
)

const (
	// defaultRegistryCapacity bounds the session table. A full
	// registry evicts its oldest session; hosts gossip their games
	// periodically, so a live game that loses its slot to a burst
	// reappears on its next announcement.
	defaultRegistryCapacity = 128

	// defaultStaleAfter is how long a session may go without a fresh
	// announcement before the sweep removes it.
	defaultStaleAfter = 5 * time.Minute

	// defaultSweepEvery is the idle sweep cadence.
	defaultSweepEvery = time.Minute
)

// RegistryConfig holds the parameters for creating a session registry.
type RegistryConfig struct {
	// Capacity is the maximum number of tracked sessions. Defaults to
	// 128 if zero or negative.
	Capacity int

	// StaleAfter is the idle window after which a session is swept.
	// Defaults to 5 minutes.
	StaleAfter time.Duration

	// SweepEvery is the sweep ticker interval. Defaults to 1 minute.
	SweepEvery time.Duration

	// Clock provides time for refresh stamps and the sweep ticker.
	// Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Registry tracks announced game sessions, one per host. All state is
// owned by the Run loop; the exported methods are request-reply
// wrappers over its queue.
type Registry struct {
	capacity   int
	staleAfter time.Duration
	sweepEvery time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	requests chan registryRequest

	// Loop-owned state. Keys are case-folded user IDs.
	sessions map[string]*GameSession
	roster   map[string]ref.UserID
}

// NewRegistry creates a session registry. Call Run to start it.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Clock == nil {
		return nil, fmt.Errorf("lobby registry: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("lobby registry: Logger is required")
	}

	capacity := config.Capacity
	if capacity <= 0 {
		capacity = defaultRegistryCapacity
	}
	staleAfter := config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	sweepEvery := config.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepEvery
	}

	return &Registry{
		capacity:   capacity,
		staleAfter: staleAfter,
		sweepEvery: sweepEvery,
		clock:      config.Clock,
		logger:     config.Logger,
		requests:   make(chan registryRequest, engineQueueDepth),
		sessions:   make(map[string]*GameSession),
		roster:     make(map[string]ref.UserID),
	}, nil
}

// Run drains the request queue until ctx is cancelled. The sweep
// ticker fires into the same loop, so sweeps are ordered with
// requests like any other work.
func (r *Registry) Run(ctx context.Context) {
	sweep := r.clock.NewTicker(r.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case request := <-r.requests:
			r.handle(request)
		case <-sweep.C:
			r.sweepIdle()
		}
	}
}

// Announce applies a gossiped game announcement. Announcements from
// hosts the registry has not observed in the room are refused with
// ErrUnauthorized; state regressions are refused with
// ErrInvalidTransition. Gossip carries no reply path, so callers log
// refusals instead of answering the host.
func (r *Registry) Announce(ctx context.Context, announcement Announcement) error {
	request := announceRequest{announcement: announcement, reply: make(chan error, 1)}
	if err := enqueue(ctx, r.requests, registryRequest(request)); err != nil {
		return err
	}
	return awaitErr(ctx, request.reply)
}

// ObserveJoin records that user is present in the lobby room. Only
// observed users may announce sessions.
func (r *Registry) ObserveJoin(ctx context.Context, user ref.UserID) error {
	request := observeJoinRequest{user: user, reply: make(chan struct{}, 1)}
	if err := enqueue(ctx, r.requests, registryRequest(request)); err != nil {
		return err
	}
	_, err := await(ctx, request.reply)
	return err
}

// RemoveHost drops user from the presence roster and removes their
// session if they have one. Called when a host leaves the room or
// their presence goes unavailable.
func (r *Registry) RemoveHost(ctx context.Context, host ref.UserID) error {
	request := removeHostRequest{host: host, reply: make(chan struct{}, 1)}
	if err := enqueue(ctx, r.requests, registryRequest(request)); err != nil {
		return err
	}
	_, err := await(ctx, request.reply)
	return err
}

// ListActive returns a snapshot of all non-Finished sessions, oldest
// first.
func (r *Registry) ListActive(ctx context.Context) ([]GameSession, error) {
	request := listActiveRequest{reply: make(chan []GameSession, 1)}
	if err := enqueue(ctx, r.requests, registryRequest(request)); err != nil {
		return nil, err
	}
	return await(ctx, request.reply)
}

// Session returns a copy of the named host's session, or ErrNotFound.
func (r *Registry) Session(ctx context.Context, host ref.UserID) (GameSession, error) {
	request := sessionRequest{host: host, reply: make(chan result[GameSession], 1)}
	return call(ctx, r.requests, registryRequest(request), request.reply)
}

// MarkFinished moves the host's session to StateFinished. The session
// stays in the table as a tombstone until the sweep removes it, so a
// second match report for the same game can be told it was already
// scored. Returns ErrNotFound if the host has no session.
func (r *Registry) MarkFinished(ctx context.Context, host ref.UserID) error {
	request := markFinishedRequest{host: host, reply: make(chan error, 1)}
	if err := enqueue(ctx, r.requests, registryRequest(request)); err != nil {
		return err
	}
	return awaitErr(ctx, request.reply)
}

// awaitErr reads an error reply, folding in ctx cancellation.
func awaitErr(ctx context.Context, reply <-chan error) error {
	value, err := await(ctx, reply)
	if err != nil {
		return err
	}
	return value
}

// Registry request messages. Each carries a buffered reply channel so
// the loop never blocks answering.

type registryRequest interface{ isRegistryRequest() }

type announceRequest struct {
	announcement Announcement
	reply        chan error
}

type observeJoinRequest struct {
	user  ref.UserID
	reply chan struct{}
}

type removeHostRequest struct {
	host  ref.UserID
	reply chan struct{}
}

type listActiveRequest struct {
	reply chan []GameSession
}

type sessionRequest struct {
	host  ref.UserID
	reply chan result[GameSession]
}

type markFinishedRequest struct {
	host  ref.UserID
	reply chan error
}

func (announceRequest) isRegistryRequest()     {}
func (observeJoinRequest) isRegistryRequest()  {}
func (removeHostRequest) isRegistryRequest()   {}
func (listActiveRequest) isRegistryRequest()   {}
func (sessionRequest) isRegistryRequest()      {}
func (markFinishedRequest) isRegistryRequest() {}

func (r *Registry) handle(request registryRequest) {
	switch request := request.(type) {
	case announceRequest:
		request.reply <- r.handleAnnounce(request.announcement)
	case observeJoinRequest:
		r.roster[request.user.FoldedKey()] = request.user
		request.reply <- struct{}{}
	case removeHostRequest:
		r.handleRemoveHost(request.host)
		request.reply <- struct{}{}
	case listActiveRequest:
		request.reply <- r.handleListActive()
	case sessionRequest:
		session, ok := r.sessions[request.host.FoldedKey()]
		if !ok {
			request.reply <- result[GameSession]{err: fmt.Errorf("no session for %s: %w", request.host, ErrNotFound)}
			break
		}
		request.reply <- result[GameSession]{value: session.clone()}
	case markFinishedRequest:
		request.reply <- r.handleMarkFinished(request.host)
	}
}

func (r *Registry) handleAnnounce(announcement Announcement) error {
	host := announcement.Host
	key := host.FoldedKey()

	if _, present := r.roster[key]; !present {
		return fmt.Errorf("announcement from %s, who is not in the lobby roster: %w", host, ErrUnauthorized)
	}

	if len(announcement.Players) == 0 && announcement.State != StateInit {
		// The player list is how match reports are validated; a
		// non-founding announcement without one is malformed gossip.
		r.logger.Warn("dropping announcement without players",
			"host", host,
			"state", announcement.State.String(),
		)
		return nil
	}

	now := r.clock.Now()
	current, exists := r.sessions[key]

	if announcement.State == StateInit {
		if exists {
			r.logger.Info("replacing session on fresh announcement",
				"host", host,
				"previous_state", current.State.String(),
			)
			delete(r.sessions, key)
		}
		r.evictIfFull()
		r.sessions[key] = &GameSession{
			Host:               host,
			State:              StateInit,
			Players:            append([]string(nil), announcement.Players...),
			InitialPlayers:     append([]string(nil), announcement.Players...),
			InitialPlayerCount: len(announcement.Players),
			Metadata:           announcement.Metadata,
			CreatedAt:          now,
			LastRefreshed:      now,
		}
		r.logger.Info("session announced",
			"host", host,
			"players", len(announcement.Players),
		)
		return nil
	}

	if !exists {
		return fmt.Errorf("state %s announced for unknown session of %s: %w",
			announcement.State, host, ErrNotFound)
	}

	if announcement.State < current.State {
		return fmt.Errorf("session of %s cannot move %s -> %s: %w",
			host, current.State, announcement.State, ErrInvalidTransition)
	}

	if announcement.State > current.State {
		if announcement.State == StateInProgress && current.StartedAt.IsZero() {
			current.StartedAt = now
		}
		r.logger.Info("session state changed",
			"host", host,
			"from", current.State.String(),
			"to", announcement.State.String(),
		)
		current.State = announcement.State
	}

	// Same-state announcements are refreshes: the player list and
	// metadata track the latest gossip either way.
	current.Players = append([]string(nil), announcement.Players...)
	if announcement.Metadata != nil {
		current.Metadata = announcement.Metadata
	}
	current.LastRefreshed = now
	return nil
}

// evictIfFull makes room for one more session by evicting the oldest
// one when the table is at capacity.
func (r *Registry) evictIfFull() {
	if len(r.sessions) < r.capacity {
		return
	}
	var oldestKey string
	var oldest *GameSession
	for key, session := range r.sessions {
		if oldest == nil || session.CreatedAt.Before(oldest.CreatedAt) {
			oldestKey, oldest = key, session
		}
	}
	if oldest == nil {
		return
	}
	delete(r.sessions, oldestKey)
	r.logger.Warn("registry full, evicting oldest session",
		"capacity", r.capacity,
		"evicted_host", oldest.Host,
		"evicted_state", oldest.State.String(),
	)
}

func (r *Registry) handleRemoveHost(host ref.UserID) {
	key := host.FoldedKey()
	delete(r.roster, key)
	if session, ok := r.sessions[key]; ok {
		delete(r.sessions, key)
		r.logger.Info("session removed, host gone",
			"host", host,
			"state", session.State.String(),
		)
	}
}

func (r *Registry) handleListActive() []GameSession {
	var active []GameSession
	for _, session := range r.sessions {
		if session.State == StateFinished {
			continue
		}
		active = append(active, session.clone())
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return active[i].Host.FoldedKey() < active[j].Host.FoldedKey()
	})
	return active
}

func (r *Registry) handleMarkFinished(host ref.UserID) error {
	session, ok := r.sessions[host.FoldedKey()]
	if !ok {
		return fmt.Errorf("no session for %s: %w", host, ErrNotFound)
	}
	session.State = StateFinished
	session.LastRefreshed = r.clock.Now()
	return nil
}

// sweepIdle removes sessions that have not been refreshed within the
// staleness window. Hosts re-announce periodically, so a silent
// session is a dead one.
func (r *Registry) sweepIdle() {
	now := r.clock.Now()
	for key, session := range r.sessions {
		if now.Sub(session.LastRefreshed) < r.staleAfter {
			continue
		}
		delete(r.sessions, key)
		r.logger.Info("sweeping idle session",
			"host", session.Host,
			"state", session.State.String(),
			"idle", now.Sub(session.LastRefreshed).String(),
		)
	}
}
