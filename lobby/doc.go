// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package lobby implements the three coordination engines behind a
// muster game lobby: the game-session registry, the rating engine, and
// the moderation sanction engine.
//
// # Concurrency model
//
// Each engine is a single goroutine draining one ordered request
// channel. Public methods build a typed request carrying a buffered
// reply channel, enqueue it, and wait for the loop to answer. Because
// queries travel the same queue as mutations, a read issued after a
// write observes the written state — there are no locks and no stale
// windows. Timers and tickers never mutate engine state directly; they
// only signal the loop, which does the work on its own goroutine.
//
// Engines share nothing mutable. The one cross-engine dependency — the
// rating engine validating a match report against the registry — goes
// through the narrow [SessionSource] interface, which [Registry]
// implements with its own queue, preserving single-writer ownership on
// both sides.
//
// # Persistence
//
// [Store] is the SQLite gateway (lib/sqlitepool) holding ratings,
// sanctions, and moderation reports. Engines write through it from
// inside their loops, so store access is sequential per engine. Rating
// rows carry a revision counter: a multi-row match commit fails with
// [ErrConflict] if any row moved underneath it, and the engine re-reads
// and retries once before surfacing the error. If the store fails
// persistently, the owning engine degrades to read-only: queries keep
// being served from memory, mutations are refused with [ErrDegraded],
// and the condition is visible through Degraded until restart.
//
// # Transport
//
// The engines are transport-agnostic. [Ingress] adapts Matrix /sync
// responses (messaging package) into engine calls: gossiped game
// announcements and match reports feed the registry and rating engine,
// moderator chat commands drive the sanction engine, and presence
// changes retire sessions whose hosts went away. Outbound sanction
// enforcement goes through the [Enactor] interface declared here, so
// the engine can be exercised in tests without a homeserver.
package lobby
