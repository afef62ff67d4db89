// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identity value types for the Matrix
// identifiers muster works with: user IDs, room IDs, room aliases,
// event IDs, and event types.
//
// Player identity throughout the lobby is the Matrix user ID — the
// session registry, rating table, and sanction table are all keyed by
// ref.UserID. Parsing happens once at the boundary (sync responses,
// config, CLI arguments); interior code passes the validated value
// types around and never re-checks format.
//
// All types are immutable values. The zero value of each is not a
// valid identifier; use IsZero to check.
package ref
