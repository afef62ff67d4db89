// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for muster's
// lobby, rating, and moderation traffic.
//
// The package provides two core types. [Client] is an unauthenticated
// Matrix client that handles registration (token-authenticated via the
// MSC3231 UIAA flow) and login, returning authenticated
// [DirectSession] values. Client holds the homeserver URL and HTTP
// transport, shared across all sessions derived from it.
//
// [DirectSession] wraps a Client with an access token for
// authenticated operations: room management (create, join, leave,
// invite), messaging (send events, room messages with pagination),
// state events (get/set individual events, full room state),
// incremental sync with long-polling, room alias resolution, presence,
// TURN credential retrieval, and identity verification (WhoAmI). The
// moderation surface the sanction engine enacts through — KickUser,
// BanUser, UnbanUser, and the power-level mute helpers — lives here
// too, as plain client-server API calls any sufficiently-powerful room
// member could make.
//
// Sessions are lightweight (a pointer to the parent Client plus an
// access token in mmap-backed secret.Buffer memory) and safe to create
// in large numbers. The access token is locked against swap and
// excluded from core dumps; callers must call Close to release the
// protected memory.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, etc.) and HTTP status
// code. [IsMatrixError] tests for a specific error code. Request URLs
// are built by string concatenation rather than url.URL to avoid
// double-encoding of path segments that contain URL-encoded characters
// (such as room aliases with slashes).
//
// The lobby wire payloads themselves (announcements, match reports,
// moderator commands) are not defined here — they are content structs
// owned by the lobby package, sent through [DirectSession.SendMessage]
// and decoded from [Event] values on the consuming side.
package messaging
