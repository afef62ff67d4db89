// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the runtime scaffolding for the muster
// lobby service: a standalone Go binary with its own Matrix account,
// its own /sync loop, and a Unix socket API for local administration.
//
//   - Session persistence: save and load session.json in the state
//     directory, reconstruct an authenticated Matrix client from the
//     stored access token.
//   - Sync loop: incremental Matrix /sync long-poll with exponential
//     backoff, delivering responses to a caller-provided handler.
//   - Socket server: CBOR request-response Unix socket with action
//     dispatch, connection timeouts, and graceful shutdown.
//   - Socket client: one connection per call, used by the muster CLI
//     and the viewer to talk to a running service.
//
// The service composes these utilities in its own main() function
// rather than subclassing a framework. The package provides building
// blocks, not a runtime.
//
// # Authentication
//
// The admin socket carries no request-level authentication. The socket
// lives in the service's run directory (created 0700), so filesystem
// permissions decide who can issue admin commands: anyone who can open
// the socket already owns the service account. Moderation commands
// arriving over Matrix are authenticated by the homeserver and gated
// on the configured moderator roster instead.
package service
