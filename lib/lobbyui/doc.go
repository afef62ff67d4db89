// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package lobbyui implements a terminal dashboard for the muster lobby
// service. Built on bubbletea (Elm architecture), it shows live game
// sessions, the rating leaderboard, and the moderation log in a tabbed
// view, refreshed by polling the service's admin socket through the
// [Source] interface.
//
// The Source abstraction decouples the TUI from the data backend:
// [SocketSource] talks CBOR over the admin Unix socket, while tests
// substitute an in-memory implementation. The TUI code is identical in
// both cases.
//
// Data flow:
//
//	[lobby service admin socket]
//	        | (Source interface, periodic fetch)
//	    [Model] <- bubbletea event loop
//	        |
//	  [terminal output]
package lobbyui
