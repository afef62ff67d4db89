// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package lobbyapi defines the admin-socket protocol of the lobby
// service: the wire types exchanged over the CBOR Unix socket and a
// typed client wrapping lib/service's ServiceClient.
//
// The service process registers one action per operation (see the
// Action* constants); `muster` and `muster-viewer` talk to it through
// the Client here. Wire types are flat — user IDs travel as strings,
// times as Unix seconds — so the protocol does not leak the lobby
// package's domain types across the socket.
package lobbyapi
