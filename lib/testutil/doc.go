// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for muster packages.
//
// [SocketDir] creates a temporary directory directly in /tmp suitable
// for Unix domain sockets. Unix domain sockets have a 108-byte path
// limit (sun_path in sockaddr_un), and test runners can set TMPDIR to
// deeply nested paths that exceed it, making t.TempDir() unsuitable
// for socket files. The directory is removed when the test completes.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with a time.After fallback) so
// individual tests do not hang forever when an event loop drops a
// message it should have delivered.
//
// [UniqueID] generates monotonically increasing identifiers. Use it
// instead of time.Now() when tests need distinguishable transaction
// IDs, event IDs, or message bodies in shared rooms.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
