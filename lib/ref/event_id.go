// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventID is a Matrix event ID (e.g., "$Yk4qNnZ8…"). Event IDs are
// server-assigned opaque tokens; beyond the '$' sigil there is no
// structure worth validating, so EventID is a named string type rather
// than a parsed wrapper. Muster stores event IDs for audit trails
// (which announcement created a session, which report produced a
// rating change) and never interprets them.
type EventID string

// String returns the event ID string.
func (e EventID) String() string { return string(e) }

// IsZero reports whether the EventID is empty.
func (e EventID) IsZero() bool { return e == "" }
