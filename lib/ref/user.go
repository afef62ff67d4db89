// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// UserID is a validated Matrix user ID (e.g., "@player:lobby.example").
//
// A Matrix user ID always starts with '@' and contains a ':' separating
// the localpart from the server name. This type validates the structural
// format only — it accepts any well-formed Matrix user ID, whether the
// account is a player, a moderator, or one of the lobby's own service
// accounts. Muster uses UserID as the stable player identity everywhere:
// session hosts, rating rows, and sanction targets are all keyed by it.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
// Returns an error if the string is empty, doesn't start with '@',
// has an empty localpart, or is missing the ':server' suffix.
func ParseUserID(raw string) (UserID, error) {
	if raw == "" {
		return UserID{}, fmt.Errorf("empty user ID")
	}
	if raw[0] != '@' {
		return UserID{}, fmt.Errorf("user ID must start with '@': %q", raw)
	}
	localpart, server, ok := strings.Cut(raw[1:], ":")
	if !ok {
		return UserID{}, fmt.Errorf("user ID missing ':server' suffix: %q", raw)
	}
	if localpart == "" {
		return UserID{}, fmt.Errorf("user ID has empty localpart: %q", raw)
	}
	if server == "" {
		return UserID{}, fmt.Errorf("user ID has empty server name: %q", raw)
	}
	return UserID{id: raw}, nil
}

// String returns the full user ID string (e.g., "@player:lobby.example").
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the localpart portion of the user ID (without the
// '@' prefix or ':server' suffix). Panics if called on a zero-value
// UserID.
func (u UserID) Localpart() string {
	if u.id == "" {
		panic("UserID.Localpart called on zero value")
	}
	localpart, _, _ := strings.Cut(u.id[1:], ":")
	return localpart
}

// Server returns the server portion of the user ID (after the ':').
// Panics if called on a zero-value UserID.
func (u UserID) Server() string {
	if u.id == "" {
		panic("UserID.Server called on zero value")
	}
	_, server, _ := strings.Cut(u.id[1:], ":")
	return server
}

// EqualFold reports whether two user IDs refer to the same account
// ignoring localpart case. Matrix localparts are case-sensitive on the
// wire, but game clients historically register mixed-case variants of
// the same name, so rating and sanction lookups fold case.
func (u UserID) EqualFold(other UserID) bool {
	return strings.EqualFold(u.id, other.id)
}

// FoldedKey returns the lowercased form of the user ID, used as the
// canonical storage key for rating and sanction rows.
func (u UserID) FoldedKey() string {
	return strings.ToLower(u.id)
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (u UserID) MarshalText() ([]byte, error) {
	if u.id == "" {
		return []byte{}, nil
	}
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// user ID format. An empty input produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
