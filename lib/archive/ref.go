// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Ref is the 32-byte BLAKE3 content reference of an archive entry,
// computed over the uncompressed plaintext. Identical payloads always
// produce identical refs, which is what makes the ref usable as the
// duplicate-report key: a match report whose ref is already archived
// has already been applied.
type Ref [32]byte

// contentDomainKey is the BLAKE3 key for content references. Keyed
// hashing gives domain separation from any other BLAKE3 use of the
// same bytes. The value is the ASCII domain name zero-padded to 32
// bytes; changing it invalidates every stored ref.
var contentDomainKey = [32]byte{
	'm', 'u', 's', 't', 'e', 'r', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashContent computes the content reference for a payload.
func HashContent(data []byte) Ref {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var ref Ref
	copy(ref[:], hasher.Sum(nil))
	return ref
}

// String returns the canonical 64-character hex form used in
// persistence, logs, and CLI output.
func (ref Ref) String() string {
	return hex.EncodeToString(ref[:])
}

// Short returns the abbreviated display form: "arc-" followed by the
// first 12 hex characters.
func (ref Ref) Short() string {
	return "arc-" + hex.EncodeToString(ref[:6])
}

// ParseRef parses a 64-character hex string into a Ref.
func ParseRef(hexString string) (Ref, error) {
	var ref Ref
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return ref, fmt.Errorf("parsing archive ref: %w", err)
	}
	if len(decoded) != len(ref) {
		return ref, fmt.Errorf("archive ref is %d bytes, want %d", len(decoded), len(ref))
	}
	copy(ref[:], decoded)
	return ref, nil
}
