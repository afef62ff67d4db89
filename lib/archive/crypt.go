// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/muster-project/muster/lib/sealed"
	"github.com/muster-project/muster/lib/secret"
)

// KeySize is the size in bytes of the archive master key and of every
// derived per-entry key.
const KeySize = 32

// envelopeVersion is prepended to every sealed entry and included in
// the AAD, so tampering with it fails authentication.
const envelopeVersion byte = 0x01

// envelopeOverhead is the fixed byte overhead per sealed entry:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const envelopeOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoEntry is the HKDF info prefix for per-entry keys. The entry
// ref is appended, so every entry encrypts under its own key and a
// leaked entry key exposes nothing else. Changing the prefix
// invalidates every sealed entry.
var hkdfInfoEntry = []byte("muster.archive.entry.v1")

// GenerateKey creates a fresh random archive master key in guarded
// memory. Run once per deployment; the key is escrowed to the
// moderator roster with EscrowKey before first use.
func GenerateKey() (*secret.Buffer, error) {
	material := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, fmt.Errorf("generating archive key: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(material)
}

// EscrowKey seals the archive master key to a set of age recipient
// public keys, one per moderator. Any single recipient can recover
// the key offline and read the evidence archive without the lobby
// service running. The masterKey is borrowed, not closed.
func EscrowKey(masterKey *secret.Buffer, recipients []string) (string, error) {
	if masterKey.Len() != KeySize {
		return "", fmt.Errorf("archive key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	escrow, err := sealed.Encrypt(masterKey.Bytes(), recipients)
	if err != nil {
		return "", fmt.Errorf("escrowing archive key: %w", err)
	}
	return escrow, nil
}

// RecoverKey opens an escrowed archive master key with a moderator's
// age identity. The identity is borrowed, not closed; the returned
// Buffer must be closed by the caller.
func RecoverKey(escrow string, identity *secret.Buffer) (*secret.Buffer, error) {
	masterKey, err := sealed.Decrypt(escrow, identity)
	if err != nil {
		return nil, fmt.Errorf("recovering archive key: %w", err)
	}
	if masterKey.Len() != KeySize {
		length := masterKey.Len()
		masterKey.Close()
		return nil, fmt.Errorf("recovered archive key is %d bytes, want %d", length, KeySize)
	}
	return masterKey, nil
}

// deriveEntryKey derives the per-entry encryption key from the master
// key and the entry's content ref via HKDF-SHA256. The salt is nil:
// the master key is already uniformly random, so the extract phase
// with a zero key is appropriate per RFC 5869. The masterKey is
// borrowed; the returned Buffer must be closed by the caller.
func deriveEntryKey(masterKey *secret.Buffer, ref Ref) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoEntry)+len(ref))
	copy(info, hkdfInfoEntry)
	copy(info[len(hkdfInfoEntry):], ref[:])

	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("deriving entry key: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// sealEntry encrypts an envelope with XChaCha20-Poly1305 under the
// per-entry key:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
//
// The AAD is the version byte followed by the entry ref, binding the
// ciphertext to its content address: a sealed entry moved to another
// ref's path fails authentication.
func sealEntry(envelope []byte, entryKey *secret.Buffer, ref Ref) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(entryKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, envelopeOverhead+len(envelope))
	output[0] = envelopeVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], envelope, entryAAD(envelopeVersion, ref)), nil
}

// openEntry decrypts a sealed entry, verifying the version byte and
// the ref binding.
func openEntry(sealedEntry []byte, entryKey *secret.Buffer, ref Ref) ([]byte, error) {
	if len(sealedEntry) < envelopeOverhead {
		return nil, fmt.Errorf("sealed entry is %d bytes, minimum is %d", len(sealedEntry), envelopeOverhead)
	}
	version := sealedEntry[0]
	if version != envelopeVersion {
		return nil, fmt.Errorf("sealed entry version %d is not supported (expected %d)", version, envelopeVersion)
	}

	aead, err := chacha20poly1305.NewX(entryKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := sealedEntry[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealedEntry[1+chacha20poly1305.NonceSizeX:]
	envelope, err := aead.Open(nil, nonce, ciphertext, entryAAD(version, ref))
	if err != nil {
		return nil, fmt.Errorf("entry authentication failed (wrong key, tampered data, or mismatched ref): %w", err)
	}
	return envelope, nil
}

func entryAAD(version byte, ref Ref) []byte {
	aad := make([]byte, 1+len(ref))
	aad[0] = version
	copy(aad[1:], ref[:])
	return aad
}
