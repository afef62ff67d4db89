// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for muster's moderation
// evidence escrow. It wraps filippo.io/age for the operations muster
// needs: generate x25519 keypairs, encrypt to multiple recipients,
// and decrypt with a private key.
//
// Ciphertext is base64-encoded so it can sit in JSON fields and
// SQLite text columns. Callers pass plaintext []byte to [Encrypt] and
// receive a base64 string; [Decrypt] accepts a base64 string and
// returns plaintext. Private keys and decrypted plaintext live in
// [secret.Buffer] values backed by mmap memory outside the Go heap
// (locked against swap, excluded from core dumps, zeroed on Close).
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Encrypt] -- encrypt to age public key recipients
//   - [Decrypt] -- decrypt with a secret.Buffer key
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
//
// The archive seals each content key to the configured moderator
// recipients, so archived match reports and sanction evidence can be
// read off-box only by holders of a moderator private key. The
// `muster keygen` command generates those keypairs.
//
// Depends on lib/secret for secure memory allocation.
package sealed
