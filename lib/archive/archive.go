// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive is the content-addressed evidence store for the
// lobby service. Match report payloads and moderation evidence
// excerpts are stored compressed and encrypted at rest, addressed by
// the BLAKE3 ref of their plaintext.
//
// Because refs are content addresses, the archive doubles as the
// duplicate-report ledger: re-archiving an identical payload is a
// no-op that yields the same ref, and a ref the rating engine has
// already applied marks a resubmitted report as a duplicate.
//
// Entries are sealed with XChaCha20-Poly1305 under per-entry keys
// derived (HKDF-SHA256) from a single archive master key. The master
// key is escrowed to the moderator roster via age, so evidence stays
// readable if the service host is lost.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/muster-project/muster/lib/secret"
)

// MaxEntrySize bounds a single archived payload. Match reports and
// chat excerpts are kilobytes; the bound exists so the uint32 size
// field in the envelope header is always valid.
const MaxEntrySize = 64 << 20

// envelopeHeaderSize is the plaintext header inside the sealed
// envelope: compression tag (1 byte) + uncompressed size (uint32
// little-endian).
const envelopeHeaderSize = 5

const (
	entriesDir = "entries"
	tmpDir     = "tmp"
)

// Archive is an on-disk entry store rooted at a single directory.
// Safe for concurrent use: entries are immutable once written and
// writes go through atomic rename.
type Archive struct {
	root        string
	masterKey   *secret.Buffer
	compression CompressionTag
}

// Open creates or opens an archive at root. The masterKey is owned by
// the Archive and is closed by Close; the caller must not use it
// afterwards.
func Open(root string, masterKey *secret.Buffer, compression CompressionTag) (*Archive, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("archive key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	for _, dir := range []string{
		root,
		filepath.Join(root, entriesDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating archive directory %s: %w", dir, err)
		}
	}
	return &Archive{root: root, masterKey: masterKey, compression: compression}, nil
}

// Close zeroes and releases the master key. Idempotent.
func (a *Archive) Close() error {
	return a.masterKey.Close()
}

// Put archives a payload and returns its content ref. Storing a
// payload that is already archived is a no-op returning the same ref,
// so callers can use "ref existed before Put" (via Has) as the
// duplicate check and Put unconditionally after.
func (a *Archive) Put(payload []byte) (Ref, error) {
	if len(payload) > MaxEntrySize {
		return Ref{}, fmt.Errorf("payload is %d bytes, archive entries are capped at %d", len(payload), MaxEntrySize)
	}

	ref := HashContent(payload)
	finalPath := a.entryPath(ref)
	if _, err := os.Stat(finalPath); err == nil {
		// Same ref means same plaintext by construction.
		return ref, nil
	}

	compressed, tag, err := compress(payload, a.compression)
	if err != nil {
		return Ref{}, fmt.Errorf("compressing entry %s: %w", ref.Short(), err)
	}

	envelope := make([]byte, envelopeHeaderSize+len(compressed))
	envelope[0] = byte(tag)
	binary.LittleEndian.PutUint32(envelope[1:], uint32(len(payload)))
	copy(envelope[envelopeHeaderSize:], compressed)

	entryKey, err := deriveEntryKey(a.masterKey, ref)
	if err != nil {
		return Ref{}, err
	}
	defer entryKey.Close()

	sealedBytes, err := sealEntry(envelope, entryKey, ref)
	if err != nil {
		return Ref{}, fmt.Errorf("sealing entry %s: %w", ref.Short(), err)
	}

	if err := a.writeAtomic(finalPath, sealedBytes); err != nil {
		return Ref{}, fmt.Errorf("writing entry %s: %w", ref.Short(), err)
	}
	return ref, nil
}

// Get reads, decrypts, and decompresses an archived payload. Returns
// an error wrapping fs.ErrNotExist when the ref is not archived.
func (a *Archive) Get(ref Ref) ([]byte, error) {
	sealedBytes, err := os.ReadFile(a.entryPath(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("entry %s: %w", ref.Short(), fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("reading entry %s: %w", ref.Short(), err)
	}

	entryKey, err := deriveEntryKey(a.masterKey, ref)
	if err != nil {
		return nil, err
	}
	defer entryKey.Close()

	envelope, err := openEntry(sealedBytes, entryKey, ref)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", ref.Short(), err)
	}
	if len(envelope) < envelopeHeaderSize {
		return nil, fmt.Errorf("entry %s: envelope is %d bytes, header needs %d", ref.Short(), len(envelope), envelopeHeaderSize)
	}

	tag := CompressionTag(envelope[0])
	uncompressedSize := int(binary.LittleEndian.Uint32(envelope[1:]))
	payload, err := decompress(envelope[envelopeHeaderSize:], tag, uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", ref.Short(), err)
	}

	// The AEAD already authenticated the ciphertext; re-hashing the
	// plaintext additionally catches an entry sealed under the right
	// key but with the wrong content.
	if HashContent(payload) != ref {
		return nil, fmt.Errorf("entry %s: content does not match its ref", ref.Short())
	}
	return payload, nil
}

// Has reports whether a ref is archived. This is the duplicate-report
// check: it never touches key material.
func (a *Archive) Has(ref Ref) bool {
	_, err := os.Stat(a.entryPath(ref))
	return err == nil
}

// Refs walks the store and returns every archived ref, in no
// particular order.
func (a *Archive) Refs() ([]Ref, error) {
	var refs []Ref
	root := filepath.Join(a.root, entriesDir)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ref, parseErr := ParseRef(entry.Name())
		if parseErr != nil {
			// Foreign file in the store; skip it.
			return nil
		}
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking archive: %w", err)
	}
	return refs, nil
}

// entryPath returns the sharded path for a ref: entries/a3/f9/a3f9....
// Two shard levels keep directory sizes manageable at any plausible
// entry count.
func (a *Archive) entryPath(ref Ref) string {
	hexRef := ref.String()
	return filepath.Join(a.root, entriesDir, hexRef[:2], hexRef[2:4], hexRef)
}

// writeAtomic writes data to finalPath via a temp file and rename.
// A concurrent Put of the same ref is harmless: both writers produce
// an identical plaintext and the rename is atomic.
func (a *Archive) writeAtomic(finalPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Join(a.root, tmpDir), "entry-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}
	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tmpPath)
		success = true
		return nil
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	success = true
	return nil
}
