// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides muster's standard CBOR encoding configuration.
//
// Muster uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the Matrix Client-Server API, the
//     CLI session file, and CLI --json output.
//   - CBOR for internal protocols: the lobby service admin socket and
//     archived match evidence records.
//
// This package holds the shared encoding and decoding modes so every
// muster package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces
// identical bytes, which matters for content-addressed archive
// records whose hash is computed over the encoding.
//
// For buffer-oriented operations (files, archive records):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: the type is only ever serialized as CBOR. Examples:
//     archive record envelopes, socket response framing.
//   - `json` tag: the type may be serialized as both JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: admin socket payload
//     types that the CLI also prints as JSON, types shared between
//     Matrix events and the socket protocol.
//
// Never put both `cbor` and `json` tags on the same field. The tag
// choice documents the contract; doubling up obscures whether a type
// participates in JSON serialization.
package codec
