// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides muster's standard SQLite connection pool.
//
// The lobby service keeps all durable coordination state — ratings,
// sanctions, archive manifests — in one SQLite file managed through
// this package. It wraps zombiezen.com/go/sqlite with production
// defaults: WAL journal mode, NORMAL synchronous, memory-mapped reads,
// and a busy timeout so write contention degrades to waiting instead
// of SQLITE_BUSY errors.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine holds its own connection for the
// duration of its work.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: concurrent readers with a single writer.
//     Reads never block writes; writes never block reads.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across power failure — acceptable because sanction and
//     rating state can be re-derived from the archived match and
//     moderation records if the host dies mid-commit.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock.
//   - foreign_keys=OFF: the store manages referential integrity
//     explicitly in its transaction helpers.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=268435456: 256 MB memory-mapped I/O so leaderboard
//     scans are served from the OS page cache without read(2) calls.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:     "/var/lib/muster/lobby.db",
//	    PoolSize: 4,
//	    Logger:   logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// # Design
//
// This package is intentionally thin: standard pragmas and the
// underlying zombiezen types, nothing more. There is no query builder
// and no attempt to hide SQLite's connection model. Callers write
// SQL, use sqlitex.Execute for cached statements, and manage
// transactions with sqlitex.ImmediateTransaction.
package sqlitepool
