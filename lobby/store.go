// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/muster-project/muster/lib/archive"
	"github.com/muster-project/muster/lib/ref"
	"github.com/muster-project/muster/lib/sqlitepool"
)

// lobbySchema is applied to every new connection. Timestamps are Unix
// nanoseconds; zero means "not set" (a permanent sanction's
// expires_at). The player/reported columns hold case-folded user IDs
// for lookups, user_id the original casing for display.
const lobbySchema = `
CREATE TABLE IF NOT EXISTS ratings (
	player         TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	rating         REAL NOT NULL,
	highest_rating REAL NOT NULL,
	games_played   INTEGER NOT NULL,
	wins           INTEGER NOT NULL,
	losses         INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	revision       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ratings_board ON ratings(rating DESC, games_played ASC);

CREATE TABLE IF NOT EXISTS sanctions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	player        TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	kind          TEXT NOT NULL,
	issued_by     TEXT NOT NULL,
	reason        TEXT NOT NULL,
	issued_at     INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	state         TEXT NOT NULL,
	revoked_by    TEXT NOT NULL,
	revoke_reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sanctions_player ON sanctions(player, state);
CREATE INDEX IF NOT EXISTS idx_sanctions_expiry ON sanctions(state, expires_at);

CREATE TABLE IF NOT EXISTS reports (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	reported      TEXT NOT NULL,
	reported_user TEXT NOT NULL,
	reporting     TEXT NOT NULL,
	kind          TEXT NOT NULL,
	filed_at      INTEGER NOT NULL,
	body          TEXT NOT NULL,
	evidence_ref  TEXT NOT NULL,
	resolved      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reports_reported ON reports(reported, resolved);

CREATE TABLE IF NOT EXISTS applied_reports (
	ref        TEXT PRIMARY KEY,
	host       TEXT NOT NULL,
	applied_at INTEGER NOT NULL
);
`

// StoreConfig holds the parameters for opening the lobby store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. ":memory:" is not accepted by the
	// underlying pool; tests use a file in a temp dir. Required.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Store is the SQLite gateway for ratings, sanctions, and moderation
// reports. Engines call it from inside their loops, so per-engine
// access is sequential; the revision check on rating rows guards
// against writers outside this process.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// OpenStore opens the lobby database, creating the file and schema if
// needed.
func OpenStore(config StoreConfig) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("lobby store: Path is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("lobby store: Logger is required")
	}

	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: poolSize,
		Logger:   config.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, lobbySchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lobby store: %w", err)
	}

	return &Store{pool: pool, logger: config.Logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// GetRating reads one player's rating row. The second return is false
// if the player has none.
func (s *Store) GetRating(ctx context.Context, player ref.UserID) (RatingRecord, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return RatingRecord{}, false, fmt.Errorf("lobby store: get rating: %w", err)
	}
	defer s.pool.Put(conn)

	var record RatingRecord
	found := false
	err = sqlitex.Execute(conn, `SELECT player, user_id, rating, highest_rating,
		games_played, wins, losses, updated_at, revision
		FROM ratings WHERE player = ?`, &sqlitex.ExecOptions{
		Args: []any{player.FoldedKey()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned, err := scanRating(stmt)
			if err != nil {
				return err
			}
			record, found = scanned, true
			return nil
		},
	})
	if err != nil {
		return RatingRecord{}, false, fmt.Errorf("lobby store: get rating for %s: %w", player, err)
	}
	return record, found, nil
}

// Ratings returns rating rows in leaderboard order: rating
// descending, then fewer games played, then user ID. A limit of zero
// or less returns every row — the rating engine loads its table with
// that at startup.
func (s *Store) Ratings(ctx context.Context, limit int) ([]RatingRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("lobby store: ratings: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT player, user_id, rating, highest_rating,
		games_played, wins, losses, updated_at, revision
		FROM ratings ORDER BY rating DESC, games_played ASC, player ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var records []RatingRecord
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := scanRating(stmt)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lobby store: ratings: %w", err)
	}
	return records, nil
}

// ReportApplied reports whether a match payload with this content ref
// was already applied.
func (s *Store) ReportApplied(ctx context.Context, payloadRef archive.Ref) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("lobby store: report applied: %w", err)
	}
	defer s.pool.Put(conn)

	applied := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM applied_reports WHERE ref = ?`, &sqlitex.ExecOptions{
		Args: []any{payloadRef.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			applied = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("lobby store: report applied: %w", err)
	}
	return applied, nil
}

// ApplyMatchResult commits one match report: the applied-report dedup
// row and every touched rating row, all or nothing. A record with
// Revision zero must not exist yet; any other revision must match the
// stored row exactly. Either violation fails the whole transaction —
// a duplicate ref with ErrInvalidReport, a moved row with ErrConflict
// — and nothing is written.
func (s *Store) ApplyMatchResult(ctx context.Context, payloadRef archive.Ref, host ref.UserID, updates []RatingRecord, now time.Time) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("lobby store: apply match result: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("lobby store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	// Authoritative duplicate check, inside the transaction.
	duplicate := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM applied_reports WHERE ref = ?`, &sqlitex.ExecOptions{
		Args:       []any{payloadRef.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error { duplicate = true; return nil },
	})
	if err != nil {
		return fmt.Errorf("lobby store: duplicate check: %w", err)
	}
	if duplicate {
		return fmt.Errorf("report %s already applied: %w", payloadRef.Short(), ErrInvalidReport)
	}

	err = sqlitex.Execute(conn, `INSERT INTO applied_reports (ref, host, applied_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{payloadRef.String(), host.FoldedKey(), now.UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("lobby store: record applied report: %w", err)
	}

	for i := range updates {
		if err = s.upsertRating(conn, &updates[i]); err != nil {
			return err
		}
	}
	return nil
}

// upsertRating writes one revision-checked rating row inside the
// caller's transaction.
func (s *Store) upsertRating(conn *sqlite.Conn, record *RatingRecord) error {
	if record.Revision == 0 {
		err := sqlitex.Execute(conn, `INSERT INTO ratings
			(player, user_id, rating, highest_rating, games_played, wins, losses, updated_at, revision)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(player) DO NOTHING`, &sqlitex.ExecOptions{
			Args: []any{
				record.Player.FoldedKey(),
				record.Player.String(),
				record.Rating,
				record.HighestRating,
				record.GamesPlayed,
				record.Wins,
				record.Losses,
				unixNanos(record.UpdatedAt),
			},
		})
		if err != nil {
			return fmt.Errorf("lobby store: insert rating for %s: %w", record.Player, err)
		}
	} else {
		err := sqlitex.Execute(conn, `UPDATE ratings SET
			user_id = ?, rating = ?, highest_rating = ?, games_played = ?,
			wins = ?, losses = ?, updated_at = ?, revision = ?
			WHERE player = ? AND revision = ?`, &sqlitex.ExecOptions{
			Args: []any{
				record.Player.String(),
				record.Rating,
				record.HighestRating,
				record.GamesPlayed,
				record.Wins,
				record.Losses,
				unixNanos(record.UpdatedAt),
				record.Revision + 1,
				record.Player.FoldedKey(),
				record.Revision,
			},
		})
		if err != nil {
			return fmt.Errorf("lobby store: update rating for %s: %w", record.Player, err)
		}
	}

	changed, err := rowsChanged(conn)
	if err != nil {
		return fmt.Errorf("lobby store: rating change count: %w", err)
	}
	if changed == 0 {
		return fmt.Errorf("rating row for %s moved past revision %d: %w",
			record.Player, record.Revision, ErrConflict)
	}
	return nil
}

// InsertSanction appends a sanction row and returns its id.
func (s *Store) InsertSanction(ctx context.Context, sanction Sanction) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("lobby store: insert sanction: %w", err)
	}
	defer s.pool.Put(conn)

	var id int64
	err = sqlitex.Execute(conn, `INSERT INTO sanctions
		(player, user_id, kind, issued_by, reason, issued_at, expires_at, state, revoked_by, revoke_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`, &sqlitex.ExecOptions{
		Args: []any{
			sanction.Player.FoldedKey(),
			sanction.Player.String(),
			sanction.Kind.String(),
			sanction.IssuedBy.String(),
			sanction.Reason,
			unixNanos(sanction.IssuedAt),
			unixNanos(sanction.ExpiresAt),
			sanction.State.String(),
			revokerColumn(sanction.RevokedBy),
			sanction.RevokeReason,
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("lobby store: insert sanction for %s: %w", sanction.Player, err)
	}
	return id, nil
}

// UpdateSanctionState moves an Active sanction to a terminal state.
// Returns ErrNotFound if the sanction does not exist or is already
// terminal — terminal states never transition again.
func (s *Store) UpdateSanctionState(ctx context.Context, id int64, to SanctionState, by ref.UserID, reason string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("lobby store: update sanction state: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE sanctions SET state = ?, revoked_by = ?, revoke_reason = ?
		WHERE id = ? AND state = ?`, &sqlitex.ExecOptions{
		Args: []any{
			to.String(),
			revokerColumn(by),
			reason,
			id,
			SanctionActive.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("lobby store: update sanction %d: %w", id, err)
	}

	changed, err := rowsChanged(conn)
	if err != nil {
		return fmt.Errorf("lobby store: sanction change count: %w", err)
	}
	if changed == 0 {
		return fmt.Errorf("sanction %d is not active: %w", id, ErrNotFound)
	}
	return nil
}

// ActiveSanctions returns every Active sanction, oldest first. The
// sanction engine rebuilds its maps and expiry heap from this at
// startup.
func (s *Store) ActiveSanctions(ctx context.Context) ([]Sanction, error) {
	return s.querySanctions(ctx, `WHERE state = ? ORDER BY id ASC`, SanctionActive.String())
}

// SanctionsForPlayer returns the player's full sanction history,
// newest first.
func (s *Store) SanctionsForPlayer(ctx context.Context, player ref.UserID) ([]Sanction, error) {
	return s.querySanctions(ctx, `WHERE player = ? ORDER BY issued_at DESC, id DESC`, player.FoldedKey())
}

func (s *Store) querySanctions(ctx context.Context, clause string, args ...any) ([]Sanction, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("lobby store: query sanctions: %w", err)
	}
	defer s.pool.Put(conn)

	var sanctions []Sanction
	query := `SELECT id, user_id, kind, issued_by, reason, issued_at, expires_at,
		state, revoked_by, revoke_reason FROM sanctions ` + clause
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sanction, err := scanSanction(stmt)
			if err != nil {
				return err
			}
			sanctions = append(sanctions, sanction)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lobby store: query sanctions: %w", err)
	}
	return sanctions, nil
}

// InsertReport appends a moderation report or warning and returns its
// id.
func (s *Store) InsertReport(ctx context.Context, report Report) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("lobby store: insert report: %w", err)
	}
	defer s.pool.Put(conn)

	var id int64
	err = sqlitex.Execute(conn, `INSERT INTO reports
		(reported, reported_user, reporting, kind, filed_at, body, evidence_ref, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`, &sqlitex.ExecOptions{
		Args: []any{
			report.Reported.FoldedKey(),
			report.Reported.String(),
			revokerColumn(report.Reporting),
			report.Kind.String(),
			unixNanos(report.FiledAt),
			report.Body,
			report.EvidenceRef,
			boolColumn(report.Resolved),
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("lobby store: insert report on %s: %w", report.Reported, err)
	}
	return id, nil
}

// ResolveReport marks a report resolved. Resolution is one-way and
// idempotent; an unknown id returns ErrNotFound.
func (s *Store) ResolveReport(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("lobby store: resolve report: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE reports SET resolved = 1 WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("lobby store: resolve report %d: %w", id, err)
	}

	changed, err := rowsChanged(conn)
	if err != nil {
		return fmt.Errorf("lobby store: report change count: %w", err)
	}
	if changed == 0 {
		return fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	return nil
}

// OpenReports returns unresolved reports and warnings, oldest first.
func (s *Store) OpenReports(ctx context.Context) ([]Report, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("lobby store: open reports: %w", err)
	}
	defer s.pool.Put(conn)

	var reports []Report
	err = sqlitex.Execute(conn, `SELECT id, reported_user, reporting, kind, filed_at,
		body, evidence_ref, resolved FROM reports WHERE resolved = 0 ORDER BY id ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				report, err := scanReport(stmt)
				if err != nil {
					return err
				}
				reports = append(reports, report)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("lobby store: open reports: %w", err)
	}
	return reports, nil
}

func scanRating(stmt *sqlite.Stmt) (RatingRecord, error) {
	// Columns: player(0), user_id(1), rating(2), highest_rating(3),
	// games_played(4), wins(5), losses(6), updated_at(7), revision(8)
	var record RatingRecord

	player, err := ref.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return record, fmt.Errorf("parse stored user id: %w", err)
	}
	record.Player = player
	record.Rating = stmt.ColumnFloat(2)
	record.HighestRating = stmt.ColumnFloat(3)
	record.GamesPlayed = stmt.ColumnInt(4)
	record.Wins = stmt.ColumnInt(5)
	record.Losses = stmt.ColumnInt(6)
	record.UpdatedAt = fromUnixNanos(stmt.ColumnInt64(7))
	record.Revision = stmt.ColumnInt64(8)
	return record, nil
}

func scanSanction(stmt *sqlite.Stmt) (Sanction, error) {
	// Columns: id(0), user_id(1), kind(2), issued_by(3), reason(4),
	// issued_at(5), expires_at(6), state(7), revoked_by(8),
	// revoke_reason(9)
	var sanction Sanction

	player, err := ref.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return sanction, fmt.Errorf("parse stored user id: %w", err)
	}
	kind, err := ParseSanctionKind(stmt.ColumnText(2))
	if err != nil {
		return sanction, fmt.Errorf("parse stored sanction: %w", err)
	}
	issuedBy, err := ref.ParseUserID(stmt.ColumnText(3))
	if err != nil {
		return sanction, fmt.Errorf("parse stored issuer: %w", err)
	}
	state, err := parseSanctionState(stmt.ColumnText(7))
	if err != nil {
		return sanction, fmt.Errorf("parse stored sanction: %w", err)
	}

	sanction.ID = stmt.ColumnInt64(0)
	sanction.Player = player
	sanction.Kind = kind
	sanction.IssuedBy = issuedBy
	sanction.Reason = stmt.ColumnText(4)
	sanction.IssuedAt = fromUnixNanos(stmt.ColumnInt64(5))
	sanction.ExpiresAt = fromUnixNanos(stmt.ColumnInt64(6))
	sanction.State = state
	if revoker := stmt.ColumnText(8); revoker != "" {
		revokedBy, err := ref.ParseUserID(revoker)
		if err != nil {
			return sanction, fmt.Errorf("parse stored revoker: %w", err)
		}
		sanction.RevokedBy = revokedBy
	}
	sanction.RevokeReason = stmt.ColumnText(9)
	return sanction, nil
}

func scanReport(stmt *sqlite.Stmt) (Report, error) {
	// Columns: id(0), reported_user(1), reporting(2), kind(3),
	// filed_at(4), body(5), evidence_ref(6), resolved(7)
	var report Report

	reported, err := ref.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return report, fmt.Errorf("parse stored user id: %w", err)
	}
	report.Reported = reported
	if reporter := stmt.ColumnText(2); reporter != "" {
		reporting, err := ref.ParseUserID(reporter)
		if err != nil {
			return report, fmt.Errorf("parse stored reporter: %w", err)
		}
		report.Reporting = reporting
	}
	kind, err := ParseReportKind(stmt.ColumnText(3))
	if err != nil {
		return report, fmt.Errorf("parse stored report: %w", err)
	}
	report.ID = stmt.ColumnInt64(0)
	report.Kind = kind
	report.FiledAt = fromUnixNanos(stmt.ColumnInt64(4))
	report.Body = stmt.ColumnText(5)
	report.EvidenceRef = stmt.ColumnText(6)
	report.Resolved = stmt.ColumnInt64(7) != 0
	return report, nil
}

// rowsChanged returns the row count of the connection's most recent
// statement via SQL, keeping the store on the query API alone.
func rowsChanged(conn *sqlite.Conn) (int64, error) {
	var changed int64
	err := sqlitex.Execute(conn, `SELECT changes()`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			changed = stmt.ColumnInt64(0)
			return nil
		},
	})
	return changed, err
}

// unixNanos encodes a timestamp, mapping the zero time to 0.
func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromUnixNanos decodes a timestamp, mapping 0 to the zero time.
func fromUnixNanos(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

// revokerColumn encodes an optional user ID column, mapping the zero
// value to the empty string.
func revokerColumn(user ref.UserID) string {
	if user.IsZero() {
		return ""
	}
	return user.String()
}

func boolColumn(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
