package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/media"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var ErrSessionNotFound = errors.New("session not found")

// SQLiteStore keeps sweep statistics: lifetime totals, one row per session
// and the set of deletions already counted.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) StartSession(ctx context.Context, sessionID string, mode string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sweep_sessions (id, mode, started_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			mode=excluded.mode,
			updated_at=excluded.updated_at`,
		sessionID,
		mode,
		now,
		now,
	)
	return err
}

// RecordDeletion counts a confirmed deletion once per session and asset.
func (s *SQLiteStore) RecordDeletion(ctx context.Context, sessionID string, asset media.AssetRef) (err error) {
	now := s.now().UTC()
	size := max(asset.Size, 0)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO sweep_deletions (session_id, asset_id, size, deleted_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, asset_id) DO NOTHING`,
		sessionID,
		asset.ID,
		size,
		now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tx.Commit()
	}

	if _, err = tx.ExecContext(
		ctx,
		`UPDATE sweep_totals
		 SET deleted_count = deleted_count + 1, deleted_bytes = deleted_bytes + ?, updated_at = ?
		 WHERE id = 1`,
		size,
		now,
	); err != nil {
		return err
	}
	if err = s.bumpSession(ctx, tx, sessionID, "deleted_count = deleted_count + 1, deleted_bytes = deleted_bytes + ?", now, size); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecordSkip(ctx context.Context, sessionID string) error {
	return s.adjustSkipped(ctx, sessionID, 1)
}

// UndoSkip reverses one RecordSkip. Counters never drop below zero.
func (s *SQLiteStore) UndoSkip(ctx context.Context, sessionID string) error {
	return s.adjustSkipped(ctx, sessionID, -1)
}

func (s *SQLiteStore) adjustSkipped(ctx context.Context, sessionID string, delta int) (err error) {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(
		ctx,
		`UPDATE sweep_totals SET skipped_count = MAX(skipped_count + ?, 0), updated_at = ? WHERE id = 1`,
		delta,
		now,
	); err != nil {
		return err
	}
	if err = s.bumpSession(ctx, tx, sessionID, "skipped_count = MAX(skipped_count + ?, 0)", now, delta); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) bumpSession(ctx context.Context, tx *sql.Tx, sessionID, set string, now time.Time, arg any) error {
	res, err := tx.ExecContext(
		ctx,
		`UPDATE sweep_sessions SET `+set+`, updated_at = ? WHERE id = ?`,
		arg,
		now,
		sessionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

func (s *SQLiteStore) Totals(ctx context.Context) (Totals, error) {
	var ret Totals
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(
		ctx,
		`SELECT deleted_count, deleted_bytes, skipped_count, updated_at FROM sweep_totals WHERE id = 1`,
	).Scan(&ret.Deleted, &ret.DeletedBytes, &ret.Skipped, &updatedAt)
	if err != nil {
		return Totals{}, err
	}
	if updatedAt.Valid {
		ret.UpdatedAt = updatedAt.Time
	}
	return ret, nil
}

func (s *SQLiteStore) Session(ctx context.Context, sessionID string) (SessionStats, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, mode, started_at, deleted_count, deleted_bytes, skipped_count, updated_at
		 FROM sweep_sessions
		 WHERE id = ?`,
		sessionID,
	)
	ret, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionStats{}, false, nil
		}
		return SessionStats{}, false, err
	}
	return ret, true, nil
}

// RecentSessions lists the latest sessions, newest first.
func (s *SQLiteStore) RecentSessions(ctx context.Context, limit int) ([]SessionStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, mode, started_at, deleted_count, deleted_bytes, skipped_count, updated_at
		 FROM sweep_sessions
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]SessionStats, 0)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionStats, error) {
	var ret SessionStats
	err := row.Scan(
		&ret.ID,
		&ret.Mode,
		&ret.StartedAt,
		&ret.Deleted,
		&ret.DeletedBytes,
		&ret.Skipped,
		&ret.UpdatedAt,
	)
	return ret, err
}
