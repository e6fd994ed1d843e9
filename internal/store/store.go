// Package store is the local match-history index (spec.md §2.8's
// supplemented feature): a small SQLite table of completed rounds so a
// GUI can list past matches without re-parsing every replay file. It is
// purely local bookkeeping, not a server-authoritative store — there is
// no server, and spec.md §1's "server-authoritative matchmaking" Non-goal
// is untouched.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a sql.DB connection holding the local match-history table,
// grounded on internal/database.DB's open/migrate shape.
type Store struct {
	db *sql.DB
}

// RoundRecord is one completed round's bookkeeping entry.
type RoundRecord struct {
	ID           string
	RoundNumber  uint8
	LinkCode     string
	PeerNickname string
	LocalPlayer  uint8
	Outcome      string
	ReplayPath   string
	ROMTitle     string
	StartedAt    time.Time
	EndedAt      time.Time
}

// Open creates or opens a SQLite database at dataDir/tango.db with WAL
// mode enabled and runs any pending migrations.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("store: creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "tango.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}
	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}

	slog.Info("match history store opened", "path", dbPath)
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}
		slog.Info("applied migration", "version", version)
	}
	return nil
}

// RecordRound inserts one completed round's bookkeeping entry.
func (s *Store) RecordRound(ctx context.Context, r RoundRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO rounds
		(id, round_number, link_code, peer_nickname, local_player, outcome, replay_path, rom_title, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RoundNumber, r.LinkCode, r.PeerNickname, r.LocalPlayer, r.Outcome, r.ReplayPath, r.ROMTitle, r.StartedAt, r.EndedAt)
	if err != nil {
		return fmt.Errorf("store: recording round: %w", err)
	}
	return nil
}

// ListRounds returns the most recent rounds, newest first, bounded by limit.
func (s *Store) ListRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, round_number, link_code, peer_nickname, local_player, outcome, replay_path, rom_title, started_at, ended_at
		FROM rounds ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var r RoundRecord
		if err := rows.Scan(&r.ID, &r.RoundNumber, &r.LinkCode, &r.PeerNickname, &r.LocalPlayer, &r.Outcome, &r.ReplayPath, &r.ROMTitle, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("store: scanning round: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountAll implements internal/metrics.MatchHistoryCounter.
func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rounds").Scan(&count); err != nil {
		return 0, fmt.Errorf("store: counting rounds: %w", err)
	}
	return count, nil
}
