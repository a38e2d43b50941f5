package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/feeddigest/internal/dedup"
)

// SQLite is the default SeenStore, a single database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migration driver: %w", err)
	}
	if _, err := migrateUp("migrations/sqlite", "sqlite", driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Seen(ctx context.Context, sourceID string) (dedup.Set, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, "SELECT link FROM seen_links WHERE source_id = ?", sourceID)
	if err != nil {
		return nil, fmt.Errorf("query seen links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	set := make(dedup.Set)
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("scan seen link: %w", err)
		}
		set[link] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen links: %w", err)
	}
	return set, nil
}

func (s *SQLite) Commit(ctx context.Context, c Commit) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if err := validateCommit(c); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO seen_links(source_id, link, first_seen, run_id) VALUES(?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare seen insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	at := formatTime(c.At)
	for id, links := range c.Links {
		for _, link := range links {
			if _, err := stmt.ExecContext(ctx, id, link, at, c.RunID); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert seen link: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs(id, generated_at, window_start, items, failures) VALUES(?, ?, ?, ?, ?)",
		c.RunID, at, formatTime(c.WindowStart), c.Items, c.Failures,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seen state: %w", err)
	}
	return nil
}

// Prune drops links first seen before the retention cutoff, then trims each
// source to its newest MaxPerSource links.
func (s *SQLite) Prune(ctx context.Context, r Retention) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune transaction: %w", err)
	}

	var removed int64
	if cutoff, ok := r.cutoff(); ok {
		res, err := tx.ExecContext(ctx, "DELETE FROM seen_links WHERE first_seen < ?", formatTime(cutoff))
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("prune old links: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if r.MaxPerSource > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM seen_links WHERE rowid IN (
				SELECT rowid FROM (
					SELECT rowid, ROW_NUMBER() OVER (
						PARTITION BY source_id ORDER BY first_seen DESC, link DESC
					) AS rn
					FROM seen_links
				) WHERE rn > ?
			)
		`, r.MaxPerSource)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("cap links per source: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return removed, nil
}

func (s *SQLite) LastRun(ctx context.Context) (*Run, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	var (
		r                        Run
		generatedAt, windowStart string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, generated_at, window_start, items, failures
		FROM runs
		ORDER BY generated_at DESC
		LIMIT 1
	`).Scan(&r.ID, &generatedAt, &windowStart, &r.Items, &r.Failures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}

	if r.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return nil, fmt.Errorf("parse generated_at: %w", err)
	}
	if r.WindowStart, err = parseTime(windowStart); err != nil {
		return nil, fmt.Errorf("parse window_start: %w", err)
	}
	return &r, nil
}

func (s *SQLite) Stats(ctx context.Context) ([]SourceStats, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, COUNT(*), MAX(first_seen)
		FROM seen_links
		GROUP BY source_id
		ORDER BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SourceStats
	for rows.Next() {
		var (
			st       SourceStats
			lastSeen string
		)
		if err := rows.Scan(&st.SourceID, &st.Links, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if st.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, fmt.Errorf("parse last_seen: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}
