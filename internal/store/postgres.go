package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ppiankov/feeddigest/internal/dedup"
)

// Postgres is a SeenStore shared by several hosts.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects with dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migratePostgres(cfg.ConnConfig); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// migratePostgres runs migrations over a short-lived database/sql handle.
func migratePostgres(connConfig *pgx.ConnConfig) error {
	db := stdlib.OpenDB(*connConfig)
	defer func() { _ = db.Close() }()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("postgres migration driver: %w", err)
	}
	_, err = migrateUp("migrations/postgres", "pgx5", driver)
	return err
}

func (p *Postgres) Close() error {
	if p == nil || p.pool == nil {
		return nil
	}
	p.pool.Close()
	return nil
}

func (p *Postgres) Seen(ctx context.Context, sourceID string) (dedup.Set, error) {
	if p == nil || p.pool == nil {
		return nil, errNotInitialized
	}

	rows, err := p.pool.Query(ctx, "SELECT link FROM seen_links WHERE source_id = $1", sourceID)
	if err != nil {
		return nil, fmt.Errorf("query seen links: %w", err)
	}
	defer rows.Close()

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

func (p *Postgres) Commit(ctx context.Context, c Commit) error {
	if p == nil || p.pool == nil {
		return errNotInitialized
	}
	if err := validateCommit(c); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at := c.At.UTC()
	batch := &pgx.Batch{}
	for id, links := range c.Links {
		for _, link := range links {
			batch.Queue(`
				INSERT INTO seen_links(source_id, link, first_seen, run_id)
				VALUES($1, $2, $3, $4)
				ON CONFLICT (source_id, link) DO NOTHING
			`, id, link, at, c.RunID)
		}
	}
	batch.Queue(
		"INSERT INTO runs(id, generated_at, window_start, items, failures) VALUES($1, $2, $3, $4, $5)",
		c.RunID, at, c.WindowStart.UTC(), c.Items, c.Failures,
	)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write seen state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seen state: %w", err)
	}
	return nil
}

func (p *Postgres) Prune(ctx context.Context, r Retention) (int64, error) {
	if p == nil || p.pool == nil {
		return 0, errNotInitialized
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin prune transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var removed int64
	if cutoff, ok := r.cutoff(); ok {
		tag, err := tx.Exec(ctx, "DELETE FROM seen_links WHERE first_seen < $1", cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune old links: %w", err)
		}
		removed += tag.RowsAffected()
	}

	if r.MaxPerSource > 0 {
		tag, err := tx.Exec(ctx, `
			DELETE FROM seen_links s
			USING (
				SELECT source_id, link, ROW_NUMBER() OVER (
					PARTITION BY source_id ORDER BY first_seen DESC, link DESC
				) AS rn
				FROM seen_links
			) ranked
			WHERE s.source_id = ranked.source_id AND s.link = ranked.link AND ranked.rn > $1
		`, r.MaxPerSource)
		if err != nil {
			return 0, fmt.Errorf("cap links per source: %w", err)
		}
		removed += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return removed, nil
}

func (p *Postgres) LastRun(ctx context.Context) (*Run, error) {
	if p == nil || p.pool == nil {
		return nil, errNotInitialized
	}

	var r Run
	err := p.pool.QueryRow(ctx, `
		SELECT id, generated_at, window_start, items, failures
		FROM runs
		ORDER BY generated_at DESC
		LIMIT 1
	`).Scan(&r.ID, &r.GeneratedAt, &r.WindowStart, &r.Items, &r.Failures)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	r.GeneratedAt = r.GeneratedAt.UTC()
	r.WindowStart = r.WindowStart.UTC()
	return &r, nil
}

func (p *Postgres) Stats(ctx context.Context) ([]SourceStats, error) {
	if p == nil || p.pool == nil {
		return nil, errNotInitialized
	}

	rows, err := p.pool.Query(ctx, `
		SELECT source_id, COUNT(*), MAX(first_seen)
		FROM seen_links
		GROUP BY source_id
		ORDER BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats []SourceStats
	for rows.Next() {
		var st SourceStats
		if err := rows.Scan(&st.SourceID, &st.Links, &st.LastSeen); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.LastSeen = st.LastSeen.UTC()
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}
