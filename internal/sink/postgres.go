// Package sink provides the persistence backends completed records are
// handed to at the end of a run.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mehdiyevf/turbocrawl/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for listings.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type batchPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	Close()
}

// Postgres upserts records into a listings table keyed by identifier, so a
// resumed run that re-stores earlier records overwrites rather than
// duplicates.
type Postgres struct {
	pool  batchPool
	table string
}

var _ crawler.Sink = (*Postgres)(nil)

// NewPostgres connects a pool from the config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// NewPostgresWithPool constructs a sink from an existing pool (primarily for
// testing).
func NewPostgresWithPool(pool batchPool, table string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// EnsureSchema creates the listings table when it does not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres sink is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	listing_id    TEXT PRIMARY KEY,
	source_url    TEXT NOT NULL,
	fields        JSONB NOT NULL DEFAULT '{}'::jsonb,
	supplementary JSONB NOT NULL DEFAULT '{}'::jsonb,
	discovery     JSONB NOT NULL DEFAULT '{}'::jsonb,
	fetched_at    TIMESTAMPTZ NOT NULL,
	stored_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure %s table: %w", s.table, err)
	}
	return nil
}

// Store upserts the records in one batch round trip.
func (s *Postgres) Store(ctx context.Context, records []crawler.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres sink is not configured")
	}
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	listing_id,
	source_url,
	fields,
	supplementary,
	discovery,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)
ON CONFLICT (listing_id) DO UPDATE SET
	source_url    = EXCLUDED.source_url,
	fields        = EXCLUDED.fields,
	supplementary = EXCLUDED.supplementary,
	discovery     = EXCLUDED.discovery,
	fetched_at    = EXCLUDED.fetched_at,
	stored_at     = now()`, s.table)

	batch := &pgx.Batch{}
	for _, record := range records {
		if record.Identifier == "" {
			return fmt.Errorf("record identifier is required")
		}
		fields, err := json.Marshal(normalizeFields(record.Fields))
		if err != nil {
			return fmt.Errorf("marshal fields for %s: %w", record.Identifier, err)
		}
		supplementary, err := json.Marshal(normalizeFields(record.Supplementary))
		if err != nil {
			return fmt.Errorf("marshal supplementary for %s: %w", record.Identifier, err)
		}
		discovery, err := json.Marshal(normalizeFlags(record.Discovery))
		if err != nil {
			return fmt.Errorf("marshal discovery for %s: %w", record.Identifier, err)
		}
		batch.Queue(query,
			record.Identifier,
			record.SourceURL,
			fields,
			supplementary,
			discovery,
			record.FetchedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	var execErr error
	for i := range records {
		if _, err := results.Exec(); err != nil {
			execErr = fmt.Errorf("upsert listing %s: %w", records[i].Identifier, err)
			break
		}
	}
	if err := results.Close(); err != nil && execErr == nil {
		execErr = fmt.Errorf("close batch: %w", err)
	}
	return execErr
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func normalizeFields(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func normalizeFlags(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
