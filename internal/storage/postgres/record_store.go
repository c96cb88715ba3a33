// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for record rows.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore writes extracted records into Postgres. The URL column carries
// a unique constraint; persisting the same URL twice updates the row in
// place and keeps the original id.
type RecordStore struct {
	pool  execCloser
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "records"
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
	return &RecordStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Persist upserts a record row keyed by URL. The id column is set only on
// first insert so later crawls of the same URL keep the original identity.
func (s *RecordStore) Persist(ctx context.Context, record *crawl.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if record.URL == "" {
		return fmt.Errorf("record url is required")
	}
	viewsJSON, err := marshalColumn("views", record.Views)
	if err != nil {
		return err
	}
	downloadsJSON, err := marshalColumn("downloads", record.Downloads)
	if err != nil {
		return err
	}
	assetsJSON, err := marshalColumn("assets", record.Assets)
	if err != nil {
		return err
	}
	publishedJSON, err := marshalColumn("published", record.Published)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	url,
	kind,
	title,
	author,
	author_url,
	category,
	views,
	downloads,
	assets,
	published,
	content_hash,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (url) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	kind = EXCLUDED.kind,
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	author_url = EXCLUDED.author_url,
	category = EXCLUDED.category,
	views = EXCLUDED.views,
	downloads = EXCLUDED.downloads,
	assets = EXCLUDED.assets,
	published = EXCLUDED.published,
	content_hash = EXCLUDED.content_hash,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	args := []any{
		record.ID,
		record.RunID,
		record.URL,
		string(record.Kind),
		record.Title,
		record.Author,
		record.AuthorURL,
		record.Category,
		viewsJSON,
		downloadsJSON,
		assetsJSON,
		publishedJSON,
		record.ContentHash,
		record.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func marshalColumn(name string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	return data, nil
}
