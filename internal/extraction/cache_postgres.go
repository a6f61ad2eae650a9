package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CacheStorePostgres is the Postgres-backed ParseCache store (§6.3),
// grounded on the pool-config/ping/UPSERT style used elsewhere in the
// corpus for a worker's status table, adapted to the parse_cache schema:
//
//	file_hash (pk), file_name, file_size, records (jsonb), schema (jsonb),
//	cost (jsonb), hit_count, created_at, expires_at
type CacheStorePostgres struct {
	pool *pgxpool.Pool
}

// NewCacheStorePostgres connects a pool to databaseURL, applying the same
// conservative pool sizing used elsewhere in the corpus for background
// workers.
func NewCacheStorePostgres(ctx context.Context, databaseURL string) (*CacheStorePostgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	applyPoolSizing(config)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &CacheStorePostgres{pool: pool}, nil
}

// applyPoolSizing sets the pool limits NewCacheStorePostgres uses.
func applyPoolSizing(config *pgxpool.Config) {
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute
}

// Close releases the pool.
func (s *CacheStorePostgres) Close() {
	s.pool.Close()
}

func (s *CacheStorePostgres) Get(ctx context.Context, fingerprint string) (CacheEntry, bool, error) {
	var (
		entry        CacheEntry
		recordsJSON  []byte
		schemaJSON   []byte
		costJSON     []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT file_hash, file_name, file_size, records, schema, cost, hit_count, created_at, expires_at
		FROM parse_cache
		WHERE file_hash = $1
	`, fingerprint)

	err := row.Scan(&entry.Fingerprint, &entry.FileName, &entry.FileSize, &recordsJSON, &schemaJSON, &costJSON, &entry.HitCount, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, newCacheUnavailable("postgres cache read failed", err)
	}

	if err := json.Unmarshal(recordsJSON, &entry.Records); err != nil {
		return CacheEntry{}, false, newCacheUnavailable("decode cached records", err)
	}
	if err := json.Unmarshal(schemaJSON, &entry.Schema); err != nil {
		return CacheEntry{}, false, newCacheUnavailable("decode cached schema", err)
	}
	if err := json.Unmarshal(costJSON, &entry.Cost); err != nil {
		return CacheEntry{}, false, newCacheUnavailable("decode cached cost", err)
	}

	// Best-effort hit-count increment; failure does not fail the read.
	_, _ = s.pool.Exec(ctx, `UPDATE parse_cache SET hit_count = hit_count + 1 WHERE file_hash = $1`, fingerprint)

	return entry, true, nil
}

func (s *CacheStorePostgres) Put(ctx context.Context, entry CacheEntry) error {
	recordsJSON, err := json.Marshal(entry.Records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	schemaJSON, err := json.Marshal(entry.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	costJSON, err := json.Marshal(entry.Cost)
	if err != nil {
		return fmt.Errorf("encode cost: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO parse_cache (file_hash, file_name, file_size, records, schema, cost, hit_count, created_at, expires_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, 0, NOW(), $7)
		ON CONFLICT (file_hash) DO UPDATE SET
			file_name = $2, file_size = $3, records = $4::jsonb, schema = $5::jsonb, cost = $6::jsonb, expires_at = $7
	`, entry.Fingerprint, entry.FileName, entry.FileSize, recordsJSON, schemaJSON, costJSON, entry.ExpiresAt)
	if err != nil {
		return newCacheUnavailable("postgres cache write failed", err)
	}
	return nil
}

func (s *CacheStorePostgres) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM parse_cache WHERE file_hash = $1`, fingerprint)
	if err != nil {
		return newCacheUnavailable("postgres cache delete failed", err)
	}
	return nil
}

func (s *CacheStorePostgres) ReapExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM parse_cache WHERE expires_at < NOW()`)
	if err != nil {
		return 0, newCacheUnavailable("postgres janitor sweep failed", err)
	}
	return int(tag.RowsAffected()), nil
}
