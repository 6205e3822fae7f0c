package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

var _ store.ProfileRepository = (*ProfileStore)(nil)

const profileColumns = `cache_key, first_name, last_name, organization, raw_bundle, result, created_at, accessed_at, access_count`

// ProfileStore implements store.ProfileRepository on Postgres.
type ProfileStore struct {
	pool  Pool
	table string
}

// NewProfileStore wraps pool. An empty table defaults to "profile_cache".
func NewProfileStore(pool Pool, table string) (*ProfileStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "profile_cache")
	if err != nil {
		return nil, err
	}
	return &ProfileStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the cache table and its created_at index when missing.
func (s *ProfileStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	cache_key TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	organization TEXT NOT NULL,
	raw_bundle JSONB NOT NULL,
	result JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	accessed_at TIMESTAMPTZ NOT NULL,
	access_count BIGINT NOT NULL DEFAULT 0
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created_at ON %s (created_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create %s schema: %w", s.table, err)
		}
	}
	return nil
}

// Touch implements store.ProfileRepository.
func (s *ProfileStore) Touch(ctx context.Context, key string, now, freshSince time.Time) (dossier.CacheEntry, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET accessed_at = $1, access_count = access_count + 1
WHERE cache_key = $2 AND created_at >= $3
RETURNING %s`, s.table, profileColumns)

	var (
		e                 dossier.CacheEntry
		rawBundle, result []byte
	)
	err := s.pool.QueryRow(ctx, query, now, key, freshSince).Scan(
		&e.Key, &e.FirstName, &e.LastName, &e.Organization,
		&rawBundle, &result, &e.CreatedAt, &e.AccessedAt, &e.AccessCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return dossier.CacheEntry{}, store.ErrNotFound
	}
	if err != nil {
		return dossier.CacheEntry{}, fmt.Errorf("touch profile: %w", err)
	}
	e.RawBundle = rawBundle
	e.Result = result
	return e, nil
}

// Upsert implements store.ProfileRepository.
func (s *ProfileStore) Upsert(ctx context.Context, entry dossier.CacheEntry) error {
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 0)
ON CONFLICT (cache_key) DO UPDATE SET
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	organization = EXCLUDED.organization,
	raw_bundle = EXCLUDED.raw_bundle,
	result = EXCLUDED.result,
	created_at = EXCLUDED.created_at,
	accessed_at = EXCLUDED.accessed_at,
	access_count = 0`, s.table, profileColumns)

	_, err := s.pool.Exec(ctx, query,
		entry.Key,
		entry.FirstName,
		entry.LastName,
		entry.Organization,
		jsonOrNull(entry.RawBundle),
		jsonOrNull(entry.Result),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Delete implements store.ProfileRepository.
func (s *ProfileStore) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE cache_key = $1`, s.table), key)
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteOlderThan implements store.ProfileRepository.
func (s *ProfileStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired profiles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats implements store.ProfileRepository.
func (s *ProfileStore) Stats(ctx context.Context, cutoff time.Time) (dossier.CacheStats, error) {
	query := fmt.Sprintf(`
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE created_at < $1),
	MIN(created_at),
	MAX(created_at),
	COALESCE(SUM(access_count), 0)::BIGINT
FROM %s`, s.table)

	var (
		stats          dossier.CacheStats
		oldest, newest pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, query, cutoff).Scan(
		&stats.TotalEntries,
		&stats.ExpiredEntries,
		&oldest,
		&newest,
		&stats.TotalAccessCount,
	)
	if err != nil {
		return dossier.CacheStats{}, fmt.Errorf("profile stats: %w", err)
	}
	stats.OldestEntry = timePtr(oldest)
	stats.NewestEntry = timePtr(newest)
	return stats, nil
}

// Close releases the pool.
func (s *ProfileStore) Close() error {
	s.pool.Close()
	return nil
}

func jsonOrNull(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}
