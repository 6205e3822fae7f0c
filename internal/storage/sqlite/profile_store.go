// Package sqlite provides the embedded SQLite profile cache backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

var _ store.ProfileRepository = (*ProfileStore)(nil)

// Timestamps are stored as Unix nanoseconds so range predicates compare integers.
var schema = []string{`
CREATE TABLE IF NOT EXISTS profile_cache (
	cache_key TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	organization TEXT NOT NULL,
	raw_bundle TEXT NOT NULL,
	result TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	accessed_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS profile_cache_created_at ON profile_cache (created_at)`,
}

const entryColumns = `cache_key, first_name, last_name, organization, raw_bundle, result, created_at, accessed_at, access_count`

// ProfileStore implements store.ProfileRepository on SQLite.
type ProfileStore struct {
	db *sql.DB
}

// New opens dsn (for example "file:dossier.db" or ":memory:") and creates the schema.
func New(dsn string) (*ProfileStore, error) {
	if dsn == "" {
		return nil, &dossier.ConfigError{Key: "cache.dsn"}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create profile_cache schema: %w", err)
		}
	}
	return &ProfileStore{db: db}, nil
}

// Touch implements store.ProfileRepository.
func (s *ProfileStore) Touch(ctx context.Context, key string, now, freshSince time.Time) (dossier.CacheEntry, error) {
	query := `
	UPDATE profile_cache
	SET accessed_at = ?, access_count = access_count + 1
	WHERE cache_key = ? AND created_at >= ?
	RETURNING ` + entryColumns

	row := s.db.QueryRowContext(ctx, query, now.UnixNano(), key, freshSince.UnixNano())
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dossier.CacheEntry{}, store.ErrNotFound
	}
	if err != nil {
		return dossier.CacheEntry{}, fmt.Errorf("touch profile: %w", err)
	}
	return entry, nil
}

// Upsert implements store.ProfileRepository.
func (s *ProfileStore) Upsert(ctx context.Context, entry dossier.CacheEntry) error {
	query := `
	INSERT INTO profile_cache (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT (cache_key) DO UPDATE SET
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		organization = excluded.organization,
		raw_bundle = excluded.raw_bundle,
		result = excluded.result,
		created_at = excluded.created_at,
		accessed_at = excluded.accessed_at,
		access_count = 0
	`
	created := entry.CreatedAt.UnixNano()
	_, err := s.db.ExecContext(ctx, query,
		entry.Key,
		entry.FirstName,
		entry.LastName,
		entry.Organization,
		string(entry.RawBundle),
		string(entry.Result),
		created,
		created,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Delete implements store.ProfileRepository.
func (s *ProfileStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profile_cache WHERE cache_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete profile rows: %w", err)
	}
	return n > 0, nil
}

// DeleteOlderThan implements store.ProfileRepository.
func (s *ProfileStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profile_cache WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired profiles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired profiles rows: %w", err)
	}
	return n, nil
}

// Stats implements store.ProfileRepository.
func (s *ProfileStore) Stats(ctx context.Context, cutoff time.Time) (dossier.CacheStats, error) {
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN created_at < ? THEN 1 ELSE 0 END), 0),
		MIN(created_at),
		MAX(created_at),
		COALESCE(SUM(access_count), 0)
	FROM profile_cache
	`
	var (
		stats          dossier.CacheStats
		oldest, newest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, cutoff.UnixNano()).Scan(
		&stats.TotalEntries,
		&stats.ExpiredEntries,
		&oldest,
		&newest,
		&stats.TotalAccessCount,
	)
	if err != nil {
		return dossier.CacheStats{}, fmt.Errorf("profile stats: %w", err)
	}
	stats.OldestEntry = fromNanos(oldest)
	stats.NewestEntry = fromNanos(newest)
	return stats, nil
}

// Close releases the database handle.
func (s *ProfileStore) Close() error {
	return s.db.Close()
}

func scanEntry(row *sql.Row) (dossier.CacheEntry, error) {
	var (
		e                 dossier.CacheEntry
		rawBundle, result string
		created, accessed int64
	)
	err := row.Scan(
		&e.Key, &e.FirstName, &e.LastName, &e.Organization,
		&rawBundle, &result, &created, &accessed, &e.AccessCount,
	)
	if err != nil {
		return dossier.CacheEntry{}, err
	}
	e.RawBundle = []byte(rawBundle)
	e.Result = []byte(result)
	e.CreatedAt = time.Unix(0, created).UTC()
	e.AccessedAt = time.Unix(0, accessed).UTC()
	return e, nil
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
