package store

import (
	"context"
	"time"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

// ProfileRepository persists one cache row per normalized identity.
// Implementations must make Touch and Upsert atomic at the row level.
type ProfileRepository interface {
	// Touch records a hit on key when the row was created at or after
	// freshSince: AccessedAt becomes now and AccessCount is incremented. It
	// returns the row as it stands after the update, or ErrNotFound when the
	// row is missing or older than freshSince.
	Touch(ctx context.Context, key string, now, freshSince time.Time) (dossier.CacheEntry, error)
	// Upsert inserts entry or fully overwrites the existing row for entry.Key.
	// AccessedAt is set to CreatedAt and AccessCount to zero.
	Upsert(ctx context.Context, entry dossier.CacheEntry) error
	// Delete removes the row for key and reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteOlderThan removes rows created before cutoff and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// Stats summarizes the table; rows created before cutoff count as expired.
	Stats(ctx context.Context, cutoff time.Time) (dossier.CacheStats, error)
	Close() error
}
