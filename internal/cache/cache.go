// Package cache is the read-through profile cache keyed by normalized
// identity. Storage failures never reach callers: they are logged and
// reported as a miss, false or zero.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/clock/system"
	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/hash/sha256"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

// DefaultTTL is seven days.
const DefaultTTL = 7 * 24 * time.Hour

const keySeparator = ":"

// Config controls freshness.
type Config struct {
	TTL time.Duration
}

// EntryView is a cache hit as returned to callers. Age and count reflect the
// state after the hit was recorded.
type EntryView struct {
	Key          string          `json:"cache_key"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	Organization string          `json:"organization"`
	RawBundle    json.RawMessage `json:"raw_bundle"`
	Result       json.RawMessage `json:"result"`
	CreatedAt    time.Time       `json:"cache_created_at"`
	AccessedAt   time.Time       `json:"accessed_at"`
	AccessCount  int64           `json:"access_count"`
	AgeSeconds   int64           `json:"cache_age_seconds"`
}

// Cache applies the TTL rule and key derivation over a store.ProfileRepository.
type Cache struct {
	repo   store.ProfileRepository
	ttl    time.Duration
	clock  dossier.Clock
	hasher dossier.Hasher
	logger *zap.Logger
}

// New constructs a Cache. Nil clock and hasher default to the wall clock and SHA-256.
func New(repo store.ProfileRepository, cfg Config, clock dossier.Clock, hasher dossier.Hasher, logger *zap.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if clock == nil {
		clock = system.New()
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		repo:   repo,
		ttl:    cfg.TTL,
		clock:  clock,
		hasher: hasher,
		logger: logger.Named("cache"),
	}
}

// TTL reports the configured freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Key derives the cache key for subject. Casing and surrounding whitespace
// of each field do not affect the result.
func (c *Cache) Key(subject dossier.Subject) string {
	normalized := strings.Join([]string{
		escapeField(normalize(subject.FirstName)),
		escapeField(normalize(subject.LastName)),
		escapeField(normalize(subject.Organization)),
	}, keySeparator)
	return c.hasher.Hash([]byte(normalized))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var fieldEscaper = strings.NewReplacer(`\`, `\\`, keySeparator, `\`+keySeparator)

// escapeField keeps the separator unambiguous when a field contains it.
func escapeField(s string) string {
	return fieldEscaper.Replace(s)
}

// Get returns the fresh entry for subject and records the hit. forceRefresh
// reports a miss without reading or touching storage.
func (c *Cache) Get(ctx context.Context, subject dossier.Subject, forceRefresh bool) (EntryView, bool) {
	if forceRefresh {
		metrics.ObserveCache("get", "bypass")
		c.logger.Debug("cache bypassed by force refresh", zap.String("subject", subject.FullName()))
		return EntryView{}, false
	}
	key := c.Key(subject)
	now := c.clock.Now()
	entry, err := c.repo.Touch(ctx, key, now, now.Add(-c.ttl))
	if errors.Is(err, store.ErrNotFound) {
		metrics.ObserveCache("get", "miss")
		c.logger.Debug("cache miss", zap.String("cache_key", key))
		return EntryView{}, false
	}
	if err != nil {
		metrics.ObserveCache("get", "error")
		c.logger.Warn("cache read failed", zap.String("cache_key", key), zap.Error(err))
		return EntryView{}, false
	}

	view := EntryView{
		Key:          entry.Key,
		FirstName:    entry.FirstName,
		LastName:     entry.LastName,
		Organization: entry.Organization,
		RawBundle:    entry.RawBundle,
		Result:       entry.Result,
		CreatedAt:    entry.CreatedAt,
		AccessedAt:   entry.AccessedAt,
		AccessCount:  entry.AccessCount,
		AgeSeconds:   int64(now.Sub(entry.CreatedAt) / time.Second),
	}
	metrics.ObserveCache("get", "hit")
	c.logger.Info("cache hit",
		zap.String("cache_key", key),
		zap.Int64("age_seconds", view.AgeSeconds),
		zap.Int64("access_count", view.AccessCount),
	)
	return view, true
}

// Set stores or fully replaces the entry for subject.
func (c *Cache) Set(ctx context.Context, subject dossier.Subject, rawBundle, result json.RawMessage) bool {
	key := c.Key(subject)
	err := c.repo.Upsert(ctx, dossier.CacheEntry{
		Key:          key,
		FirstName:    strings.TrimSpace(subject.FirstName),
		LastName:     strings.TrimSpace(subject.LastName),
		Organization: strings.TrimSpace(subject.Organization),
		RawBundle:    rawBundle,
		Result:       result,
		CreatedAt:    c.clock.Now(),
	})
	if err != nil {
		metrics.ObserveCache("set", "error")
		c.logger.Warn("cache write failed", zap.String("cache_key", key), zap.Error(err))
		return false
	}
	metrics.ObserveCache("set", "ok")
	c.logger.Debug("cache stored", zap.String("cache_key", key))
	return true
}

// Delete removes the entry for subject and reports whether one existed.
func (c *Cache) Delete(ctx context.Context, subject dossier.Subject) bool {
	key := c.Key(subject)
	deleted, err := c.repo.Delete(ctx, key)
	if err != nil {
		metrics.ObserveCache("delete", "error")
		c.logger.Warn("cache delete failed", zap.String("cache_key", key), zap.Error(err))
		return false
	}
	metrics.ObserveCache("delete", "ok")
	c.logger.Info("cache entry deleted", zap.String("cache_key", key), zap.Bool("existed", deleted))
	return deleted
}

// ClearExpired removes entries older than the TTL and returns how many were removed.
func (c *Cache) ClearExpired(ctx context.Context) int64 {
	removed, err := c.repo.DeleteOlderThan(ctx, c.clock.Now().Add(-c.ttl))
	if err != nil {
		metrics.ObserveCache("clear_expired", "error")
		c.logger.Warn("cache sweep failed", zap.Error(err))
		return 0
	}
	metrics.ObserveCache("clear_expired", "ok")
	c.logger.Info("expired cache entries removed", zap.Int64("removed", removed))
	return removed
}

// Stats summarizes the cache. On storage failure only TTLSeconds is set.
func (c *Cache) Stats(ctx context.Context) dossier.CacheStats {
	stats, err := c.repo.Stats(ctx, c.clock.Now().Add(-c.ttl))
	if err != nil {
		metrics.ObserveCache("stats", "error")
		c.logger.Warn("cache stats failed", zap.Error(err))
		stats = dossier.CacheStats{}
	}
	stats.TTLSeconds = int64(c.ttl / time.Second)
	return stats
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.repo.Close()
}
