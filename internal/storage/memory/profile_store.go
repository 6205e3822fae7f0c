package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

// ProfileStore is an in-process store.ProfileRepository for development and tests.
type ProfileStore struct {
	mu      sync.Mutex
	entries map[string]dossier.CacheEntry
}

// NewProfileStore constructs an empty ProfileStore.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{entries: make(map[string]dossier.CacheEntry)}
}

// Touch implements store.ProfileRepository.
func (s *ProfileStore) Touch(_ context.Context, key string, now, freshSince time.Time) (dossier.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.CreatedAt.Before(freshSince) {
		return dossier.CacheEntry{}, store.ErrNotFound
	}
	entry.AccessedAt = now
	entry.AccessCount++
	s.entries[key] = entry
	return cloneEntry(entry), nil
}

// Upsert implements store.ProfileRepository.
func (s *ProfileStore) Upsert(_ context.Context, entry dossier.CacheEntry) error {
	entry = cloneEntry(entry)
	entry.AccessedAt = entry.CreatedAt
	entry.AccessCount = 0
	s.mu.Lock()
	s.entries[entry.Key] = entry
	s.mu.Unlock()
	return nil
}

// Delete implements store.ProfileRepository.
func (s *ProfileStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

// DeleteOlderThan implements store.ProfileRepository.
func (s *ProfileStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Stats implements store.ProfileRepository.
func (s *ProfileStore) Stats(_ context.Context, cutoff time.Time) (dossier.CacheStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats dossier.CacheStats
	for _, entry := range s.entries {
		stats.TotalEntries++
		stats.TotalAccessCount += entry.AccessCount
		if entry.CreatedAt.Before(cutoff) {
			stats.ExpiredEntries++
		}
		created := entry.CreatedAt
		if stats.OldestEntry == nil || created.Before(*stats.OldestEntry) {
			stats.OldestEntry = &created
		}
		if stats.NewestEntry == nil || created.After(*stats.NewestEntry) {
			newest := created
			stats.NewestEntry = &newest
		}
	}
	return stats, nil
}

// Close implements store.ProfileRepository.
func (s *ProfileStore) Close() error {
	return nil
}

func cloneEntry(e dossier.CacheEntry) dossier.CacheEntry {
	e.RawBundle = append([]byte(nil), e.RawBundle...)
	e.Result = append([]byte(nil), e.Result...)
	return e
}
