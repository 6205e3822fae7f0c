// Package dossier defines the shared data model and contracts used by the
// acquisition pipeline: candidate URLs, fetch results, reduced content, cache
// entries and the run statistics reported back to callers.
package dossier

import (
	"encoding/json"
	"strings"
	"time"
)

// Subject identifies the person a dossier is built for.
type Subject struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Organization string `json:"organization"`
}

// FullName joins the first and last name with a single space.
func (s Subject) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}

// CandidateURL is a URL proposed by a source, not yet confirmed reachable.
type CandidateURL struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

// ValidatedURL is a candidate that passed the reachability probe.
type ValidatedURL struct {
	CandidateURL
	ContentType       string `json:"content_type,omitempty"`
	ContentLengthHint int64  `json:"content_length_hint,omitempty"`
}

// FailureReason classifies why a fetch did not yield usable content.
type FailureReason string

// Fetch failure classes.
const (
	FailureNone           FailureReason = ""
	FailureEmptyResult    FailureReason = "empty_result"
	FailureBlocked        FailureReason = "blocked"
	FailureRateLimited    FailureReason = "rate_limited"
	FailureTransportError FailureReason = "transport_error"
	FailureTooShort       FailureReason = "too_short"
	FailureOther          FailureReason = "other"
)

// Fallbackable reports whether a secondary provider may be tried for the reason.
func (r FailureReason) Fallbackable() bool {
	return r == FailureEmptyResult || r == FailureBlocked
}

// FetchResult is the single shape returned by the fetcher regardless of which
// provider produced the content.
type FetchResult struct {
	URL           string        `json:"url"`
	Provider      string        `json:"provider"`
	Success       bool          `json:"success"`
	RawContent    string        `json:"raw_content,omitempty"`
	Markup        string        `json:"-"`
	Fetcher       string        `json:"fetcher,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Duration      time.Duration `json:"duration_ns,omitempty"`
}

// ReducedContent is fetched content after boilerplate stripping and capping.
type ReducedContent struct {
	Source          string `json:"source"`
	URL             string `json:"url"`
	Text            string `json:"content"`
	CharCountBefore int    `json:"char_count_before"`
	CharCountAfter  int    `json:"char_count_after"`
}

// AcquisitionStats accumulates counters across one orchestration run.
type AcquisitionStats struct {
	TotalCandidates int                   `json:"total_candidates"`
	AccessibleCount int                   `json:"accessible_count"`
	Attempted       int                   `json:"attempted"`
	Successful      int                   `json:"successful"`
	Failed          int                   `json:"failed"`
	FailureReasons  map[FailureReason]int `json:"failure_reasons,omitempty"`
}

// RecordFailure bumps the failed counter and the per-reason tally.
func (s *AcquisitionStats) RecordFailure(reason FailureReason) {
	s.Failed++
	if reason == FailureNone {
		reason = FailureOther
	}
	if s.FailureReasons == nil {
		s.FailureReasons = make(map[FailureReason]int)
	}
	s.FailureReasons[reason]++
}

// AuxiliaryData is content a source obtained without a page fetch, such as
// merged search snippets or a registry API payload.
type AuxiliaryData struct {
	Provider string          `json:"provider"`
	URLs     []string        `json:"urls,omitempty"`
	Content  string          `json:"content,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Bundle is the assembled output of one acquisition run.
type Bundle struct {
	RunID                string                   `json:"run_id"`
	Subject              Subject                  `json:"subject"`
	Content              []ReducedContent         `json:"content"`
	Stats                AcquisitionStats         `json:"stats"`
	AuxData              map[string]AuxiliaryData `json:"aux_data,omitempty"`
	Sources              []string                 `json:"sources"`
	AccessibleURLs       []string                 `json:"accessible_urls"`
	CandidatesByProvider map[string]int           `json:"candidates_by_provider"`
	CollectedAt          time.Time                `json:"collected_at"`
}

// CacheEntry is one persisted profile keyed by normalized identity.
type CacheEntry struct {
	Key          string          `json:"cache_key"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	Organization string          `json:"organization"`
	RawBundle    json.RawMessage `json:"raw_bundle"`
	Result       json.RawMessage `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
	AccessedAt   time.Time       `json:"accessed_at"`
	AccessCount  int64           `json:"access_count"`
}

// CacheStats summarizes the cache table.
type CacheStats struct {
	TotalEntries     int64      `json:"total_entries"`
	ExpiredEntries   int64      `json:"expired_entries"`
	OldestEntry      *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry      *time.Time `json:"newest_entry,omitempty"`
	TotalAccessCount int64      `json:"total_access_count"`
	TTLSeconds       int64      `json:"ttl_seconds"`
}
