package dossier

import (
	"context"
	"time"
)

// Source proposes candidate URLs for a subject.
type Source interface {
	Name() string
	CandidateURLs(ctx context.Context, subject Subject) ([]CandidateURL, error)
}

// AuxiliarySource is implemented by sources that also gather content without
// a page fetch. Collect returns the candidates together with that content
// (nil when there is none), so concurrent runs never share lookup state.
type AuxiliarySource interface {
	Source
	Collect(ctx context.Context, subject Subject) ([]CandidateURL, *AuxiliaryData, error)
}

// URLValidator probes candidates and returns an accepted subset.
type URLValidator interface {
	Validate(ctx context.Context, urls []CandidateURL, timeout time.Duration, targetCount int) []ValidatedURL
}

// ContentFetcher retrieves renderable text for a single URL.
type ContentFetcher interface {
	Fetch(ctx context.Context, candidate CandidateURL) FetchResult
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Hasher produces deterministic digests.
type Hasher interface {
	Hash(data []byte) string
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
