package profile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/reducer"
)

// Analyzer turns a bundle into the result document stored in the cache and
// returned to callers.
type Analyzer interface {
	Analyze(ctx context.Context, bundle dossier.Bundle) (json.RawMessage, error)
}

const defaultExcerptChars = 280

// SummaryAnalyzer produces a deterministic digest of a bundle. It stands in
// for a language-model analysis, which runs outside this service.
type SummaryAnalyzer struct {
	// ExcerptChars caps each content excerpt (default 280).
	ExcerptChars int
}

// Summary is the document SummaryAnalyzer emits.
type Summary struct {
	FullName        string                     `json:"full_name"`
	Subject         dossier.Subject            `json:"subject"`
	Sources         []string                   `json:"sources"`
	Content         []ContentDigest            `json:"content"`
	Auxiliary       map[string]json.RawMessage `json:"auxiliary,omitempty"`
	Stats           dossier.AcquisitionStats   `json:"stats"`
	TotalChars      int                        `json:"total_chars"`
	EstimatedTokens int                        `json:"estimated_tokens"`
}

// ContentDigest describes one reduced content item.
type ContentDigest struct {
	Source          string `json:"source"`
	URL             string `json:"url"`
	Chars           int    `json:"chars"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Excerpt         string `json:"excerpt"`
}

// Analyze implements Analyzer.
func (a SummaryAnalyzer) Analyze(_ context.Context, bundle dossier.Bundle) (json.RawMessage, error) {
	excerpt := a.ExcerptChars
	if excerpt <= 0 {
		excerpt = defaultExcerptChars
	}
	s := Summary{
		FullName: bundle.Subject.FullName(),
		Subject:  bundle.Subject,
		Sources:  dedupe(bundle.Sources),
		Content:  make([]ContentDigest, 0, len(bundle.Content)),
		Stats:    bundle.Stats,
	}
	for _, item := range bundle.Content {
		chars := dossier.CharCount(item.Text)
		s.TotalChars += chars
		s.Content = append(s.Content, ContentDigest{
			Source:          item.Source,
			URL:             item.URL,
			Chars:           chars,
			EstimatedTokens: reducer.EstimateTokens(item.Text),
			Excerpt:         dossier.TruncateRunes(item.Text, excerpt),
		})
	}
	s.EstimatedTokens = s.TotalChars / 4
	for provider, aux := range bundle.AuxData {
		if len(aux.Payload) == 0 {
			continue
		}
		if s.Auxiliary == nil {
			s.Auxiliary = make(map[string]json.RawMessage)
		}
		s.Auxiliary[provider] = aux.Payload
	}
	out, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
