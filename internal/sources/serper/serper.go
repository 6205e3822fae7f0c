// Package serper proposes URLs from Google web and news results through the
// Serper API. Results on social networks are not fetched; LinkedIn hits are
// merged into one auxiliary snippet document instead.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

const (
	defaultBaseURL     = "https://google.serper.dev"
	defaultCountry     = "fr"
	defaultWebResults  = 30
	defaultNewsResults = 20
	defaultRPS         = 5
	pageSize           = 10
	maxErrorBody       = 1024
	snippetProvider    = "linkedin_snippets"
)

var defaultSkipDomains = []string{
	"linkedin.com", "facebook.com", "twitter.com", "x.com", "instagram.com", "youtube.com", "tiktok.com",
}

// Config controls queries.
type Config struct {
	APIKey  string
	BaseURL string
	// Country is the Google country code (default "fr").
	Country string
	// WebResults and NewsResults cap each query (defaults 30 and 20).
	WebResults  int
	NewsResults int
	// ExtraQueries are additional web queries; {name} and {org} are substituted.
	ExtraQueries []string
	// SkipDomains are never proposed for fetching.
	SkipDomains []string
	// RequestsPerSecond paces API calls (default 5).
	RequestsPerSecond float64
}

// Source implements dossier.AuxiliarySource.
type Source struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type searchRequest struct {
	Query   string `json:"q"`
	Page    int    `json:"page"`
	Num     int    `json:"num"`
	Country string `json:"gl,omitempty"`
}

type searchResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
	Date     string `json:"date,omitempty"`
}

type searchResponse struct {
	Organic []searchResult `json:"organic"`
	News    []searchResult `json:"news"`
}

// New returns a configuration error when no API key is set.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &dossier.ConfigError{Key: "sources.serper_api_key"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Country == "" {
		cfg.Country = defaultCountry
	}
	if cfg.WebResults <= 0 {
		cfg.WebResults = defaultWebResults
	}
	if cfg.NewsResults <= 0 {
		cfg.NewsResults = defaultNewsResults
	}
	if len(cfg.SkipDomains) == 0 {
		cfg.SkipDomains = defaultSkipDomains
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.Named("serper"),
	}, nil
}

// Name implements dossier.Source.
func (s *Source) Name() string {
	return "serper"
}

// CandidateURLs implements dossier.Source.
func (s *Source) CandidateURLs(ctx context.Context, subject dossier.Subject) ([]dossier.CandidateURL, error) {
	urls, _, err := s.Collect(ctx, subject)
	return urls, err
}

// Collect runs the web query, the news query and any extra queries. Only a
// failure of the main web query is an error; later queries are best effort.
func (s *Source) Collect(ctx context.Context, subject dossier.Subject) ([]dossier.CandidateURL, *dossier.AuxiliaryData, error) {
	name := subject.FullName()
	base := strings.TrimSpace(name + " " + strings.TrimSpace(subject.Organization))

	var (
		urls     []dossier.CandidateURL
		seen     = make(map[string]struct{})
		profiles []searchResult
	)
	add := func(results []searchResult) {
		for _, r := range results {
			if r.Link == "" {
				continue
			}
			if _, dup := seen[r.Link]; dup {
				continue
			}
			seen[r.Link] = struct{}{}
			host := dossier.Host(r.Link)
			if dossier.HostMatches(host, "linkedin.com") {
				profiles = append(profiles, r)
				continue
			}
			if s.skipped(host) {
				continue
			}
			urls = append(urls, dossier.CandidateURL{URL: r.Link, Provider: s.Name()})
		}
	}

	web, err := s.search(ctx, "/search", base, s.cfg.WebResults)
	if err != nil {
		return nil, nil, err
	}
	add(web)

	if news, err := s.search(ctx, "/news", base, s.cfg.NewsResults); err != nil {
		s.logger.Warn("news query failed", zap.Error(err))
	} else {
		add(news)
	}

	r := strings.NewReplacer("{name}", name, "{org}", strings.TrimSpace(subject.Organization))
	for _, q := range s.cfg.ExtraQueries {
		extra, err := s.search(ctx, "/search", r.Replace(q), pageSize)
		if err != nil {
			s.logger.Warn("extra query failed", zap.String("query", q), zap.Error(err))
			continue
		}
		add(extra)
	}

	s.logger.Debug("search finished",
		zap.Int("urls", len(urls)),
		zap.Int("linkedin_profiles", len(profiles)),
	)
	return urls, mergeProfiles(profiles, name), nil
}

func (s *Source) skipped(host string) bool {
	for _, domain := range s.cfg.SkipDomains {
		if dossier.HostMatches(host, domain) {
			return true
		}
	}
	return false
}

// search pages through results ten at a time until limit is reached or a
// short page arrives.
func (s *Source) search(ctx context.Context, path, query string, limit int) ([]searchResult, error) {
	var all []searchResult
	for page := 1; len(all) < limit; page++ {
		resp, err := s.call(ctx, path, searchRequest{Query: query, Page: page, Num: pageSize, Country: s.cfg.Country})
		if err != nil {
			if page == 1 {
				return nil, err
			}
			s.logger.Debug("stopping pagination", zap.Int("page", page), zap.Error(err))
			break
		}
		results := resp.Organic
		if path == "/news" {
			results = resp.News
		}
		all = append(all, results...)
		if len(results) < pageSize {
			break
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Source) call(ctx context.Context, path string, body searchRequest) (searchResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return searchResponse{}, fmt.Errorf("serper rate limit wait: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return searchResponse{}, fmt.Errorf("encode serper request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return searchResponse{}, fmt.Errorf("build serper request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return searchResponse{}, fmt.Errorf("serper request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return searchResponse{}, fmt.Errorf("serper %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return searchResponse{}, fmt.Errorf("decode serper response: %w", err)
	}
	return out, nil
}

// mergeProfiles renders LinkedIn search hits as a single markdown document.
func mergeProfiles(profiles []searchResult, name string) *dossier.AuxiliaryData {
	if len(profiles) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# LinkedIn profiles for %s\n\n", name)
	fmt.Fprintf(&b, "%d profile(s) found in search results.\n\n", len(profiles))
	urls := make([]string, 0, len(profiles))
	for i, p := range profiles {
		urls = append(urls, p.Link)
		fmt.Fprintf(&b, "## Profile %d\n\n", i+1)
		fmt.Fprintf(&b, "URL: %s\n\n", p.Link)
		fmt.Fprintf(&b, "Title: %s\n\n", strings.TrimSpace(p.Title))
		fmt.Fprintf(&b, "Summary:\n%s\n\n---\n\n", strings.TrimSpace(p.Snippet))
	}
	b.WriteString("Source: search result snippets; the profiles themselves were not fetched.")
	return &dossier.AuxiliaryData{
		Provider: snippetProvider,
		URLs:     urls,
		Content:  b.String(),
	}
}
