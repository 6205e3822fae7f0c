// Package firecrawl is a Firecrawl scrape API provider.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/fetcher"
)

const (
	defaultBaseURL = "https://api.firecrawl.dev"
	scrapePath     = "/v1/scrape"
	maxErrorBody   = 2048
	maxResponse    = 16 << 20
)

// Config holds the API credentials.
type Config struct {
	APIKey  string
	BaseURL string
	// Timeout is forwarded to the API as its own page timeout.
	Timeout time.Duration
}

// Provider implements fetcher.Provider against the Firecrawl REST API.
type Provider struct {
	cfg    Config
	client *http.Client
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
	Timeout int64    `json:"timeout,omitempty"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
		Metadata struct {
			StatusCode int    `json:"statusCode"`
			Error      string `json:"error,omitempty"`
		} `json:"metadata"`
	} `json:"data"`
}

// New returns a configuration error when no API key is set.
func New(cfg Config, client *http.Client) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &dossier.ConfigError{Key: "firecrawl.api_key", Reason: "required when firecrawl is the primary fetcher"}
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{cfg: cfg, client: client}, nil
}

// Name implements fetcher.Provider.
func (p *Provider) Name() string {
	return "firecrawl"
}

// Scrape requests markdown and HTML for url.
func (p *Provider) Scrape(ctx context.Context, url string) (fetcher.Document, error) {
	body, err := json.Marshal(scrapeRequest{
		URL:     url,
		Formats: []string{"markdown", "html"},
		Timeout: p.cfg.Timeout.Milliseconds(),
	})
	if err != nil {
		return fetcher.Document{}, fmt.Errorf("encode scrape request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+scrapePath, bytes.NewReader(body))
	if err != nil {
		return fetcher.Document{}, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fetcher.Document{}, &fetcher.ProviderError{
			Provider: p.Name(),
			Reason:   dossier.FailureTransportError,
			Err:      err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fetcher.Document{}, &fetcher.ProviderError{
			Provider:   p.Name(),
			Reason:     apiStatusReason(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("firecrawl api: %s", strings.TrimSpace(string(snippet))),
		}
	}

	var payload scrapeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(&payload); err != nil {
		return fetcher.Document{}, &fetcher.ProviderError{
			Provider: p.Name(),
			Reason:   dossier.FailureOther,
			Err:      fmt.Errorf("decode scrape response: %w", err),
		}
	}
	if !payload.Success {
		return fetcher.Document{}, &fetcher.ProviderError{
			Provider: p.Name(),
			Reason:   dossier.FailureEmptyResult,
			Err:      fmt.Errorf("firecrawl: %s", payload.Error),
		}
	}

	status := payload.Data.Metadata.StatusCode
	if reason := fetcher.ClassifyStatus(status); status != 0 && reason == dossier.FailureBlocked {
		return fetcher.Document{}, &fetcher.ProviderError{
			Provider:   p.Name(),
			Reason:     dossier.FailureBlocked,
			StatusCode: status,
		}
	}
	return fetcher.Document{
		Text:       payload.Data.Markdown,
		Markup:     payload.Data.HTML,
		StatusCode: status,
	}, nil
}

// apiStatusReason classifies errors from the Firecrawl API itself. 402 means
// the credit quota is spent, which behaves like a rate limit.
func apiStatusReason(status int) dossier.FailureReason {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return dossier.FailureRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return dossier.FailureBlocked
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return dossier.FailureTransportError
	default:
		return dossier.FailureOther
	}
}
