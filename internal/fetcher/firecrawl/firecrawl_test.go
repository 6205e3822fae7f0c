package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/fetcher"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	var cfgErr *dossier.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "firecrawl.api_key", cfgErr.Key)
}

func TestScrapeSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/scrape" || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req scrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.URL != "https://example.org/curie" || len(req.Formats) != 2 || req.Timeout != 30000 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"# Marie Curie","html":"<h1>Marie Curie</h1>","metadata":{"statusCode":200}}}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New(Config{APIKey: "secret", BaseURL: srv.URL + "/", Timeout: 30 * time.Second}, srv.Client())
	require.NoError(t, err)
	require.Equal(t, "firecrawl", p.Name())

	doc, err := p.Scrape(context.Background(), "https://example.org/curie")
	require.NoError(t, err)
	require.Equal(t, "# Marie Curie", doc.Text)
	require.Equal(t, "<h1>Marie Curie</h1>", doc.Markup)
	require.Equal(t, 200, doc.StatusCode)
}

func TestScrapeClassifiesAPIErrors(t *testing.T) {
	t.Parallel()

	cases := map[int]dossier.FailureReason{
		http.StatusTooManyRequests:     dossier.FailureRateLimited,
		http.StatusPaymentRequired:     dossier.FailureRateLimited,
		http.StatusForbidden:           dossier.FailureBlocked,
		http.StatusInternalServerError: dossier.FailureOther,
		http.StatusGatewayTimeout:      dossier.FailureTransportError,
	}
	for status, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"success":false,"error":"nope"}`))
		}))
		p, err := New(Config{APIKey: "k", BaseURL: srv.URL}, srv.Client())
		require.NoError(t, err)

		_, err = p.Scrape(context.Background(), "https://example.org")
		require.Error(t, err)
		require.Equal(t, want, fetcher.Classify(err), "status %d", status)
		srv.Close()
	}
}

func TestScrapeTargetBlocked(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"","metadata":{"statusCode":403}}}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New(Config{APIKey: "k", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	_, err = p.Scrape(context.Background(), "https://example.org")
	require.Equal(t, dossier.FailureBlocked, fetcher.Classify(err))
}

func TestScrapeUnsuccessfulPayloadIsEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"no content"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New(Config{APIKey: "k", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	_, err = p.Scrape(context.Background(), "https://example.org")
	require.Equal(t, dossier.FailureEmptyResult, fetcher.Classify(err))
}
