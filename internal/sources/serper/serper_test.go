package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

var curie = dossier.Subject{FirstName: "Marie", LastName: "Curie", Organization: "Institut Radium"}

func newSource(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{APIKey: "k", BaseURL: srv.URL, RequestsPerSecond: 1000}
	if mutate != nil {
		mutate(&cfg)
	}
	src, err := New(cfg, srv.Client(), nil)
	require.NoError(t, err)
	return src
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	var cfgErr *dossier.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "sources.serper_api_key", cfgErr.Key)
}

func TestCollectSplitsFetchableAndProfiles(t *testing.T) {
	t.Parallel()

	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query != "Marie Curie Institut Radium" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/search":
			writeJSON(w, searchResponse{Organic: []searchResult{
				{Title: "Marie Curie - Wikipedia", Link: "https://en.wikipedia.org/wiki/Marie_Curie", Position: 1},
				{Title: "Marie Curie | LinkedIn", Link: "https://fr.linkedin.com/in/marie-curie", Snippet: "Physicist at Institut Radium", Position: 2},
				{Title: "Marie Curie", Link: "https://www.facebook.com/curie", Position: 3},
			}})
		case "/news":
			writeJSON(w, searchResponse{News: []searchResult{
				{Title: "dup", Link: "https://en.wikipedia.org/wiki/Marie_Curie"},
				{Title: "Nobel", Link: "https://news.example/curie-nobel", Date: "1911"},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, nil)

	urls, aux, err := src.Collect(context.Background(), curie)
	require.NoError(t, err)
	require.Equal(t, []dossier.CandidateURL{
		{URL: "https://en.wikipedia.org/wiki/Marie_Curie", Provider: "serper"},
		{URL: "https://news.example/curie-nobel", Provider: "serper"},
	}, urls)

	require.NotNil(t, aux)
	require.Equal(t, "linkedin_snippets", aux.Provider)
	require.Equal(t, []string{"https://fr.linkedin.com/in/marie-curie"}, aux.URLs)
	require.Contains(t, aux.Content, "# LinkedIn profiles for Marie Curie")
	require.Contains(t, aux.Content, "Physicist at Institut Radium")
}

func TestCollectFailsWhenWebQueryFails(t *testing.T) {
	t.Parallel()

	src := newSource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("bad key"))
	}, nil)

	_, _, err := src.Collect(context.Background(), curie)
	require.ErrorContains(t, err, "status 403")
}

func TestCollectToleratesNewsAndExtraFailures(t *testing.T) {
	t.Parallel()

	var extraCalls atomic.Int32
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case r.URL.Path == "/news":
			w.WriteHeader(http.StatusInternalServerError)
		case req.Query == "Marie Curie interview":
			extraCalls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			writeJSON(w, searchResponse{Organic: []searchResult{{Link: "https://a.example/curie"}}})
		}
	}, func(cfg *Config) {
		cfg.ExtraQueries = []string{"{name} interview"}
	})

	urls, aux, err := src.Collect(context.Background(), curie)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	require.Nil(t, aux)
	require.EqualValues(t, 1, extraCalls.Load())
}

func TestSearchPaginatesUpToLimit(t *testing.T) {
	t.Parallel()

	var pages atomic.Int32
	src := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		pages.Add(1)
		results := make([]searchResult, pageSize)
		for i := range results {
			results[i] = searchResult{Link: fmt.Sprintf("https://p%d.example/%d", req.Page, i)}
		}
		writeJSON(w, searchResponse{Organic: results})
	}, nil)

	got, err := src.search(context.Background(), "/search", "q", 15)
	require.NoError(t, err)
	require.Len(t, got, 15)
	require.EqualValues(t, 2, pages.Load())
}
