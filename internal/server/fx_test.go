package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/config"
	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

const biography = "Marie Salomea Sklodowska Curie was a physicist and chemist who conducted " +
	"pioneering research on radioactivity. She was the first woman to win a Nobel Prize " +
	"and remains the only person to win Nobel Prizes in two scientific fields."

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bio" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		fmt.Fprintf(w, "<html><body><main><article><p>%s</p></article></main></body></html>", biography)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, siteURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.Driver = "memory"
	cfg.Fetcher.Primary = "colly"
	cfg.Fetcher.Fallback = "none"
	cfg.Fetcher.RespectRobots = false
	cfg.Sources.StaticURLs = []string{siteURL + "/bio", siteURL + "/missing"}
	cfg.Archive.Backend = "memory"
	cfg.Notify.Backend = "memory"
	cfg.Notify.Topic = "dossier-complete"
	cfg.Progress.Store = "memory"
	cfg.Progress.MaxBatchWaitMs = 10
	return &cfg
}

func TestBuildServesSearchEndToEnd(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	app, err := Build(context.Background(), testConfig(t, site.URL), zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	handler := app.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := []byte(`{"first_name":"Marie","last_name":"Curie","company":"Institut du Radium"}`)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		RunID  string                    `json:"run_id"`
		Cached bool                      `json:"cached"`
		Stats  *dossier.AcquisitionStats `json:"stats"`
		Data   struct {
			FullName string `json:"full_name"`
		} `json:"data"`
		ArchiveURI string `json:"archive_uri"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.False(t, res.Cached)
	require.NotEmpty(t, res.RunID)
	require.NotNil(t, res.Stats)
	require.Equal(t, 2, res.Stats.TotalCandidates)
	require.Equal(t, 1, res.Stats.AccessibleCount)
	require.Equal(t, 1, res.Stats.Successful)
	require.Equal(t, "Marie Curie", res.Data.FullName)
	require.True(t, strings.HasPrefix(res.ArchiveURI, "memory://bundles/"), res.ArchiveURI)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+res.RunID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var got struct {
			Run store.Run `json:"run"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Run.Status == store.RunSuccess
	}, 2*time.Second, 20*time.Millisecond)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cached":true`)

	stats := app.Cache().Stats(context.Background())
	require.Equal(t, int64(1), stats.TotalEntries)
}

func TestBuildRejectsFirecrawlWithoutKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Fetcher.Primary = "firecrawl"
	cfg.Firecrawl.APIKey = ""

	_, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	var cfgErr *dossier.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBuildValidatesConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Fetcher.Primary = "colly"
	cfg.Fetcher.Fallback = "colly"

	_, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "fetcher.fallback must differ from fetcher.primary")
}

func TestSetupProviderSharesHeadlessBrowser(t *testing.T) {
	t.Parallel()

	app := &App{cfg: testConfig(t, "http://127.0.0.1:1"), logger: zap.NewNop()}
	first, err := setupProvider(app, "headless")
	require.NoError(t, err)
	second, err := setupProvider(app, "headless")
	require.NoError(t, err)

	require.Same(t, app.headless, first)
	require.Same(t, first, second)
	app.headless.Close()
}

func TestOpenCacheSQLite(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Cache.Driver = "sqlite"
	cfg.Cache.DSN = "file:" + t.TempDir() + "/cache.db"

	c, err := OpenCache(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	subject := dossier.Subject{FirstName: "Marie", LastName: "Curie"}
	require.True(t, c.Set(context.Background(), subject, json.RawMessage(`{}`), json.RawMessage(`{"ok":true}`)))
	entry, ok := c.Get(context.Background(), subject, false)
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(entry.Result))
}
