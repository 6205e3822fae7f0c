// Package collyfetcher scrapes pages directly with gocolly and extracts
// readable text with goquery.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/fetcher"
	"github.com/JakeFAU/dossier-crawler/internal/headless/detector"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements fetcher.Provider using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// capture collects what the collector callbacks observed.
type capture struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	body    []byte
	err     error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	// Clones share the visited store, and the same page may be fetched by many runs.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Name implements fetcher.Provider.
func (f *Fetcher) Name() string {
	return "colly"
}

// Scrape executes a single HTTP GET and extracts the page text.
func (f *Fetcher) Scrape(ctx context.Context, url string) (fetcher.Document, error) {
	out := &capture{}
	collector := f.buildCollector(ctx, out)

	runErr := f.runCollector(ctx, collector, url)

	out.mu.Lock()
	defer out.mu.Unlock()
	if runErr != nil && out.status == 0 {
		return fetcher.Document{}, f.transportError(runErr)
	}
	page := detector.Page{StatusCode: out.status, Headers: out.headers, Body: out.body}
	if out.err != nil || out.status >= http.StatusBadRequest {
		return fetcher.Document{}, f.statusError(page, out.err)
	}
	return fetcher.Document{
		Text:       fetcher.ExtractText(out.body, out.headers.Get("Content-Type")),
		Markup:     string(out.body),
		StatusCode: out.status,
		Headers:    out.headers,
	}, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, out *capture) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots

	timeout := f.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	collector.SetRequestTimeout(timeout)

	baseTransport := f.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	if f.cfg.RespectRobots {
		collector.WithTransport(&robotsAwareTransport{base: baseTransport, state: newRobotsProbeState()})
	} else {
		collector.WithTransport(baseTransport)
	}

	configureCollectorHooks(collector, out)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, out *capture) {
	hooks.OnResponse(func(r *colly.Response) {
		out.mu.Lock()
		defer out.mu.Unlock()
		out.status = r.StatusCode
		out.headers = cloneHeaders(r.Headers)
		out.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		out.mu.Lock()
		defer out.mu.Unlock()
		out.err = err
		if r != nil && r.StatusCode != 0 {
			out.status = r.StatusCode
			out.headers = cloneHeaders(r.Headers)
			out.body = append([]byte(nil), r.Body...)
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) transportError(err error) error {
	reason := dossier.FailureTransportError
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		reason = dossier.FailureBlocked
	}
	return &fetcher.ProviderError{Provider: f.Name(), Reason: reason, Err: err}
}

func (f *Fetcher) statusError(page detector.Page, err error) error {
	reason := fetcher.ClassifyStatus(page.StatusCode)
	if blocked, vendor := detector.Blocked(page); blocked {
		reason = dossier.FailureBlocked
		err = fmt.Errorf("bot protection %s: %w", vendor, errOrStatus(err, page.StatusCode))
	}
	if reason == dossier.FailureNone {
		reason = dossier.FailureOther
	}
	return &fetcher.ProviderError{
		Provider:   f.Name(),
		Reason:     reason,
		StatusCode: page.StatusCode,
		Err:        errOrStatus(err, page.StatusCode),
	}
}

func errOrStatus(err error, status int) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("status %d", status)
}

func cloneHeaders(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
