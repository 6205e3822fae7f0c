// Package fetcher retrieves readable text for one URL through a primary
// provider, retrying once through a fallback provider when the primary comes
// back empty or blocked.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/headless/detector"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
)

const (
	defaultTimeout          = 45 * time.Second
	defaultPrimaryMaxChars  = 5000
	defaultFallbackMaxChars = 3000
	defaultMinContentChars  = 100
)

// Document is what a provider scraped from a page.
type Document struct {
	// Text is the readable representation (markdown or extracted text).
	Text string
	// Markup is the raw HTML, when the provider has it.
	Markup     string
	StatusCode int
	Headers    http.Header
}

// Provider scrapes a single page.
type Provider interface {
	Name() string
	Scrape(ctx context.Context, url string) (Document, error)
}

// ProviderError carries a provider's own failure classification.
type ProviderError struct {
	Provider   string
	Reason     dossier.FailureReason
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Classify maps a provider error to a failure reason. Provider errors keep
// their own reason; deadlines and network failures are transport errors.
func Classify(err error) dossier.FailureReason {
	if err == nil {
		return dossier.FailureNone
	}
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Reason != dossier.FailureNone {
		return perr.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dossier.FailureTransportError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return dossier.FailureTransportError
	}
	return dossier.FailureOther
}

// ClassifyStatus maps an HTTP status from a scraped site or provider API.
func ClassifyStatus(status int) dossier.FailureReason {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return dossier.FailureRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		status == http.StatusUnavailableForLegalReasons:
		return dossier.FailureBlocked
	case status >= 200 && status < 400:
		return dossier.FailureNone
	default:
		return dossier.FailureOther
	}
}

// Config bounds each attempt.
type Config struct {
	Timeout          time.Duration
	PrimaryMaxChars  int
	FallbackMaxChars int
	MinContentChars  int
}

// Fetcher implements dossier.ContentFetcher.
type Fetcher struct {
	cfg      Config
	primary  Provider
	fallback Provider
	shell    *detector.Heuristic
	logger   *zap.Logger
}

// New builds a Fetcher. fallback may be nil, in which case empty or blocked
// pages are reported without a retry.
func New(cfg Config, primary, fallback Provider, logger *zap.Logger) (*Fetcher, error) {
	if primary == nil {
		return nil, &dossier.ConfigError{Key: "fetcher.primary", Reason: "no provider configured"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PrimaryMaxChars <= 0 {
		cfg.PrimaryMaxChars = defaultPrimaryMaxChars
	}
	if cfg.FallbackMaxChars <= 0 {
		cfg.FallbackMaxChars = defaultFallbackMaxChars
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = defaultMinContentChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		shell:    detector.NewHeuristic(0),
		logger:   logger.Named("fetcher"),
	}, nil
}

// Fetch scrapes candidate.URL and always returns a populated FetchResult.
// Rate-limited responses are returned immediately; pacing belongs to the
// scheduler.
func (f *Fetcher) Fetch(ctx context.Context, candidate dossier.CandidateURL) dossier.FetchResult {
	start := time.Now()
	result := f.attempt(ctx, f.primary, candidate, f.cfg.PrimaryMaxChars)
	if !result.Success && result.FailureReason.Fallbackable() && f.fallback != nil {
		f.logger.Debug("falling back",
			zap.String("url", candidate.URL),
			zap.String("reason", string(result.FailureReason)),
			zap.String("fallback", f.fallback.Name()),
		)
		result = f.attempt(ctx, f.fallback, candidate, f.cfg.FallbackMaxChars)
	}
	result.Duration = time.Since(start)
	return result
}

func (f *Fetcher) attempt(
	ctx context.Context,
	provider Provider,
	candidate dossier.CandidateURL,
	maxChars int,
) dossier.FetchResult {
	result := dossier.FetchResult{
		URL:      candidate.URL,
		Provider: candidate.Provider,
		Fetcher:  provider.Name(),
	}
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	doc, err := provider.Scrape(attemptCtx, candidate.URL)
	elapsed := time.Since(start)
	if err != nil {
		result.FailureReason = Classify(err)
		f.record(provider.Name(), result.FailureReason, elapsed, candidate.URL, err)
		return result
	}

	result.FailureReason = f.judge(doc)
	if result.FailureReason != dossier.FailureNone {
		f.record(provider.Name(), result.FailureReason, elapsed, candidate.URL, nil)
		return result
	}
	result.Success = true
	result.RawContent = dossier.TruncateRunes(strings.TrimSpace(doc.Text), maxChars)
	result.Markup = doc.Markup
	f.record(provider.Name(), dossier.FailureNone, elapsed, candidate.URL, nil)
	return result
}

// judge classifies a document the provider returned without error.
func (f *Fetcher) judge(doc Document) dossier.FailureReason {
	page := detector.Page{
		StatusCode: doc.StatusCode,
		Headers:    doc.Headers,
		Body:       []byte(doc.Markup),
		Text:       doc.Text,
	}
	if blocked, _ := detector.Blocked(page); blocked {
		return dossier.FailureBlocked
	}
	if reason := ClassifyStatus(doc.StatusCode); doc.StatusCode != 0 && reason != dossier.FailureNone {
		return reason
	}
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return dossier.FailureEmptyResult
	}
	if dossier.CharCount(text) <= f.cfg.MinContentChars {
		if doc.Markup != "" && f.shell.ShouldPromote(page, f.cfg.MinContentChars) {
			return dossier.FailureEmptyResult
		}
		return dossier.FailureTooShort
	}
	return dossier.FailureNone
}

func (f *Fetcher) record(provider string, reason dossier.FailureReason, elapsed time.Duration, url string, err error) {
	outcome := "success"
	if reason != dossier.FailureNone {
		outcome = string(reason)
	}
	metrics.ObserveFetch(provider, outcome, elapsed)
	if reason == dossier.FailureNone {
		return
	}
	fields := []zap.Field{
		zap.String("provider", provider),
		zap.String("url", url),
		zap.String("reason", string(reason)),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	f.logger.Debug("fetch attempt failed", fields...)
}
