// Package validator probes candidate URLs for reachability and content
// suitability before any page is fetched.
package validator

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
	"github.com/JakeFAU/dossier-crawler/internal/policy/ratelimit"
)

const (
	defaultWorkers         = 20
	defaultMaxContentBytes = 5 * 1024 * 1024
	defaultUserAgent       = "dossier-crawler/1.0 (+https://github.com/JakeFAU/dossier-crawler)"
)

// Probe outcomes, also used as metric labels.
const (
	outcomeAccepted   = "accepted"
	outcomeExtension  = "excluded_extension"
	outcomeStatus     = "bad_status"
	outcomeBinary     = "binary_content"
	outcomeOversize   = "oversize"
	outcomeTransport  = "transport_error"
	outcomeInvalidURL = "invalid_url"
	outcomeDiscarded  = "discarded"
)

var excludedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".odt": {}, ".rtf": {}, ".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".tgz": {},
	".bz2": {}, ".exe": {}, ".msi": {}, ".dmg": {}, ".pkg": {}, ".iso": {}, ".apk": {}, ".bin": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {},
}

var binaryTypePrefixes = []string{
	"application/pdf",
	"application/zip",
	"application/x-zip",
	"application/gzip",
	"application/x-gzip",
	"application/x-tar",
	"application/x-rar",
	"application/vnd.rar",
	"application/x-7z",
	"application/msword",
	"application/vnd.ms-",
	"application/vnd.openxmlformats-officedocument",
	"application/vnd.oasis.opendocument",
	"application/octet-stream",
	"application/x-msdownload",
	"application/x-msdos-program",
	"application/x-apple-diskimage",
	"application/vnd.android.package-archive",
	"image/",
	"audio/",
	"video/",
	"font/",
}

// Config controls the probe pool.
type Config struct {
	// Workers bounds concurrent probes (default 20).
	Workers int
	// MaxContentBytes rejects URLs whose declared length exceeds it (default 5 MiB).
	MaxContentBytes int64
	// UserAgent is sent on every probe.
	UserAgent string
}

// Validator implements dossier.URLValidator with HEAD probes.
type Validator struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New constructs a Validator. A nil client uses http.DefaultClient's transport
// with default redirect handling; a nil limiter disables per-host pacing.
func New(cfg Config, client *http.Client, limiter *ratelimit.Limiter, logger *zap.Logger) *Validator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = defaultMaxContentBytes
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		logger:  logger.Named("validator"),
	}
}

// Validate probes urls concurrently and returns at most targetCount accepted
// URLs in arrival order. Duplicate URLs are probed once. Once the target is
// reached no further probes are scheduled; probes already running finish but
// their results are discarded. Every failure is an exclusion, never an error.
func (v *Validator) Validate(
	ctx context.Context,
	urls []dossier.CandidateURL,
	timeout time.Duration,
	targetCount int,
) []dossier.ValidatedURL {
	accepted := make([]dossier.ValidatedURL, 0)
	if targetCount <= 0 || len(urls) == 0 {
		return accepted
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(v.cfg.Workers)

	full := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(accepted) >= targetCount
	}

	for _, candidate := range dedupe(urls) {
		if full() || ctx.Err() != nil {
			break
		}
		if reason := excludedByPath(candidate.URL); reason != "" {
			v.exclude(candidate.URL, reason, nil)
			continue
		}
		g.Go(func() error {
			if full() {
				return nil
			}
			res, reason, err := v.probe(ctx, candidate, timeout)
			if reason != outcomeAccepted {
				v.exclude(candidate.URL, reason, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if len(accepted) >= targetCount {
				metrics.ObserveValidation(outcomeDiscarded)
				return nil
			}
			accepted = append(accepted, res)
			metrics.ObserveValidation(outcomeAccepted)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	mu.Lock()
	defer mu.Unlock()
	v.logger.Debug("validation finished",
		zap.Int("candidates", len(urls)),
		zap.Int("accepted", len(accepted)),
		zap.Int("target", targetCount),
	)
	return append([]dossier.ValidatedURL(nil), accepted...)
}

func (v *Validator) exclude(rawURL, reason string, err error) {
	metrics.ObserveValidation(reason)
	fields := []zap.Field{zap.String("url", rawURL), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	v.logger.Debug("url excluded", fields...)
}

func (v *Validator) probe(
	ctx context.Context,
	candidate dossier.CandidateURL,
	timeout time.Duration,
) (dossier.ValidatedURL, string, error) {
	if err := v.limiter.Wait(ctx, candidate.URL); err != nil {
		return dossier.ValidatedURL{}, outcomeTransport, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := v.do(ctx, http.MethodHead, candidate.URL)
	if err != nil {
		return dossier.ValidatedURL{}, outcomeTransport, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = v.do(ctx, http.MethodGet, candidate.URL)
		if err != nil {
			return dossier.ValidatedURL{}, outcomeTransport, err
		}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return dossier.ValidatedURL{}, outcomeStatus, fmt.Errorf("status %d", resp.StatusCode)
	}
	contentType := mediaType(resp.Header.Get("Content-Type"))
	if isBinaryType(contentType) {
		return dossier.ValidatedURL{}, outcomeBinary, fmt.Errorf("content type %s", contentType)
	}
	length := declaredLength(resp)
	if length > v.cfg.MaxContentBytes {
		return dossier.ValidatedURL{}, outcomeOversize, fmt.Errorf("content length %d", length)
	}
	if length < 0 {
		length = 0
	}
	return dossier.ValidatedURL{
		CandidateURL:      candidate,
		ContentType:       contentType,
		ContentLengthHint: length,
	}, outcomeAccepted, nil
}

// do issues a probe request and discards the body. GET probes ask for a single
// byte so servers that reject HEAD are not forced to stream a full page.
func (v *Validator) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", v.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", method, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return resp, nil
}

func dedupe(urls []dossier.CandidateURL) []dossier.CandidateURL {
	seen := make(map[string]struct{}, len(urls))
	out := make([]dossier.CandidateURL, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u.URL]; ok {
			continue
		}
		seen[u.URL] = struct{}{}
		out = append(out, u)
	}
	return out
}

func excludedByPath(rawURL string) string {
	if !dossier.IsHTTPURL(rawURL) {
		return outcomeInvalidURL
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return outcomeInvalidURL
	}
	// Download links often carry the file name in the query or fragment.
	parts := []string{u.Path, u.Fragment, u.RawQuery}
	for _, values := range u.Query() {
		parts = append(parts, values...)
	}
	for _, part := range parts {
		if hasExcludedExtension(part) {
			return outcomeExtension
		}
	}
	return ""
}

func hasExcludedExtension(s string) bool {
	_, ok := excludedExtensions[strings.ToLower(path.Ext(s))]
	return ok
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return strings.ToLower(mt)
}

func isBinaryType(contentType string) bool {
	for _, prefix := range binaryTypePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// declaredLength prefers the total from Content-Range on partial responses.
func declaredLength(resp *http.Response) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx >= 0 {
				if total, err := strconv.ParseInt(strings.TrimSpace(cr[idx+1:]), 10, 64); err == nil {
					return total
				}
			}
		}
		return -1
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	}
	return -1
}
