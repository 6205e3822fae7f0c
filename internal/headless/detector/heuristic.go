// Package detector decides when a fetched page should be retried through the
// fallback renderer: either the page is an unrendered client-side shell, or an
// anti-bot layer answered instead of the site.
package detector

import (
	"bytes"
	"net/http"
	"strings"
)

// Page is the subset of a provider response the detectors inspect.
type Page struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	// Text is the readable text the provider extracted, if any.
	Text string
}

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("<noscript>you need to enable javascript"),
}

// ShouldPromote reports whether a successful response looks like a shell that
// only renders in a browser. Pages with plenty of extracted text are never
// promoted, even when they carry framework markers.
func (h *Heuristic) ShouldPromote(page Page, minTextChars int) bool {
	if page.StatusCode != 0 && page.StatusCode != http.StatusOK {
		return false
	}
	if len(strings.TrimSpace(page.Text)) > minTextChars {
		return false
	}
	body := page.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag swallows the remainder.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
