package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchTotal == nil || cacheOperationsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpersIncrementCollectors(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchTotal.WithLabelValues("colly", "success"))
	ObserveFetch("colly", "success", 250*time.Millisecond)
	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("colly", "success")); got != before+1 {
		t.Errorf("fetch counter = %f; want %f", got, before+1)
	}

	beforeCache := testutil.ToFloat64(cacheOperationsTotal.WithLabelValues("get", "hit"))
	ObserveCache("get", "hit")
	if got := testutil.ToFloat64(cacheOperationsTotal.WithLabelValues("get", "hit")); got != beforeCache+1 {
		t.Errorf("cache counter = %f; want %f", got, beforeCache+1)
	}

	beforeProbe := testutil.ToFloat64(validationProbesTotal.WithLabelValues("excluded"))
	ObserveValidation("excluded")
	if got := testutil.ToFloat64(validationProbesTotal.WithLabelValues("excluded")); got != beforeProbe+1 {
		t.Errorf("validation counter = %f; want %f", got, beforeProbe+1)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
