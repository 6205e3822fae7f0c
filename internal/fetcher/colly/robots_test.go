package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRobotsRetryReturnsAllowAllOnTimeout(t *testing.T) {
	t.Parallel()

	state := newRobotsProbeState()
	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
		},
	}
	transport := &robotsAwareTransport{base: base, state: state}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "User-agent: *\nAllow: /", string(body))

	indeterminate, reason := state.snapshot()
	require.True(t, indeterminate)
	require.Equal(t, robotsFallbackReasonTimeout, reason)
	require.Equal(t, 4, base.calls)
}

func TestRobotsRetryStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	state := newRobotsProbeState()
	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{resp: httptest.NewRecorder().Result()},
		},
	}
	transport := &robotsAwareTransport{base: base, state: state}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 2, base.calls)

	indeterminate, _ := state.snapshot()
	require.False(t, indeterminate)
}

func TestRobotsNonTransientErrorFails(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("connection refused")}}}
	transport := &robotsAwareTransport{base: base, state: newRobotsProbeState()}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	_, err := transport.RoundTrip(req) //nolint:bodyclose // error path returns no body
	require.Error(t, err)
	require.Equal(t, 1, base.calls)
}

func TestRobotsTransportPassesThroughPages(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{resp: httptest.NewRecorder().Result()}}}
	transport := &robotsAwareTransport{base: base, state: newRobotsProbeState()}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/about", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 1, base.calls)
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	if len(s.results) == 0 {
		return nil, context.DeadlineExceeded
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
