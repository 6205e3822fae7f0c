package scheduler

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

type fakeFetcher struct {
	mu       sync.Mutex
	outcomes map[string]dossier.FailureReason
	delay    func(url string) time.Duration
	calls    atomic.Int32
	order    []string
	clock    *fakePacer
}

func (f *fakeFetcher) Fetch(_ context.Context, c dossier.CandidateURL) dossier.FetchResult {
	f.calls.Add(1)
	f.mu.Lock()
	f.order = append(f.order, c.URL)
	reason := f.outcomes[c.URL]
	f.mu.Unlock()
	if f.delay != nil {
		d := f.delay(c.URL)
		if f.clock != nil {
			f.clock.advance(d)
		} else {
			time.Sleep(d)
		}
	}
	res := dossier.FetchResult{URL: c.URL, Provider: c.Provider, FailureReason: reason}
	if reason == dossier.FailureNone {
		res.Success = true
		res.RawContent = "content for " + c.URL
	}
	return res
}

type fakePacer struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakePacer() *fakePacer {
	return &fakePacer{now: time.Unix(1700000000, 0)}
}

func (p *fakePacer) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

func (p *fakePacer) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleeps = append(p.sleeps, d)
	p.now = p.now.Add(d)
	return nil
}

func (p *fakePacer) advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = p.now.Add(d)
}

func validated(n int) []dossier.ValidatedURL {
	out := make([]dossier.ValidatedURL, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, dossier.ValidatedURL{CandidateURL: dossier.CandidateURL{
			URL:      "https://example.org/" + strconv.Itoa(i),
			Provider: "test",
		}})
	}
	return out
}

func successes(results []dossier.FetchResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

func TestModeFromConfig(t *testing.T) {
	t.Parallel()

	require.True(t, ModeFromConfig(1, 0).IsSequential())
	require.True(t, ModeFromConfig(0, 2*time.Second).IsSequential())
	require.Equal(t, 2*time.Second, ModeFromConfig(1, 2*time.Second).Interval)
	m := ModeFromConfig(5, time.Second)
	require.False(t, m.IsSequential())
	require.Equal(t, 5, m.Width)
	require.Equal(t, "parallel", m.String())
	require.Equal(t, "sequential", Sequential(-time.Second).String())
	require.Zero(t, Sequential(-time.Second).Interval)
}

func TestParallelStopsAtTarget(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{delay: func(string) time.Duration { return 10 * time.Millisecond }}
	s := New(f, nil, nil)

	results, stats := s.Run(context.Background(), validated(10), 3, Parallel(2))

	require.Equal(t, 3, successes(results))
	require.Len(t, results, 3)
	require.GreaterOrEqual(t, stats.Attempted, 3)
	require.LessOrEqual(t, stats.Attempted, 3+2, "at most width in-flight units beyond the target")
	require.Equal(t, stats.Attempted, stats.Successful+stats.Failed)
	require.LessOrEqual(t, int(f.calls.Load()), 5)
}

func TestParallelCountsFailuresAndKeepsGoing(t *testing.T) {
	t.Parallel()

	urls := validated(6)
	f := &fakeFetcher{outcomes: map[string]dossier.FailureReason{
		urls[0].URL: dossier.FailureBlocked,
		urls[1].URL: dossier.FailureRateLimited,
		urls[2].URL: dossier.FailureTooShort,
	}}
	s := New(f, nil, nil)

	var observed, inconsistent atomic.Int32
	results, stats := s.Run(context.Background(), urls, 10, Parallel(3), WithObserver(
		func(_ dossier.FetchResult, snap dossier.AcquisitionStats) {
			observed.Add(1)
			if snap.Attempted != snap.Successful+snap.Failed {
				inconsistent.Add(1)
			}
		}))

	require.Len(t, results, 6)
	require.Equal(t, 6, stats.Attempted)
	require.Equal(t, 3, stats.Successful)
	require.Equal(t, 3, stats.Failed)
	require.Equal(t, 1, stats.FailureReasons[dossier.FailureRateLimited])
	require.EqualValues(t, 6, observed.Load())
	require.Zero(t, inconsistent.Load())
}

func TestParallelAllFailReturnsEveryResult(t *testing.T) {
	t.Parallel()

	urls := validated(4)
	outcomes := make(map[string]dossier.FailureReason)
	for _, u := range urls {
		outcomes[u.URL] = dossier.FailureTransportError
	}
	s := New(&fakeFetcher{outcomes: outcomes}, nil, nil)

	results, stats := s.Run(context.Background(), urls, 3, Parallel(5))
	require.Len(t, results, 4)
	require.Zero(t, successes(results))
	require.Equal(t, 4, stats.Failed)
	require.Equal(t, 4, stats.FailureReasons[dossier.FailureTransportError])
}

func TestSequentialPacesFromRunStart(t *testing.T) {
	t.Parallel()

	pacer := newFakePacer()
	urls := validated(4)
	// Slow responses must not push later dispatches back.
	f := &fakeFetcher{
		clock: pacer,
		delay: func(url string) time.Duration {
			if url == urls[0].URL {
				return 3 * time.Second
			}
			return 500 * time.Millisecond
		},
		outcomes: map[string]dossier.FailureReason{
			urls[0].URL: dossier.FailureEmptyResult,
			urls[1].URL: dossier.FailureEmptyResult,
			urls[2].URL: dossier.FailureEmptyResult,
			urls[3].URL: dossier.FailureEmptyResult,
		},
	}
	s := New(f, pacer, nil)

	var paced []time.Duration
	results, stats := s.Run(context.Background(), urls, 3, Sequential(2*time.Second),
		WithPacingObserver(func(d time.Duration) { paced = append(paced, d) }))

	require.Len(t, results, 4)
	require.Equal(t, 4, stats.Attempted)
	// Dispatch 1 is due at t=2s but the first fetch ran until t=3s, so no sleep.
	// Dispatch 2 is due at t=4s; fetch 1 ended at t=3.5s.
	// Dispatch 3 is due at t=6s; fetch 2 ended at t=4.5s.
	require.Equal(t, []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}, pacer.sleeps)
	require.Equal(t, pacer.sleeps, paced)
	require.Equal(t, []string{urls[0].URL, urls[1].URL, urls[2].URL, urls[3].URL}, f.order)
}

func TestSequentialStopsAtTarget(t *testing.T) {
	t.Parallel()

	pacer := newFakePacer()
	f := &fakeFetcher{}
	s := New(f, pacer, nil)

	results, stats := s.Run(context.Background(), validated(10), 2, Sequential(time.Second))
	require.Len(t, results, 2)
	require.Equal(t, 2, stats.Attempted)
	require.EqualValues(t, 2, f.calls.Load())
	require.Equal(t, []time.Duration{time.Second}, pacer.sleeps)
}

func TestSequentialStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFetcher{}
	results, stats := New(f, newFakePacer(), nil).Run(ctx, validated(3), 3, Sequential(time.Second))
	require.Empty(t, results)
	require.Zero(t, stats.Attempted)
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	results, stats := New(&fakeFetcher{}, nil, nil).Run(context.Background(), nil, 3, Parallel(4))
	require.NotNil(t, results)
	require.Empty(t, results)
	require.Zero(t, stats.Attempted)
}

func TestNonPositiveTargetFetchesAll(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	results, stats := New(f, nil, nil).Run(context.Background(), validated(5), 0, Parallel(2))
	require.Len(t, results, 5)
	require.Equal(t, 5, stats.Successful)
}
