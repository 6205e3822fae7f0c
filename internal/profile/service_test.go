package profile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/archive"
	"github.com/JakeFAU/dossier-crawler/internal/cache"
	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/notify"
	"github.com/JakeFAU/dossier-crawler/internal/progress"
	"github.com/JakeFAU/dossier-crawler/internal/publisher/memory"
	storemem "github.com/JakeFAU/dossier-crawler/internal/storage/memory"
)

var curie = dossier.Subject{FirstName: "Marie", LastName: "Curie", Organization: "Institut du Radium"}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeAcquirer struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (a *fakeAcquirer) NewRunID() (string, error) {
	return uuid.NewString(), nil
}

func (a *fakeAcquirer) Acquire(ctx context.Context, runID string, subject dossier.Subject) (dossier.Bundle, error) {
	a.calls.Add(1)
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return dossier.Bundle{}, ctx.Err()
		}
	}
	if a.err != nil {
		return dossier.Bundle{}, a.err
	}
	return dossier.Bundle{
		RunID:   runID,
		Subject: subject,
		Content: []dossier.ReducedContent{
			{Source: "web", URL: "https://a.example/curie", Text: "Marie Curie discovered polonium and radium."},
		},
		Stats:   dossier.AcquisitionStats{TotalCandidates: 3, AccessibleCount: 1, Attempted: 1, Successful: 1},
		Sources: []string{"https://a.example/curie", "https://a.example/curie"},
		AuxData: map[string]dossier.AuxiliaryData{
			"pappers": {Provider: "pappers", Payload: json.RawMessage(`{"companies":[]}`)},
		},
	}, nil
}

type events struct {
	mu   sync.Mutex
	list []progress.Event
}

func (e *events) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, evt)
}

func (e *events) forRun(runID string) []progress.Event {
	id := progress.UUIDToBytes(uuid.MustParse(runID))
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.list {
		if evt.RunID == id {
			out = append(out, evt)
		}
	}
	return out
}

func (e *events) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.list))
	for _, evt := range e.list {
		out = append(out, evt.Stage)
	}
	return out
}

type fixture struct {
	svc      *Service
	acquirer *fakeAcquirer
	blobs    *storemem.BlobStore
	pub      *memory.Publisher
	events   *events
}

func newFixture(t *testing.T, cfg Config, acq *fakeAcquirer) fixture {
	t.Helper()
	clock := fixedClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	profiles := cache.New(storemem.NewProfileStore(), cache.Config{}, clock, nil, nil)
	blobs := storemem.NewBlobStore()
	arch, err := archive.New(blobs, archive.Config{}, nil)
	require.NoError(t, err)
	pub := memory.New()
	notifier, err := notify.New(pub, "dossier-complete", nil)
	require.NoError(t, err)
	evts := &events{}

	svc, err := New(cfg, Deps{
		Cache:    profiles,
		Acquirer: acq,
		Archive:  arch,
		Notifier: notifier,
		Clock:    clock,
		Emitter:  evts,
	}, nil)
	require.NoError(t, err)
	return fixture{svc: svc, acquirer: acq, blobs: blobs, pub: pub, events: evts}
}

func TestLookupBuildsThenServesFromCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &fakeAcquirer{})
	ctx := context.Background()

	first, err := f.svc.Lookup(ctx, curie, false, "")
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.NotEmpty(t, first.RunID)
	require.NotNil(t, first.Stats)
	require.Equal(t, 1, first.Stats.Successful)
	require.Contains(t, first.ArchiveURI, "memory://bundles/")

	var summary Summary
	require.NoError(t, json.Unmarshal(first.Data, &summary))
	require.Equal(t, "Marie Curie", summary.FullName)
	require.Equal(t, []string{"https://a.example/curie"}, summary.Sources)
	require.Len(t, summary.Content, 1)
	require.JSONEq(t, `{"companies":[]}`, string(summary.Auxiliary["pappers"]))

	require.Len(t, f.blobs.Paths(), 1)
	msgs := f.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, first.RunID, msgs[0].Attributes["run_id"])

	second, err := f.svc.Lookup(ctx, curie, false, "")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.JSONEq(t, string(first.Data), string(second.Data))
	require.NotNil(t, second.CacheCreatedAt)
	require.EqualValues(t, 1, f.acquirer.calls.Load())

	require.Equal(t, []progress.Stage{progress.StageAnalysisDone, progress.StageCacheHit}, f.events.stages())
}

func TestLookupForceRefreshRebuilds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &fakeAcquirer{})
	ctx := context.Background()
	_, err := f.svc.Lookup(ctx, curie, false, "")
	require.NoError(t, err)

	res, err := f.svc.Lookup(ctx, curie, true, "")
	require.NoError(t, err)
	require.False(t, res.Cached)
	require.EqualValues(t, 2, f.acquirer.calls.Load())
	require.Len(t, f.pub.Messages(), 2)
}

func TestLookupUsesCallerRunID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &fakeAcquirer{})
	runID := uuid.NewString()
	res, err := f.svc.Lookup(context.Background(), curie, false, runID)
	require.NoError(t, err)
	require.Equal(t, runID, res.RunID)
	require.Contains(t, res.ArchiveURI, runID+".json")
}

func TestLookupRejectsIncompleteSubject(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &fakeAcquirer{})
	_, err := f.svc.Lookup(context.Background(), dossier.Subject{FirstName: "Marie", LastName: " "}, false, "")
	require.ErrorIs(t, err, ErrInvalidSubject)
	require.Zero(t, f.acquirer.calls.Load())
}

func TestLookupPropagatesPipelineErrorAndCachesNothing(t *testing.T) {
	t.Parallel()

	perr := dossier.NewPipelineError("validation", dossier.AcquisitionStats{TotalCandidates: 2}, dossier.ErrNoAccessibleURLs)
	f := newFixture(t, Config{}, &fakeAcquirer{err: perr})

	_, err := f.svc.Lookup(context.Background(), curie, false, "")
	require.ErrorIs(t, err, dossier.ErrNoAccessibleURLs)
	require.Empty(t, f.blobs.Paths())
	require.Empty(t, f.pub.Messages())

	f.acquirer.err = nil
	res, err := f.svc.Lookup(context.Background(), curie, false, "")
	require.NoError(t, err)
	require.False(t, res.Cached)
}

func TestLookupSingleFlightCoalescesConcurrentBuilds(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{release: make(chan struct{})}
	f := newFixture(t, Config{SingleFlight: true}, acq)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Lookup(context.Background(), curie, false, "")
		}()
	}
	require.Eventually(t, func() bool { return acq.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(acq.release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
	}
	require.LessOrEqual(t, acq.calls.Load(), int32(callers))
	leaders := make(map[string]struct{})
	for _, r := range results {
		leaders[r.RunID] = struct{}{}
	}
	require.Less(t, len(leaders), callers)
}

func TestLookupSharedBuildSurvivesLeaderCancellation(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{release: make(chan struct{})}
	f := newFixture(t, Config{SingleFlight: true}, acq)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderID := uuid.NewString()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Lookup(leaderCtx, curie, false, leaderID)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return acq.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	followerID := uuid.NewString()
	type outcome struct {
		res Result
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := f.svc.Lookup(context.Background(), curie, false, followerID)
		follower <- outcome{res: res, err: err}
	}()
	require.Eventually(t, func() bool { return len(f.events.forRun(followerID)) == 1 }, time.Second, 5*time.Millisecond)
	joined := f.events.forRun(followerID)[0]
	require.Equal(t, progress.StageRunStart, joined.Stage)
	require.Contains(t, joined.Note, leaderID)

	cancelLeader()
	select {
	case err := <-leaderErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("leader did not return after cancellation")
	}

	close(acq.release)
	var got outcome
	select {
	case got = <-follower:
	case <-time.After(time.Second):
		t.Fatal("follower did not return")
	}
	require.NoError(t, got.err)
	require.Equal(t, leaderID, got.res.RunID)
	require.EqualValues(t, 1, acq.calls.Load())

	followerEvents := f.events.forRun(followerID)
	require.Equal(t, progress.StageRunDone, followerEvents[len(followerEvents)-1].Stage)

	cached, err := f.svc.Lookup(context.Background(), curie, false, "")
	require.NoError(t, err)
	require.True(t, cached.Cached)
}

func TestLookupSharedBuildFollowerLeavesOnItsOwnContext(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{release: make(chan struct{})}
	f := newFixture(t, Config{SingleFlight: true}, acq)

	leader := make(chan error, 1)
	go func() {
		_, err := f.svc.Lookup(context.Background(), curie, false, "")
		leader <- err
	}()
	require.Eventually(t, func() bool { return acq.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	followerID := uuid.NewString()
	_, err := f.svc.Lookup(ctx, curie, false, followerID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	followerEvents := f.events.forRun(followerID)
	require.Equal(t, progress.StageRunError, followerEvents[len(followerEvents)-1].Stage)

	close(acq.release)
	require.NoError(t, <-leader)
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, dossier.Bundle) (json.RawMessage, error) {
	return nil, errors.New("model unavailable")
}

func TestLookupAnalyzerFailureIsReturned(t *testing.T) {
	t.Parallel()

	profiles := cache.New(storemem.NewProfileStore(), cache.Config{}, nil, nil, nil)
	svc, err := New(Config{}, Deps{Cache: profiles, Acquirer: &fakeAcquirer{}, Analyzer: failingAnalyzer{}}, nil)
	require.NoError(t, err)

	_, err = svc.Lookup(context.Background(), curie, false, "")
	require.ErrorContains(t, err, "model unavailable")
	_, hit := profiles.Get(context.Background(), curie, false)
	require.False(t, hit)
}

func TestSummaryAnalyzerIsDeterministic(t *testing.T) {
	t.Parallel()

	bundle := dossier.Bundle{
		Subject: curie,
		Content: []dossier.ReducedContent{{Source: "web", URL: "u", Text: "ééé radium"}},
		Sources: []string{"u"},
	}
	a := SummaryAnalyzer{ExcerptChars: 3}
	one, err := a.Analyze(context.Background(), bundle)
	require.NoError(t, err)
	two, err := a.Analyze(context.Background(), bundle)
	require.NoError(t, err)
	require.Equal(t, string(one), string(two))

	var s Summary
	require.NoError(t, json.Unmarshal(one, &s))
	require.Equal(t, "ééé", s.Content[0].Excerpt)
	require.Equal(t, 10, s.TotalChars)
	require.Nil(t, s.Auxiliary)
}
