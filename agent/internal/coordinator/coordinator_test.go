package coordinator_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/octo-agent/agent/internal/coordinator"
	"github.com/obsidianstack/octo-agent/agent/internal/octotest"
	"github.com/obsidianstack/octo-agent/agent/internal/scraper"
	"github.com/obsidianstack/octo-agent/agent/internal/session"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

// --- helpers ----------------------------------------------------------------

// newPortalCoordinator wires a real session manager and scraper against a
// fake portal.
func newPortalCoordinator(t *testing.T, p *octotest.Portal, password string, clock clockwork.Clock) *coordinator.Coordinator {
	t.Helper()
	m, err := session.NewManager(p.BaseURL(), session.WithClock(clock))
	require.NoError(t, err)
	return coordinator.New(m, scraper.New(m.Endpoints().Statistics, clock), coordinator.Config{
		Credentials: session.Credentials{Username: p.Username, Password: password},
		Interval:    10 * time.Minute,
		Clock:       clock,
	})
}

type stubAuth struct {
	err         error
	ensures     atomic.Int64
	invalidated atomic.Int64
}

func (a *stubAuth) Ensure(context.Context, session.Credentials) (*session.Session, error) {
	a.ensures.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return &session.Session{}, nil
}

func (a *stubAuth) Invalidate(*session.Session) { a.invalidated.Add(1) }

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*scraper.ScrapeResult, error)
}

func (f *stubFetcher) Scrape(context.Context, *session.Session) (*scraper.ScrapeResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n)
}

func (f *stubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memorySink struct {
	mu       sync.Mutex
	saved    []types.Reading
	accounts []string
}

func (s *memorySink) Save(_ context.Context, username string, r types.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r)
	s.accounts = append(s.accounts, username)
	return nil
}

func fixedResult(km float64) func(int) (*scraper.ScrapeResult, error) {
	return func(int) (*scraper.ScrapeResult, error) {
		return &scraper.ScrapeResult{Kilometers: km, ScrapedAt: baseTime}, nil
	}
}

// --- successful refresh -----------------------------------------------------

func TestRefresh_StoresReading(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("1234.5", "01/03/2024"))
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))

	_, ok := c.CurrentReading()
	assert.False(t, ok, "no reading before the first fetch")

	assert.True(t, c.Refresh(context.Background()))

	r, ok := c.CurrentReading()
	require.True(t, ok)
	assert.Equal(t, 1234.5, r.Value)
	assert.Equal(t, "2024-03-01", r.LastUpdate())
	assert.Equal(t, types.StateIdle, c.State())
	assert.Nil(t, c.LastError())
}

func TestRefresh_MissingDateUsesFetchTime(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("800", ""))
	clock := clockwork.NewFakeClockAt(baseTime)
	c := newPortalCoordinator(t, p, "pw", clock)

	c.Refresh(context.Background())

	r, ok := c.CurrentReading()
	require.True(t, ok)
	assert.False(t, r.DateReported)
	assert.False(t, r.ObservedAt.IsZero())
	assert.WithinDuration(t, clock.Now(), r.ObservedAt, time.Second)
}

func TestRefresh_ZeroIsAccepted(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("0", "01/03/2024"))
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))

	c.Refresh(context.Background())

	r, ok := c.CurrentReading()
	require.True(t, ok, "zero must not be treated as absent")
	assert.Equal(t, 0.0, r.Value)
	assert.Equal(t, types.StateIdle, c.State())
}

// --- failures ---------------------------------------------------------------

func TestRefresh_TransportErrorKeepsReading(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("1000", "01/03/2024"))
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))
	ctx := context.Background()

	c.Refresh(ctx)
	before, ok := c.CurrentReading()
	require.True(t, ok)

	p.SetStatsStatus(http.StatusBadGateway)
	assert.True(t, c.Refresh(ctx), "a failing refresh still runs")

	after, ok := c.CurrentReading()
	require.True(t, ok)
	assert.Equal(t, before, after)

	require.NotNil(t, c.LastError())
	assert.Equal(t, types.ErrorTransport, c.LastError().Kind)
	assert.Equal(t, types.StateErrored, c.State())

	st := c.Status()
	assert.True(t, st.Stale)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.ErrorCounts[types.ErrorTransport])
}

func TestRefresh_BadCredentials(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	c := newPortalCoordinator(t, p, "wrong", clockwork.NewFakeClockAt(baseTime))

	c.Refresh(context.Background())

	_, ok := c.CurrentReading()
	assert.False(t, ok)
	require.NotNil(t, c.LastError())
	assert.Equal(t, types.ErrorAuthentication, c.LastError().Kind)
	assert.Equal(t, 0, p.StatsRequests())
	assert.False(t, c.Status().Stale, "nothing to be stale without a reading")
}

func TestRefresh_DataFormatError(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(`<html><body>Servizio in manutenzione</body></html>`)
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))

	c.Refresh(context.Background())

	require.NotNil(t, c.LastError())
	assert.Equal(t, types.ErrorDataFormat, c.LastError().Kind)
}

func TestRefresh_ErroredRecoversOnNextRefresh(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStatsStatus(http.StatusServiceUnavailable)
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))
	ctx := context.Background()

	c.Refresh(ctx)
	c.Refresh(ctx)
	assert.Equal(t, 2, c.Status().ConsecutiveFailures)

	p.SetStatsStatus(http.StatusOK)
	c.Refresh(ctx)

	assert.Equal(t, types.StateIdle, c.State())
	assert.Nil(t, c.LastError())
	assert.Equal(t, 0, c.Status().ConsecutiveFailures)
	assert.Equal(t, 2, c.Status().ErrorCounts[types.ErrorTransport])
}

func TestRefresh_ReauthenticatesOnceWhenSessionBounced(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))
	ctx := context.Background()

	c.Refresh(ctx)
	require.Equal(t, 1, p.Logins())

	p.ExpireSessions()
	c.Refresh(ctx)

	assert.Nil(t, c.LastError())
	assert.Equal(t, 2, p.Logins())
	assert.Equal(t, 3, p.StatsRequests(), "first scrape, bounced scrape, retried scrape")
}

func TestRefresh_PanicBecomesError(t *testing.T) {
	f := &stubFetcher{fn: func(int) (*scraper.ScrapeResult, error) { panic("parser exploded") }}
	c := coordinator.New(&stubAuth{}, f, coordinator.Config{Interval: time.Minute})

	assert.NotPanics(t, func() { c.Refresh(context.Background()) })
	require.NotNil(t, c.LastError())
	assert.Equal(t, types.StateErrored, c.State())
}

func TestRefresh_AuthenticatorErrorKinds(t *testing.T) {
	auth := &stubAuth{err: session.AuthError("login", errors.New("nope"))}
	f := &stubFetcher{fn: fixedResult(1)}
	c := coordinator.New(auth, f, coordinator.Config{Interval: time.Minute})

	c.Refresh(context.Background())

	assert.Equal(t, types.ErrorAuthentication, c.LastError().Kind)
	assert.Equal(t, 0, f.Calls())
}

// --- overlap ----------------------------------------------------------------

func TestRefresh_OverlappingCallIsNoop(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))
	ctx := context.Background()

	release := p.Hold()
	defer release()

	done := make(chan bool, 1)
	go func() { done <- c.Refresh(ctx) }()

	select {
	case <-p.StatsEntered():
	case <-time.After(5 * time.Second):
		t.Fatal("first refresh never reached the portal")
	}

	assert.Equal(t, types.StateFetching, c.State())
	assert.False(t, c.Refresh(ctx), "second refresh must not start")

	release()
	select {
	case started := <-done:
		assert.True(t, started)
	case <-time.After(5 * time.Second):
		t.Fatal("first refresh did not finish")
	}

	assert.Equal(t, 1, p.StatsRequests())
	assert.Equal(t, 1, p.Logins())
	assert.Equal(t, types.StateIdle, c.State())
}

// --- cadence ----------------------------------------------------------------

func TestRun_OneRefreshPerInterval(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	f := &stubFetcher{fn: fixedResult(10)}
	c := coordinator.New(&stubAuth{}, f, coordinator.Config{
		Interval: 1440 * time.Minute,
		Clock:    clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	clock.BlockUntil(1)
	require.Eventually(t, func() bool { return f.Calls() == 1 }, 2*time.Second, 5*time.Millisecond,
		"Run refreshes once at start")

	clock.Advance(1439 * time.Minute)
	assert.Never(t, func() bool { return f.Calls() > 1 }, 100*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return f.Calls() == 2 }, 2*time.Second, 5*time.Millisecond)

	clock.Advance(1440 * time.Minute)
	require.Eventually(t, func() bool { return f.Calls() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return f.Calls() > 3 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := coordinator.New(&stubAuth{}, &stubFetcher{fn: fixedResult(1)}, coordinator.Config{
		Interval: time.Minute,
		Clock:    clockwork.NewFakeClockAt(baseTime),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// --- persistence hooks ------------------------------------------------------

func TestRefresh_SavesToSink(t *testing.T) {
	sink := &memorySink{}
	c := coordinator.New(&stubAuth{}, &stubFetcher{fn: fixedResult(321)}, coordinator.Config{
		Credentials: session.Credentials{Username: "driver", Password: "pw"},
		Interval:    time.Minute,
		Sink:        sink,
	})

	c.Refresh(context.Background())

	require.Len(t, sink.saved, 1)
	assert.Equal(t, 321.0, sink.saved[0].Value)
	assert.Equal(t, []string{"driver"}, sink.accounts)
}

func TestNew_RestoredReading(t *testing.T) {
	restored := types.Reading{Value: 55, ObservedAt: baseTime, DateReported: true, FetchedAt: baseTime}
	f := &stubFetcher{fn: func(int) (*scraper.ScrapeResult, error) {
		return nil, session.TransportError("statistics", errors.New("down"))
	}}
	c := coordinator.New(&stubAuth{}, f, coordinator.Config{Interval: time.Minute, Restored: &restored})

	r, ok := c.CurrentReading()
	require.True(t, ok)
	assert.Equal(t, restored, r)

	c.Refresh(context.Background())
	r, ok = c.CurrentReading()
	require.True(t, ok)
	assert.Equal(t, restored, r, "failed refresh keeps the restored reading")
	assert.True(t, c.Status().Stale)
}

func TestStatus_TracksUptime(t *testing.T) {
	f := &stubFetcher{fn: func(call int) (*scraper.ScrapeResult, error) {
		if call%2 == 0 {
			return nil, session.TransportError("statistics", errors.New("503"))
		}
		return &scraper.ScrapeResult{Kilometers: 1, ScrapedAt: baseTime}, nil
	}}
	c := coordinator.New(&stubAuth{}, f, coordinator.Config{Interval: time.Minute})

	st := c.Status()
	assert.Equal(t, 0, st.RecentAttempts)
	assert.Equal(t, 100.0, st.UptimePct)

	for range 4 {
		c.Refresh(context.Background())
	}
	st = c.Status()
	assert.Equal(t, 4, st.RecentAttempts)
	assert.Equal(t, 50.0, st.UptimePct)
}

func TestRefreshAsync_StartsOnceAndCompletes(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("2500", "02/03/2024"))
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))
	ctx := context.Background()

	release := p.Hold()
	defer release()

	require.True(t, c.RefreshAsync(ctx))
	select {
	case <-p.StatsEntered():
	case <-time.After(5 * time.Second):
		t.Fatal("background refresh never reached the portal")
	}
	assert.False(t, c.RefreshAsync(ctx), "second manual refresh is coalesced")
	assert.False(t, c.Refresh(ctx), "scheduled refresh is coalesced too")

	release()
	require.Eventually(t, func() bool {
		r, ok := c.CurrentReading()
		return ok && r.Value == 2500
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, p.StatsRequests())
}

func TestWait_BlocksUntilAsyncRefreshFinishes(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	c := newPortalCoordinator(t, p, "pw", clockwork.NewFakeClockAt(baseTime))
	ctx := context.Background()

	release := p.Hold()
	defer release()

	require.True(t, c.RefreshAsync(ctx))
	select {
	case <-p.StatsEntered():
	case <-time.After(5 * time.Second):
		t.Fatal("background refresh never reached the portal")
	}

	waited := make(chan error, 1)
	go func() { waited <- c.Wait(ctx) }()

	select {
	case <-waited:
		t.Fatal("Wait returned while a refresh was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	release()
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after the refresh finished")
	}
	_, ok := c.CurrentReading()
	assert.True(t, ok)
	require.NoError(t, c.Wait(ctx), "idle coordinator does not block")
}

func TestHolder_SwapRedirects(t *testing.T) {
	first := coordinator.New(&stubAuth{}, &stubFetcher{fn: fixedResult(1)}, coordinator.Config{Interval: time.Minute})
	second := coordinator.New(&stubAuth{}, &stubFetcher{fn: fixedResult(2)}, coordinator.Config{Interval: 2 * time.Minute})
	h := coordinator.NewHolder(first)

	first.Refresh(context.Background())
	r, ok := h.CurrentReading()
	require.True(t, ok)
	assert.Equal(t, 1.0, r.Value)

	prev := h.Swap(second)
	assert.Same(t, first, prev)
	assert.Same(t, second, h.Load())
	assert.Equal(t, 2, h.Status().IntervalMinutes)

	_, ok = h.CurrentReading()
	assert.False(t, ok, "the new coordinator has not fetched yet")

	require.True(t, h.RefreshAsync(context.Background()))
	require.Eventually(t, func() bool {
		r, ok := h.CurrentReading()
		return ok && r.Value == 2
	}, 2*time.Second, 5*time.Millisecond)
}
