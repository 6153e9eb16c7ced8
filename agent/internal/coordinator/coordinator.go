package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/obsidianstack/octo-agent/agent/internal/health"
	"github.com/obsidianstack/octo-agent/agent/internal/scraper"
	"github.com/obsidianstack/octo-agent/agent/internal/session"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Authenticator yields sessions for data requests. *session.Manager
// satisfies it.
type Authenticator interface {
	Ensure(ctx context.Context, creds session.Credentials) (*session.Session, error)
	Invalidate(s *session.Session)
}

// Fetcher retrieves the statistics page with a session. *scraper.Scraper
// satisfies it.
type Fetcher interface {
	Scrape(ctx context.Context, s *session.Session) (*scraper.ScrapeResult, error)
}

// ReadingSink persists each successful reading along with the account it
// was fetched for.
type ReadingSink interface {
	Save(ctx context.Context, username string, r types.Reading) error
}

// Config carries everything the coordinator is constructed with. It is fixed
// for the coordinator's lifetime; a reconfigure builds a new coordinator.
type Config struct {
	Credentials session.Credentials
	Interval    time.Duration

	// Clock drives the ticker and timestamps. Defaults to wall time.
	Clock clockwork.Clock

	// Sink, when set, receives every successful reading.
	Sink ReadingSink

	// Restored seeds the reading from a previous run.
	Restored *types.Reading
}

// Coordinator owns the polling cadence and the single latest Reading.
//
// States: idle (nothing in flight), fetching (a refresh is running) and
// errored (the last refresh failed; any previous reading is kept). Refreshes
// never overlap: a Refresh issued while one is in flight returns at once.
//
// All exported methods are safe for concurrent use.
type Coordinator struct {
	auth     Authenticator
	fetcher  Fetcher
	creds    session.Credentials
	interval time.Duration
	clock    clockwork.Clock
	sink     ReadingSink
	inflight *semaphore.Weighted
	outcomes *health.Window

	mu          sync.RWMutex
	state       types.CoordinatorState
	reading     *types.Reading
	lastErr     *types.FetchError
	lastAttempt time.Time
	lastSuccess time.Time
	failures    int
	errorCounts map[types.ErrorKind]int
}

// New returns an idle Coordinator.
func New(auth Authenticator, fetcher Fetcher, cfg Config) *Coordinator {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Coordinator{
		auth:        auth,
		fetcher:     fetcher,
		creds:       cfg.Credentials,
		interval:    cfg.Interval,
		clock:       clock,
		sink:        cfg.Sink,
		inflight:    semaphore.NewWeighted(1),
		outcomes:    health.NewWindow(health.DefaultWindow),
		state:       types.StateIdle,
		errorCounts: make(map[types.ErrorKind]int, len(types.ErrorKinds)),
	}
	if cfg.Restored != nil {
		r := *cfg.Restored
		c.reading = &r
		c.lastSuccess = r.FetchedAt
	}
	return c
}

// Run refreshes immediately, then once per interval until ctx is cancelled.
// A failed refresh is retried on the next tick; there is no extra backoff.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("coordinator: polling started", "interval", c.interval)
	c.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("coordinator: polling stopped")
			return
		case <-ticker.Chan():
			c.Refresh(ctx)
		}
	}
}

// Refresh performs one fetch cycle: ensure a session, scrape, store the
// reading. It reports whether a fetch was started; false means another
// refresh was already in flight and this call did nothing.
//
// Failures never escape: they move the coordinator to errored and are
// available from LastError.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	if !c.inflight.TryAcquire(1) {
		slog.Debug("coordinator: refresh already in flight, skipping")
		return false
	}
	defer c.inflight.Release(1)

	c.refresh(ctx)
	return true
}

// RefreshAsync is Refresh without waiting: it reports whether a refresh was
// started and runs it in the background. Used for manual refresh requests.
func (c *Coordinator) RefreshAsync(ctx context.Context) bool {
	if !c.inflight.TryAcquire(1) {
		slog.Debug("coordinator: refresh already in flight, skipping")
		return false
	}
	go func() {
		defer c.inflight.Release(1)
		c.refresh(ctx)
	}()
	return true
}

// Wait blocks until no refresh is in flight, including one started by
// RefreshAsync, or until ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inflight.Release(1)
	return nil
}

// refresh runs one cycle. The caller holds the in-flight slot.
func (c *Coordinator) refresh(ctx context.Context) {
	c.setState(types.StateFetching)
	started := c.clock.Now()

	reading, err := c.fetchOnce(ctx)
	now := c.clock.Now()
	c.outcomes.Record(err == nil)

	if err != nil {
		kind := session.Classify(err)
		c.mu.Lock()
		c.state = types.StateErrored
		c.lastAttempt = now
		c.lastErr = &types.FetchError{Kind: kind, Message: err.Error(), At: now}
		c.failures++
		c.errorCounts[kind]++
		failures, hasReading := c.failures, c.reading != nil
		c.mu.Unlock()

		level := slog.LevelWarn
		if kind == types.ErrorAuthentication {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "coordinator: refresh failed",
			"kind", kind,
			"err", err,
			"consecutive_failures", failures,
			"keeping_previous_reading", hasReading,
		)
		slog.Debug("coordinator: state transition", "from", types.StateFetching, "to", types.StateErrored)
		return
	}

	c.mu.Lock()
	c.state = types.StateIdle
	c.reading = &reading
	c.lastErr = nil
	c.lastAttempt = now
	c.lastSuccess = now
	c.failures = 0
	c.mu.Unlock()

	slog.Info("coordinator: reading updated",
		"km", reading.Value,
		"last_update", reading.LastUpdate(),
		"date_reported", reading.DateReported,
		"duration", now.Sub(started).Round(time.Millisecond),
	)
	slog.Debug("coordinator: state transition", "from", types.StateFetching, "to", types.StateIdle)

	if c.sink != nil {
		if err := c.sink.Save(ctx, c.creds.Username, reading); err != nil {
			slog.Warn("coordinator: persisting reading failed", "err", err)
		}
	}
}

// fetchOnce runs the session and scrape steps. A session the portal bounces
// is invalidated and the scrape retried once with a fresh login.
func (c *Coordinator) fetchOnce(ctx context.Context) (r types.Reading, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = session.TransportError("refresh", fmt.Errorf("panic: %v", v))
		}
	}()

	slog.Debug("coordinator: fetch attempt", "username", c.creds.Username)

	sess, err := c.auth.Ensure(ctx, c.creds)
	if err != nil {
		return types.Reading{}, err
	}

	res, err := c.fetcher.Scrape(ctx, sess)
	if errors.Is(err, scraper.ErrSessionExpired) {
		slog.Debug("coordinator: session bounced by portal, re-authenticating")
		c.auth.Invalidate(sess)
		if sess, err = c.auth.Ensure(ctx, c.creds); err != nil {
			return types.Reading{}, err
		}
		res, err = c.fetcher.Scrape(ctx, sess)
	}
	if err != nil {
		return types.Reading{}, err
	}
	return res.Reading(), nil
}

// Username returns the portal login this coordinator polls for.
func (c *Coordinator) Username() string {
	return c.creds.Username
}

// CurrentReading returns the last known good reading. ok is false only
// before the first successful fetch.
func (c *Coordinator) CurrentReading() (r types.Reading, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.reading == nil {
		return types.Reading{}, false
	}
	return *c.reading, true
}

// LastError returns the most recent failure, or nil if the last refresh
// succeeded or none has run.
func (c *Coordinator) LastError() *types.FetchError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastErr == nil {
		return nil
	}
	e := *c.lastErr
	return &e
}

// State returns the current lifecycle state.
func (c *Coordinator) State() types.CoordinatorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a copy of the coordinator's bookkeeping.
func (c *Coordinator) Status() types.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := types.Status{
		State:               c.state,
		LastAttempt:         c.lastAttempt,
		LastSuccess:         c.lastSuccess,
		ConsecutiveFailures: c.failures,
		ErrorCounts:         make(map[types.ErrorKind]int, len(types.ErrorKinds)),
		IntervalMinutes:     int(c.interval / time.Minute),
		UptimePct:           c.outcomes.UptimePct(),
		RecentAttempts:      c.outcomes.Len(),
	}
	for _, k := range types.ErrorKinds {
		st.ErrorCounts[k] = c.errorCounts[k]
	}
	if c.reading != nil {
		r := *c.reading
		st.Reading = &r
		st.Stale = c.state == types.StateErrored
	}
	if c.lastErr != nil {
		e := *c.lastErr
		st.LastError = &e
	}
	return st
}

func (c *Coordinator) setState(s types.CoordinatorState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	slog.Debug("coordinator: state transition", "from", prev, "to", s)
}
