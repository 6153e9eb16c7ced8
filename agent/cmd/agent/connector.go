package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/obsidianstack/octo-agent/agent/internal/config"
	"github.com/obsidianstack/octo-agent/agent/internal/coordinator"
	"github.com/obsidianstack/octo-agent/agent/internal/scraper"
	"github.com/obsidianstack/octo-agent/agent/internal/session"
	"github.com/obsidianstack/octo-agent/agent/internal/store"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

// connector is one fully wired polling pipeline: session manager, scraper,
// coordinator and optional store, built from a single AgentConfig.
type connector struct {
	coord  *coordinator.Coordinator
	store  *store.Store
	cancel context.CancelFunc
	done   chan struct{}
}

// buildConnector wires a connector for a. seed, when non-nil, is served until
// the first refresh completes. A reading stored for the same account replaces
// seed when it was fetched later. seed must belong to a.Username.
func buildConnector(a config.AgentConfig, seed *types.Reading) (*connector, error) {
	mgr, err := session.NewManager(a.BaseURL,
		session.WithTransport(session.NewTransport(a.TLS.InsecureSkipVerify)),
	)
	if err != nil {
		return nil, err
	}

	c := &connector{}
	cfg := coordinator.Config{
		Credentials: session.Credentials{Username: a.Username, Password: a.Secret()},
		Interval:    a.Interval(),
		Restored:    seed,
	}

	if a.Storage.Backend == "sqlite" {
		st, err := store.Open(a.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		r, ok, err := st.Load(context.Background(), a.Username)
		switch {
		case err != nil:
			slog.Warn("agent: could not restore reading", "err", err)
		case ok && (seed == nil || r.FetchedAt.After(seed.FetchedAt)):
			slog.Info("agent: restored reading", "km", r.Value, "last_update", r.LastUpdate())
			cfg.Restored = &r
		}
		cfg.Sink = st
		c.store = st
	}

	c.coord = coordinator.New(mgr, scraper.New(mgr.Endpoints().Statistics, nil), cfg)
	return c, nil
}

// start runs the coordinator's polling loop until stop or parent is done.
func (c *connector) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.coord.Run(ctx)
	}()
}

// stop cancels the polling loop, waits for it and for any manual refresh
// still in flight, then closes the store.
func (c *connector) stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	_ = c.coord.Wait(context.Background())
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			slog.Warn("agent: closing store failed", "err", err)
		}
	}
}

// reloader applies config file changes to a running agent. Changes that
// affect the polling pipeline rebuild the connector; log level and broadcast
// interval apply in place.
type reloader struct {
	ctx     context.Context
	holder  *coordinator.Holder
	level   interface{ Set(slog.Level) }
	retune  func(a config.AgentConfig)
	mu      sync.Mutex
	current config.AgentConfig
	active  *connector

	// live mirrors current for readers that must not wait on a rebuild.
	live atomic.Pointer[config.AgentConfig]
}

func newReloader(ctx context.Context, holder *coordinator.Holder, level interface{ Set(slog.Level) },
	retune func(config.AgentConfig), current config.AgentConfig, active *connector) *reloader {
	r := &reloader{
		ctx:     ctx,
		holder:  holder,
		level:   level,
		retune:  retune,
		current: current,
		active:  active,
	}
	r.live.Store(&current)
	return r
}

// settings returns the config currently in effect.
func (r *reloader) settings() config.AgentConfig {
	return *r.live.Load()
}

func (r *reloader) apply(updated *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := updated.Agent
	r.level.Set(next.SlogLevel())
	if r.retune != nil {
		r.retune(next)
	}

	if next.HTTPPort != r.current.HTTPPort || next.Auth != r.current.Auth {
		slog.Warn("agent: http_port and auth changes take effect on restart")
	}

	if !config.RequiresRebuild(r.current, next) {
		slog.Info("agent: config reloaded", "log_level", next.LogLevel)
		r.current = next
		r.live.Store(&next)
		return
	}

	// Same account: keep serving the last reading while the new pipeline
	// performs its first refresh.
	var seed *types.Reading
	if next.Username == r.current.Username {
		if reading, ok := r.active.coord.CurrentReading(); ok {
			seed = &reading
		}
	}

	// The new pipeline is built before the old one stops, so a failed
	// rebuild leaves the running pipeline untouched.
	c, err := buildConnector(next, seed)
	if err != nil {
		slog.Error("agent: rebuild failed, keeping previous pipeline", "err", err)
		return
	}
	c.start(r.ctx)
	old := r.active
	r.holder.Swap(c.coord)
	r.active = c
	r.current = next
	r.live.Store(&next)
	old.stop()

	slog.Info("agent: connector rebuilt",
		"username", next.Username,
		"scan_interval_min", next.ScanInterval,
		"base_url", next.BaseURL,
		"storage", next.Storage.Backend,
	)
}

// shutdown stops the active connector.
func (r *reloader) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		r.active.stop()
	}
}
