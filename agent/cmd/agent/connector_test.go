package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/octo-agent/agent/internal/config"
	"github.com/obsidianstack/octo-agent/agent/internal/coordinator"
	"github.com/obsidianstack/octo-agent/agent/internal/octotest"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

func agentConfig(p *octotest.Portal) config.AgentConfig {
	return config.AgentConfig{
		Username:     p.Username,
		Password:     p.Password,
		ScanInterval: 60,
		BaseURL:      p.BaseURL(),
		Storage:      config.StorageConfig{Backend: "memory"},
	}
}

func waitForReading(t *testing.T, h *coordinator.Holder, km float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, ok := h.CurrentReading()
		return ok && r.Value == km
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnector_PollsPortal(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("4242", "01/03/2024"))

	c, err := buildConnector(agentConfig(p), nil)
	require.NoError(t, err)
	c.start(context.Background())
	defer c.stop()

	waitForReading(t, coordinator.NewHolder(c.coord), 4242)
}

func TestConnector_SqliteRestoresAcrossRestart(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("777", "01/03/2024"))
	a := agentConfig(p)
	a.Storage = config.StorageConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "octo.db")}

	first, err := buildConnector(a, nil)
	require.NoError(t, err)
	first.start(context.Background())
	waitForReading(t, coordinator.NewHolder(first.coord), 777)
	require.Eventually(t, func() bool {
		_, ok, err := first.store.Load(context.Background(), "driver")
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)
	first.stop()

	second, err := buildConnector(a, nil)
	require.NoError(t, err)
	defer second.stop()
	r, ok := second.coord.CurrentReading()
	require.True(t, ok, "reading restored before any fetch")
	assert.Equal(t, 777.0, r.Value)
}

type levelSink struct{ got slog.Level }

func (l *levelSink) Set(v slog.Level) { l.got = v }

func TestReloader_RebuildSwapsCoordinator(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("100", "01/03/2024"))
	a := agentConfig(p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildConnector(a, nil)
	require.NoError(t, err)
	c.start(ctx)
	holder := coordinator.NewHolder(c.coord)
	waitForReading(t, holder, 100)

	lv := &levelSink{}
	retuned := 0
	rl := newReloader(ctx, holder, lv, func(config.AgentConfig) { retuned++ }, a, c)
	defer rl.shutdown()

	// Log level only: applied in place.
	next := a
	next.LogLevel = "debug"
	rl.apply(&config.Config{Agent: next})
	assert.Equal(t, slog.LevelDebug, lv.got)
	assert.Same(t, c.coord, holder.Load())

	// New interval: a fresh coordinator takes over, seeded with the old reading.
	p.SetStats(octotest.StatsPage("200", "02/03/2024"))
	next.ScanInterval = 30
	rl.apply(&config.Config{Agent: next})
	assert.NotSame(t, c.coord, holder.Load())
	assert.Equal(t, 30*time.Minute, time.Duration(holder.Status().IntervalMinutes)*time.Minute)
	waitForReading(t, holder, 200)
	assert.Equal(t, 2, retuned)
	assert.Equal(t, 30, rl.settings().ScanInterval)
}

func TestConnector_SqliteDoesNotRestoreAnotherAccount(t *testing.T) {
	p := octotest.NewPortal(t, "alice", "pw")
	p.SetStats(octotest.StatsPage("777", "01/03/2024"))
	path := filepath.Join(t.TempDir(), "octo.db")
	ctx := context.Background()

	alice := agentConfig(p)
	alice.Storage = config.StorageConfig{Backend: "sqlite", Path: path}
	first, err := buildConnector(alice, nil)
	require.NoError(t, err)
	require.True(t, first.coord.Refresh(ctx))
	_, ok, err := first.store.Load(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	first.stop()

	bob := alice
	bob.Username = "bob"
	bob.Password = "wrong"
	second, err := buildConnector(bob, nil)
	require.NoError(t, err)

	_, ok = second.coord.CurrentReading()
	assert.False(t, ok, "nothing restored for a different account")

	second.coord.Refresh(ctx)
	_, ok = second.coord.CurrentReading()
	assert.False(t, ok, "rejected login still serves no reading")
	require.NotNil(t, second.coord.LastError())
	assert.Equal(t, types.ErrorAuthentication, second.coord.LastError().Kind)

	// Switching back restores alice's reading.
	second.stop()
	third, err := buildConnector(alice, nil)
	require.NoError(t, err)
	defer third.stop()
	r, ok := third.coord.CurrentReading()
	require.True(t, ok)
	assert.Equal(t, 777.0, r.Value)
}

func TestReloader_FailedRebuildKeepsRunningPipeline(t *testing.T) {
	p := octotest.NewPortal(t, "driver", "pw")
	p.SetStats(octotest.StatsPage("100", "01/03/2024"))
	a := agentConfig(p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildConnector(a, nil)
	require.NoError(t, err)
	c.start(ctx)
	holder := coordinator.NewHolder(c.coord)
	waitForReading(t, holder, 100)

	rl := newReloader(ctx, holder, &levelSink{}, nil, a, c)
	defer rl.shutdown()

	next := a
	next.Storage = config.StorageConfig{
		Backend: "sqlite",
		Path:    filepath.Join(t.TempDir(), "missing", "dir", "octo.db"),
	}
	rl.apply(&config.Config{Agent: next})

	assert.Same(t, c.coord, holder.Load())
	assert.Equal(t, "memory", rl.settings().Storage.Backend)
	select {
	case <-c.done:
		t.Fatal("previous pipeline stopped after a failed rebuild")
	default:
	}
}
