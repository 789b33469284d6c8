package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/port/releases"
)

// UpdaterStatus is the externally visible state of the auto-update loop.
type UpdaterStatus struct {
	LastCheck     *time.Time `json:"lastCheck"`
	LastUpdate    *time.Time `json:"lastUpdate"`
	LatestVersion string     `json:"latestVersion,omitempty"`
	IsChecking    bool       `json:"isChecking"`
	NextCheck     *time.Time `json:"nextCheck"`
}

// CheckResult is the outcome of one update cycle.
type CheckResult struct {
	Updated            bool     `json:"updated"`
	Version            string   `json:"version,omitempty"`
	RestartedInstances []string `json:"restartedInstances"`
	Skipped            bool     `json:"skipped,omitempty"`
	Message            string   `json:"message,omitempty"`
}

// Updater periodically pulls the newest release and restarts running
// instances pinned to the floating channel. Cycles are non-reentrant: a
// trigger while a cycle runs is a no-op.
type Updater struct {
	cfg      config.Updater
	index    releases.Index
	versions *VersionService
	engine   *InstanceService

	mu            sync.Mutex
	checking      bool
	lastCheck     *time.Time
	lastUpdate    *time.Time
	latestVersion string

	cron    *cron.Cron
	entry   cron.EntryID
	started time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewUpdater creates the auto-updater.
func NewUpdater(cfg config.Updater, index releases.Index, versions *VersionService, engine *InstanceService) *Updater {
	return &Updater{
		cfg:      cfg,
		index:    index,
		versions: versions,
		engine:   engine,
		cron:     cron.New(),
		stop:     make(chan struct{}),
	}
}

// Start arms the schedule: one cycle after the initial delay, then one per
// interval.
func (u *Updater) Start() {
	if !u.cfg.Enabled {
		slog.Info("auto-updater disabled")
		return
	}

	u.started = time.Now()
	u.entry = u.cron.Schedule(cron.Every(u.cfg.Interval), cron.FuncJob(u.runCycle))

	go func() {
		select {
		case <-time.After(u.cfg.InitialDelay):
		case <-u.stop:
			return
		}
		u.runCycle()
		u.cron.Start()
	}()

	slog.Info("auto-updater armed",
		"initial_delay", u.cfg.InitialDelay, "interval", u.cfg.Interval)
}

// Stop halts the schedule. In-flight cycles finish on their own.
func (u *Updater) Stop() {
	u.once.Do(func() {
		close(u.stop)
		u.cron.Stop()
	})
}

func (u *Updater) runCycle() {
	if _, err := u.Check(context.Background()); err != nil {
		slog.Warn("auto-update cycle failed", "error", err)
	}
}

// Check performs one immediate cycle. A concurrent call returns a skipped
// result without touching state.
func (u *Updater) Check(ctx context.Context) (*CheckResult, error) {
	u.mu.Lock()
	if u.checking {
		u.mu.Unlock()
		return &CheckResult{Skipped: true, Message: "already checking, skipped"}, nil
	}
	u.checking = true
	now := time.Now()
	u.lastCheck = &now
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.checking = false
		u.mu.Unlock()
	}()

	rel, err := u.index.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("query latest release: %w", err)
	}

	u.mu.Lock()
	u.latestVersion = rel.Tag
	u.mu.Unlock()

	if u.versions.IsInstalled(rel.Tag) {
		return &CheckResult{Updated: false, Version: rel.Tag, RestartedInstances: []string{}}, nil
	}

	tag, err := u.versions.Install(ctx, rel.Tag)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", rel.Tag, err)
	}

	u.mu.Lock()
	updated := time.Now()
	u.lastUpdate = &updated
	u.mu.Unlock()

	restarted, err := u.restartPinned(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("auto-update applied", "version", tag, "restarted", len(restarted))
	return &CheckResult{Updated: true, Version: tag, RestartedInstances: restarted}, nil
}

// restartPinned restarts running instances on the floating channel, bounded
// to avoid a thundering-herd spawn.
func (u *Updater) restartPinned(ctx context.Context) ([]string, error) {
	pinned, err := u.engine.LatestPinnedRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pinned instances: %w", err)
	}

	restarted := make([]string, 0, len(pinned))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(u.cfg.RestartConcurrency, 1))
	for _, inst := range pinned {
		g.Go(func() error {
			if _, err := u.engine.Restart(ctx, inst.ID); err != nil {
				slog.Error("post-update restart failed", "id", inst.ID, "key", inst.Key, "error", err)
				return nil
			}
			mu.Lock()
			restarted = append(restarted, inst.Key)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return restarted, nil
}

// Status reports the loop state.
func (u *Updater) Status() UpdaterStatus {
	u.mu.Lock()
	defer u.mu.Unlock()

	st := UpdaterStatus{
		LastCheck:     u.lastCheck,
		LastUpdate:    u.lastUpdate,
		LatestVersion: u.latestVersion,
		IsChecking:    u.checking,
	}

	if u.cfg.Enabled {
		if next := u.cron.Entry(u.entry).Next; !next.IsZero() {
			st.NextCheck = &next
		} else if !u.started.IsZero() {
			first := u.started.Add(u.cfg.InitialDelay)
			st.NextCheck = &first
		}
	}
	return st
}
