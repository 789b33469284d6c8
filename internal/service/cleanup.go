package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/port/database"
)

// CleanupService purges per-instance volatile caches on a daily schedule:
// downloaded media images under storages/ and everything under
// statics/media/. Individual file errors are logged and do not abort the
// sweep.
type CleanupService struct {
	store database.Store
	data  config.Data
	cfg   config.Cleanup

	cron *cron.Cron
	once sync.Once
}

// NewCleanupService creates the scheduler.
func NewCleanupService(store database.Store, data config.Data, cfg config.Cleanup) *CleanupService {
	return &CleanupService{
		store: store,
		data:  data,
		cfg:   cfg,
		cron:  cron.New(),
	}
}

// Start arms the cron schedule (local time).
func (c *CleanupService) Start() error {
	if !c.cfg.Enabled {
		slog.Info("cleanup scheduler disabled")
		return nil
	}

	if _, err := c.cron.AddFunc(c.cfg.Schedule, func() {
		c.Sweep(context.Background())
	}); err != nil {
		return err
	}
	c.cron.Start()

	slog.Info("cleanup scheduler armed", "schedule", c.cfg.Schedule)
	return nil
}

// Stop halts the schedule.
func (c *CleanupService) Stop() {
	c.once.Do(func() { c.cron.Stop() })
}

// Sweep runs one purge over every instance working directory.
func (c *CleanupService) Sweep(ctx context.Context) {
	instances, err := c.store.ListInstances(ctx)
	if err != nil {
		slog.Error("cleanup sweep: list instances", "error", err)
		return
	}

	var files, dirs int
	for _, inst := range instances {
		dir := c.data.InstanceDir(inst.ID)
		f := c.sweepImages(filepath.Join(dir, "storages"))
		fm, dm := c.sweepMedia(filepath.Join(dir, "statics", "media"))
		files += f + fm
		dirs += dm
	}

	slog.Info("cleanup sweep done", "instances", len(instances), "files", files, "dirs", dirs)
}

// sweepImages deletes *.jpg and *.jpeg files under root.
func (c *CleanupService) sweepImages(root string) int {
	removed := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".jpg" && ext != ".jpeg" {
			return nil
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("cleanup remove", "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("cleanup walk", "root", root, "error", err)
	}
	return removed
}

// sweepMedia deletes all regular files and subdirectories directly under
// root, keeping root itself.
func (c *CleanupService) sweepMedia(root string) (files, dirs int) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cleanup read dir", "root", root, "error", err)
		}
		return 0, 0
	}

	for _, e := range entries {
		path := filepath.Join(root, e.Name())
		if e.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				slog.Warn("cleanup remove dir", "path", path, "error", err)
				continue
			}
			dirs++
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("cleanup remove", "path", path, "error", err)
			continue
		}
		files++
	}
	return files, dirs
}
