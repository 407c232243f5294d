package core

// scheduler.go runs background maintenance. Export artifacts are written to
// the export directory and kept until they are older than the retention
// period. The scheduler logs failures and keeps running.

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanupConfig holds configuration for the export cleanup scheduler.
type CleanupConfig struct {
	Retention     time.Duration // Age after which artifacts are removed (default: 24h)
	CheckInterval time.Duration // How often to run (default: 1h)
}

func (c CleanupConfig) withDefaults() CleanupConfig {
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartExportCleanup removes expired export artifacts immediately and then
// every CheckInterval until ctx is cancelled. It blocks; run it in its own
// goroutine.
func (s *Service) StartExportCleanup(ctx context.Context, cfg CleanupConfig) {
	cfg = cfg.withDefaults()
	s.logger.Info("export cleanup scheduler started",
		"dir", s.opts.ExportDir,
		"retention", cfg.Retention,
		"interval", cfg.CheckInterval,
	)

	s.runCleanup(cfg.Retention)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("export cleanup scheduler stopped")
			return
		case <-ticker.C:
			s.runCleanup(cfg.Retention)
		}
	}
}

func (s *Service) runCleanup(retention time.Duration) {
	start := time.Now()
	removed, err := RemoveExpiredExports(s.opts.ExportDir, time.Now().Add(-retention))
	if err != nil {
		s.logger.Error("export cleanup failed", "error", err)
		return
	}
	s.logger.Info("export cleanup completed",
		"files_removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// RemoveExpiredExports deletes regular files in dir last modified before
// cutoff and returns how many were removed. A missing dir is not an error.
func RemoveExpiredExports(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Debug("removed export artifact", "file", e.Name(), "modified", info.ModTime())
		removed++
	}
	return removed, errors.Join(errs...)
}
