package assets

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Sweeper deletes published assets once they outlive their retention window.
// The detector only needs an upload reachable for the moments between
// publish and classification; keeping files forever is a storage leak.
type Sweeper struct {
	dir      string
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper for the upload directory. The sweep interval
// is derived from the TTL and clamped to [1m, 1h].
func NewSweeper(dir string, ttl time.Duration, logger *zap.Logger) *Sweeper {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	return &Sweeper{
		dir:      dir,
		ttl:      ttl,
		interval: interval,
		logger:   logger.Named("sweeper"),
	}
}

// Run sweeps on a fixed interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.SweepOnce(time.Now())
			if err != nil {
				s.logger.Warn("sweep failed", zap.Error(err))
			} else if removed > 0 {
				s.logger.Info("swept expired uploads", zap.Int("removed", removed))
			}
		}
	}
}

// SweepOnce removes every regular file in the upload directory whose
// modification time is older than the TTL and reports how many went.
func (s *Sweeper) SweepOnce(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-s.ttl)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Warn("failed to remove expired upload",
				zap.String("name", entry.Name()),
				zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
