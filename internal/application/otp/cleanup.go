package otp

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically prunes verification records whose retention window
// has passed. Expiry itself is evaluated lazily at verify time; the sweep
// only bounds storage growth.
type Sweeper struct {
	store    RecordStore
	interval time.Duration
}

func NewSweeper(store RecordStore, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				slog.Warn("record sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned verification records", "count", n)
			}
		}
	}
}
