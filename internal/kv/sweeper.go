package kv

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically reaps expired entries from a set of stores.
// It runs until its context is cancelled.
type Sweeper struct {
	interval time.Duration
	stores   map[string]Store
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the named stores.
func NewSweeper(interval time.Duration, stores map[string]Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		interval: interval,
		stores:   stores,
		logger:   logger,
	}
}

// Run sweeps every interval until ctx is done. It always returns nil so it
// can sit in an errgroup next to the HTTP server.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(time.Now())
		case <-ctx.Done():
			return nil
		}
	}
}

// SweepOnce sweeps every store once and returns the total removed.
func (s *Sweeper) SweepOnce(now time.Time) int {
	total := 0

	for name, store := range s.stores {
		n, err := store.Sweep(now)
		if err != nil {
			s.logger.Warn("sweep failed",
				slog.String("store", name),
				slog.String("error", err.Error()),
			)

			continue
		}

		if n > 0 {
			s.logger.Debug("swept expired entries",
				slog.String("store", name),
				slog.Int("removed", n),
			)
		}

		total += n
	}

	return total
}
