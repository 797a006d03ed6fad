package services

import (
	"context"
	"log/slog"
	"time"

	"ticket-reconciler/internal/store"
)

// PendingSweeper periodically polls purchases that stayed pending, covering
// webhooks that never arrived.
type PendingSweeper struct {
	store    store.Store
	poll     *PollEntry
	interval time.Duration
	minAge   time.Duration
	batch    int
	now      func() time.Time
}

func NewPendingSweeper(s store.Store, poll *PollEntry, interval, minAge time.Duration, batch int) *PendingSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if minAge <= 0 {
		minAge = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &PendingSweeper{
		store:    s,
		poll:     poll,
		interval: interval,
		minAge:   minAge,
		batch:    batch,
		now:      time.Now,
	}
}

func (s *PendingSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce polls one batch and returns how many purchases changed status.
func (s *PendingSweeper) SweepOnce(ctx context.Context) int {
	stale, err := s.store.ListStalePending(ctx, s.now().Add(-s.minAge), s.batch)
	if err != nil {
		slog.Error("sweeper: list pending purchases", "error", err)
		return 0
	}

	updated := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		res, err := s.poll.force(ctx, p.ID, SourceSweeper)
		if err != nil {
			slog.Warn("sweeper: poll failed", "purchase_id", p.ID, "error", err)
			continue
		}
		if res.Updated {
			updated++
		}
	}

	if len(stale) > 0 {
		slog.Info("sweeper: pass finished", "checked", len(stale), "updated", updated)
	}
	return updated
}
