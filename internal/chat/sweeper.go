package chat

import (
	"context"
	"time"
)

// StartPendingSweeper runs a background goroutine that periodically erases
// pending sessions whose device has been gone for longer than ttl.
func (h *Hub) StartPendingSweeper(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 || interval <= 0 {
		h.logger.Info("Pending sweeper disabled")
		return
	}
	ticker := h.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		h.logger.Info("Pending sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				h.SweepPending(ctx, ttl)
			case <-ctx.Done():
				h.logger.Info("Pending sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepPending erases disconnected, unapproved sessions idle for at least
// ttl and returns how many were dropped.
func (h *Hub) SweepPending(ctx context.Context, ttl time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return 0
	}

	now := h.clock.Now()
	swept := 0
	for _, sess := range h.ids.pending() {
		if sess.Connected || now.Sub(sess.UpdatedAt) < ttl {
			continue
		}
		h.ids.removeEntirely(sess.UserID)
		h.logger.Info("Pending sweeper dropped stale request", "user_id", sess.UserID, "name", sess.Name)
		swept++
	}
	if swept == 0 {
		return 0
	}

	h.flush(ctx)
	h.refreshAdmin()
	return swept
}
