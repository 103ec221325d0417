package conversation

import (
	"context"
	"log/slog"
	"time"
)

// RunGC periodically deletes conversations idle longer than maxAge. It blocks
// until ctx is cancelled and is meant to run in its own goroutine, started by
// the application wiring.
func RunGC(ctx context.Context, store Store, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.GC(ctx, maxAge)
			if err != nil {
				slog.Warn("conversation gc failed", "err", err)
				continue
			}
			if deleted > 0 {
				slog.Info("conversation gc", "deleted", deleted, "max_age", maxAge)
			}
		}
	}
}
