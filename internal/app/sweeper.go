package app

import (
	"context"
	"log"
	"time"

	"github.com/paybridge/oracle-service/internal/store"
)

// RunExpirySweeper periodically flips pending payments past their deadline to
// expired so that storage reflects reality even when nobody polls them.
// Blocks until ctx is cancelled.
func RunExpirySweeper(ctx context.Context, repo store.Repository, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanupExpiredPayments(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("level=warn component=sweeper msg=\"expiry sweep failed\" error=%q", err)
				continue
			}
			if n > 0 {
				log.Printf("level=info component=sweeper msg=\"expired stale payments\" count=%d", n)
			}
		}
	}
}
