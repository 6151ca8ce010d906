package runtime

import (
	"context"
	"errors"
	"time"

	"sentinel/internal/support"
	"sentinel/internal/traffic"

	"github.com/charmbracelet/log"
)

const (
	blockRefreshInterval = 5 * time.Minute
	blockRefreshLockKey  = "sentinel:leader:block_refresh"
)

// StartBlockRefreshRoutine periodically re-reads the blocked sets from the
// store on the leader instance, so blocks issued elsewhere reach this
// instance's in-memory sets.
func StartBlockRefreshRoutine(ctx context.Context, engine *traffic.Engine) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := support.RunWithLeader(ctx, blockRefreshLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runBlockRefreshLoop(leaderCtx, engine)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Block refresh routine stopped", "error", err)
	}
}

func runBlockRefreshLoop(ctx context.Context, engine *traffic.Engine) {
	ticker := time.NewTicker(blockRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runBlockRefreshOnce(ctx, engine)
		}
	}
}

func runBlockRefreshOnce(ctx context.Context, engine *traffic.Engine) {
	start := time.Now()
	if err := engine.Refresh(ctx); err != nil {
		log.Error("Failed to refresh blocked sets", "error", err)
		return
	}
	log.Info("Blocked sets refreshed", "duration", time.Since(start))
}
