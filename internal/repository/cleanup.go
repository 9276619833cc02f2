package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
)

// StartCleanupWorker starts a background worker that prunes push tokens not refreshed within ttl
func StartCleanupWorker(ctx context.Context, tokens domain.PushTokenRepository, interval, ttl time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruneStaleTokens(ctx, tokens, ttl, logger)
			}
		}
	}()
}

func pruneStaleTokens(ctx context.Context, tokens domain.PushTokenRepository, ttl time.Duration, logger *zap.Logger) int64 {
	n, err := tokens.DeleteStalePushTokens(ctx, time.Now().Add(-ttl))
	if err != nil {
		logger.Warn("push token cleanup failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		logger.Info("pruned stale push tokens", zap.Int64("count", n))
	}
	return n
}
