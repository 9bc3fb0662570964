package authkit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RevocationJanitor periodically drops revocation records whose refresh token has expired.
// Expired tokens fail decoding before storage is consulted, so their records are dead weight.
type RevocationJanitor struct {
	store    RevocationStore
	clock    Clock
	interval time.Duration
	logger   *zap.Logger
}

// NewRevocationJanitor builds a janitor; a non-positive interval disables it.
func NewRevocationJanitor(store RevocationStore, clock Clock, interval time.Duration, logger *zap.Logger) *RevocationJanitor {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationJanitor{store: store, clock: clock, interval: interval, logger: logger}
}

// Run purges on every tick until ctx is done.
func (janitor *RevocationJanitor) Run(ctx context.Context) {
	if janitor.interval <= 0 {
		return
	}
	ticker := time.NewTicker(janitor.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			janitor.PurgeOnce(ctx)
		}
	}
}

// PurgeOnce runs a single purge pass and returns the number of removed records.
func (janitor *RevocationJanitor) PurgeOnce(ctx context.Context) int64 {
	purged, err := janitor.store.PurgeExpired(ctx, janitor.clock.Now())
	if err != nil {
		janitor.logger.Warn("revocation purge failed",
			zap.String("code", "revocation.purge.failure"),
			zap.Error(err))
		return 0
	}
	if purged > 0 {
		janitor.logger.Info("revocation records purged",
			zap.String("code", "revocation.purge.success"),
			zap.Int64("purged", purged))
	}
	return purged
}
