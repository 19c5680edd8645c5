package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/store"
)

// DedupCleanup drops processed message IDs past the retention window.
type DedupCleanup struct {
	dedup     store.DedupStore
	retention time.Duration
	now       func() time.Time
}

func NewDedupCleanup(dedup store.DedupStore, retention time.Duration) *DedupCleanup {
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &DedupCleanup{dedup: dedup, retention: retention, now: time.Now}
}

func (c *DedupCleanup) Run(ctx context.Context) error {
	cutoff := c.now().Add(-c.retention)
	purged, err := c.dedup.PurgeMessagesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	if purged > 0 {
		logging.Logger.WithField("purged", purged).Debug("dedup records cleaned")
	}
	return nil
}
