// Package worker holds the background loops: session timeout monitoring,
// pending payment polling, and dedup record cleanup.
package worker

import (
	"context"
	"time"

	"github.com/Mapetere/latterpay/internal/logging"
)

// Runner is one unit of periodic work.
type Runner interface {
	Run(ctx context.Context) error
}

// Start runs the worker on a fixed interval until the context is cancelled.
func Start(ctx context.Context, name string, interval time.Duration, r Runner) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Logger.WithField("worker", name).Info("worker stopped")
			return
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				logging.Logger.WithError(err).WithField("worker", name).Error("worker run failed")
			}
		}
	}
}
