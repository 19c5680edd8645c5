package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Mapetere/latterpay/internal/logging"
)

const (
	retryInitialInterval = 1 * time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxTries        = 4 // first attempt plus three retries
)

// Retry runs fn with exponential backoff. Wrap unrecoverable errors with
// backoff.Permanent to stop retrying early.
func Retry(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.Multiplier = 2
	policy.MaxInterval = retryMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(retryMaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logging.Logger.WithField("op", name).
				WithField("wait", wait.String()).
				WithError(err).
				Warn("retrying after failure")
		}),
	)
	return err
}
