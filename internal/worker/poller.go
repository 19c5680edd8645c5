package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Mapetere/latterpay/internal/flow"
	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/paynow"
	"github.com/Mapetere/latterpay/internal/store"
)

// StatusPoller is the slice of the gateway client the poller needs.
type StatusPoller interface {
	Poll(ctx context.Context, pollURL string) (paynow.PollResult, error)
}

// PaymentPoller resolves pending payments whose IPN never arrived by asking
// the gateway directly.
type PaymentPoller struct {
	store    store.PaymentStore
	gateway  StatusPoller
	notifier *flow.Notifier
	minAge   time.Duration
	batch    int
}

func NewPaymentPoller(st store.PaymentStore, gateway StatusPoller, notifier *flow.Notifier) *PaymentPoller {
	return &PaymentPoller{
		store:    st,
		gateway:  gateway,
		notifier: notifier,
		minAge:   time.Minute,
		batch:    20,
	}
}

func (p *PaymentPoller) Run(ctx context.Context) error {
	pending, err := p.store.ListPendingPayments(ctx, p.minAge, p.batch)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}

	for _, payment := range pending {
		if payment.Status != models.PaymentPending || payment.PollURL == "" {
			continue
		}
		result, err := p.gateway.Poll(ctx, payment.PollURL)
		if err != nil {
			logging.Logger.WithError(err).
				WithField("reference", payment.Reference).
				Warn("payment poll failed")
			continue
		}
		status := paynow.MapStatus(result.Status)
		if status == models.PaymentPending {
			continue
		}

		updated, err := p.store.UpdatePaymentStatus(ctx, store.StatusUpdateInput{
			Reference:       payment.Reference,
			Status:          status,
			PaynowReference: result.PaynowReference,
		})
		if err != nil {
			logging.Logger.WithError(err).
				WithField("reference", payment.Reference).
				Error("poll status update failed")
			continue
		}
		logging.Logger.WithField("reference", payment.Reference).
			WithField("status", status).
			Info("payment status resolved by polling")
		// The store keeps settled rows as they are; skip the notification
		// when the transition was refused.
		if updated.Status == status {
			p.notifier.PaymentStatusChanged(ctx, updated)
		}
	}
	return nil
}
