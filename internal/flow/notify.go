package flow

import (
	"context"
	"fmt"

	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/whatsapp"
)

// Notifier pushes payment outcome messages to the donor and the finance team.
type Notifier struct {
	Sender       whatsapp.Sender
	FinancePhone string
}

// PaymentStatusChanged tells the donor, and on completion also the finance
// phone. Send failures are logged, not returned: a missed notification must
// not fail the status update.
func (n *Notifier) PaymentStatusChanged(ctx context.Context, payment models.Payment) {
	if n == nil || n.Sender == nil {
		return
	}
	var message string
	switch payment.Status {
	case models.PaymentCompleted:
		message = receiptText(payment)
	case models.PaymentFailed:
		message = fmt.Sprintf("❌ *Payment Failed*\n\nYour payment `%s` could not be completed.\nNo money left your account.\n\nType *menu* to try again.", payment.Reference)
	case models.PaymentCancelled:
		message = fmt.Sprintf("🚫 *Payment Cancelled*\n\nYour payment `%s` was cancelled.\n\nType *menu* whenever you're ready.", payment.Reference)
	default:
		return
	}
	if err := n.Sender.SendText(ctx, payment.Phone, message); err != nil {
		logging.Logger.WithError(err).WithField("reference", payment.Reference).Warn("donor notification failed")
	}

	if payment.Status == models.PaymentCompleted && n.FinancePhone != "" {
		notice := fmt.Sprintf(
			"💰 *Payment Received*\n\n👤 %s (%s)\n🎯 %s\n💵 %s %s\n🔢 `%s`",
			payment.Name, payment.Congregation, payment.DonationType,
			payment.Currency, payment.Amount.StringFixed(2), payment.Reference,
		)
		if err := n.Sender.SendText(ctx, n.FinancePhone, notice); err != nil {
			logging.Logger.WithError(err).Warn("finance notification failed")
		}
	}
}

func receiptText(payment models.Payment) string {
	return fmt.Sprintf(
		"✅ *Payment Successful!*\n\n🙏 Thank you, *%s*!\n\n📋 *Receipt*\n🎯 %s\n💰 %s %s\n🔢 `%s`\n\nGod bless you! 🙏",
		payment.Name, payment.DonationType,
		payment.Currency, payment.Amount.StringFixed(2), payment.Reference,
	)
}
