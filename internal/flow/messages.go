package flow

import (
	"fmt"
	"strings"

	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/store"
)

const helpText = `❓ *LatterPay Help*

*Quick Commands:*
• *menu* - Show main menu
• *donate* - Start a donation
• *register* - Register as volunteer
• *history* - Your recent payments
• *status* - Check your last payment
• *cancel* - Cancel current action

*Quick Donate:*
You can also say things like:
_"donate 50 for conference"_
_"100 monthly contribution"_`

const cancelledText = `❌ *Cancelled*

No worries! Type *menu* whenever you're ready to start again.

Have a blessed day! 🙏`

func welcomeBackText(name string) string {
	return fmt.Sprintf("Welcome back, *%s*! 🙏", name)
}

func welcomeText(name string) string {
	if name != "" {
		return fmt.Sprintf("Hi *%s*! Welcome to *LatterPay* 🙏", name)
	}
	return "Welcome to *LatterPay*! 🙏"
}

func savedDetailsText(name, congregation string) string {
	return fmt.Sprintf("💡 *Your saved details:*\n• Name: %s\n• Congregation: %s", name, congregation)
}

// purposeMenuText lists the donation purposes as a numbered reply menu.
func purposeMenuText() string {
	var b strings.Builder
	b.WriteString("🎯 *What is this donation for?*\n\n")
	for i, purpose := range models.DonationTypes {
		fmt.Fprintf(&b, "*%d.* %s\n", i+1, purpose)
	}
	b.WriteString("\n_Reply with a number_")
	return b.String()
}

func amountPromptText(maxAmount string) string {
	return fmt.Sprintf("💰 How much would you like to donate?\n\nJust type the amount (e.g., *50* or *100*)\n_Maximum per transaction: %s_", maxAmount)
}

func confirmationText(data map[string]string) string {
	currency := data["currency"]
	if currency == "" {
		currency = models.CurrencyZWG
	}
	symbol := currency + " "
	if currency == models.CurrencyUSD {
		symbol = "$"
	}
	summary := fmt.Sprintf(
		"📋 *Payment Summary*\n\n👤 *Name:* %s\n🏛️ *Congregation:* %s\n🎯 *Purpose:* %s\n💰 *Amount:* %s%s",
		data["name"], data["congregation"], data["purpose"], symbol, data["amount"],
	)
	if note := data["note"]; note != "" {
		summary += "\n📝 *Note:* " + note
	}
	return summary + "\n\nTap ✅ to proceed to payment"
}

func paymentInstructionsText(payment models.Payment, instructions string) string {
	if instructions == "" {
		instructions = fmt.Sprintf("Check your phone for the *%s* prompt and enter your PIN to approve the payment.", payment.Method)
	}
	return fmt.Sprintf(
		"📱 *Payment Initiated*\n\n%s\n\n🔢 Reference: `%s`\n\n_Reply *status* anytime to check your payment._",
		instructions, payment.Reference,
	)
}

var statusEmoji = map[string]string{
	models.PaymentCompleted: "✅",
	models.PaymentPending:   "⏳",
	models.PaymentFailed:    "❌",
	models.PaymentCancelled: "🚫",
}

func emojiFor(status string) string {
	if e, ok := statusEmoji[status]; ok {
		return e
	}
	return "❓"
}

// FormatHistory renders the last payments for WhatsApp display, five at most.
func FormatHistory(payments []models.Payment) string {
	if len(payments) == 0 {
		return "📭 *No Payment History*\n\nYou haven't made any payments yet."
	}
	lines := []string{"📋 *Your Payment History*"}
	shown := payments
	if len(shown) > 5 {
		shown = shown[:5]
	}
	for i, p := range shown {
		lines = append(lines,
			fmt.Sprintf("\n*%d.* %s %s", i+1, emojiFor(p.Status), p.DonationType),
			fmt.Sprintf("   💰 %s %s", p.Currency, p.Amount.StringFixed(2)),
			fmt.Sprintf("   📅 %s", p.CreatedAt.Format("2006-01-02")),
			fmt.Sprintf("   🔢 `%s`", p.Reference),
		)
	}
	if len(payments) > 5 {
		lines = append(lines, fmt.Sprintf("\n_...and %d more transactions_", len(payments)-5))
	}
	return strings.Join(lines, "\n")
}

func formatPaymentStatus(p models.Payment) string {
	label := map[string]string{
		models.PaymentCompleted: "Completed - thank you! 🙏",
		models.PaymentPending:   "Pending - waiting for approval on your phone",
		models.PaymentFailed:    "Failed",
		models.PaymentCancelled: "Cancelled",
	}[p.Status]
	if label == "" {
		label = p.Status
	}
	return fmt.Sprintf(
		"%s *Payment %s*\n\n🎯 %s\n💰 %s %s\n🔢 `%s`\n\nStatus: %s",
		emojiFor(p.Status), titleWord(p.Status), p.DonationType,
		p.Currency, p.Amount.StringFixed(2), p.Reference, label,
	)
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FormatAdminReport renders the trailing-window statistics for the admin.
func FormatAdminReport(stats store.Statistics) string {
	usd := stats.ByCurrency[models.CurrencyUSD]
	zwg := stats.ByCurrency[models.CurrencyZWG]
	lines := []string{
		"📊 *PAYMENT STATISTICS*",
		fmt.Sprintf("\n📅 *Period:* Last %d days", stats.PeriodDays),
		"",
		"💰 *Totals:*",
		fmt.Sprintf("   • USD: $%s", usd.Total.StringFixed(2)),
		fmt.Sprintf("   • ZWG: ZWG %s", zwg.Total.StringFixed(2)),
		"",
		"📈 *Transactions:*",
		fmt.Sprintf("   • Total: %d", stats.Totals.Transactions),
		fmt.Sprintf("   • Successful: %d ✅", stats.Totals.Successful),
		fmt.Sprintf("   • Failed: %d ❌", stats.Totals.Failed),
		fmt.Sprintf("   • Pending: %d ⏳", stats.Totals.Pending),
	}
	if len(stats.TopDonors) > 0 {
		lines = append(lines, "", "🏆 *Top Donors:*")
		for i, donor := range stats.TopDonors {
			if i == 3 {
				break
			}
			lines = append(lines, fmt.Sprintf("   %d. %s - %s", i+1, donor.Name, donor.Total.StringFixed(2)))
		}
	}
	return strings.Join(lines, "\n")
}

func registrationCompleteText(reg models.Registration) string {
	return fmt.Sprintf(
		"🎉 *Registration Complete!*\n\nWelcome, *%s*!\n\n📋 *Your Details:*\n• Area: %s\n• Email: %s\n• Skill: %s\n\nThank you for volunteering! We'll be in touch. 🙏\n\n_Type *menu* to donate or get help._",
		reg.Name, reg.Area, reg.Email, reg.Skill,
	)
}
