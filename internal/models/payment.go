package models

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

// NewReference generates a payment reference like LP-20260831-483920.
func NewReference(now time.Time) string {
	return fmt.Sprintf("LP-%s-%06d", now.Format("20060102"), rand.IntN(1000000))
}

// Payment is one donation attempt submitted to the gateway.
type Payment struct {
	Reference       string          `json:"reference"`
	Phone           string          `json:"phone"`
	Name            string          `json:"name"`
	Congregation    string          `json:"congregation,omitempty"`
	DonationType    string          `json:"donation_type"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Method          string          `json:"payment_method,omitempty"`
	Status          string          `json:"status"`
	PaynowReference string          `json:"paynow_reference,omitempty"`
	PollURL         string          `json:"-"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
)

const (
	CurrencyZWG = "ZWG"
	CurrencyUSD = "USD"
)

const (
	MethodEcoCash  = "EcoCash"
	MethodOneMoney = "OneMoney"
	MethodInnBucks = "InnBucks"
)

// DonationTypes are offered in menu order; "Other" is always last.
var DonationTypes = []string{
	"Monthly Contributions",
	"August Conference",
	"Youth Conference",
	"Construction Contribution",
	"Pastoral Support",
	"Other",
}

// DailyStat is the per-day aggregate row refreshed on every status change.
type DailyStat struct {
	Date            string          `json:"date"`
	TotalUSD        decimal.Decimal `json:"total_amount_usd"`
	TotalZWG        decimal.Decimal `json:"total_amount_zwg"`
	TransactionCount int            `json:"transaction_count"`
	SuccessfulCount  int            `json:"successful_count"`
	FailedCount      int            `json:"failed_count"`
}
