package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mapetere/latterpay/internal/models"
)

type RecordPaymentInput struct {
	Reference    string
	Phone        string
	Name         string
	Congregation string
	DonationType string
	Amount       decimal.Decimal
	Currency     string
	Method       string
	PollURL      string
	Note         string
	CreatedAt    time.Time
}

type StatusUpdateInput struct {
	Reference       string
	Status          string
	PaynowReference string
}

// Statistics is the aggregate report over a trailing window.
type Statistics struct {
	PeriodDays   int                      `json:"period_days"`
	Totals       StatTotals               `json:"totals"`
	ByCurrency   map[string]StatBucket    `json:"by_currency"`
	ByMethod     map[string]StatBucket    `json:"by_payment_method"`
	ByType       map[string]StatBucket    `json:"by_donation_type"`
	TopDonors    []DonorTotal             `json:"top_donors"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

type StatTotals struct {
	Transactions int             `json:"total_transactions"`
	Successful   int             `json:"successful"`
	Failed       int             `json:"failed"`
	Pending      int             `json:"pending"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

type StatBucket struct {
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

type DonorTotal struct {
	Name  string          `json:"name"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

type DailyReport struct {
	Date         string           `json:"date"`
	Summary      models.DailyStat `json:"summary"`
	Transactions []models.Payment `json:"transactions"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// SessionStore keeps conversation state per phone number.
type SessionStore interface {
	LoadSession(ctx context.Context, phone string) (models.Session, error)
	SaveSession(ctx context.Context, session models.Session) error
	DeleteSession(ctx context.Context, phone string) error
	MarkWarned(ctx context.Context, phone string) error
	ListSessions(ctx context.Context) ([]models.Session, error)
}

// UserStore remembers which phones have interacted before.
type UserStore interface {
	IsKnownUser(ctx context.Context, phone string) (bool, error)
	AddKnownUser(ctx context.Context, phone string) error
}

// DedupStore guards against reprocessing webhook deliveries.
type DedupStore interface {
	SeenMessage(ctx context.Context, msgID string) (bool, error)
	MarkMessageSeen(ctx context.Context, msgID string) error
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PaymentStore records payment attempts and serves history and analytics.
type PaymentStore interface {
	RecordPayment(ctx context.Context, input RecordPaymentInput) (models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, input StatusUpdateInput) (models.Payment, error)
	GetPayment(ctx context.Context, reference string) (models.Payment, error)
	ListPaymentsByPhone(ctx context.Context, phone string, limit int) ([]models.Payment, error)
	ListPendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]models.Payment, error)
	ListRecentPayments(ctx context.Context, hours int, status string) ([]models.Payment, error)
	GetStatistics(ctx context.Context, days int) (Statistics, error)
	GetDailyReport(ctx context.Context, date time.Time) (DailyReport, error)
}

type RegistrationStore interface {
	SaveRegistration(ctx context.Context, reg models.Registration) error
	GetRegistration(ctx context.Context, phone string) (models.Registration, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	SessionStore
	UserStore
	DedupStore
	PaymentStore
	RegistrationStore
}
