package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InitSchema creates the tables the service needs. Safe to run on every boot.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			phone TEXT PRIMARY KEY,
			step TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}',
			last_active TIMESTAMPTZ NOT NULL,
			warned BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS known_users (
			phone TEXT PRIMARY KEY,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sent_messages (
			msg_id TEXT PRIMARY KEY,
			sent_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS payment_history (
			id BIGSERIAL PRIMARY KEY,
			reference TEXT UNIQUE NOT NULL,
			phone TEXT NOT NULL,
			name TEXT,
			congregation TEXT,
			donation_type TEXT,
			amount NUMERIC(12,2) NOT NULL,
			currency TEXT NOT NULL DEFAULT 'ZWG',
			payment_method TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			paynow_reference TEXT,
			poll_url TEXT,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_phone ON payment_history(phone)`,
		`CREATE INDEX IF NOT EXISTS idx_history_status ON payment_history(status)`,
		`CREATE INDEX IF NOT EXISTS idx_history_date ON payment_history(created_at)`,
		`CREATE TABLE IF NOT EXISTS payment_daily_stats (
			date TEXT PRIMARY KEY,
			total_amount_usd NUMERIC(14,2) NOT NULL DEFAULT 0,
			total_amount_zwg NUMERIC(14,2) NOT NULL DEFAULT 0,
			transaction_count INTEGER NOT NULL DEFAULT 0,
			successful_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS registrations (
			phone TEXT PRIMARY KEY,
			name TEXT,
			email TEXT,
			skill TEXT,
			area TEXT,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, phone string) (models.Session, error) {
	var (
		session  models.Session
		dataJSON []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT phone, step, data, last_active, warned
		FROM sessions
		WHERE phone = $1
	`, phone)
	if err := row.Scan(&session.Phone, &session.Step, &dataJSON, &session.LastActive, &session.Warned); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	if err := json.Unmarshal(dataJSON, &session.Data); err != nil {
		return models.Session{}, err
	}
	if session.Data == nil {
		session.Data = map[string]string{}
	}
	return session, nil
}

func (s *Store) SaveSession(ctx context.Context, session models.Session) error {
	data := session.Data
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return err
	}
	lastActive := session.LastActive
	if lastActive.IsZero() {
		lastActive = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (phone, step, data, last_active, warned)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (phone) DO UPDATE SET
			step = excluded.step,
			data = excluded.data,
			last_active = excluded.last_active,
			warned = excluded.warned
	`, session.Phone, session.Step, dataJSON, lastActive, session.Warned)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, phone string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE phone = $1`, phone)
	return err
}

func (s *Store) MarkWarned(ctx context.Context, phone string) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET warned = TRUE WHERE phone = $1`, phone)
	return err
}

func (s *Store) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT phone, step, data, last_active, warned
		FROM sessions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var (
			session  models.Session
			dataJSON []byte
		)
		if err := rows.Scan(&session.Phone, &session.Step, &dataJSON, &session.LastActive, &session.Warned); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(dataJSON, &session.Data); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *Store) IsKnownUser(ctx context.Context, phone string) (bool, error) {
	var one int
	row := s.pool.QueryRow(ctx, `SELECT 1 FROM known_users WHERE phone = $1`, phone)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) AddKnownUser(ctx context.Context, phone string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO known_users (phone) VALUES ($1)
		ON CONFLICT (phone) DO NOTHING
	`, phone)
	return err
}

func (s *Store) SeenMessage(ctx context.Context, msgID string) (bool, error) {
	var one int
	row := s.pool.QueryRow(ctx, `SELECT 1 FROM sent_messages WHERE msg_id = $1`, msgID)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) MarkMessageSeen(ctx context.Context, msgID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sent_messages (msg_id) VALUES ($1)
		ON CONFLICT (msg_id) DO NOTHING
	`, msgID)
	return err
}

func (s *Store) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sent_messages WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RecordPayment(ctx context.Context, input store.RecordPaymentInput) (models.Payment, error) {
	reference := input.Reference
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if reference == "" {
		reference = models.NewReference(createdAt)
	}
	currency := input.Currency
	if currency == "" {
		currency = models.CurrencyZWG
	}

	var payment models.Payment
	var amountText string
	row := s.pool.QueryRow(ctx, `
		INSERT INTO payment_history (
			reference, phone, name, congregation, donation_type, amount, currency,
			payment_method, status, poll_url, note, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		RETURNING reference, status, amount::text, created_at, updated_at
	`, reference, input.Phone, input.Name, input.Congregation, input.DonationType,
		input.Amount.StringFixed(2), currency, input.Method, models.PaymentPending,
		input.PollURL, input.Note, createdAt)
	if err := row.Scan(&payment.Reference, &payment.Status, &amountText, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Payment{}, store.ErrDuplicateReference
		}
		return models.Payment{}, err
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return models.Payment{}, err
	}
	payment.Amount = amount
	payment.Phone = input.Phone
	payment.Name = input.Name
	payment.Congregation = input.Congregation
	payment.DonationType = input.DonationType
	payment.Currency = currency
	payment.Method = input.Method
	payment.PollURL = input.PollURL
	payment.Note = input.Note
	return payment, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, input store.StatusUpdateInput) (models.Payment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Payment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Settled rows stay settled: a late IPN or poll result must not move a
	// payment out of completed/failed/cancelled.
	tag, err := tx.Exec(ctx, `
		UPDATE payment_history SET
			status = $2,
			paynow_reference = COALESCE(NULLIF($3, ''), paynow_reference),
			updated_at = now(),
			completed_at = CASE WHEN $2 = 'completed' AND completed_at IS NULL THEN now() ELSE completed_at END
		WHERE reference = $1 AND status = 'pending'
	`, input.Reference, input.Status, input.PaynowReference)
	if err != nil {
		return models.Payment{}, err
	}

	if tag.RowsAffected() > 0 {
		if err = refreshDailyStats(ctx, tx); err != nil {
			return models.Payment{}, err
		}
	}

	// Returns the current row either way; callers compare its status against
	// the requested one to detect a refused transition.
	payment, err := scanPayment(tx.QueryRow(ctx, selectPayment+` WHERE reference = $1`, input.Reference))
	if err != nil {
		return models.Payment{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Payment{}, err
	}
	return payment, nil
}

const selectPayment = `
	SELECT reference, phone, COALESCE(name,''), COALESCE(congregation,''), COALESCE(donation_type,''),
		amount::text, currency, COALESCE(payment_method,''), status,
		COALESCE(paynow_reference,''), COALESCE(poll_url,''), COALESCE(note,''),
		created_at, updated_at, completed_at
	FROM payment_history`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (models.Payment, error) {
	var (
		payment       models.Payment
		amountText    string
		completedNull sql.NullTime
	)
	err := row.Scan(
		&payment.Reference, &payment.Phone, &payment.Name, &payment.Congregation,
		&payment.DonationType, &amountText, &payment.Currency, &payment.Method,
		&payment.Status, &payment.PaynowReference, &payment.PollURL, &payment.Note,
		&payment.CreatedAt, &payment.UpdatedAt, &completedNull,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Payment{}, store.ErrPaymentNotFound
		}
		return models.Payment{}, err
	}
	payment.Amount, err = decimal.NewFromString(amountText)
	if err != nil {
		return models.Payment{}, err
	}
	if completedNull.Valid {
		completed := completedNull.Time
		payment.CompletedAt = &completed
	}
	return payment, nil
}

func (s *Store) GetPayment(ctx context.Context, reference string) (models.Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, selectPayment+` WHERE reference = $1`, reference))
}

func (s *Store) ListPaymentsByPhone(ctx context.Context, phone string, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, selectPayment+`
		WHERE phone = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, phone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (s *Store) ListPendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.pool.Query(ctx, selectPayment+`
		WHERE status = 'pending' AND poll_url <> '' AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (s *Store) ListRecentPayments(ctx context.Context, hours int, status string) ([]models.Payment, error) {
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	rows, err := s.pool.Query(ctx, selectPayment+`
		WHERE created_at >= $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT 200
	`, cutoff, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]models.Payment, error) {
	var payments []models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func (s *Store) GetStatistics(ctx context.Context, days int) (store.Statistics, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	stats := store.Statistics{
		PeriodDays:  days,
		ByCurrency:  map[string]store.StatBucket{},
		ByMethod:    map[string]store.StatBucket{},
		ByType:      map[string]store.StatBucket{},
		GeneratedAt: time.Now().UTC(),
	}

	var totalText string
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN amount ELSE 0 END), 0)::text
		FROM payment_history
		WHERE created_at >= $1
	`, cutoff)
	if err := row.Scan(&stats.Totals.Transactions, &stats.Totals.Successful, &stats.Totals.Failed, &stats.Totals.Pending, &totalText); err != nil {
		return store.Statistics{}, err
	}
	total, err := decimal.NewFromString(totalText)
	if err != nil {
		return store.Statistics{}, err
	}
	stats.Totals.TotalAmount = total

	groupings := []struct {
		column string
		dest   map[string]store.StatBucket
	}{
		{"currency", stats.ByCurrency},
		{"payment_method", stats.ByMethod},
		{"donation_type", stats.ByType},
	}
	for _, g := range groupings {
		if err := s.collectBuckets(ctx, g.column, cutoff, g.dest); err != nil {
			return store.Statistics{}, err
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(name, 'Unknown'), SUM(amount)::text, COUNT(*)
		FROM payment_history
		WHERE created_at >= $1 AND status = 'completed'
		GROUP BY name
		ORDER BY SUM(amount) DESC
		LIMIT 10
	`, cutoff)
	if err != nil {
		return store.Statistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			donor     store.DonorTotal
			totalText string
		)
		if err := rows.Scan(&donor.Name, &totalText, &donor.Count); err != nil {
			return store.Statistics{}, err
		}
		if donor.Total, err = decimal.NewFromString(totalText); err != nil {
			return store.Statistics{}, err
		}
		stats.TopDonors = append(stats.TopDonors, donor)
	}
	return stats, rows.Err()
}

func (s *Store) collectBuckets(ctx context.Context, column string, cutoff time.Time, dest map[string]store.StatBucket) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT COALESCE(%s, ''), SUM(amount)::text, COUNT(*)
		FROM payment_history
		WHERE created_at >= $1 AND status = 'completed'
		GROUP BY %s
	`, column, column), cutoff)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key       string
			totalText string
			count     int
		)
		if err := rows.Scan(&key, &totalText, &count); err != nil {
			return err
		}
		total, err := decimal.NewFromString(totalText)
		if err != nil {
			return err
		}
		dest[key] = store.StatBucket{Total: total, Count: count}
	}
	return rows.Err()
}

func (s *Store) GetDailyReport(ctx context.Context, date time.Time) (store.DailyReport, error) {
	dateStr := date.UTC().Format("2006-01-02")
	report := store.DailyReport{Date: dateStr, GeneratedAt: time.Now().UTC()}
	report.Summary.Date = dateStr

	var usdText, zwgText string
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			COALESCE(SUM(CASE WHEN status = 'completed' AND currency = 'USD' THEN amount ELSE 0 END), 0)::text,
			COALESCE(SUM(CASE WHEN status = 'completed' AND currency = 'ZWG' THEN amount ELSE 0 END), 0)::text
		FROM payment_history
		WHERE created_at::date = $1::date
	`, dateStr)
	if err := row.Scan(&report.Summary.TransactionCount, &report.Summary.SuccessfulCount, &report.Summary.FailedCount, &usdText, &zwgText); err != nil {
		return store.DailyReport{}, err
	}
	var err error
	if report.Summary.TotalUSD, err = decimal.NewFromString(usdText); err != nil {
		return store.DailyReport{}, err
	}
	if report.Summary.TotalZWG, err = decimal.NewFromString(zwgText); err != nil {
		return store.DailyReport{}, err
	}

	rows, err := s.pool.Query(ctx, selectPayment+`
		WHERE created_at::date = $1::date
		ORDER BY created_at DESC
	`, dateStr)
	if err != nil {
		return store.DailyReport{}, err
	}
	defer rows.Close()
	report.Transactions, err = collectPayments(rows)
	if err != nil {
		return store.DailyReport{}, err
	}
	return report, nil
}

func refreshDailyStats(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_daily_stats
			(date, total_amount_usd, total_amount_zwg, transaction_count, successful_count, failed_count, updated_at)
		SELECT
			to_char(now(), 'YYYY-MM-DD'),
			COALESCE(SUM(CASE WHEN currency = 'USD' AND status = 'completed' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN currency = 'ZWG' AND status = 'completed' THEN amount ELSE 0 END), 0),
			COUNT(*),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			now()
		FROM payment_history
		WHERE created_at::date = now()::date
		ON CONFLICT (date) DO UPDATE SET
			total_amount_usd = excluded.total_amount_usd,
			total_amount_zwg = excluded.total_amount_zwg,
			transaction_count = excluded.transaction_count,
			successful_count = excluded.successful_count,
			failed_count = excluded.failed_count,
			updated_at = now()
	`)
	return err
}

func (s *Store) SaveRegistration(ctx context.Context, reg models.Registration) error {
	registeredAt := reg.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registrations (phone, name, email, skill, area, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			skill = excluded.skill,
			area = excluded.area,
			registered_at = excluded.registered_at
	`, reg.Phone, reg.Name, reg.Email, reg.Skill, reg.Area, registeredAt)
	return err
}

func (s *Store) GetRegistration(ctx context.Context, phone string) (models.Registration, error) {
	var reg models.Registration
	row := s.pool.QueryRow(ctx, `
		SELECT phone, COALESCE(name,''), COALESCE(email,''), COALESCE(skill,''), COALESCE(area,''), registered_at
		FROM registrations
		WHERE phone = $1
	`, phone)
	if err := row.Scan(&reg.Phone, &reg.Name, &reg.Email, &reg.Skill, &reg.Area, &reg.RegisteredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Registration{}, store.ErrRegistrationNotFound
		}
		return models.Registration{}, err
	}
	return reg, nil
}
