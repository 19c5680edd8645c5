package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/paynow"
	"github.com/Mapetere/latterpay/internal/store"
	"github.com/Mapetere/latterpay/internal/whatsapp"
)

type memStore struct {
	sessions      map[string]models.Session
	known         map[string]bool
	payments      []models.Payment
	registrations map[string]models.Registration
}

func newMemStore() *memStore {
	return &memStore{
		sessions:      map[string]models.Session{},
		known:         map[string]bool{},
		registrations: map[string]models.Registration{},
	}
}

func (m *memStore) LoadSession(_ context.Context, phone string) (models.Session, error) {
	s, ok := m.sessions[phone]
	if !ok {
		return models.Session{}, store.ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) SaveSession(_ context.Context, session models.Session) error {
	m.sessions[session.Phone] = session
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, phone string) error {
	delete(m.sessions, phone)
	return nil
}

func (m *memStore) MarkWarned(_ context.Context, phone string) error {
	s := m.sessions[phone]
	s.Warned = true
	m.sessions[phone] = s
	return nil
}

func (m *memStore) ListSessions(_ context.Context) ([]models.Session, error) {
	var out []models.Session
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) IsKnownUser(_ context.Context, phone string) (bool, error) {
	return m.known[phone], nil
}

func (m *memStore) AddKnownUser(_ context.Context, phone string) error {
	m.known[phone] = true
	return nil
}

func (m *memStore) SeenMessage(_ context.Context, _ string) (bool, error) { return false, nil }
func (m *memStore) MarkMessageSeen(_ context.Context, _ string) error     { return nil }
func (m *memStore) PurgeMessagesBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) RecordPayment(_ context.Context, input store.RecordPaymentInput) (models.Payment, error) {
	p := models.Payment{
		Reference:    input.Reference,
		Phone:        input.Phone,
		Name:         input.Name,
		Congregation: input.Congregation,
		DonationType: input.DonationType,
		Amount:       input.Amount,
		Currency:     input.Currency,
		Method:       input.Method,
		Status:       models.PaymentPending,
		PollURL:      input.PollURL,
		Note:         input.Note,
		CreatedAt:    time.Now().UTC(),
	}
	m.payments = append([]models.Payment{p}, m.payments...)
	return p, nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, input store.StatusUpdateInput) (models.Payment, error) {
	for i, p := range m.payments {
		if p.Reference == input.Reference {
			m.payments[i].Status = input.Status
			return m.payments[i], nil
		}
	}
	return models.Payment{}, store.ErrPaymentNotFound
}

func (m *memStore) GetPayment(_ context.Context, reference string) (models.Payment, error) {
	for _, p := range m.payments {
		if p.Reference == reference {
			return p, nil
		}
	}
	return models.Payment{}, store.ErrPaymentNotFound
}

func (m *memStore) ListPaymentsByPhone(_ context.Context, phone string, limit int) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range m.payments {
		if p.Phone == phone {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListPendingPayments(_ context.Context, _ time.Duration, _ int) ([]models.Payment, error) {
	return nil, nil
}

func (m *memStore) ListRecentPayments(_ context.Context, _ int, _ string) ([]models.Payment, error) {
	return nil, nil
}

func (m *memStore) GetStatistics(_ context.Context, days int) (store.Statistics, error) {
	return store.Statistics{PeriodDays: days, ByCurrency: map[string]store.StatBucket{}}, nil
}

func (m *memStore) GetDailyReport(_ context.Context, _ time.Time) (store.DailyReport, error) {
	return store.DailyReport{}, nil
}

func (m *memStore) SaveRegistration(_ context.Context, reg models.Registration) error {
	m.registrations[reg.Phone] = reg
	return nil
}

func (m *memStore) GetRegistration(_ context.Context, phone string) (models.Registration, error) {
	reg, ok := m.registrations[phone]
	if !ok {
		return models.Registration{}, store.ErrRegistrationNotFound
	}
	return reg, nil
}

type fakeSender struct {
	messages []string
}

func (f *fakeSender) SendText(_ context.Context, _ string, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSender) SendButtons(_ context.Context, _ string, body string, _ []whatsapp.Button) error {
	f.messages = append(f.messages, body)
	return nil
}

func (f *fakeSender) last() string {
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

type fakeGateway struct {
	calls  []paynow.InitiateInput
	result paynow.InitiateResult
	err    error
}

func (f *fakeGateway) InitiateMobile(_ context.Context, input paynow.InitiateInput) (paynow.InitiateResult, error) {
	f.calls = append(f.calls, input)
	return f.result, f.err
}

func newTestEngine(st store.Store, gw Gateway) (*Engine, *fakeSender) {
	sender := &fakeSender{}
	engine := NewEngine(Config{
		Store:   st,
		Sender:  sender,
		Gateway: gw,
	})
	return engine, sender
}

const testPhone = "263771000000"

func send(t *testing.T, e *Engine, message string) {
	t.Helper()
	if err := e.HandleMessage(context.Background(), testPhone, "Tari", message); err != nil {
		t.Fatalf("HandleMessage(%q): %v", message, err)
	}
}

func TestDonationFlowEndToEnd(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{result: paynow.InitiateResult{
		PollURL:      "https://www.paynow.co.zw/interface/poll/abc",
		Instructions: "Enter your PIN on your handset.",
	}}
	engine, sender := newTestEngine(st, gw)

	send(t, engine, "hi")
	if got := st.sessions[testPhone].Step; got != models.StepAction {
		t.Fatalf("step after greeting = %q, want %q", got, models.StepAction)
	}

	send(t, engine, "action_donate")
	send(t, engine, "John moyo, harare central congregation")
	if got := st.sessions[testPhone].Data["name"]; got != "John Moyo" {
		t.Fatalf("name = %q, want John Moyo", got)
	}
	if got := st.sessions[testPhone].Data["congregation"]; got != "Harare Central" {
		t.Fatalf("congregation = %q, want Harare Central", got)
	}

	send(t, engine, "2") // August Conference
	if got := st.sessions[testPhone].Data["purpose"]; got != "August Conference" {
		t.Fatalf("purpose = %q", got)
	}

	send(t, engine, "50")
	if got := st.sessions[testPhone].Step; got != models.StepCurrency {
		t.Fatalf("step after amount = %q, want %q", got, models.StepCurrency)
	}

	send(t, engine, "currency_usd")
	send(t, engine, "skip")
	if got := st.sessions[testPhone].Step; got != models.StepConfirmation {
		t.Fatalf("step after note = %q, want %q", got, models.StepConfirmation)
	}

	send(t, engine, "confirm_yes")
	send(t, engine, "pay_ecocash")
	send(t, engine, "0771234567")

	if len(gw.calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(gw.calls))
	}
	call := gw.calls[0]
	if call.Phone != "263771234567" {
		t.Fatalf("payer phone = %q, want normalized 263771234567", call.Phone)
	}
	if !call.Amount.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("amount = %s, want 50", call.Amount)
	}
	if call.Currency != models.CurrencyUSD {
		t.Fatalf("currency = %q, want USD", call.Currency)
	}
	if call.Method != models.MethodEcoCash {
		t.Fatalf("method = %q, want EcoCash", call.Method)
	}

	if len(st.payments) != 1 {
		t.Fatalf("recorded payments = %d, want 1", len(st.payments))
	}
	payment := st.payments[0]
	if payment.Status != models.PaymentPending {
		t.Fatalf("payment status = %q, want pending", payment.Status)
	}
	if payment.PollURL == "" {
		t.Fatal("poll URL not stored")
	}
	if !strings.HasPrefix(payment.Reference, "LP-") {
		t.Fatalf("reference = %q, want LP- prefix", payment.Reference)
	}

	if _, ok := st.sessions[testPhone]; ok {
		t.Fatal("session should be cleared after initiation")
	}
	if !st.known[testPhone] {
		t.Fatal("phone should be marked as known user")
	}
	if !strings.Contains(sender.last(), payment.Reference) {
		t.Fatalf("instructions %q should mention the reference", sender.last())
	}
}

func TestCancelClearsSession(t *testing.T) {
	st := newMemStore()
	engine, sender := newTestEngine(st, &fakeGateway{})

	send(t, engine, "hi")
	send(t, engine, "donate")
	send(t, engine, "cancel")

	if _, ok := st.sessions[testPhone]; ok {
		t.Fatal("session should be deleted on cancel")
	}
	if !strings.Contains(sender.last(), "Cancelled") {
		t.Fatalf("last message %q should confirm cancellation", sender.last())
	}
}

func TestReturningUserSkipsDetails(t *testing.T) {
	st := newMemStore()
	st.known[testPhone] = true
	st.payments = []models.Payment{{
		Reference:    "LP-20260801-000001",
		Phone:        testPhone,
		Name:         "John Moyo",
		Congregation: "Harare Central",
		Currency:     models.CurrencyUSD,
		Status:       models.PaymentCompleted,
		Amount:       decimal.RequireFromString("20"),
	}}
	engine, sender := newTestEngine(st, &fakeGateway{})

	send(t, engine, "hello")
	if !strings.Contains(sender.last(), "Welcome back") {
		t.Fatalf("expected returning-user greeting, got %q", sender.last())
	}
	if got := st.sessions[testPhone].Data["name"]; got != "John Moyo" {
		t.Fatalf("prefilled name = %q", got)
	}

	send(t, engine, "quick_yes")
	if got := st.sessions[testPhone].Step; got != models.StepPurpose {
		t.Fatalf("quick donate should skip to purpose, got step %q", got)
	}
}

func TestNaturalLanguageShortcut(t *testing.T) {
	st := newMemStore()
	engine, _ := newTestEngine(st, &fakeGateway{})

	send(t, engine, "hi")
	send(t, engine, "donate 50 usd for the august conference")

	data := st.sessions[testPhone].Data
	if data["amount"] != "50.00" {
		t.Fatalf("amount = %q, want 50.00", data["amount"])
	}
	if data["currency"] != models.CurrencyUSD {
		t.Fatalf("currency = %q, want USD", data["currency"])
	}
	if data["purpose"] != "August Conference" {
		t.Fatalf("purpose = %q", data["purpose"])
	}
	// Name still missing, so the engine should be collecting it.
	if got := st.sessions[testPhone].Step; got != models.StepName {
		t.Fatalf("step = %q, want %q", got, models.StepName)
	}
}

func TestAmountValidationRetries(t *testing.T) {
	st := newMemStore()
	engine, sender := newTestEngine(st, &fakeGateway{})

	st.sessions[testPhone] = models.Session{
		Phone: testPhone,
		Step:  models.StepAmount,
		Data:  map[string]string{"name": "John Moyo", "congregation": "Harare", "purpose": "Other"},
	}

	send(t, engine, "lots")
	if got := st.sessions[testPhone].Step; got != models.StepAmount {
		t.Fatalf("invalid amount should not advance, step = %q", got)
	}

	send(t, engine, "9999")
	if !strings.Contains(sender.last(), "maximum") {
		t.Fatalf("expected maximum message, got %q", sender.last())
	}

	send(t, engine, "480")
	if got := st.sessions[testPhone].Data["amount"]; got != "480.00" {
		t.Fatalf("amount = %q, want 480.00", got)
	}
}

func TestGatewayFailureKeepsSession(t *testing.T) {
	st := newMemStore()
	gw := &fakeGateway{err: context.DeadlineExceeded}
	engine, sender := newTestEngine(st, gw)

	st.sessions[testPhone] = models.Session{
		Phone: testPhone,
		Step:  models.StepPayerPhone,
		Data: map[string]string{
			"name": "John Moyo", "congregation": "Harare", "purpose": "Other",
			"amount": "50.00", "currency": "USD", "method": models.MethodEcoCash,
		},
	}

	send(t, engine, "0771234567")
	if len(st.payments) != 0 {
		t.Fatal("failed initiation must not record a payment")
	}
	if _, ok := st.sessions[testPhone]; !ok {
		t.Fatal("session should survive a gateway failure so the user can retry")
	}
	if !strings.Contains(sender.last(), "error initiating") {
		t.Fatalf("expected failure notice, got %q", sender.last())
	}
}

func TestRegistrationFlow(t *testing.T) {
	st := newMemStore()
	engine, sender := newTestEngine(st, &fakeGateway{})

	send(t, engine, "hi")
	send(t, engine, "action_register")
	send(t, engine, "tariro dube")
	send(t, engine, "tariro@example.com")
	send(t, engine, "IT Support")
	send(t, engine, "Bulawayo Assembly")

	reg, ok := st.registrations[testPhone]
	if !ok {
		t.Fatal("registration not saved")
	}
	if reg.Name != "Tariro Dube" {
		t.Fatalf("name = %q, want Tariro Dube", reg.Name)
	}
	if reg.Email != "tariro@example.com" {
		t.Fatalf("email = %q", reg.Email)
	}
	if reg.Area != "Bulawayo" {
		t.Fatalf("area = %q, want suffix stripped Bulawayo", reg.Area)
	}
	if _, live := st.sessions[testPhone]; live {
		t.Fatal("session should be cleared after registration")
	}
	if !strings.Contains(sender.last(), "Registration Complete") {
		t.Fatalf("expected completion message, got %q", sender.last())
	}
}

func TestHistoryCommand(t *testing.T) {
	st := newMemStore()
	st.payments = []models.Payment{{
		Reference:    "LP-20260810-123456",
		Phone:        testPhone,
		DonationType: "Monthly Contributions",
		Amount:       decimal.RequireFromString("25.50"),
		Currency:     models.CurrencyZWG,
		Status:       models.PaymentCompleted,
		CreatedAt:    time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC),
	}}
	engine, sender := newTestEngine(st, &fakeGateway{})

	send(t, engine, "history")
	got := sender.last()
	if !strings.Contains(got, "LP-20260810-123456") || !strings.Contains(got, "25.50") {
		t.Fatalf("history message missing payment details: %q", got)
	}
}

func TestUnknownStepRecovers(t *testing.T) {
	st := newMemStore()
	engine, sender := newTestEngine(st, &fakeGateway{})

	st.sessions[testPhone] = models.Session{Phone: testPhone, Step: "obsolete_step", Data: map[string]string{}}
	send(t, engine, "anything")

	if got := st.sessions[testPhone].Step; got != models.StepAction {
		t.Fatalf("step = %q, want reset to %q", got, models.StepAction)
	}
	if sender.last() == "" {
		t.Fatal("expected a menu message after recovery")
	}
}
