package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mapetere/latterpay/internal/flow"
	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/paynow"
	"github.com/Mapetere/latterpay/internal/store"
	"github.com/Mapetere/latterpay/internal/whatsapp"
)

type fakeSessionStore struct {
	sessions map[string]models.Session
}

func (f *fakeSessionStore) LoadSession(_ context.Context, phone string) (models.Session, error) {
	s, ok := f.sessions[phone]
	if !ok {
		return models.Session{}, store.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessionStore) SaveSession(_ context.Context, session models.Session) error {
	f.sessions[session.Phone] = session
	return nil
}

func (f *fakeSessionStore) DeleteSession(_ context.Context, phone string) error {
	delete(f.sessions, phone)
	return nil
}

func (f *fakeSessionStore) MarkWarned(_ context.Context, phone string) error {
	s := f.sessions[phone]
	s.Warned = true
	f.sessions[phone] = s
	return nil
}

func (f *fakeSessionStore) ListSessions(_ context.Context) ([]models.Session, error) {
	var out []models.Session
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, phone, message string) error {
	f.sent = append(f.sent, phone+": "+message)
	return nil
}

func (f *fakeSender) SendButtons(_ context.Context, phone, body string, _ []whatsapp.Button) error {
	f.sent = append(f.sent, phone+": "+body)
	return nil
}

func TestSessionMonitorWarnsOnceThenExpires(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	st := &fakeSessionStore{sessions: map[string]models.Session{
		"263771000001": {Phone: "263771000001", Step: models.StepAmount, LastActive: now.Add(-270 * time.Second)},
		"263771000002": {Phone: "263771000002", Step: models.StepName, LastActive: now.Add(-10 * time.Second)},
		"263771000003": {Phone: "263771000003", Step: models.StepNote, LastActive: now.Add(-6 * time.Minute)},
	}}
	sender := &fakeSender{}
	monitor := NewSessionMonitor(st, sender, 5*time.Minute, 4*time.Minute)
	monitor.now = func() time.Time { return now }

	if err := monitor.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !st.sessions["263771000001"].Warned {
		t.Fatal("idle session past the warning threshold should be marked warned")
	}
	if st.sessions["263771000002"].Warned {
		t.Fatal("active session must not be warned")
	}
	if _, ok := st.sessions["263771000003"]; ok {
		t.Fatal("session past the timeout should be deleted")
	}

	warned, expired := 0, 0
	for _, s := range sender.sent {
		if strings.Contains(s, "still there") {
			warned++
		}
		if strings.Contains(s, "Expired") {
			expired++
		}
	}
	if warned != 1 || expired != 1 {
		t.Fatalf("warned=%d expired=%d, want 1 and 1; sent=%v", warned, expired, sender.sent)
	}

	// A second pass must not warn the same session again.
	if err := monitor.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	warned = 0
	for _, s := range sender.sent {
		if strings.Contains(s, "still there") {
			warned++
		}
	}
	if warned != 1 {
		t.Fatalf("warned=%d after second pass, want still 1", warned)
	}
}

type fakePaymentStore struct {
	pending []models.Payment
	updates []store.StatusUpdateInput
}

func (f *fakePaymentStore) RecordPayment(_ context.Context, _ store.RecordPaymentInput) (models.Payment, error) {
	return models.Payment{}, nil
}

func (f *fakePaymentStore) UpdatePaymentStatus(_ context.Context, input store.StatusUpdateInput) (models.Payment, error) {
	f.updates = append(f.updates, input)
	for _, p := range f.pending {
		if p.Reference == input.Reference {
			p.Status = input.Status
			p.PaynowReference = input.PaynowReference
			return p, nil
		}
	}
	return models.Payment{}, store.ErrPaymentNotFound
}

func (f *fakePaymentStore) GetPayment(_ context.Context, reference string) (models.Payment, error) {
	for _, p := range f.pending {
		if p.Reference == reference {
			return p, nil
		}
	}
	return models.Payment{}, store.ErrPaymentNotFound
}

func (f *fakePaymentStore) ListPaymentsByPhone(context.Context, string, int) ([]models.Payment, error) {
	return nil, nil
}

func (f *fakePaymentStore) ListPendingPayments(context.Context, time.Duration, int) ([]models.Payment, error) {
	return f.pending, nil
}

func (f *fakePaymentStore) ListRecentPayments(context.Context, int, string) ([]models.Payment, error) {
	return nil, nil
}

func (f *fakePaymentStore) GetStatistics(context.Context, int) (store.Statistics, error) {
	return store.Statistics{}, nil
}

func (f *fakePaymentStore) GetDailyReport(context.Context, time.Time) (store.DailyReport, error) {
	return store.DailyReport{}, nil
}

type fakePoller struct {
	results map[string]paynow.PollResult
}

func (f *fakePoller) Poll(_ context.Context, pollURL string) (paynow.PollResult, error) {
	return f.results[pollURL], nil
}

func TestPaymentPollerResolvesPending(t *testing.T) {
	st := &fakePaymentStore{pending: []models.Payment{
		{
			Reference: "LP-1", Phone: "263771000001", Name: "John Moyo",
			DonationType: "Other", Amount: decimal.RequireFromString("50"),
			Currency: models.CurrencyZWG, Status: models.PaymentPending,
			PollURL: "https://paynow.test/poll/1",
		},
		{
			Reference: "LP-2", Phone: "263771000002",
			Amount: decimal.RequireFromString("10"), Currency: models.CurrencyZWG,
			Status: models.PaymentPending, PollURL: "https://paynow.test/poll/2",
		},
		{
			// No poll URL recorded, must be skipped.
			Reference: "LP-3", Status: models.PaymentPending,
			Amount: decimal.RequireFromString("5"),
		},
		{
			// Already settled; a stale gateway result must not touch it.
			Reference: "LP-4", Phone: "263771000004",
			Amount: decimal.RequireFromString("20"), Currency: models.CurrencyUSD,
			Status: models.PaymentCompleted, PollURL: "https://paynow.test/poll/4",
		},
	}}
	gateway := &fakePoller{results: map[string]paynow.PollResult{
		"https://paynow.test/poll/1": {Reference: "LP-1", PaynowReference: "111", Status: "Paid"},
		"https://paynow.test/poll/2": {Reference: "LP-2", Status: "Created"},
		"https://paynow.test/poll/4": {Reference: "LP-4", Status: "Cancelled"},
	}}
	sender := &fakeSender{}
	poller := NewPaymentPoller(st, gateway, &flow.Notifier{Sender: sender})

	if err := poller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(st.updates) != 1 {
		t.Fatalf("updates = %v, want only LP-1 resolved", st.updates)
	}
	if st.updates[0].Reference != "LP-1" || st.updates[0].Status != models.PaymentCompleted {
		t.Fatalf("update = %+v", st.updates[0])
	}
	if st.updates[0].PaynowReference != "111" {
		t.Fatalf("paynow reference = %q", st.updates[0].PaynowReference)
	}

	notified := false
	for _, s := range sender.sent {
		if strings.HasPrefix(s, "263771000001:") && strings.Contains(s, "LP-1") {
			notified = true
		}
	}
	if !notified {
		t.Fatalf("donor should be notified on completion, sent=%v", sender.sent)
	}
}

type fakeDedup struct {
	purgedBefore time.Time
}

func (f *fakeDedup) SeenMessage(context.Context, string) (bool, error) { return false, nil }
func (f *fakeDedup) MarkMessageSeen(context.Context, string) error     { return nil }
func (f *fakeDedup) PurgeMessagesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.purgedBefore = cutoff
	return 3, nil
}

func TestDedupCleanupUsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	dedup := &fakeDedup{}
	cleanup := NewDedupCleanup(dedup, 15*time.Minute)
	cleanup.now = func() time.Time { return now }

	if err := cleanup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := now.Add(-15 * time.Minute)
	if !dedup.purgedBefore.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", dedup.purgedBefore, want)
	}
}
