package httpapi

import (
	"context"
	"errors"
	"expvar"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Mapetere/latterpay/internal/flow"
	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/paynow"
	"github.com/Mapetere/latterpay/internal/resilience"
	"github.com/Mapetere/latterpay/internal/store"
	"github.com/Mapetere/latterpay/internal/whatsapp"
)

const serviceVersion = "3.0.0"

// Flow is the conversation engine surface the webhook needs.
type Flow interface {
	HandleMessage(ctx context.Context, phone, senderName, message string) error
}

type Handler struct {
	store    store.Store
	dedup    store.DedupStore
	sender   whatsapp.Sender
	flow     Flow
	limiter  *resilience.RateLimiter
	notifier *flow.Notifier
	breakers map[string]*resilience.CircuitBreaker

	verifyToken   string
	appSecret     string
	phoneNumberID string
	botNumber     string
	zwgKey        string
	usdKey        string
	adminToken    string
}

type Options struct {
	Store    store.Store
	Dedup    store.DedupStore
	Sender   whatsapp.Sender
	Flow     Flow
	Limiter  *resilience.RateLimiter
	Notifier *flow.Notifier
	Breakers map[string]*resilience.CircuitBreaker

	VerifyToken   string
	AppSecret     string
	PhoneNumberID string
	BotNumber     string
	PaynowZWGKey  string
	PaynowUSDKey  string
	AdminToken    string
}

func NewHandler(options Options) *Handler {
	limiter := options.Limiter
	if limiter == nil {
		limiter = resilience.NewRateLimiter(30, 0.5)
	}
	dedup := options.Dedup
	if dedup == nil {
		dedup = options.Store
	}
	return &Handler{
		store:         options.Store,
		dedup:         dedup,
		sender:        options.Sender,
		flow:          options.Flow,
		limiter:       limiter,
		notifier:      options.Notifier,
		breakers:      options.Breakers,
		verifyToken:   options.VerifyToken,
		appSecret:     options.AppSecret,
		phoneNumberID: options.PhoneNumberID,
		botNumber:     options.BotNumber,
		zwgKey:        options.PaynowZWGKey,
		usdKey:        options.PaynowUSDKey,
		adminToken:    options.AdminToken,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleHome)
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/webhook", h.handleWebhook)
	mux.HandleFunc("/payment-return", h.handlePaymentReturn)
	mux.HandleFunc("/payment-result", h.handlePaymentResult)
	mux.HandleFunc("/api/payments/stats", h.handleStats)
	mux.HandleFunc("/api/payments/daily", h.handleDaily)
	mux.HandleFunc("/api/payments/recent", h.handleRecent)
	return mux
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "LatterPay WhatsApp Donation Service",
		"version":   serviceVersion,
		"status":    "running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	breakers := map[string]string{}
	for name, breaker := range h.breakers {
		breakers[name] = string(breaker.State())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"version":  serviceVersion,
		"breakers": breakers,
		"rate_limiter": map[string]any{
			"max_tokens": h.limiter.MaxTokens(),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleDelivery(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the Meta subscription handshake.
func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")
	if token != h.verifyToken || h.verifyToken == "" {
		logging.Logger.Warn("webhook verification failed, token mismatch")
		http.Error(w, "Verification failed", http.StatusForbidden)
		return
	}
	logging.Logger.Info("webhook verified")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
		return
	}

	if !VerifyMetaSignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		writeError(w, http.StatusForbidden, "invalid_signature", "signature verification failed")
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if isIgnorableSystemPayload(raw) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid webhook payload")
		return
	}
	message, ok := payload.FirstMessage()
	if !ok {
		// Status updates and other non-message deliveries.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx := r.Context()

	if message.From == h.phoneNumberID || (h.botNumber != "" && message.From == h.botNumber) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	seen, err := h.dedup.SeenMessage(ctx, message.ID)
	if err != nil {
		logging.Logger.WithError(err).Warn("dedup lookup failed")
	}
	if seen {
		messagesDeduped.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	if err := h.dedup.MarkMessageSeen(ctx, message.ID); err != nil {
		logging.Logger.WithError(err).Warn("dedup mark failed")
	}

	if !h.limiter.Allow(message.From) {
		rateLimitedTotal.Add(1)
		retryAfter := h.limiter.RetryAfter(message.From)
		logging.Logger.WithField("phone", message.From).
			WithField("retry_after", retryAfter.String()).
			Warn("rate limited")
		// One polite notice per exhausted bucket; further flooding is
		// dropped silently until the sender is admitted again.
		if h.sender != nil && h.limiter.ShouldNotify(message.From) {
			_ = h.sender.SendText(ctx, message.From,
				"⏳ You're sending messages too quickly. Please wait a moment and try again.")
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rate_limited"})
		return
	}

	if err := h.flow.HandleMessage(ctx, message.From, payload.SenderName(), message.Body()); err != nil {
		logging.Logger.WithError(err).WithField("phone", message.From).Error("message handling failed")
		if h.sender != nil {
			_ = h.sender.SendText(ctx, message.From,
				"😔 Sorry, something went wrong. Please try again or type *cancel* to start over.")
		}
		writeError(w, http.StatusInternalServerError, "processing_failed", "message handling failed")
		return
	}
	messagesHandled.Add(1)
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// isIgnorableSystemPayload filters hosting-platform events (deploy and build
// notifications) that arrive on the same public URL.
func isIgnorableSystemPayload(raw map[string]json.RawMessage) bool {
	if typeRaw, ok := raw["type"]; ok {
		var kind string
		if json.Unmarshal(typeRaw, &kind) == nil {
			switch kind {
			case "DEPLOY", "BUILD", "STATUS":
				return true
			}
		}
	}
	if _, ok := raw["deployment"]; ok {
		return true
	}
	_, hasProject := raw["project"]
	_, hasStatus := raw["status"]
	return hasProject && hasStatus
}

const paymentReturnHTML = `<!DOCTYPE html>
<html>
<head>
<title>Payment Processed</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
       display: flex; justify-content: center; align-items: center;
       min-height: 100vh; margin: 0; background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); }
.card { background: white; padding: 40px; border-radius: 16px; text-align: center;
        box-shadow: 0 20px 60px rgba(0,0,0,0.3); max-width: 400px; }
h2 { color: #333; margin-bottom: 16px; }
p { color: #666; }
.check { font-size: 64px; margin-bottom: 20px; }
</style>
</head>
<body>
<div class="card">
<div class="check">✅</div>
<h2>Payment Attempted</h2>
<p>You may now return to WhatsApp to check your payment status.</p>
</div>
</body>
</html>`

func (h *Handler) handlePaymentReturn(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(paymentReturnHTML))
}

// handlePaymentResult is the Paynow IPN endpoint. Paynow expects a plain
// "OK"; anything else triggers gateway retries.
func (h *Handler) handlePaymentResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "ERROR", http.StatusBadRequest)
		return
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		http.Error(w, "ERROR", http.StatusBadRequest)
		return
	}
	fields := map[string]string{}
	for k := range values {
		fields[k] = values.Get(k)
	}

	reference := fields["reference"]
	if reference == "" {
		logging.Logger.Warn("IPN without reference")
		_, _ = w.Write([]byte("OK"))
		return
	}

	ctx := r.Context()
	payment, err := h.store.GetPayment(ctx, reference)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			logging.Logger.WithField("reference", reference).Warn("IPN for unknown payment")
			_, _ = w.Write([]byte("OK"))
			return
		}
		http.Error(w, "ERROR", http.StatusInternalServerError)
		return
	}

	if !paynow.VerifyHash(fields, payment.Currency, h.zwgKey, h.usdKey) {
		logging.Logger.WithField("reference", reference).Warn("IPN hash verification failed")
		http.Error(w, "Invalid hash", http.StatusForbidden)
		return
	}

	status := paynow.MapStatus(fields["status"])
	if status == payment.Status {
		_, _ = w.Write([]byte("OK"))
		return
	}
	// Late or replayed IPNs must not move a payment out of a settled state.
	if payment.Status != models.PaymentPending {
		logging.Logger.WithField("reference", reference).
			WithField("current", payment.Status).
			WithField("requested", status).
			Warn("IPN ignored for settled payment")
		_, _ = w.Write([]byte("OK"))
		return
	}

	updated, err := h.store.UpdatePaymentStatus(ctx, store.StatusUpdateInput{
		Reference:       reference,
		Status:          status,
		PaynowReference: fields["paynowreference"],
	})
	if err != nil {
		logging.Logger.WithError(err).WithField("reference", reference).Error("IPN status update failed")
		http.Error(w, "ERROR", http.StatusInternalServerError)
		return
	}
	ipnProcessed.Add(1)
	logging.Logger.WithField("reference", reference).
		WithField("status", status).
		Info("payment status updated via IPN")

	// The store refuses to move settled rows; only a real transition is
	// worth a message.
	if updated.Status == status {
		h.notifier.PaymentStatusChanged(ctx, updated)
	}
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminToken == "" {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token != h.adminToken {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return false
	}
	return true
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > 365 {
			writeError(w, http.StatusBadRequest, "invalid_request", "days must be between 1 and 365")
			return
		}
		days = value
	}
	stats, err := h.store.GetStatistics(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	report, err := h.store.GetDailyReport(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load daily report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > 720 {
			writeError(w, http.StatusBadRequest, "invalid_request", "hours must be between 1 and 720")
			return
		}
		hours = value
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.PaymentPending, models.PaymentCompleted, models.PaymentFailed, models.PaymentCancelled:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status filter")
		return
	}
	payments, err := h.store.ListRecentPayments(r.Context(), hours, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load recent payments")
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hours":        hours,
		"status":       status,
		"count":        len(payments),
		"transactions": payments,
	})
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
