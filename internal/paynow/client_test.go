package paynow

import (
	"context"
	"crypto/sha512"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Mapetere/latterpay/internal/models"
)

func TestMapStatus(t *testing.T) {
	cases := []struct {
		gateway string
		want    string
	}{
		{"Paid", models.PaymentCompleted},
		{"Awaiting Delivery", models.PaymentCompleted},
		{"Delivered", models.PaymentCompleted},
		{"Cancelled", models.PaymentCancelled},
		{"Failed", models.PaymentFailed},
		{"Created", models.PaymentPending},
		{"Sent", models.PaymentPending},
		{"", models.PaymentPending},
	}
	for _, tt := range cases {
		if got := MapStatus(tt.gateway); got != tt.want {
			t.Fatalf("MapStatus(%q) = %q, want %q", tt.gateway, got, tt.want)
		}
	}
}

func signFields(fields map[string]string, key string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var src strings.Builder
	for _, k := range keys {
		src.WriteString(fields[k])
	}
	src.WriteString(key)
	return strings.ToUpper(fmt.Sprintf("%x", sha512.Sum512([]byte(src.String()))))
}

func TestVerifyHash(t *testing.T) {
	const key = "secret-integration-key"
	fields := map[string]string{
		"reference":       "LP-20260815-000123",
		"paynowreference": "12345678",
		"amount":          "50.00",
		"status":          "Paid",
	}
	fields["hash"] = signFields(map[string]string{
		"reference":       fields["reference"],
		"paynowreference": fields["paynowreference"],
		"amount":          fields["amount"],
		"status":          fields["status"],
	}, key)

	if !VerifyHash(fields, models.CurrencyZWG, key, "other") {
		t.Fatal("valid hash rejected")
	}
	if VerifyHash(fields, models.CurrencyZWG, "wrong-key", "other") {
		t.Fatal("hash accepted with wrong key")
	}

	tampered := map[string]string{}
	for k, v := range fields {
		tampered[k] = v
	}
	tampered["amount"] = "500.00"
	if VerifyHash(tampered, models.CurrencyZWG, key, "other") {
		t.Fatal("tampered payload accepted")
	}

	missing := map[string]string{"reference": "LP-1", "status": "Paid"}
	if VerifyHash(missing, models.CurrencyZWG, key, "other") {
		t.Fatal("payload without hash accepted")
	}
}

func TestVerifyHashPicksIntegrationByCurrency(t *testing.T) {
	const usdKey = "usd-key"
	fields := map[string]string{"reference": "LP-1", "status": "Paid"}
	fields["hash"] = signFields(map[string]string{
		"reference": "LP-1", "status": "Paid",
	}, usdKey)

	if !VerifyHash(fields, models.CurrencyUSD, "zwg-key", usdKey) {
		t.Fatal("USD hash should verify against the USD integration key")
	}
	if VerifyHash(fields, models.CurrencyZWG, "zwg-key", usdKey) {
		t.Fatal("USD hash must not verify against the ZWG key")
	}
}

func TestInitiateMobile(t *testing.T) {
	var form map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/interface/remotetransaction" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err == nil {
			form = r.PostForm
		}
		io.WriteString(w, "status=Ok&browserurl=https%3A%2F%2Fexample.test%2Fpay&pollurl=https%3A%2F%2Fexample.test%2Fpoll%2F1&instructions=Enter+your+PIN")
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:   server.URL,
		ZWG:       Integration{ID: "21227", Key: "zwg-key"},
		USD:       Integration{ID: "21116", Key: "usd-key"},
		ReturnURL: "https://bot.test/payment-return",
		ResultURL: "https://bot.test/payment-result",
	})

	result, err := client.InitiateMobile(context.Background(), InitiateInput{
		Reference: "LP-20260815-000123",
		Phone:     "263771234567",
		Amount:    decimal.RequireFromString("50"),
		Currency:  models.CurrencyZWG,
		Method:    models.MethodEcoCash,
		Info:      "August Conference",
	})
	if err != nil {
		t.Fatalf("InitiateMobile: %v", err)
	}
	if result.PollURL != "https://example.test/poll/1" {
		t.Fatalf("poll URL = %q", result.PollURL)
	}
	if result.Instructions != "Enter your PIN" {
		t.Fatalf("instructions = %q", result.Instructions)
	}

	if got := first(form, "id"); got != "21227" {
		t.Fatalf("integration id = %q, want ZWG integration", got)
	}
	if got := first(form, "amount"); got != "50.00" {
		t.Fatalf("amount = %q, want 50.00", got)
	}
	if got := first(form, "method"); got != "ecocash" {
		t.Fatalf("method = %q", got)
	}
	if first(form, "hash") == "" {
		t.Fatal("hash missing from submission")
	}
}

func TestInitiateMobileGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "status=Error&error=Invalid+amount")
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL: server.URL,
		ZWG:     Integration{ID: "21227", Key: "zwg-key"},
	})
	_, err := client.InitiateMobile(context.Background(), InitiateInput{
		Reference: "LP-1",
		Phone:     "263771234567",
		Amount:    decimal.RequireFromString("50"),
		Currency:  models.CurrencyZWG,
		Method:    models.MethodEcoCash,
	})
	if err == nil || !strings.Contains(err.Error(), "Invalid amount") {
		t.Fatalf("err = %v, want gateway error message", err)
	}
}

func TestPoll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "reference=LP-1&paynowreference=987654&amount=50.00&status=Paid")
	}))
	defer server.Close()

	client := NewClient(Config{ZWG: Integration{ID: "1", Key: "k"}})
	result, err := client.Poll(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.Status != "Paid" || result.PaynowReference != "987654" {
		t.Fatalf("unexpected poll result: %+v", result)
	}
}

func TestUnsupportedMethod(t *testing.T) {
	client := NewClient(Config{ZWG: Integration{ID: "1", Key: "k"}})
	_, err := client.InitiateMobile(context.Background(), InitiateInput{
		Reference: "LP-1",
		Amount:    decimal.RequireFromString("10"),
		Currency:  models.CurrencyZWG,
		Method:    "Cash",
	})
	if err == nil {
		t.Fatal("expected error for unsupported method")
	}
}

func first(form map[string][]string, key string) string {
	if v, ok := form[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}
