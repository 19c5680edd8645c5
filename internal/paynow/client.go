package paynow

import (
	"context"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/resilience"
)

// Integration is one Paynow merchant integration (the gateway issues separate
// credentials per settlement currency).
type Integration struct {
	ID  string
	Key string
}

// Client submits mobile-money transactions to Paynow and polls their status.
// All gateway calls run under the payment circuit breaker.
type Client struct {
	baseURL      string
	zwg          Integration
	usd          Integration
	returnURL    string
	resultURL    string
	merchantMail string
	httpClient   *http.Client
	breaker      *resilience.CircuitBreaker
}

type Config struct {
	BaseURL      string
	ZWG          Integration
	USD          Integration
	ReturnURL    string
	ResultURL    string
	MerchantMail string
	Breaker      *resilience.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("paynow", 5, 60*time.Second)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://www.paynow.co.zw"
	}
	merchantMail := cfg.MerchantMail
	if merchantMail == "" {
		merchantMail = "payments@latterpay.org"
	}
	return &Client{
		baseURL:      baseURL,
		zwg:          cfg.ZWG,
		usd:          cfg.USD,
		returnURL:    cfg.ReturnURL,
		resultURL:    cfg.ResultURL,
		merchantMail: merchantMail,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		breaker:      breaker,
	}
}

func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// integration picks the merchant credentials for the payment currency.
func (c *Client) integration(currency string) (Integration, error) {
	switch strings.ToUpper(currency) {
	case models.CurrencyUSD:
		if c.usd.ID == "" || c.usd.Key == "" {
			return Integration{}, errors.New("paynow USD integration not configured")
		}
		return c.usd, nil
	default:
		if c.zwg.ID == "" || c.zwg.Key == "" {
			return Integration{}, errors.New("paynow ZWG integration not configured")
		}
		return c.zwg, nil
	}
}

type InitiateInput struct {
	Reference string
	Phone     string
	Amount    decimal.Decimal
	Currency  string
	Method    string
	Info      string
}

type InitiateResult struct {
	PollURL      string
	Instructions string
	RedirectURL  string
}

// methodCodes maps user-facing payment methods onto the gateway's mobile
// money channel identifiers.
var methodCodes = map[string]string{
	models.MethodEcoCash:  "ecocash",
	models.MethodOneMoney: "onemoney",
	models.MethodInnBucks: "innbucks",
}

// InitiateMobile starts an express checkout mobile transaction. The payer
// receives a push prompt on their handset.
func (c *Client) InitiateMobile(ctx context.Context, input InitiateInput) (InitiateResult, error) {
	integration, err := c.integration(input.Currency)
	if err != nil {
		return InitiateResult{}, err
	}
	method, ok := methodCodes[input.Method]
	if !ok {
		return InitiateResult{}, fmt.Errorf("unsupported payment method %q", input.Method)
	}

	// Field order matters: the hash covers the values in submission order.
	fields := [][2]string{
		{"resulturl", c.resultURL},
		{"returnurl", c.returnURL},
		{"reference", input.Reference},
		{"amount", input.Amount.StringFixed(2)},
		{"id", integration.ID},
		{"additionalinfo", input.Info},
		{"authemail", c.merchantMail},
		{"phone", input.Phone},
		{"method", method},
		{"status", "Message"},
	}
	form := url.Values{}
	var hashSrc strings.Builder
	for _, f := range fields {
		form.Set(f[0], f[1])
		hashSrc.WriteString(f[1])
	}
	form.Set("hash", hashValues(hashSrc.String(), integration.Key))

	var result InitiateResult
	err = c.breaker.Do(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, "paynow initiate", func(ctx context.Context) error {
			values, err := c.postForm(ctx, c.baseURL+"/interface/remotetransaction", form)
			if err != nil {
				return err
			}
			status := strings.ToLower(values.Get("status"))
			if status != "ok" {
				msg := values.Get("error")
				if msg == "" {
					msg = "gateway returned status " + status
				}
				return backoff.Permanent(errors.New(msg))
			}
			result = InitiateResult{
				PollURL:      values.Get("pollurl"),
				Instructions: values.Get("instructions"),
				RedirectURL:  values.Get("browserurl"),
			}
			return nil
		})
	})
	if err != nil {
		return InitiateResult{}, err
	}
	return result, nil
}

type PollResult struct {
	Reference       string
	PaynowReference string
	Amount          string
	Status          string
}

// Poll fetches the current transaction state from the poll URL handed out at
// initiation.
func (c *Client) Poll(ctx context.Context, pollURL string) (PollResult, error) {
	var result PollResult
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, "paynow poll", func(ctx context.Context) error {
			values, err := c.postForm(ctx, pollURL, url.Values{})
			if err != nil {
				return err
			}
			result = PollResult{
				Reference:       values.Get("reference"),
				PaynowReference: values.Get("paynowreference"),
				Amount:          values.Get("amount"),
				Status:          values.Get("status"),
			}
			return nil
		})
	})
	if err != nil {
		return PollResult{}, err
	}
	return result, nil
}

// MapStatus translates a gateway status into a payment_history status.
// Unrecognized statuses stay pending.
func MapStatus(gatewayStatus string) string {
	switch strings.ToLower(strings.TrimSpace(gatewayStatus)) {
	case "paid", "awaiting delivery", "delivered":
		return models.PaymentCompleted
	case "cancelled":
		return models.PaymentCancelled
	case "failed":
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

// VerifyHash checks a Paynow IPN: SHA512 over the values of every field
// except hash, sorted by field name, with the integration key appended.
func VerifyHash(fields map[string]string, currency string, zwgKey, usdKey string) bool {
	key := zwgKey
	if strings.EqualFold(currency, models.CurrencyUSD) {
		key = usdKey
	}
	if key == "" {
		return true
	}
	signature, ok := fields["hash"]
	if !ok {
		signature = fields["Hash"]
	}
	if signature == "" {
		return false
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if strings.EqualFold(k, "hash") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var src strings.Builder
	for _, k := range keys {
		src.WriteString(fields[k])
	}
	expected := hashValues(src.String(), key)
	return expected == strings.ToUpper(signature)
}

func hashValues(values, key string) string {
	sum := sha512.Sum512([]byte(values + key))
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("paynow status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("malformed gateway response: %w", err))
	}
	return values, nil
}
