package whatsapp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"

	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/resilience"
)

// Sender is what the conversation engine needs from the messaging layer.
type Sender interface {
	SendText(ctx context.Context, phone, message string) error
	SendButtons(ctx context.Context, phone, body string, buttons []Button) error
}

type Button struct {
	ID    string
	Title string
}

// Client talks to the WhatsApp Cloud API. Outbound sends go through the
// WhatsApp circuit breaker and the shared retry policy.
type Client struct {
	apiBase       string
	token         string
	phoneNumberID string
	httpClient    *http.Client
	breaker       *resilience.CircuitBreaker
}

type Config struct {
	APIBase       string
	Token         string
	PhoneNumberID string
	Breaker       *resilience.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("whatsapp", 3, 30*time.Second)
	}
	return &Client{
		apiBase:       cfg.APIBase,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		breaker:       breaker,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

type textPayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textContent `json:"text"`
}

type textContent struct {
	Body string `json:"body"`
}

func (c *Client) SendText(ctx context.Context, phone, message string) error {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             textContent{Body: message},
	}
	return c.send(ctx, payload)
}

type interactivePayload struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Interactive      interactiveBody `json:"interactive"`
}

type interactiveBody struct {
	Type   string            `json:"type"`
	Body   textContent       `json:"body"`
	Action interactiveAction `json:"action"`
}

type interactiveAction struct {
	Buttons []interactiveButton `json:"buttons"`
}

type interactiveButton struct {
	Type  string          `json:"type"`
	Reply interactiveItem `json:"reply"`
}

type interactiveItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (c *Client) SendButtons(ctx context.Context, phone, body string, buttons []Button) error {
	action := interactiveAction{}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, interactiveButton{
			Type:  "reply",
			Reply: interactiveItem{ID: b.ID, Title: b.Title},
		})
	}
	payload := interactivePayload{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "interactive",
		Interactive: interactiveBody{
			Type:   "button",
			Body:   textContent{Body: body},
			Action: action,
		},
	}
	return c.send(ctx, payload)
}

func (c *Client) send(ctx context.Context, payload any) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, "whatsapp send", func(ctx context.Context) error {
			return c.post(ctx, payload)
		})
	})
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logging.Logger.WithField("status", resp.StatusCode).
			WithField("body", string(detail)).
			Warn("whatsapp send rejected")
		err := fmt.Errorf("whatsapp api status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}
