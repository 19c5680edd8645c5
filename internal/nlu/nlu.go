// Package nlu extracts intent and entities from free-form donor messages.
// A regex engine handles the common phrasings; when an OpenAI key is
// configured the chat completions API is tried first and the regex engine
// remains the fallback.
package nlu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/models"
)

// Intents.
const (
	IntentDonate      = "donate"
	IntentRegister    = "register"
	IntentHelp        = "help"
	IntentCancel      = "cancel"
	IntentGreeting    = "greeting"
	IntentCheckStatus = "check_status"
	IntentUnknown     = "unknown"
)

// Result holds whatever the message explicitly stated. Empty fields mean the
// user did not mention them.
type Result struct {
	Intent       string `json:"intent"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Purpose      string `json:"purpose"`
	Name         string `json:"name"`
	Congregation string `json:"congregation"`
}

const openaiBaseURL = "https://api.openai.com/v1/chat/completions"

const systemPrompt = `You are a donation chatbot assistant for LatterPay, a church donation platform in Zimbabwe.

Your job is to extract information from user messages. Extract ONLY what the user explicitly mentions.

VALID PURPOSES (use exact names):
- Monthly Contributions
- August Conference
- Youth Conference
- Construction Contribution
- Pastoral Support

VALID CURRENCIES:
- USD (if they say dollars, usd, $)
- ZWG (if they say zwg, rtgs, zig, or Zimbabwe currency)

Respond with a JSON object containing ONLY the fields that are present in the message:
{
  "intent": "donate|register|help|cancel|greeting|check_status|unknown",
  "amount": "number as string" or null,
  "currency": "USD" or "ZWG" or null,
  "purpose": "exact purpose name" or null,
  "name": "person's name" or null,
  "congregation": "congregation/area name" or null
}

Be conservative - only extract what's clearly stated. Don't guess.`

// Engine parses donor messages. A zero API key disables the AI path.
type Engine struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewEngine(apiKey, model string) *Engine {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &Engine{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Parse extracts intent and entities. Never fails: AI errors fall back to
// the regex engine.
func (e *Engine) Parse(ctx context.Context, message string) Result {
	if e.apiKey != "" {
		result, err := e.extractAI(ctx, message)
		if err == nil {
			return result
		}
		logging.Logger.WithError(err).Debug("ai extraction failed, using regex fallback")
	}
	return ParseRegex(message)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *Engine) extractAI(ctx context.Context, message string) (Result, error) {
	payload := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Extract from this message: %q", message)},
		},
		Temperature: 0.1,
		MaxTokens:   200,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openaiBaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}
	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error.Message != "" {
			return Result{}, fmt.Errorf("openai error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return Result{}, fmt.Errorf("openai error (%d)", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("openai returned no choices")
	}

	content := stripCodeFence(parsed.Choices[0].Message.Content)
	var result extractedFields
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return Result{}, fmt.Errorf("malformed extraction: %w", err)
	}
	return result.toResult(), nil
}

// extractedFields tolerates the model returning amount as a number.
type extractedFields struct {
	Intent       string          `json:"intent"`
	Amount       json.RawMessage `json:"amount"`
	Currency     string          `json:"currency"`
	Purpose      string          `json:"purpose"`
	Name         string          `json:"name"`
	Congregation string          `json:"congregation"`
}

func (f extractedFields) toResult() Result {
	result := Result{
		Intent:       f.Intent,
		Currency:     strings.ToUpper(f.Currency),
		Purpose:      f.Purpose,
		Name:         f.Name,
		Congregation: f.Congregation,
	}
	if result.Intent == "" {
		result.Intent = IntentUnknown
	}
	amount := strings.Trim(string(f.Amount), `"`)
	if amount != "" && amount != "null" {
		result.Amount = amount
	}
	return result
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.Index(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

var (
	amountPattern = regexp.MustCompile(`\b(\d+(?:\.\d{1,2})?)\b`)

	intentKeywords = []struct {
		intent string
		words  []string
	}{
		{IntentCancel, []string{"cancel", "quit", "stop", "exit"}},
		{IntentHelp, []string{"help", "how do i", "what can"}},
		{IntentRegister, []string{"register", "volunteer", "sign up", "signup"}},
		{IntentCheckStatus, []string{"status", "history", "my payments", "receipt"}},
		{IntentDonate, []string{"donate", "donation", "give", "pay", "contribute", "offering", "tithe"}},
		{IntentGreeting, []string{"hi", "hello", "hey", "hie", "good morning", "good afternoon", "good evening", "makadii", "mhoro"}},
	}

	purposeKeywords = map[string]string{
		"monthly":      "Monthly Contributions",
		"august":       "August Conference",
		"youth":        "Youth Conference",
		"construction": "Construction Contribution",
		"building":     "Construction Contribution",
		"pastoral":     "Pastoral Support",
		"pastor":       "Pastoral Support",
	}
)

// ParseRegex is the keyword fallback. Exported so tests and the flow engine
// can use it deterministically.
func ParseRegex(message string) Result {
	lower := strings.ToLower(strings.TrimSpace(message))
	result := Result{Intent: IntentUnknown}
	if lower == "" {
		return result
	}

	for _, group := range intentKeywords {
		for _, word := range group.words {
			if containsWord(lower, word) {
				result.Intent = group.intent
				break
			}
		}
		if result.Intent != IntentUnknown {
			break
		}
	}

	if m := amountPattern.FindString(lower); m != "" {
		result.Amount = m
		if result.Intent == IntentUnknown {
			result.Intent = IntentDonate
		}
	}

	switch {
	case strings.Contains(lower, "usd"), strings.Contains(lower, "dollar"), strings.Contains(lower, "$"):
		result.Currency = models.CurrencyUSD
	case strings.Contains(lower, "zwg"), strings.Contains(lower, "zig"), strings.Contains(lower, "rtgs"):
		result.Currency = models.CurrencyZWG
	}

	for keyword, purpose := range purposeKeywords {
		if strings.Contains(lower, keyword) {
			result.Purpose = purpose
			break
		}
	}
	return result
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		before := idx == 0 || !isLetter(text[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(text) || !isLetter(text[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
