package resilience

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Validator checks and normalizes user-supplied conversation input.
type Validator struct {
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
}

func NewValidator(minAmount, maxAmount float64) *Validator {
	return &Validator{
		MinAmount: decimal.NewFromFloat(minAmount),
		MaxAmount: decimal.NewFromFloat(maxAmount),
	}
}

var (
	phonePattern  = regexp.MustCompile(`^(0|263)\d{9,10}$`)
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	namePattern   = regexp.MustCompile(`^[a-zA-Z\s'-]{2,100}$`)

	phoneStrip = regexp.MustCompile(`[\s\-()]`)

	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`(?i);.*?(drop|delete|insert|update|select)`),
	}
)

const maxMessageLength = 2000

// SanitizeMessage caps length, strips injection-looking fragments, and
// collapses whitespace.
func (v *Validator) SanitizeMessage(message string) string {
	if message == "" {
		return ""
	}
	message = Truncate(message, maxMessageLength)
	for _, pattern := range dangerousPatterns {
		message = pattern.ReplaceAllString(message, "")
	}
	return strings.Join(strings.Fields(message), " ")
}

// Truncate caps s at max runes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// ValidatePhone normalizes a Zimbabwean mobile number to international form.
func (v *Validator) ValidatePhone(phone string) (string, error) {
	if phone == "" {
		return "", errors.New("phone number is required")
	}
	phone = phoneStrip.ReplaceAllString(phone, "")
	if !phonePattern.MatchString(phone) {
		return "", errors.New("invalid phone number format, use 0771234567 or 263771234567")
	}
	if strings.HasPrefix(phone, "0") {
		phone = "263" + phone[1:]
	}
	return phone, nil
}

func (v *Validator) ValidateEmail(email string) (string, error) {
	if email == "" {
		return "", errors.New("email is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return "", errors.New("invalid email format")
	}
	return email, nil
}

// ValidateAmount parses an amount like "50" or "50.00" and enforces limits.
func (v *Validator) ValidateAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, errors.New("amount is required")
	}
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if !amountPattern.MatchString(raw) {
		return decimal.Zero, errors.New("invalid amount format, use numbers like 50 or 50.00")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New("invalid amount")
	}
	if amount.LessThan(v.MinAmount) {
		return decimal.Zero, errors.New("amount must be at least " + v.MinAmount.StringFixed(0))
	}
	if amount.GreaterThan(v.MaxAmount) {
		return decimal.Zero, errors.New("maximum amount is " + v.MaxAmount.StringFixed(0))
	}
	return amount, nil
}

// ValidateName trims, checks the character set, and title-cases the result.
func (v *Validator) ValidateName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if len(name) < 2 {
		return "", errors.New("name is too short")
	}
	if len(name) > 100 {
		return "", errors.New("name is too long")
	}
	if !namePattern.MatchString(name) {
		return "", errors.New("name contains invalid characters")
	}
	return titleCase(name), nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
	}
	return strings.Join(words, " ")
}
