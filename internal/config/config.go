package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	Debug       bool

	WhatsAppToken   string
	PhoneNumberID   string
	VerifyToken     string
	BotNumber       string
	MetaAppSecret   string
	WhatsAppAPIBase string

	PaynowZWGID   string
	PaynowZWGKey  string
	PaynowUSDID   string
	PaynowUSDKey  string
	PaynowBaseURL string
	ReturnURL     string
	ResultURL     string

	AdminPhone    string
	FinancePhone  string
	AdminAPIToken string

	OpenAIAPIKey string
	OpenAIModel  string

	RateLimitTokens    int
	RateLimitRefill    float64
	SessionTimeout     time.Duration
	SessionWarning     time.Duration
	MonitorInterval    time.Duration
	PollInterval       time.Duration
	DedupRetention     time.Duration
	MinAmount          float64
	MaxAmount          float64
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8010"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Debug:       readBool("DEBUG", false),

		WhatsAppToken:   os.Getenv("WHATSAPP_TOKEN"),
		PhoneNumberID:   os.Getenv("PHONE_NUMBER_ID"),
		VerifyToken:     os.Getenv("VERIFY_TOKEN"),
		BotNumber:       os.Getenv("WHATSAPP_BOT_NUMBER"),
		MetaAppSecret:   os.Getenv("META_APP_SECRET"),
		WhatsAppAPIBase: readString("WHATSAPP_API_BASE", "https://graph.facebook.com/v18.0"),

		PaynowZWGID:   readString("PAYNOW_ZWG_ID", "21227"),
		PaynowZWGKey:  os.Getenv("PAYNOW_ZWG_KEY"),
		PaynowUSDID:   readString("PAYNOW_USD_ID", "21116"),
		PaynowUSDKey:  os.Getenv("PAYNOW_USD_KEY"),
		PaynowBaseURL: readString("PAYNOW_BASE_URL", "https://www.paynow.co.zw"),
		ReturnURL:     readString("PAYNOW_RETURN_URL", "https://latterpay-production.up.railway.app/payment-return"),
		ResultURL:     readString("PAYNOW_RESULT_URL", "https://latterpay-production.up.railway.app/payment-result"),

		AdminPhone:    os.Getenv("ADMIN_PHONE"),
		FinancePhone:  os.Getenv("FINANCE_PHONE"),
		AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  readString("OPENAI_MODEL", "gpt-3.5-turbo"),

		RateLimitTokens: readInt("RATE_LIMIT_TOKENS", 30),
		RateLimitRefill: readFloat("RATE_LIMIT_REFILL_PER_SEC", 0.5),
		SessionTimeout:  readDurationMinutes("SESSION_TIMEOUT_MINUTES", 5),
		SessionWarning:  readDurationMinutes("SESSION_WARNING_MINUTES", 4),
		MonitorInterval: readDurationSeconds("SESSION_SCAN_INTERVAL_SECONDS", 60),
		PollInterval:    readDurationSeconds("PAYMENT_POLL_INTERVAL_SECONDS", 30),
		DedupRetention:  readDurationMinutes("DEDUP_RETENTION_MINUTES", 15),
		MinAmount:       readFloat("MIN_AMOUNT", 1),
		MaxAmount:       readFloat("MAX_AMOUNT", 480),
	}
}

// AdminPhones lists the configured admin numbers, empties dropped.
func (c Config) AdminPhones() []string {
	var phones []string
	for _, p := range []string{c.AdminPhone, c.FinancePhone} {
		if p != "" {
			phones = append(phones, p)
		}
	}
	return phones
}

func (c Config) IsAdmin(phone string) bool {
	for _, p := range c.AdminPhones() {
		if p == phone {
			return true
		}
	}
	return false
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMinutes(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Minute
}
