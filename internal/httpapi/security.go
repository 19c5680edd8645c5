package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Mapetere/latterpay/internal/logging"
)

// VerifyMetaSignature checks the X-Hub-Signature-256 header: HMAC-SHA256 of
// the raw body with the app secret. Verification is skipped when no secret is
// configured.
func VerifyMetaSignature(appSecret string, payload []byte, signature string) bool {
	if appSecret == "" {
		return true
	}
	if signature == "" {
		logging.Logger.Warn("webhook delivery without signature")
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
