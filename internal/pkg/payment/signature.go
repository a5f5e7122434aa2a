package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifyCallbackToken compares the shared-secret token delivered in the
// provider's callback header against the configured secret in constant time.
func VerifyCallbackToken(headerToken, configuredToken string) bool {
	token := strings.TrimSpace(headerToken)
	secret := strings.TrimSpace(configuredToken)
	if token == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// VerifyWebhookSignature checks a hex-encoded HMAC-SHA256 signature of the
// raw payload. Providers that sign payloads use this instead of (or in
// addition to) the callback token.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}
