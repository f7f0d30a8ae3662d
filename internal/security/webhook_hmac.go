package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// WebhookSigner signs and verifies provider webhook bodies with
// HMAC-SHA256. An empty secret disables verification (dev mode).
type WebhookSigner struct {
	secret []byte
}

func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret)}
}

func (s *WebhookSigner) Enabled() bool { return len(s.secret) > 0 }

func (s *WebhookSigner) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookSigner) Verify(body []byte, signature string) bool {
	if !s.Enabled() {
		return true
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
