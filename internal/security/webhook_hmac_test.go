package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookSignerRoundTrip(t *testing.T) {
	s := NewWebhookSigner("secret")
	body := []byte(`{"payment_id":"p1"}`)

	assert.True(t, s.Verify(body, s.Sign(body)))
	assert.False(t, s.Verify(body, "not-hex"))
	assert.False(t, s.Verify([]byte("tampered"), s.Sign(body)))
}

func TestWebhookSignerDisabledWithEmptySecret(t *testing.T) {
	s := NewWebhookSigner("")
	assert.False(t, s.Enabled())
	assert.True(t, s.Verify([]byte("anything"), "whatever"))
}
