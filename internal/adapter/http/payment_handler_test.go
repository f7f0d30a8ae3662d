package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dibanez/e-commerce/internal/payment"
	"github.com/dibanez/e-commerce/internal/security"
)

func webhookRouter(t *testing.T, cfg payment.DummyConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := payment.NewRegistry()
	require.NoError(t, registry.Register(payment.NewDummyProvider(cfg)))

	h := NewPaymentHandler(nil, registry)
	r := gin.New()
	r.POST("/api/payments/webhook/:provider", h.Webhook)
	return r
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	r := webhookRouter(t, payment.DummyConfig{WebhookSecret: "s3cret"})

	body := []byte(`{"payment_id":"dummy_1_x","status":"success"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook/dummy", bytes.NewReader(body))
	req.Header.Set("X-Dummy-Signature", "bogus")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	r := webhookRouter(t, payment.DummyConfig{WebhookSecret: "s3cret"})

	signer := security.NewWebhookSigner("s3cret")
	sig := signer.Sign([]byte(`{"payment_id":"dummy_1_x","status":"success"}`))

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook/dummy",
		bytes.NewReader([]byte(`{"payment_id":"dummy_1_x","status":"failed"}`)))
	req.Header.Set("X-Dummy-Signature", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookUnknownProvider(t *testing.T) {
	r := webhookRouter(t, payment.DummyConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook/stripe",
		bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
