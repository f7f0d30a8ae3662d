package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dibanez/e-commerce/internal/logging"
	"github.com/dibanez/e-commerce/internal/payment"
	"github.com/dibanez/e-commerce/internal/usecase"
)

type PaymentHandler struct {
	flow     *usecase.PaymentFlow
	registry *payment.Registry
}

func NewPaymentHandler(flow *usecase.PaymentFlow, registry *payment.Registry) *PaymentHandler {
	return &PaymentHandler{flow: flow, registry: registry}
}

// ListMethods exposes the registry in registration order; the first
// entry is the default for checkout UIs.
func (h *PaymentHandler) ListMethods(c *gin.Context) {
	infos := h.registry.List()
	out := make([]gin.H, 0, len(infos))
	for _, p := range infos {
		out = append(out, gin.H{"code": p.Code, "name": p.DisplayName})
	}
	c.JSON(http.StatusOK, gin.H{"methods": out})
}

// Webhook is the server-to-server notification entry point. No session
// or token required; replays are acknowledged so gateways stop
// retrying.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_body"})
		return
	}

	req := payment.WebhookRequest{
		Method: c.Request.Method,
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header,
		Body:   body,
	}

	// Signature verification is an HTTP concern: only this transport
	// carries untrusted traffic from the open internet.
	prov, err := h.registry.Resolve(c.Param("provider"))
	if err != nil {
		writeError(c, err)
		return
	}
	if v, ok := prov.(payment.SignatureValidator); ok && !v.ValidateSignature(req) {
		writeError(c, usecase.ErrBadSignature)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	ack, err := h.flow.HandleWebhook(ctx, c.Param("provider"), req)
	if err != nil {
		logging.From(c).Error("webhook failed", "provider", c.Param("provider"), "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paymentId": ack.PaymentID,
		"orderId":   ack.OrderID,
		"outcome":   ack.Outcome,
	})
}

// Return handles the shopper's redirect back from the provider. UI
// messaging only; the webhook path stays authoritative.
func (h *PaymentHandler) Return(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	view, err := h.flow.HandleReturn(ctx, c.Param("provider"), c.Request.URL.Query())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orderId":       view.OrderID,
		"orderNumber":   view.OrderNumber,
		"orderStatus":   view.OrderStatus,
		"paymentStatus": view.PaymentStatus,
	})
}

type AdminPaymentHandler struct {
	flow *usecase.PaymentFlow
}

func NewAdminPaymentHandler(flow *usecase.PaymentFlow) *AdminPaymentHandler {
	return &AdminPaymentHandler{flow: flow}
}

func (h *AdminPaymentHandler) Capture(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.flow.Capture(ctx, c.Param("id"), actorFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"captured": true})
}

type refundReq struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminPaymentHandler) Refund(c *gin.Context) {
	var req refundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	amount := decimal.Zero // zero means full refund
	if req.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_amount"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.flow.Refund(ctx, c.Param("id"), amount, req.Reason, actorFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunded": true})
}
