package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dibanez/e-commerce/internal/payment"
	"github.com/dibanez/e-commerce/internal/usecase"
)

// PaymentNotificationHandler feeds broker-delivered provider
// notifications into the same reconciliation path as HTTP webhooks.
type PaymentNotificationHandler struct {
	Flow *usecase.PaymentFlow
}

func NewPaymentNotificationHandler(flow *usecase.PaymentFlow) *PaymentNotificationHandler {
	return &PaymentNotificationHandler{Flow: flow}
}

func (h *PaymentNotificationHandler) Handle(ctx context.Context, ev usecase.ProviderNotificationMsg) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = h.Flow.HandleWebhook(ctx, ev.Provider, payment.WebhookRequest{
		Method: "POST",
		Body:   body,
	})
	// Duplicates are acknowledged inside HandleWebhook; a notification
	// for a payment we never issued should not be retried forever.
	if errors.Is(err, usecase.ErrPaymentNotFound) || errors.Is(err, payment.ErrUnknownProvider) {
		return nil
	}
	return err
}
