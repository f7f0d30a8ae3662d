package usecase

import "time"

// Published on the order.events exchange after every transition.
type OrderStatusChangedMsg struct {
	OrderID string    `json:"orderId"`
	Number  string    `json:"number"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Actor   string    `json:"actor,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Consumed from the payment notification topic; gateways that notify
// through a broker instead of HTTP land here and are reconciled by the
// same webhook path.
type ProviderNotificationMsg struct {
	Provider  string `json:"provider"`
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id,omitempty"`
	Status    string `json:"status"`
	Amount    string `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
}
