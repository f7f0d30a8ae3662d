package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "initiated"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Payment is one attempt to collect an order's grand total through a
// provider. An order may accumulate attempts but at most one may be
// open (non-terminal) at a time; the orchestrator enforces that.
type Payment struct {
	ID           string
	OrderID      string
	ProviderCode string
	// ExternalID is the provider's own reference, empty until the
	// provider assigns one. Webhooks correlate through it.
	ExternalID    string
	Amount        decimal.Decimal
	Currency      string
	Status        PaymentStatus
	RawResponse   json.RawMessage
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CapturedAt    *time.Time
}

// Terminal reports whether no further transition is expected.
func (p *Payment) Terminal() bool {
	switch p.Status {
	case PaymentCaptured, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

func (p *Payment) CanBeCaptured() bool {
	return p.Status == PaymentInitiated || p.Status == PaymentAuthorized
}

func (p *Payment) CanBeRefunded() bool {
	return p.Status == PaymentCaptured
}

type TransactionType string

const (
	TxAuthorize TransactionType = "authorize"
	TxCapture   TransactionType = "capture"
	TxRefund    TransactionType = "refund"
	TxWebhook   TransactionType = "webhook"
)

// Transaction is the append-only log of every provider interaction for
// a payment, used for audit and replay detection.
type Transaction struct {
	ID         string
	PaymentID  string
	Type       TransactionType
	ExternalID string
	Amount     decimal.Decimal
	Currency   string
	Success    bool
	// Duplicate marks a replayed provider notification; Success then
	// reflects the original outcome, not a re-applied one.
	Duplicate    bool
	ErrorMessage string
	Raw          json.RawMessage
	CreatedAt    time.Time
}
