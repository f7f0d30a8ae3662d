// Package payment defines the capability contract implemented by every
// payment backend and the registry that resolves them by code. The
// order and checkout code never sees provider internals; it talks to
// this interface only.
package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	domain "github.com/dibanez/e-commerce/internal/entity"
)

// Provider is the contract every backend implements. Implementations
// must be safe for concurrent use; the registry hands out one instance
// per configured provider for the life of the process.
type Provider interface {
	Code() string
	DisplayName() string

	// StartPayment is side-effecting exactly once per call (it creates
	// or authorizes the attempt on the provider side). The orchestrator
	// is responsible for not calling it twice for one logical attempt.
	StartPayment(ctx context.Context, order *domain.Order, returnURL, notifyURL string) (InitResult, error)

	// HandleWebhook must be idempotent: a replay of the same provider
	// notification (same external reference, same outcome) is reported
	// as OutcomeDuplicate, never re-applied.
	HandleWebhook(ctx context.Context, req WebhookRequest) (WebhookResult, error)

	// Capture and Refund are merchant-initiated, independent of the
	// webhook flow. Refund fails with domain.ErrInvalidAmount when the
	// amount exceeds the captured total.
	Capture(ctx context.Context, order *domain.Order) (OperationResult, error)
	Refund(ctx context.Context, order *domain.Order, amount decimal.Decimal) (OperationResult, error)
}

// SignatureValidator is an optional capability; entry points check it
// before handing the request to HandleWebhook.
type SignatureValidator interface {
	ValidateSignature(req WebhookRequest) bool
}

// WebhookRequest is a transport-neutral notification so the HTTP
// handler and the broker listener feed the same reconciliation path.
type WebhookRequest struct {
	Method string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// InitResult is what StartPayment hands back to checkout: either a
// redirect target or inline render data, plus the provider's reference.
type InitResult struct {
	Success     bool
	RedirectURL string
	RenderData  map[string]any
	ProviderRef string
	// Captured signals that the provider already collected the funds
	// during initiation. Dummy-only development policy; real gateways
	// leave it false and are captured by webhook or explicit capture.
	Captured     bool
	ErrorMessage string
	Raw          json.RawMessage
}

type WebhookOutcome string

const (
	OutcomeSuccess   WebhookOutcome = "success"
	OutcomeFailure   WebhookOutcome = "failure"
	OutcomeDuplicate WebhookOutcome = "duplicate"
)

type WebhookResult struct {
	// PaymentRef is the provider's external reference used to correlate
	// the notification back to a Payment row.
	PaymentRef   string
	Outcome      WebhookOutcome
	Amount       decimal.Decimal
	Currency     string
	ErrorMessage string
	Raw          json.RawMessage
}

type OperationResult struct {
	Success       bool
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	ErrorMessage  string
	Raw           json.RawMessage
}

// Info is the registry listing entry shown to checkout UIs.
type Info struct {
	Code        string
	DisplayName string
}
