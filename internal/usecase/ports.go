package usecase

import (
	"context"

	domain "github.com/dibanez/e-commerce/internal/entity"
)

// OrderRepo is the ledger surface for orders and their history.
type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// ApplyTransition persists the new status and appends the history
	// row in one unit of work, guarded on the recorded from-status. A
	// crash must never leave one without the other.
	ApplyTransition(ctx context.Context, change domain.StatusChange) error
	History(ctx context.Context, orderID string) ([]domain.StatusChange, error)
}

// OrderNumberSource hands out strictly increasing counters per
// year-month bucket. Numbers are never reused, even for canceled
// orders.
type OrderNumberSource interface {
	Next(ctx context.Context, bucket string) (int, error)
}

// PaymentRepo is the ledger surface for payments and their append-only
// transaction log.
type PaymentRepo interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	// FindOpenByOrder returns the order's non-terminal payment, or
	// (nil, nil) when there is none.
	FindOpenByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
	FindByProviderRef(ctx context.Context, providerCode, externalID string) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, p *domain.Payment) error
	AddTransaction(ctx context.Context, t *domain.Transaction) error
	Transactions(ctx context.Context, paymentID string) ([]domain.Transaction, error)
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

type OrderCache interface {
	SetStatus(ctx context.Context, orderID string, status string) error
	GetStatus(ctx context.Context, orderID string) (string, bool, error)
}

// EventPublisher fans order status changes out to interested consumers
// (fulfillment, email, analytics). Best-effort.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, msg OrderStatusChangedMsg) error
}
