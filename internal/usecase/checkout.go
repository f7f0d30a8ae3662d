package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/dibanez/e-commerce/internal/entity"
)

var ErrDuplicate = errors.New("duplicate idempotency key")

// CartItem is one line of the finalized cart snapshot: prices are
// locked in by the cart collaborator, never re-read from the catalog.
type CartItem struct {
	ProductID string
	Name      string
	SKU       string
	UnitPrice decimal.Decimal
	Quantity  int
}

type CheckoutInput struct {
	UserID         string
	GuestEmail     string
	IdempotencyKey string
	Currency       string
	Items          []CartItem
	Billing        domain.Address
	Shipping       domain.Address
	Notes          string

	ProviderCode string
	ReturnURL    string
	NotifyURL    string
}

type CheckoutOutput struct {
	OrderID     string
	Number      string
	Status      domain.Status
	GrandTotal  decimal.Decimal
	PaymentID   string
	RedirectURL string
	RenderData  map[string]any
	// Declined reports a provider refusal; the order remains in
	// pending_payment for a retry with the same or another provider.
	Declined     bool
	ErrorMessage string
}

// Checkout turns a finalized cart snapshot into a pending-payment
// order and starts the payment attempt.
type Checkout struct {
	orders   OrderRepo
	numbers  OrderNumberSource
	idem     IdempotencyStore
	flow     *PaymentFlow
	shipping domain.ShippingPolicy
	tax      domain.TaxPolicy

	numberPrefix string
	log          *slog.Logger
	now          func() time.Time
}

func NewCheckout(orders OrderRepo, numbers OrderNumberSource, idem IdempotencyStore,
	flow *PaymentFlow, shipping domain.ShippingPolicy, tax domain.TaxPolicy,
	numberPrefix string, log *slog.Logger) *Checkout {
	if numberPrefix == "" {
		numberPrefix = "ORD"
	}
	return &Checkout{
		orders:       orders,
		numbers:      numbers,
		idem:         idem,
		flow:         flow,
		shipping:     shipping,
		tax:          tax,
		numberPrefix: numberPrefix,
		log:          log,
		now:          time.Now,
	}
}

func (uc *Checkout) Execute(ctx context.Context, in CheckoutInput) (CheckoutOutput, error) {
	scope := in.UserID
	if scope == "" {
		scope = in.GuestEmail
	}

	// Fast path: a resubmitted checkout returns the order it already
	// produced instead of creating a second one.
	if in.IdempotencyKey != "" {
		if id, ok, _ := uc.idem.Recall(ctx, scope, in.IdempotencyKey); ok {
			order, err := uc.orders.GetByID(ctx, id)
			if err != nil {
				return CheckoutOutput{}, err
			}
			return CheckoutOutput{OrderID: order.ID, Number: order.Number, Status: order.Status, GrandTotal: order.GrandTotal}, nil
		}
		ok, err := uc.idem.TryLock(ctx, scope, in.IdempotencyKey)
		if err != nil {
			return CheckoutOutput{}, err
		}
		if !ok {
			return CheckoutOutput{}, ErrDuplicate
		}
	}

	order, err := uc.buildOrder(ctx, in)
	if err != nil {
		return CheckoutOutput{}, err
	}

	if err := uc.orders.Create(ctx, order); err != nil {
		return CheckoutOutput{}, err
	}

	change, err := order.Transition(domain.StatusPendingPayment, ownerActor(in), "checkout submitted", uc.now())
	if err != nil {
		return CheckoutOutput{}, err
	}
	if err := uc.orders.ApplyTransition(ctx, change); err != nil {
		return CheckoutOutput{}, err
	}
	uc.flow.afterTransition(ctx, order, change)

	if in.IdempotencyKey != "" {
		_ = uc.idem.Remember(ctx, scope, in.IdempotencyKey, order.ID)
	}

	init, err := uc.flow.Initiate(ctx, order.ID, in.ProviderCode, in.ReturnURL, in.NotifyURL)
	if err != nil {
		// The order survives a failed initiation in pending_payment;
		// the caller sees why the payment could not start.
		return CheckoutOutput{}, err
	}

	out := CheckoutOutput{
		OrderID:    order.ID,
		Number:     order.Number,
		GrandTotal: order.GrandTotal,
		PaymentID:  init.Payment.ID,
	}
	if init.Declined {
		out.Declined = true
		out.ErrorMessage = init.ErrorMessage
	} else {
		out.RedirectURL = init.RedirectURL
		out.RenderData = init.RenderData
	}

	// Re-read: auto-capturing providers settle the order during
	// initiation.
	fresh, err := uc.orders.GetByID(ctx, order.ID)
	if err != nil {
		return CheckoutOutput{}, err
	}
	out.Status = fresh.Status
	return out, nil
}

func (uc *Checkout) buildOrder(ctx context.Context, in CheckoutInput) (*domain.Order, error) {
	now := uc.now()
	order := &domain.Order{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		GuestEmail: in.GuestEmail,
		Status:     domain.StatusDraft,
		Billing:    in.Billing,
		Shipping:   in.Shipping,
		Currency:   in.Currency,
		Notes:      in.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, it := range in.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			CreatedAt: now,
		})
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	order.RecomputeTotals(uc.shipping, uc.tax)

	seq, err := uc.numbers.Next(ctx, now.UTC().Format("200601"))
	if err != nil {
		return nil, err
	}
	order.Number = domain.OrderNumber(uc.numberPrefix, now, seq)
	return order, nil
}

// Cancel is the explicit user/administrator action that abandons a
// pending order. Payment failure never triggers it automatically.
func (uc *Checkout) Cancel(ctx context.Context, orderID, actor, reason string) error {
	uc.flow.locks.Lock(orderID)
	defer uc.flow.locks.Unlock(orderID)

	order, err := uc.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	return uc.flow.transition(ctx, order, domain.StatusCanceled, actor, reason)
}

func ownerActor(in CheckoutInput) string {
	if in.UserID != "" {
		return "user:" + in.UserID
	}
	return "guest:" + in.GuestEmail
}
