package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/dibanez/e-commerce/internal/entity"
	"github.com/dibanez/e-commerce/internal/payment"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrBadSignature    = errors.New("invalid webhook signature")
	ErrProviderCall    = errors.New("provider call failed")
	ErrNotRefundable   = errors.New("payment cannot be refunded")
	ErrNotCapturable   = errors.New("payment cannot be captured")
)

// PaymentFlow drives payment initiation, webhook reconciliation and
// manual capture/refund against the ledger and the provider registry.
type PaymentFlow struct {
	orders    OrderRepo
	payments  PaymentRepo
	registry  *payment.Registry
	publisher EventPublisher
	cache     OrderCache
	locks     *keyedMutex

	callTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time
}

func NewPaymentFlow(orders OrderRepo, payments PaymentRepo, registry *payment.Registry,
	publisher EventPublisher, cache OrderCache, callTimeout time.Duration, log *slog.Logger) *PaymentFlow {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &PaymentFlow{
		orders:      orders,
		payments:    payments,
		registry:    registry,
		publisher:   publisher,
		cache:       cache,
		locks:       newKeyedMutex(),
		callTimeout: callTimeout,
		log:         log,
		now:         time.Now,
	}
}

type InitiationResult struct {
	Payment     *domain.Payment
	RedirectURL string
	RenderData  map[string]any
	// Reused is set when an open payment already existed for the order
	// (idempotent retry of a checkout submission).
	Reused bool
	// Declined is set when the provider refused the payment; the order
	// stays in pending_payment, eligible for retry.
	Declined     bool
	ErrorMessage string
}

// Initiate starts a payment attempt for an order in pending_payment.
// The provider is called before anything is persisted, so a timed-out
// call can never leave an open payment row behind: an unconfirmed side
// effect is recorded as a failed attempt.
func (f *PaymentFlow) Initiate(ctx context.Context, orderID, providerCode, returnURL, notifyURL string) (InitiationResult, error) {
	f.locks.Lock(orderID)
	defer f.locks.Unlock(orderID)

	order, err := f.orders.GetByID(ctx, orderID)
	if err != nil {
		return InitiationResult{}, err
	}
	if order.Status != domain.StatusPendingPayment {
		return InitiationResult{}, fmt.Errorf("%w: order %s is %s, not %s",
			domain.ErrIllegalTransition, order.Number, order.Status, domain.StatusPendingPayment)
	}

	// Single open payment per order: a double form post reuses the
	// existing attempt instead of charging twice.
	if open, err := f.payments.FindOpenByOrder(ctx, orderID); err != nil {
		return InitiationResult{}, err
	} else if open != nil {
		return InitiationResult{Payment: open, Reused: true}, nil
	}

	prov, err := f.registry.Resolve(providerCode)
	if err != nil {
		return InitiationResult{}, err
	}

	now := f.now()
	pay := &domain.Payment{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		ProviderCode: providerCode,
		Amount:       order.GrandTotal,
		Currency:     order.Currency,
		Status:       domain.PaymentInitiated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	paymentsStarted.WithLabelValues(providerCode).Inc()
	cctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	res, callErr := prov.StartPayment(cctx, order, returnURL, notifyURL)
	cancel()

	if callErr != nil {
		paymentsFailed.WithLabelValues(providerCode).Inc()
		pay.Status = domain.PaymentFailed
		pay.FailureReason = callErr.Error()
		if err := f.persistAttempt(ctx, pay, res, false, callErr.Error()); err != nil {
			return InitiationResult{}, err
		}
		f.log.Error("start_payment call failed", "order", order.Number, "provider", providerCode, "error", callErr)
		return InitiationResult{}, fmt.Errorf("%w: %s: %v", ErrProviderCall, providerCode, callErr)
	}

	if !res.Success {
		paymentsFailed.WithLabelValues(providerCode).Inc()
		pay.Status = domain.PaymentFailed
		pay.FailureReason = res.ErrorMessage
		pay.RawResponse = res.Raw
		if err := f.persistAttempt(ctx, pay, res, false, res.ErrorMessage); err != nil {
			return InitiationResult{}, err
		}
		return InitiationResult{Payment: pay, Declined: true, ErrorMessage: res.ErrorMessage}, nil
	}

	pay.ExternalID = res.ProviderRef
	pay.RawResponse = res.Raw
	if err := f.persistAttempt(ctx, pay, res, true, ""); err != nil {
		return InitiationResult{}, err
	}

	if res.Captured {
		if err := f.settle(ctx, order, pay, res.Raw, "provider:"+providerCode, "auto-capture on init"); err != nil {
			return InitiationResult{}, err
		}
	}

	return InitiationResult{
		Payment:     pay,
		RedirectURL: res.RedirectURL,
		RenderData:  res.RenderData,
	}, nil
}

// persistAttempt writes the payment row plus its authorize transaction.
func (f *PaymentFlow) persistAttempt(ctx context.Context, pay *domain.Payment, res payment.InitResult, success bool, errMsg string) error {
	if err := f.payments.Create(ctx, pay); err != nil {
		return err
	}
	return f.payments.AddTransaction(ctx, &domain.Transaction{
		ID:           uuid.NewString(),
		PaymentID:    pay.ID,
		Type:         domain.TxAuthorize,
		ExternalID:   res.ProviderRef,
		Amount:       pay.Amount,
		Currency:     pay.Currency,
		Success:      success,
		ErrorMessage: errMsg,
		Raw:          res.Raw,
		CreatedAt:    f.now(),
	})
}

// settle applies capture semantics: payment to captured, order from
// pending_payment to paid, one history row. Callers hold the order
// lock.
func (f *PaymentFlow) settle(ctx context.Context, order *domain.Order, pay *domain.Payment, raw []byte, actor, reason string) error {
	now := f.now()
	pay.Status = domain.PaymentCaptured
	pay.CapturedAt = &now
	pay.UpdatedAt = now
	if raw != nil {
		pay.RawResponse = raw
	}
	if err := f.payments.UpdateStatus(ctx, pay); err != nil {
		return err
	}
	if err := f.payments.AddTransaction(ctx, &domain.Transaction{
		ID:        uuid.NewString(),
		PaymentID: pay.ID,
		Type:      domain.TxCapture,
		Amount:    pay.Amount,
		Currency:  pay.Currency,
		Success:   true,
		Raw:       raw,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	return f.transition(ctx, order, domain.StatusPaid, actor, reason)
}

func (f *PaymentFlow) transition(ctx context.Context, order *domain.Order, to domain.Status, actor, reason string) error {
	change, err := order.Transition(to, actor, reason, f.now())
	if err != nil {
		return err
	}
	if err := f.orders.ApplyTransition(ctx, change); err != nil {
		return err
	}
	f.afterTransition(ctx, order, change)
	return nil
}

func (f *PaymentFlow) afterTransition(ctx context.Context, order *domain.Order, change domain.StatusChange) {
	if f.cache != nil {
		_ = f.cache.SetStatus(ctx, order.ID, string(change.To))
	}
	if f.publisher != nil {
		if err := f.publisher.PublishStatusChanged(ctx, OrderStatusChangedMsg{
			OrderID: order.ID,
			Number:  order.Number,
			From:    string(change.From),
			To:      string(change.To),
			Actor:   change.Actor,
			Reason:  change.Reason,
			At:      change.At,
		}); err != nil {
			f.log.Warn("publish status change", "order", order.Number, "error", err)
		}
	}
}

type WebhookAck struct {
	PaymentID string
	OrderID   string
	Outcome   payment.WebhookOutcome
}

// HandleWebhook reconciles a provider notification against the ledger.
// Replays are acknowledged without re-applying: they produce one more
// transaction row marked duplicate and no state transition.
// Signature validation belongs to the transport entry points: the HTTP
// handler checks it, broker deliveries are trusted by subscription.
func (f *PaymentFlow) HandleWebhook(ctx context.Context, providerCode string, req payment.WebhookRequest) (WebhookAck, error) {
	prov, err := f.registry.Resolve(providerCode)
	if err != nil {
		return WebhookAck{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	res, err := prov.HandleWebhook(cctx, req)
	cancel()
	if err != nil {
		return WebhookAck{}, fmt.Errorf("%w: %s: %v", ErrProviderCall, providerCode, err)
	}

	pay, err := f.payments.FindByProviderRef(ctx, providerCode, res.PaymentRef)
	if err != nil {
		return WebhookAck{}, err
	}
	if pay == nil {
		f.log.Warn("webhook for unknown payment", "provider", providerCode, "ref", res.PaymentRef)
		return WebhookAck{}, ErrPaymentNotFound
	}

	f.locks.Lock(pay.OrderID)
	defer f.locks.Unlock(pay.OrderID)

	// Re-read under the lock; a concurrent delivery may have settled
	// the payment while this one waited.
	pay, err = f.payments.GetByID(ctx, pay.ID)
	if err != nil {
		return WebhookAck{}, err
	}

	outcome := res.Outcome
	// Providers are of untrusted quality: even if one forgets a replay
	// (restart, lost memory), a success notification for an already
	// settled payment is still a duplicate, not a second transition.
	if outcome == payment.OutcomeSuccess && pay.Status == domain.PaymentCaptured {
		outcome = payment.OutcomeDuplicate
	}
	if outcome == payment.OutcomeFailure && pay.Status == domain.PaymentFailed {
		outcome = payment.OutcomeDuplicate
	}

	now := f.now()
	if outcome == payment.OutcomeDuplicate {
		// Success on the duplicate row reflects the original outcome.
		if err := f.payments.AddTransaction(ctx, &domain.Transaction{
			ID:        uuid.NewString(),
			PaymentID: pay.ID,
			Type:      domain.TxWebhook,
			Amount:    res.Amount,
			Currency:  pay.Currency,
			Success:   pay.Status == domain.PaymentCaptured,
			Duplicate: true,
			Raw:       res.Raw,
			CreatedAt: now,
		}); err != nil {
			return WebhookAck{}, err
		}
		webhooksProcessed.WithLabelValues(providerCode, string(payment.OutcomeDuplicate)).Inc()
		return WebhookAck{PaymentID: pay.ID, OrderID: pay.OrderID, Outcome: payment.OutcomeDuplicate}, nil
	}

	if err := f.payments.AddTransaction(ctx, &domain.Transaction{
		ID:           uuid.NewString(),
		PaymentID:    pay.ID,
		Type:         domain.TxWebhook,
		ExternalID:   res.PaymentRef,
		Amount:       res.Amount,
		Currency:     pay.Currency,
		Success:      outcome == payment.OutcomeSuccess,
		ErrorMessage: res.ErrorMessage,
		Raw:          res.Raw,
		CreatedAt:    now,
	}); err != nil {
		return WebhookAck{}, err
	}

	order, err := f.orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		return WebhookAck{}, err
	}

	switch outcome {
	case payment.OutcomeSuccess:
		if err := f.settle(ctx, order, pay, res.Raw, "provider:"+providerCode, "webhook notification"); err != nil {
			return WebhookAck{}, err
		}
	case payment.OutcomeFailure:
		pay.Status = domain.PaymentFailed
		pay.FailureReason = res.ErrorMessage
		pay.UpdatedAt = now
		if err := f.payments.UpdateStatus(ctx, pay); err != nil {
			return WebhookAck{}, err
		}
		// The order stays in pending_payment so the customer can retry;
		// cancelation is an explicit action, never automatic.
	}

	webhooksProcessed.WithLabelValues(providerCode, string(outcome)).Inc()
	return WebhookAck{PaymentID: pay.ID, OrderID: pay.OrderID, Outcome: outcome}, nil
}

// Capture is the merchant-initiated capture for providers that do not
// auto-capture.
func (f *PaymentFlow) Capture(ctx context.Context, paymentID, actor string) error {
	pay, err := f.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if pay == nil {
		return ErrPaymentNotFound
	}

	f.locks.Lock(pay.OrderID)
	defer f.locks.Unlock(pay.OrderID)

	pay, err = f.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if !pay.CanBeCaptured() {
		return fmt.Errorf("%w: payment %s is %s", ErrNotCapturable, pay.ID, pay.Status)
	}

	prov, err := f.registry.Resolve(pay.ProviderCode)
	if err != nil {
		return err
	}
	order, err := f.orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	res, err := prov.Capture(cctx, order)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProviderCall, pay.ProviderCode, err)
	}

	if err := f.payments.AddTransaction(ctx, &domain.Transaction{
		ID:           uuid.NewString(),
		PaymentID:    pay.ID,
		Type:         domain.TxCapture,
		ExternalID:   res.TransactionID,
		Amount:       res.Amount,
		Currency:     pay.Currency,
		Success:      res.Success,
		ErrorMessage: res.ErrorMessage,
		Raw:          res.Raw,
		CreatedAt:    f.now(),
	}); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrProviderCall, res.ErrorMessage)
	}

	now := f.now()
	pay.Status = domain.PaymentCaptured
	pay.CapturedAt = &now
	pay.UpdatedAt = now
	pay.RawResponse = res.Raw
	if err := f.payments.UpdateStatus(ctx, pay); err != nil {
		return err
	}
	if order.Status == domain.StatusPendingPayment {
		return f.transition(ctx, order, domain.StatusPaid, actor, "manual capture")
	}
	return nil
}

// Refund refunds up to the captured amount and drives paid->refunded
// when the payment is refunded in full. An excessive amount fails with
// domain.ErrInvalidAmount and changes nothing.
func (f *PaymentFlow) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason, actor string) error {
	pay, err := f.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if pay == nil {
		return ErrPaymentNotFound
	}

	f.locks.Lock(pay.OrderID)
	defer f.locks.Unlock(pay.OrderID)

	pay, err = f.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if !pay.CanBeRefunded() {
		return fmt.Errorf("%w: payment %s is %s", ErrNotRefundable, pay.ID, pay.Status)
	}
	if amount.IsZero() {
		amount = pay.Amount
	}
	if !amount.IsPositive() || amount.GreaterThan(pay.Amount) {
		return fmt.Errorf("%w: refund %s of captured %s", domain.ErrInvalidAmount, amount, pay.Amount)
	}

	prov, err := f.registry.Resolve(pay.ProviderCode)
	if err != nil {
		return err
	}
	order, err := f.orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	res, err := prov.Refund(cctx, order, amount)
	cancel()
	if err != nil {
		// ErrInvalidAmount from the provider means no state changed on
		// either side; surface it untouched.
		if errors.Is(err, domain.ErrInvalidAmount) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrProviderCall, pay.ProviderCode, err)
	}

	if err := f.payments.AddTransaction(ctx, &domain.Transaction{
		ID:           uuid.NewString(),
		PaymentID:    pay.ID,
		Type:         domain.TxRefund,
		ExternalID:   res.TransactionID,
		Amount:       amount,
		Currency:     pay.Currency,
		Success:      res.Success,
		ErrorMessage: res.ErrorMessage,
		Raw:          res.Raw,
		CreatedAt:    f.now(),
	}); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrProviderCall, res.ErrorMessage)
	}

	if amount.Equal(pay.Amount) {
		pay.Status = domain.PaymentRefunded
		pay.UpdatedAt = f.now()
		if err := f.payments.UpdateStatus(ctx, pay); err != nil {
			return err
		}
		return f.transition(ctx, order, domain.StatusRefunded, actor, reason)
	}
	return nil
}

type ReturnView struct {
	OrderID       string
	OrderNumber   string
	OrderStatus   domain.Status
	PaymentStatus domain.PaymentStatus
}

// HandleReturn renders the user's redirect-back outcome. It only reads
// current state: the webhook path is authoritative for the final
// payment outcome, never this one.
func (f *PaymentFlow) HandleReturn(ctx context.Context, providerCode string, query url.Values) (ReturnView, error) {
	ref := query.Get("payment_id")
	if ref == "" {
		return ReturnView{}, ErrPaymentNotFound
	}
	pay, err := f.payments.FindByProviderRef(ctx, providerCode, ref)
	if err != nil {
		return ReturnView{}, err
	}
	if pay == nil {
		return ReturnView{}, ErrPaymentNotFound
	}
	order, err := f.orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		return ReturnView{}, err
	}
	return ReturnView{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		OrderStatus:   order.Status,
		PaymentStatus: pay.Status,
	}, nil
}
