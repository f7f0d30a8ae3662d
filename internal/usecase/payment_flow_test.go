package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/dibanez/e-commerce/internal/entity"
	"github.com/dibanez/e-commerce/internal/payment"
)

// placeOrder runs a checkout without auto-capture so the payment stays
// open, then returns the created order/payment pair.
func placeOrder(t *testing.T, env *testEnv) (*domain.Order, *domain.Payment) {
	t.Helper()
	out, err := env.checkout.Execute(context.Background(), cartInput("k-"+t.Name()))
	require.NoError(t, err)

	order, err := env.orders.GetByID(context.Background(), out.OrderID)
	require.NoError(t, err)
	pay, err := env.payments.GetByID(context.Background(), out.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, pay)
	return order, pay
}

func successNotification(pay *domain.Payment) payment.WebhookRequest {
	body, _ := json.Marshal(map[string]string{
		"payment_id": pay.ExternalID,
		"order_id":   pay.OrderID,
		"status":     "success",
		"amount":     pay.Amount.String(),
		"currency":   pay.Currency,
	})
	return payment.WebhookRequest{Method: "POST", Header: http.Header{}, Body: body}
}

func failureNotification(pay *domain.Payment) payment.WebhookRequest {
	body, _ := json.Marshal(map[string]string{
		"payment_id": pay.ExternalID,
		"order_id":   pay.OrderID,
		"status":     "failed",
		"amount":     pay.Amount.String(),
		"currency":   pay.Currency,
	})
	return payment.WebhookRequest{Method: "POST", Header: http.Header{}, Body: body}
}

func TestWebhookSuccessSettlesPayment(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: false})
	order, pay := placeOrder(t, env)

	ack, err := env.flow.HandleWebhook(context.Background(), "dummy", successNotification(pay))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeSuccess, ack.Outcome)
	assert.Equal(t, pay.ID, ack.PaymentID)

	got, err := env.payments.GetByID(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCaptured, got.Status)

	fresh, err := env.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, fresh.Status)
}

func TestWebhookReplaysAreAcknowledgedOnce(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: false})
	order, pay := placeOrder(t, env)

	const deliveries = 5
	req := successNotification(pay)
	for i := 0; i < deliveries; i++ {
		ack, err := env.flow.HandleWebhook(context.Background(), "dummy", req)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, payment.OutcomeSuccess, ack.Outcome)
		} else {
			assert.Equal(t, payment.OutcomeDuplicate, ack.Outcome, "delivery %d", i)
		}
	}

	// Exactly one settle: one pending_payment->paid row, however many
	// times the gateway retried.
	history, err := env.orders.History(context.Background(), order.ID)
	require.NoError(t, err)
	paidRows := 0
	for _, h := range history {
		if h.To == domain.StatusPaid {
			paidRows++
		}
	}
	assert.Equal(t, 1, paidRows)

	txns, err := env.payments.Transactions(context.Background(), pay.ID)
	require.NoError(t, err)
	var dups, captures int
	for _, tx := range txns {
		if tx.Duplicate {
			dups++
			// the duplicate row records the original outcome
			assert.True(t, tx.Success)
			assert.Equal(t, domain.TxWebhook, tx.Type)
		}
		if tx.Type == domain.TxCapture {
			captures++
		}
	}
	assert.Equal(t, deliveries-1, dups)
	assert.Equal(t, 1, captures)
}

func TestWebhookFailureKeepsOrderRetryable(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: false})
	order, pay := placeOrder(t, env)

	ack, err := env.flow.HandleWebhook(context.Background(), "dummy", failureNotification(pay))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeFailure, ack.Outcome)

	got, err := env.payments.GetByID(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.Status)

	// No automatic cancel: the customer may retry with another attempt.
	fresh, err := env.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, fresh.Status)

	// Replayed failure is a duplicate as well.
	ack, err = env.flow.HandleWebhook(context.Background(), "dummy", failureNotification(pay))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeDuplicate, ack.Outcome)
}

func TestWebhookUnknownPaymentRef(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100)})

	body, _ := json.Marshal(map[string]string{"payment_id": "dummy_0_ghost", "status": "success"})
	_, err := env.flow.HandleWebhook(context.Background(), "dummy",
		payment.WebhookRequest{Method: "POST", Header: http.Header{}, Body: body})
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestWebhookAcceptsUnsignedBrokerDelivery(t *testing.T) {
	// Broker-delivered notifications carry no signature header; with a
	// webhook secret configured the flow must still settle them.
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: false, WebhookSecret: "s3cret"})
	order, pay := placeOrder(t, env)

	ack, err := env.flow.HandleWebhook(context.Background(), "dummy", successNotification(pay))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeSuccess, ack.Outcome)

	got, err := env.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, got.Status)
}

func TestConcurrentWebhookDeliveries(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: false})
	order, pay := placeOrder(t, env)

	const workers = 10
	req := successNotification(pay)

	var wg sync.WaitGroup
	outcomes := make(chan payment.WebhookOutcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack, err := env.flow.HandleWebhook(context.Background(), "dummy", req)
			if err == nil {
				outcomes <- ack.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	var success, dup int
	for o := range outcomes {
		switch o {
		case payment.OutcomeSuccess:
			success++
		case payment.OutcomeDuplicate:
			dup++
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, dup)

	history, err := env.orders.History(context.Background(), order.ID)
	require.NoError(t, err)
	paidRows := 0
	for _, h := range history {
		if h.To == domain.StatusPaid {
			paidRows++
		}
	}
	assert.Equal(t, 1, paidRows)
}

func TestManualCapture(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: false})
	order, pay := placeOrder(t, env)

	require.NoError(t, env.flow.Capture(context.Background(), pay.ID, "admin:ops"))

	got, err := env.payments.GetByID(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCaptured, got.Status)

	fresh, err := env.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, fresh.Status)

	// A second capture is rejected, not re-applied.
	err = env.flow.Capture(context.Background(), pay.ID, "admin:ops")
	assert.ErrorIs(t, err, ErrNotCapturable)
}

func TestCaptureUnknownPayment(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100)})
	err := env.flow.Capture(context.Background(), "nope", "admin:ops")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestFullRefundTransitionsOrder(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: true})
	order, pay := placeOrder(t, env)

	require.NoError(t, env.flow.Refund(context.Background(), pay.ID, decimal.Zero, "customer request", "admin:ops"))

	got, err := env.payments.GetByID(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, got.Status)

	fresh, err := env.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, fresh.Status)
}

func TestPartialRefundKeepsOrderPaid(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: true})
	order, pay := placeOrder(t, env)

	require.NoError(t, env.flow.Refund(context.Background(), pay.ID,
		decimal.RequireFromString("10.00"), "damaged item", "admin:ops"))

	got, err := env.payments.GetByID(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCaptured, got.Status)

	fresh, err := env.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, fresh.Status)

	txns, err := env.payments.Transactions(context.Background(), pay.ID)
	require.NoError(t, err)
	var refunds int
	for _, tx := range txns {
		if tx.Type == domain.TxRefund && tx.Success {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds)
}

func TestRefundExceedingCapturedChangesNothing(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: true})
	order, pay := placeOrder(t, env)

	tooMuch := pay.Amount.Add(decimal.RequireFromString("0.01"))
	err := env.flow.Refund(context.Background(), pay.ID, tooMuch, "oops", "admin:ops")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	got, err := env.payments.GetByID(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCaptured, got.Status)

	fresh, err := env.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, fresh.Status)
}

func TestRefundRequiresCapturedPayment(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: false})
	_, pay := placeOrder(t, env)

	err := env.flow.Refund(context.Background(), pay.ID, decimal.Zero, "nope", "admin:ops")
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestInitiateReusesOpenPayment(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: false})
	order, pay := placeOrder(t, env)

	res, err := env.flow.Initiate(context.Background(), order.ID, "dummy", "http://r", "http://n")
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, pay.ID, res.Payment.ID)

	// Still exactly one payment row for the order.
	open, err := env.payments.FindOpenByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, pay.ID, open.ID)
}

func TestInitiateRequiresPendingPayment(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: true})
	order, _ := placeOrder(t, env) // auto-capture leaves the order paid

	_, err := env.flow.Initiate(context.Background(), order.ID, "dummy", "http://r", "http://n")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestHandleReturnReadsCurrentState(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100), AutoCapture: true})
	order, pay := placeOrder(t, env)

	view, err := env.flow.HandleReturn(context.Background(), "dummy",
		map[string][]string{"payment_id": {pay.ExternalID}})
	require.NoError(t, err)
	assert.Equal(t, order.ID, view.OrderID)
	assert.Equal(t, order.Number, view.OrderNumber)
	assert.Equal(t, domain.StatusPaid, view.OrderStatus)
	assert.Equal(t, domain.PaymentCaptured, view.PaymentStatus)
}

func TestHandleReturnUnknownRef(t *testing.T) {
	env := newTestEnv(t, payment.DummyConfig{SuccessRate: intPtr(100)})
	_, err := env.flow.HandleReturn(context.Background(), "dummy",
		map[string][]string{"payment_id": {"ghost"}})
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
