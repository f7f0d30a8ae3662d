package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/dibanez/e-commerce/internal/entity"
	"github.com/dibanez/e-commerce/internal/security"
)

// defaultSuccessRate is the process-wide fallback, consulted only when
// an instantiation carries no explicit success_rate of its own. The
// explicit value always wins so tests can force deterministic 0% or
// 100% behavior regardless of ambient configuration.
var defaultSuccessRate = 100

func SetDefaultSuccessRate(rate int) {
	if rate >= 0 && rate <= 100 {
		defaultSuccessRate = rate
	}
}

type DummyConfig struct {
	// SuccessRate in [0,100]; nil means use the process-wide default.
	SuccessRate     *int
	ProcessingDelay time.Duration
	AutoCapture     bool
	WebhookSecret   string
}

// DummyConfigFrom reads the generic provider config mapping produced by
// the registry builder.
func DummyConfigFrom(cfg map[string]any) DummyConfig {
	out := DummyConfig{AutoCapture: true}
	if cfg == nil {
		return out
	}
	if v, ok := cfg["success_rate"]; ok {
		switch n := v.(type) {
		case int:
			out.SuccessRate = &n
		case float64:
			i := int(n)
			out.SuccessRate = &i
		}
	}
	if v, ok := cfg["auto_capture"].(bool); ok {
		out.AutoCapture = v
	}
	if v, ok := cfg["processing_delay"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil {
			out.ProcessingDelay = d
		}
	}
	if v, ok := cfg["webhook_secret"].(string); ok {
		out.WebhookSecret = v
	}
	return out
}

// DummyProvider simulates a gateway without charging anything. It is
// the reference implementation used in development and tests.
type DummyProvider struct {
	successRate int
	delay       time.Duration
	autoCapture bool
	signer      *security.WebhookSigner

	mu sync.Mutex
	// seen maps external reference + outcome to the original success
	// flag, so webhook replays are reported as duplicates.
	seen map[string]bool
	// captured and refunded track per-order totals so refunds can be
	// bounded without a provider-side ledger.
	captured map[string]decimal.Decimal
	refunded map[string]decimal.Decimal
}

func NewDummyProvider(cfg DummyConfig) *DummyProvider {
	rate := defaultSuccessRate
	if cfg.SuccessRate != nil {
		rate = *cfg.SuccessRate
	}
	if rate < 0 {
		rate = 0
	}
	if rate > 100 {
		rate = 100
	}
	return &DummyProvider{
		successRate: rate,
		delay:       cfg.ProcessingDelay,
		autoCapture: cfg.AutoCapture,
		signer:      security.NewWebhookSigner(cfg.WebhookSecret),
		seen:        map[string]bool{},
		captured:    map[string]decimal.Decimal{},
		refunded:    map[string]decimal.Decimal{},
	}
}

func (p *DummyProvider) Code() string        { return "dummy" }
func (p *DummyProvider) DisplayName() string { return "Dummy Payment (Development)" }

// roll draws from the same closed interval [0,100] as the configured
// rate. The rate>0 guard keeps rate 0 from ever succeeding while rate
// 100 still always succeeds; an off-by-one between draw and threshold
// ranges is exactly the regression this forecloses.
func (p *DummyProvider) roll() bool {
	return p.successRate > 0 && rand.Intn(101) <= p.successRate
}

func (p *DummyProvider) sleep(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *DummyProvider) StartPayment(ctx context.Context, order *domain.Order, returnURL, notifyURL string) (InitResult, error) {
	if err := p.sleep(ctx); err != nil {
		return InitResult{}, err
	}

	if !p.roll() {
		return InitResult{
			Success:      false,
			ErrorMessage: "dummy payment failed (simulated failure)",
		}, nil
	}

	ref := fmt.Sprintf("dummy_%d_%s", time.Now().Unix(), order.ID)

	captured := false
	if p.autoCapture {
		p.mu.Lock()
		p.captured[order.ID] = order.GrandTotal
		p.mu.Unlock()
		captured = true
	}

	q := url.Values{}
	q.Set("payment_id", ref)
	q.Set("status", "success")
	q.Set("order_id", order.ID)

	raw, _ := json.Marshal(map[string]any{
		"dummy_payment_id": ref,
		"order_id":         order.ID,
		"amount":           order.GrandTotal.String(),
		"currency":         order.Currency,
		"auto_capture":     captured,
	})

	return InitResult{
		Success:     true,
		RedirectURL: returnURL + "?" + q.Encode(),
		ProviderRef: ref,
		Captured:    captured,
		Raw:         raw,
	}, nil
}

type dummyNotification struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

func (p *DummyProvider) ValidateSignature(req WebhookRequest) bool {
	return p.signer.Verify(req.Body, req.Header.Get("X-Dummy-Signature"))
}

func (p *DummyProvider) HandleWebhook(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	var n dummyNotification
	if req.Method == "GET" || len(req.Body) == 0 {
		n.PaymentID = req.Query.Get("payment_id")
		n.OrderID = req.Query.Get("order_id")
		n.Status = req.Query.Get("status")
		n.Amount = req.Query.Get("amount")
		n.Currency = req.Query.Get("currency")
	} else if err := json.Unmarshal(req.Body, &n); err != nil {
		return WebhookResult{}, fmt.Errorf("decode dummy webhook: %w", err)
	}
	if n.PaymentID == "" {
		return WebhookResult{}, fmt.Errorf("dummy webhook missing payment_id")
	}

	outcome := OutcomeFailure
	if n.Status == "success" || n.Status == "completed" {
		outcome = OutcomeSuccess
	}

	amount := decimal.Zero
	if n.Amount != "" {
		if a, err := decimal.NewFromString(n.Amount); err == nil {
			amount = a
		}
	}

	raw, _ := json.Marshal(n)

	key := n.PaymentID + "|" + string(outcome)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, replay := p.seen[key]; replay {
		return WebhookResult{
			PaymentRef: n.PaymentID,
			Outcome:    OutcomeDuplicate,
			Amount:     amount,
			Currency:   n.Currency,
			Raw:        raw,
		}, nil
	}
	p.seen[key] = outcome == OutcomeSuccess

	if outcome == OutcomeSuccess && n.OrderID != "" {
		if _, ok := p.captured[n.OrderID]; !ok && amount.IsPositive() {
			p.captured[n.OrderID] = amount
		}
	}

	return WebhookResult{
		PaymentRef: n.PaymentID,
		Outcome:    outcome,
		Amount:     amount,
		Currency:   n.Currency,
		Raw:        raw,
	}, nil
}

func (p *DummyProvider) Capture(ctx context.Context, order *domain.Order) (OperationResult, error) {
	if err := p.sleep(ctx); err != nil {
		return OperationResult{}, err
	}
	if !p.roll() {
		return OperationResult{
			ErrorMessage: "dummy capture failed (simulated failure)",
		}, nil
	}

	p.mu.Lock()
	p.captured[order.ID] = order.GrandTotal
	p.mu.Unlock()

	txID := fmt.Sprintf("capture_%d_%s", time.Now().Unix(), order.ID)
	raw, _ := json.Marshal(map[string]string{
		"dummy_capture_id": txID,
		"amount":           order.GrandTotal.String(),
		"currency":         order.Currency,
	})
	return OperationResult{
		Success:       true,
		TransactionID: txID,
		Amount:        order.GrandTotal,
		Currency:      order.Currency,
		Raw:           raw,
	}, nil
}

func (p *DummyProvider) Refund(ctx context.Context, order *domain.Order, amount decimal.Decimal) (OperationResult, error) {
	if err := p.sleep(ctx); err != nil {
		return OperationResult{}, err
	}
	if !amount.IsPositive() {
		return OperationResult{}, domain.ErrInvalidAmount
	}

	p.mu.Lock()
	captured := p.captured[order.ID]
	refunded := p.refunded[order.ID]
	if refunded.Add(amount).GreaterThan(captured) {
		p.mu.Unlock()
		return OperationResult{}, fmt.Errorf("%w: refund %s exceeds captured %s",
			domain.ErrInvalidAmount, amount, captured.Sub(refunded))
	}
	p.refunded[order.ID] = refunded.Add(amount)
	p.mu.Unlock()

	if !p.roll() {
		// Roll back the reservation so a later retry is not blocked.
		p.mu.Lock()
		p.refunded[order.ID] = p.refunded[order.ID].Sub(amount)
		p.mu.Unlock()
		return OperationResult{
			ErrorMessage: "dummy refund failed (simulated failure)",
		}, nil
	}

	txID := fmt.Sprintf("refund_%d_%s", time.Now().Unix(), order.ID)
	raw, _ := json.Marshal(map[string]string{
		"dummy_refund_id": txID,
		"amount":          amount.String(),
		"currency":        order.Currency,
	})
	return OperationResult{
		Success:       true,
		TransactionID: txID,
		Amount:        amount,
		Currency:      order.Currency,
		Raw:           raw,
	}, nil
}

var (
	_ Provider           = (*DummyProvider)(nil)
	_ SignatureValidator = (*DummyProvider)(nil)
)
