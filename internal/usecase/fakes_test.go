package usecase

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/dibanez/e-commerce/internal/entity"
)

// In-memory ports used across the usecase tests. All of them are
// mutex-guarded so concurrency tests exercise the real locking in the
// flow, not races in the fixtures.

type memOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	history map[string][]domain.StatusChange
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[string]*domain.Order{}, history: map[string][]domain.StatusChange{}}
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}

func (r *memOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = copyOrder(o)
	return nil
}

func (r *memOrderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	return copyOrder(o), nil
}

func (r *memOrderRepo) ApplyTransition(_ context.Context, change domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[change.OrderID]
	if !ok {
		return fmt.Errorf("order %s not found", change.OrderID)
	}
	if o.Status != change.From {
		return fmt.Errorf("stale status: order is %s, change expects %s", o.Status, change.From)
	}
	o.Status = change.To
	o.UpdatedAt = change.At
	if change.To == domain.StatusPaid {
		t := change.At
		o.PaidAt = &t
	}
	r.history[change.OrderID] = append(r.history[change.OrderID], change)
	return nil
}

func (r *memOrderRepo) History(_ context.Context, orderID string) ([]domain.StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusChange(nil), r.history[orderID]...), nil
}

type memNumberSource struct {
	mu       sync.Mutex
	counters map[string]int
}

func newMemNumberSource() *memNumberSource {
	return &memNumberSource{counters: map[string]int{}}
}

func (s *memNumberSource) Next(_ context.Context, bucket string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[bucket]++
	return s.counters[bucket], nil
}

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment
	txns     map[string][]domain.Transaction
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: map[string]*domain.Payment{}, txns: map[string][]domain.Transaction{}}
}

func copyPayment(p *domain.Payment) *domain.Payment {
	cp := *p
	if p.CapturedAt != nil {
		t := *p.CapturedAt
		cp.CapturedAt = &t
	}
	return &cp
}

func (r *memPaymentRepo) Create(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.ID] = copyPayment(p)
	return nil
}

func (r *memPaymentRepo) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return copyPayment(p), nil
}

func (r *memPaymentRepo) FindOpenByOrder(_ context.Context, orderID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderID == orderID && !p.Terminal() {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (r *memPaymentRepo) FindByProviderRef(_ context.Context, providerCode, externalID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ProviderCode == providerCode && p.ExternalID == externalID && externalID != "" {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (r *memPaymentRepo) UpdateStatus(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return fmt.Errorf("payment %s not found", p.ID)
	}
	r.payments[p.ID] = copyPayment(p)
	return nil
}

func (r *memPaymentRepo) AddTransaction(_ context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns[t.PaymentID] = append(r.txns[t.PaymentID], *t)
	return nil
}

func (r *memPaymentRepo) Transactions(_ context.Context, paymentID string) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Transaction(nil), r.txns[paymentID]...), nil
}

type memIdemEntry struct {
	value      string
	remembered bool
}

type memIdemStore struct {
	mu      sync.Mutex
	entries map[string]*memIdemEntry
}

func newMemIdemStore() *memIdemStore {
	return &memIdemStore{entries: map[string]*memIdemEntry{}}
}

func (s *memIdemStore) TryLock(_ context.Context, scope, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scope + "|" + key
	if _, ok := s.entries[k]; ok {
		return false, nil
	}
	s.entries[k] = &memIdemEntry{}
	return true, nil
}

func (s *memIdemStore) Remember(_ context.Context, scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[scope+"|"+key] = &memIdemEntry{value: value, remembered: true}
	return nil
}

func (s *memIdemStore) Recall(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[scope+"|"+key]
	if !ok || !e.remembered {
		return "", false, nil
	}
	return e.value, true, nil
}

type memCache struct {
	mu     sync.Mutex
	status map[string]string
}

func newMemCache() *memCache { return &memCache{status: map[string]string{}} }

func (c *memCache) SetStatus(_ context.Context, orderID, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[orderID] = status
	return nil
}

func (c *memCache) GetStatus(_ context.Context, orderID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.status[orderID]
	return s, ok, nil
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []OrderStatusChangedMsg
}

func (p *memPublisher) PublishStatusChanged(_ context.Context, msg OrderStatusChangedMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *memPublisher) published() []OrderStatusChangedMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderStatusChangedMsg(nil), p.msgs...)
}
