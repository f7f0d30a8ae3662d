package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft          Status = "draft"
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusCanceled       Status = "canceled"
	StatusRefunded       Status = "refunded"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrEmptyOrder        = errors.New("order has no items")
	ErrAmbiguousOwner    = errors.New("exactly one of user id or guest email must be set")
)

// transitions is the full adjacency table. Anything not listed here is
// illegal; canceled and refunded are terminal.
var transitions = map[Status][]Status{
	StatusDraft:          {StatusPendingPayment},
	StatusPendingPayment: {StatusPaid, StatusCanceled},
	StatusPaid:           {StatusRefunded},
}

// CanTransition reports whether from -> to is in the adjacency table.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// StatusChange is one append-only history row. Order.Transition is its
// only producer.
type StatusChange struct {
	ID      string
	OrderID string
	From    Status
	To      Status
	Actor   string
	Reason  string
	At      time.Time
}

type Address struct {
	FirstName  string
	LastName   string
	Company    string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	// Snapshot of the product at order time; never re-read from the
	// catalog so historical orders stay accurate.
	Name      string
	SKU       string
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
	CreatedAt time.Time
}

type Order struct {
	ID         string
	Number     string
	UserID     string
	GuestEmail string
	Status     Status

	Billing  Address
	Shipping Address

	Currency      string
	Subtotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	ShippingTotal decimal.Decimal
	DiscountTotal decimal.Decimal
	GrandTotal    decimal.Decimal

	Items []OrderItem

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	if (o.UserID == "") == (o.GuestEmail == "") {
		return ErrAmbiguousOwner
	}
	if o.Currency == "" {
		return ErrInvalidAmount
	}
	for _, it := range o.Items {
		if it.Quantity <= 0 || it.UnitPrice.IsNegative() {
			return ErrInvalidAmount
		}
	}
	return nil
}

// RecomputeTotals derives all monetary totals from the items and the
// given shipping/tax policies. grand = subtotal + tax + shipping - discount
// holds after every call.
func (o *Order) RecomputeTotals(shipping ShippingPolicy, tax TaxPolicy) {
	sub := decimal.Zero
	for i := range o.Items {
		o.Items[i].LineTotal = o.Items[i].UnitPrice.Mul(decimal.NewFromInt(int64(o.Items[i].Quantity)))
		sub = sub.Add(o.Items[i].LineTotal)
	}
	o.Subtotal = sub
	o.TaxTotal = tax.TaxFor(sub)
	o.ShippingTotal = shipping.ShippingFor(sub)
	o.GrandTotal = o.Subtotal.Add(o.TaxTotal).Add(o.ShippingTotal).Sub(o.DiscountTotal)
}

// Transition validates the requested status change against the
// adjacency table, applies it and returns the history row to append.
// On error the order is left unmodified. The new status and the history
// row must be persisted in one unit of work, never separately.
func (o *Order) Transition(to Status, actor, reason string, now time.Time) (StatusChange, error) {
	if !CanTransition(o.Status, to) {
		return StatusChange{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}
	change := StatusChange{
		OrderID: o.ID,
		From:    o.Status,
		To:      to,
		Actor:   actor,
		Reason:  reason,
		At:      now,
	}
	o.Status = to
	o.UpdatedAt = now
	if to == StatusPaid {
		t := now
		o.PaidAt = &t
	}
	return change, nil
}

// OrderNumber renders the human-readable number: fixed prefix,
// year-month bucket and a zero-padded counter scoped to that bucket.
func OrderNumber(prefix string, bucket time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, bucket.UTC().Format("200601"), seq)
}

// ShippingPolicy and TaxPolicy are the pluggable total contributors.
type ShippingPolicy interface {
	ShippingFor(subtotal decimal.Decimal) decimal.Decimal
}

type TaxPolicy interface {
	TaxFor(subtotal decimal.Decimal) decimal.Decimal
}

// FlatRateShipping charges a flat rate below a free-shipping threshold.
type FlatRateShipping struct {
	Rate          decimal.Decimal
	FreeThreshold decimal.Decimal
}

func (p FlatRateShipping) ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if p.FreeThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.Rate
}

// FlatRateTax applies a single VAT rate, e.g. 0.21.
type FlatRateTax struct {
	Rate decimal.Decimal
}

func (p FlatRateTax) TaxFor(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(p.Rate).Round(2)
}
