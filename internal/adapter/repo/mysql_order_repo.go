package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/dibanez/e-commerce/internal/entity"
	"github.com/dibanez/e-commerce/internal/usecase"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleStatus means the guarded update matched no row: the order
	// was transitioned by someone else between read and write.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

type MySQLOrderRepo struct{ db *sql.DB }

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo { return &MySQLOrderRepo{db: db} }

func (r *MySQLOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	billing, err := json.Marshal(o.Billing)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO orders (id,number,user_id,guest_email,status,billing_json,shipping_json,
  currency,subtotal,tax_total,shipping_total,discount_total,grand_total,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, o.ID, o.Number, nullStr(o.UserID), nullStr(o.GuestEmail), string(o.Status), billing, shipping,
		o.Currency, o.Subtotal, o.TaxTotal, o.ShippingTotal, o.DiscountTotal, o.GrandTotal,
		o.Notes, o.CreatedAt, o.UpdatedAt); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO order_items (id,order_id,product_id,name,sku,unit_price,quantity,line_total,created_at)
VALUES (?,?,?,?,?,?,?,?,?)
`, it.ID, o.ID, it.ProductID, it.Name, it.SKU, it.UnitPrice, it.Quantity, it.LineTotal, it.CreatedAt); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,number,user_id,guest_email,status,billing_json,shipping_json,
  currency,subtotal,tax_total,shipping_total,discount_total,grand_total,notes,created_at,updated_at,paid_at
FROM orders WHERE id=?`, id)

	var (
		o                  domain.Order
		userID, guestEmail sql.NullString
		status             string
		billing, shipping  []byte
		paidAt             sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.Number, &userID, &guestEmail, &status, &billing, &shipping,
		&o.Currency, &o.Subtotal, &o.TaxTotal, &o.ShippingTotal, &o.DiscountTotal, &o.GrandTotal,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt, &paidAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.UserID = userID.String
	o.GuestEmail = guestEmail.String
	o.Status = domain.Status(status)
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	_ = json.Unmarshal(billing, &o.Billing)
	_ = json.Unmarshal(shipping, &o.Shipping)

	rows, err := r.db.QueryContext(ctx, `
SELECT id,product_id,name,sku,unit_price,quantity,line_total,created_at
FROM order_items WHERE order_id=? ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		it := domain.OrderItem{OrderID: id}
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Name, &it.SKU, &it.UnitPrice, &it.Quantity, &it.LineTotal, &it.CreatedAt); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// ApplyTransition writes the status compare-and-set and the history
// append inside one transaction: either both land or neither does.
func (r *MySQLOrderRepo) ApplyTransition(ctx context.Context, c domain.StatusChange) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var res sql.Result
	if c.To == domain.StatusPaid {
		res, err = tx.ExecContext(ctx, `
UPDATE orders SET status=?, paid_at=?, updated_at=? WHERE id=? AND status=?`,
			string(c.To), c.At, c.At, c.OrderID, string(c.From))
	} else {
		res, err = tx.ExecContext(ctx, `
UPDATE orders SET status=?, updated_at=? WHERE id=? AND status=?`,
			string(c.To), c.At, c.OrderID, string(c.From))
	}
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStaleStatus
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO order_status_history (id,order_id,from_status,to_status,actor,reason,created_at)
VALUES (?,?,?,?,?,?,?)`,
		id, c.OrderID, string(c.From), string(c.To), c.Actor, c.Reason, c.At); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	return tx.Commit()
}

func (r *MySQLOrderRepo) History(ctx context.Context, orderID string) ([]domain.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,order_id,from_status,to_status,actor,reason,created_at
FROM order_status_history WHERE order_id=? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		var from, to string
		if err := rows.Scan(&c.ID, &c.OrderID, &from, &to, &c.Actor, &c.Reason, &c.At); err != nil {
			return nil, err
		}
		c.From = domain.Status(from)
		c.To = domain.Status(to)
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ usecase.OrderRepo = (*MySQLOrderRepo)(nil)
