package repo

import (
	"context"
	"database/sql"

	"github.com/dibanez/e-commerce/internal/usecase"
)

// MySQLNumberSource issues order-number counters from a per-month
// counter row. The LAST_INSERT_ID(expr) trick makes increment-and-read
// one atomic statement, so counters are strictly increasing and never
// reused across concurrent checkouts.
type MySQLNumberSource struct{ db *sql.DB }

func NewMySQLNumberSource(db *sql.DB) *MySQLNumberSource { return &MySQLNumberSource{db: db} }

func (s *MySQLNumberSource) Next(ctx context.Context, bucket string) (int, error) {
	// LAST_INSERT_ID is a per-connection register, and the pool gives no
	// affinity between statements, so the value must come out of this
	// statement's own OK packet, never a follow-up SELECT.
	res, err := s.db.ExecContext(ctx, `
INSERT INTO order_number_seq (bucket, counter) VALUES (?, LAST_INSERT_ID(1))
ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + 1)`, bucket)
	if err != nil {
		return 0, err
	}
	n, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var _ usecase.OrderNumberSource = (*MySQLNumberSource)(nil)
