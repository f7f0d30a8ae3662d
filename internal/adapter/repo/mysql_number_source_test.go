package repo

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberSourceNext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO order_number_seq").
		WithArgs("202609").
		WillReturnResult(sqlmock.NewResult(42, 1))

	src := NewMySQLNumberSource(db)
	n, err := src.Next(context.Background(), "202609")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The counter must travel in each statement's own result. A follow-up
// SELECT LAST_INSERT_ID() would read a connection-scoped register with
// no pool affinity and can hand two checkouts the same number.
func TestNumberSourceSequentialCallsAreDistinct(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO order_number_seq").
		WithArgs("202609").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_number_seq").
		WithArgs("202609").
		WillReturnResult(sqlmock.NewResult(2, 1))

	src := NewMySQLNumberSource(db)
	first, err := src.Next(context.Background(), "202609")
	require.NoError(t, err)
	second, err := src.Next(context.Background(), "202609")
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.NotEqual(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}
