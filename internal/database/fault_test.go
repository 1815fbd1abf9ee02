package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountColumns = []string{"id", "user_id", "balance", "has_purchase_history", "last_refresh_date", "version", "created_at", "updated_at"}

func TestProcessTransaction_RollsBackWhenBalanceUpdateFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewSubledgerService(db)
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE user_id = \\?").
		WithArgs("user1").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("acc-1", "user1", "10", false, nil, int64(3), now, now))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE accounts SET balance").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	txn, account, err := service.ProcessTransaction(context.Background(), ProcessTransactionParams{
		UserId: "user1",
		Type:   models.TransactionTypePurchase,
		Effect: models.EffectCredit,
		Amount: decimal.NewFromInt(5),
		Now:    now,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update balance")
	assert.Nil(t, txn)
	assert.Nil(t, account)
	// Rollback happened and Commit was never attempted
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessTransaction_VersionConflictRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewSubledgerService(db)
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE user_id = \\?").
		WithArgs("user1").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("acc-1", "user1", "10", true, nil, int64(3), now, now))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs("5", true, nil, sqlmock.AnyArg(), "acc-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err = service.ProcessTransaction(context.Background(), ProcessTransactionParams{
		UserId: "user1",
		Type:   models.TransactionTypeUsage,
		Effect: models.EffectDebit,
		Amount: decimal.NewFromInt(5),
		Now:    now,
	})

	assert.ErrorIs(t, err, store.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessTransaction_CommitFailureSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewSubledgerService(db)
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE user_id = \\?").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("acc-1", "user1", "0", false, nil, int64(1), now, now))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE accounts SET balance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, _, err = service.ProcessTransaction(context.Background(), ProcessTransactionParams{
		UserId: "user1",
		Type:   models.TransactionTypeMonthlyRefresh,
		Effect: models.EffectReset,
		Amount: decimal.NewFromInt(6),
		Now:    now,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessTransaction_RefreshGuardWritesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewSubledgerService(db)
	lastRefresh := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE user_id = \\?").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("acc-1", "user1", "6", false, lastRefresh, int64(2), lastRefresh, lastRefresh))
	mock.ExpectRollback()

	_, _, err = service.ProcessTransaction(context.Background(), ProcessTransactionParams{
		UserId: "user1",
		Type:   models.TransactionTypeMonthlyRefresh,
		Effect: models.EffectReset,
		Amount: decimal.NewFromInt(6),
		Now:    lastRefresh.AddDate(0, 0, 10),
	})

	assert.ErrorIs(t, err, store.ErrAlreadyRefreshed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
