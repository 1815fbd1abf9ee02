package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, extra ...any) (*models.Account, error) {
	var account models.Account
	var balanceStr string
	var lastRefresh sql.NullTime

	dest := []any{&account.Id, &account.UserId, &balanceStr, &account.HasPurchaseHistory,
		&lastRefresh, &account.Version, &account.CreatedAt, &account.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	account.Balance = balance
	if lastRefresh.Valid {
		t := lastRefresh.Time.UTC()
		account.LastRefreshDate = &t
	}
	return &account, nil
}

// CreateAccount opens a zero-balance account for userId.
// Returns store.ErrDuplicateAccount if the user already has one.
func (s *SubledgerService) CreateAccount(ctx context.Context, userId string) (*models.Account, error) {
	now := time.Now().UTC()
	accountId := uuid.New().String()

	_, err := s.db.ExecContext(ctx, queryInsertAccount, accountId, userId, now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateAccount, userId)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	zap.L().Info("Account created", zap.String("account_id", accountId), zap.String("user_id", userId))
	return s.GetAccount(ctx, userId)
}

// GetAccount returns the account owned by userId, or store.ErrAccountNotFound
func (s *SubledgerService) GetAccount(ctx context.Context, userId string) (*models.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, queryGetAccountByUserId, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, userId)
	}
	if err != nil {
		zap.L().Error("Failed to get account", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListAccounts returns every account joined with its subscription, if any
func (s *SubledgerService) ListAccounts(ctx context.Context) ([]models.AccountSubscription, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccountsWithSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.AccountSubscription
	for rows.Next() {
		var subscriptionId sql.NullString
		var periodEnd, subUpdatedAt sql.NullTime

		account, err := scanAccount(rows, &subscriptionId, &periodEnd, &subUpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}

		entry := models.AccountSubscription{Account: *account}
		if subscriptionId.Valid || periodEnd.Valid {
			entry.Subscription = &models.Subscription{
				UserId:         account.UserId,
				SubscriptionId: subscriptionId.String,
				UpdatedAt:      subUpdatedAt.Time,
			}
			if periodEnd.Valid {
				t := periodEnd.Time.UTC()
				entry.Subscription.CurrentPeriodEnd = &t
			}
		}
		accounts = append(accounts, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}
