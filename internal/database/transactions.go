/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/policy"
	"credit-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProcessTransactionParams contains the parameters for processing a transaction
type ProcessTransactionParams struct {
	UserId   string
	Type     models.TransactionType
	Effect   models.BalanceEffect
	Amount   decimal.Decimal
	Metadata models.Metadata
	Now      time.Time
}

// ProcessTransaction atomically appends a transaction and updates the account balance.
// A RESET effect is the monthly refresh: it is rejected with store.ErrAlreadyRefreshed
// when the account was already refreshed in the calendar month of params.Now.
func (s *SubledgerService) ProcessTransaction(ctx context.Context, params ProcessTransactionParams) (*models.Transaction, *models.Account, error) {
	zap.L().Info("Processing transaction",
		zap.String("user_id", params.UserId),
		zap.String("type", string(params.Type)),
		zap.String("effect", string(params.Effect)),
		zap.String("amount", params.Amount.String()))

	metadata, err := encodeMetadata(params.Metadata)
	if err != nil {
		return nil, nil, err
	}

	now := params.Now.UTC()

	// Start database transaction for atomicity
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := scanAccount(tx.QueryRowContext(ctx, queryGetAccountByUserId, params.UserId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, params.UserId)
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to get account: %w", err)
	}

	updated := *account
	if params.Effect == models.EffectReset {
		if account.LastRefreshDate != nil && policy.SameMonth(*account.LastRefreshDate, now) {
			return nil, nil, fmt.Errorf("%w: last refresh %s", store.ErrAlreadyRefreshed, account.LastRefreshDate.Format(time.RFC3339))
		}
		updated.LastRefreshDate = &now
	}
	if params.Type == models.TransactionTypePurchase {
		updated.HasPurchaseHistory = true
	}
	updated.Balance = params.Effect.Apply(account.Balance, params.Amount)
	updated.Version = account.Version + 1
	updated.UpdatedAt = now

	transaction := &models.Transaction{
		Id:            uuid.New().String(),
		AccountId:     account.Id,
		UserId:        account.UserId,
		Type:          params.Type,
		Effect:        params.Effect,
		Amount:        params.Amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  updated.Balance,
		Status:        models.TransactionStatusCompleted,
		Metadata:      params.Metadata,
		CreatedAt:     now,
	}

	_, err = tx.ExecContext(ctx, queryInsertCreditTransaction,
		transaction.Id, transaction.AccountId, transaction.UserId, string(transaction.Type), string(transaction.Effect),
		transaction.Amount.String(), transaction.BalanceBefore.String(), transaction.BalanceAfter.String(),
		string(transaction.Status), metadata, transaction.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	// Update account balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance,
		updated.Balance.String(), updated.HasPurchaseHistory, updated.LastRefreshDate, now, account.Id, account.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Transaction processed successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", params.UserId),
		zap.String("old_balance", account.Balance.String()),
		zap.String("new_balance", updated.Balance.String()))

	return transaction, &updated, nil
}

// GetRecentTransactions returns up to limit transactions for the user's account, newest first
func (s *SubledgerService) GetRecentTransactions(ctx context.Context, userId string, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, queryGetRecentTransactions, userId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetTransactionLog returns every transaction for the user's account, oldest first
func (s *SubledgerService) GetTransactionLog(ctx context.Context, userId string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTransactionLog, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction log: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var transactions []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var txType, effect, status string
		var amountStr, beforeStr, afterStr string
		var metadata sql.NullString

		err := rows.Scan(&t.Id, &t.AccountId, &t.UserId, &txType, &effect,
			&amountStr, &beforeStr, &afterStr, &status, &metadata, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		t.Type = models.TransactionType(txType)
		t.Effect = models.BalanceEffect(effect)
		t.Status = models.TransactionStatus(status)

		if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		if t.BalanceBefore, err = decimal.NewFromString(beforeStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance_before '%s': %w", beforeStr, err)
		}
		if t.BalanceAfter, err = decimal.NewFromString(afterStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance_after '%s': %w", afterStr, err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}

		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func encodeMetadata(m models.Metadata) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("%w: %v", store.ErrInvalidMetadata, err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
