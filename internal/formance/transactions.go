package formance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/policy"
	"credit-ledger-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. Credits are minted from @platform:credits:issued and
// burned into @platform:credits:consumed; a refresh settles the old balance
// against @platform:credits:expired or @platform:credits:forgiven first.
// ---------------------------------------------------------------------------

const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $user_id
}

send [$asset $amount] (
  source = @platform:credits:issued allowing unbounded overdraft
  destination = @users:$user_id
)
`

const numscriptPurchase = numscriptCredit + `
set_account_meta(@users:$user_id, "has_purchase_history", "true")
`

const numscriptUsage = `vars {
  asset $asset
  number $amount
  account $user_id
}

send [$asset $amount] (
  source = @users:$user_id allowing unbounded overdraft
  destination = @platform:credits:consumed
)
`

const numscriptRefreshVars = `vars {
  asset $asset
  number $amount
  number $settle
  account $user_id
  string $refreshed_at
}
`

const numscriptRefreshExpire = `
send [$asset $settle] (
  source = @users:$user_id
  destination = @platform:credits:expired
)
`

const numscriptRefreshForgive = `
send [$asset $settle] (
  source = @platform:credits:forgiven allowing unbounded overdraft
  destination = @users:$user_id
)
`

const numscriptRefreshGrant = `
send [$asset $amount] (
  source = @platform:credits:issued allowing unbounded overdraft
  destination = @users:$user_id
)

set_account_meta(@users:$user_id, "last_refresh_date", $refreshed_at)
`

// Transaction metadata keys
const (
	metaTxId          = "credit_tx_id"
	metaTxUserId      = "credit_user_id"
	metaTxAccountId   = "credit_account_id"
	metaTxType        = "credit_type"
	metaTxEffect      = "credit_effect"
	metaTxAmount      = "amount_human"
	metaBalanceBefore = "balance_before"
	metaBalanceAfter  = "balance_after"
	metaTxStatus      = "status"
	metaCallerData    = "caller_metadata"
)

// transactionScript picks the Numscript for a non-refresh transaction type.
func transactionScript(t models.TransactionType) string {
	switch t {
	case models.TransactionTypePurchase:
		return numscriptPurchase
	case models.TransactionTypeUsage:
		return numscriptUsage
	default:
		return numscriptCredit
	}
}

// refreshScript builds the refresh Numscript for a prior balance with the given sign.
// A zero balance needs no settlement leg.
func refreshScript(balanceSign int) string {
	switch {
	case balanceSign > 0:
		return numscriptRefreshVars + numscriptRefreshExpire + numscriptRefreshGrant
	case balanceSign < 0:
		return numscriptRefreshVars + numscriptRefreshForgive + numscriptRefreshGrant
	default:
		return numscriptRefreshVars + numscriptRefreshGrant
	}
}

// refreshReference is unique per account and month, so the ledger itself rejects
// a second refresh in the same month across processes.
func refreshReference(userId string, now time.Time) string {
	return fmt.Sprintf("refresh:%s:%s", userId, now.UTC().Format("2006-01"))
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// ApplyTransaction posts a credit or debit for the user's account.
func (s *Service) ApplyTransaction(ctx context.Context, params store.ApplyTransactionParams) (*models.Transaction, *models.Account, error) {
	acct, err := s.getLedgerAccount(ctx, params.UserId)
	if err != nil {
		return nil, nil, err
	}
	account := s.accountFromLedger(acct)

	smallAmt, err := toSmallestUnit(params.Amount, s.precision)
	if err != nil {
		return nil, nil, err
	}

	effect := models.EffectFor(params.Type)
	txn := s.newTransaction(account, params.Type, effect, params.Amount, params.Metadata, params.Now)

	err = s.post(ctx, txn, uuid.New().String(), transactionScript(params.Type), map[string]string{
		"asset":   s.asset(),
		"amount":  smallAmt,
		"user_id": params.UserId,
	})
	if err != nil {
		return nil, nil, err
	}

	updated := *account
	updated.Balance = txn.BalanceAfter
	updated.UpdatedAt = txn.CreatedAt
	if params.Type == models.TransactionTypePurchase {
		updated.HasPurchaseHistory = true
	}

	zap.L().Info("Transaction recorded in Formance",
		zap.String("user_id", params.UserId),
		zap.String("type", string(params.Type)),
		zap.String("amount", params.Amount.String()),
		zap.String("new_balance", updated.Balance.String()))
	return txn, &updated, nil
}

// ApplyRefresh settles the current balance and grants the refresh amount in one
// ledger transaction, guarded by the account's last refresh date and the
// per-month reference.
func (s *Service) ApplyRefresh(ctx context.Context, params store.ApplyRefreshParams) (*models.Transaction, *models.Account, error) {
	acct, err := s.getLedgerAccount(ctx, params.UserId)
	if err != nil {
		return nil, nil, err
	}
	account := s.accountFromLedger(acct)

	now := params.Now.UTC()
	if account.LastRefreshDate != nil && policy.SameMonth(*account.LastRefreshDate, now) {
		return nil, nil, fmt.Errorf("%w: last refresh %s", store.ErrAlreadyRefreshed, account.LastRefreshDate.Format(time.RFC3339))
	}

	smallAmt, err := toSmallestUnit(params.Amount, s.precision)
	if err != nil {
		return nil, nil, err
	}
	settle, err := toSmallestUnit(account.Balance.Abs(), s.precision)
	if err != nil {
		return nil, nil, err
	}

	txn := s.newTransaction(account, models.TransactionTypeMonthlyRefresh, models.EffectReset, params.Amount, params.Metadata, now)

	err = s.post(ctx, txn, refreshReference(params.UserId, now), refreshScript(account.Balance.Sign()), map[string]string{
		"asset":        s.asset(),
		"amount":       smallAmt,
		"settle":       settle,
		"user_id":      params.UserId,
		"refreshed_at": now.Format(time.RFC3339Nano),
	})
	if isConflictError(err) {
		return nil, nil, fmt.Errorf("%w: %s", store.ErrAlreadyRefreshed, refreshReference(params.UserId, now))
	}
	if err != nil {
		return nil, nil, err
	}

	updated := *account
	updated.Balance = params.Amount
	updated.LastRefreshDate = &now
	updated.UpdatedAt = now

	zap.L().Info("Refresh recorded in Formance",
		zap.String("user_id", params.UserId),
		zap.String("old_balance", account.Balance.String()),
		zap.String("new_balance", updated.Balance.String()))
	return txn, &updated, nil
}

func (s *Service) newTransaction(account *models.Account, t models.TransactionType, effect models.BalanceEffect, amount decimal.Decimal, metadata models.Metadata, now time.Time) *models.Transaction {
	return &models.Transaction{
		Id:            uuid.New().String(),
		AccountId:     account.Id,
		UserId:        account.UserId,
		Type:          t,
		Effect:        effect,
		Amount:        amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  effect.Apply(account.Balance, amount),
		Status:        models.TransactionStatusCompleted,
		Metadata:      metadata,
		CreatedAt:     now.UTC(),
	}
}

// post creates the ledger transaction carrying txn as metadata. Conflict errors are
// returned unwrapped so callers can classify them.
func (s *Service) post(ctx context.Context, txn *models.Transaction, reference, script string, vars map[string]string) error {
	meta, err := transactionMetadata(txn)
	if err != nil {
		return err
	}

	timestamp := txn.CreatedAt
	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: script,
				Vars:  vars,
			},
			Timestamp: &timestamp,
			Metadata:  meta,
		},
	})
	if err == nil {
		return nil
	}
	if isConflictError(err) {
		return err
	}
	if isInsufficientFundError(err) {
		return fmt.Errorf("balance changed while posting - %w", store.ErrConcurrentModification)
	}
	return fmt.Errorf("failed to create ledger transaction: %w", err)
}

func transactionMetadata(txn *models.Transaction) (map[string]string, error) {
	meta := map[string]string{
		metaTxId:          txn.Id,
		metaTxUserId:      txn.UserId,
		metaTxAccountId:   txn.AccountId,
		metaTxType:        string(txn.Type),
		metaTxEffect:      string(txn.Effect),
		metaTxAmount:      txn.Amount.String(),
		metaBalanceBefore: txn.BalanceBefore.String(),
		metaBalanceAfter:  txn.BalanceAfter.String(),
		metaTxStatus:      string(txn.Status),
	}
	if len(txn.Metadata) > 0 {
		b, err := json.Marshal(txn.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidMetadata, err)
		}
		meta[metaCallerData] = string(b)
	}
	return meta, nil
}

// ---------------------------------------------------------------------------
// Query operations
// ---------------------------------------------------------------------------

// GetRecentTransactions returns up to limit transactions for the user, newest first.
func (s *Service) GetRecentTransactions(ctx context.Context, userId string, limit int) ([]models.Transaction, error) {
	return s.listTransactions(ctx, userId, limit)
}

// GetTransactionLog returns every transaction for the user, oldest first.
func (s *Service) GetTransactionLog(ctx context.Context, userId string) ([]models.Transaction, error) {
	txns, err := s.listTransactions(ctx, userId, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(txns)-1; i < j; i, j = i+1, j-1 {
		txns[i], txns[j] = txns[j], txns[i]
	}
	return txns, nil
}

// listTransactions pages newest first; limit <= 0 reads everything.
func (s *Service) listTransactions(ctx context.Context, userId string, limit int) ([]models.Transaction, error) {
	var result []models.Transaction
	var cursor *string

	pageSize := int64(100)
	if limit > 0 && limit < 100 {
		pageSize = int64(limit)
	}

	for {
		resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
			Ledger:   s.ledger,
			PageSize: &pageSize,
			Cursor:   cursor,
			RequestBody: map[string]any{
				"$match": map[string]any{
					"metadata[" + metaTxUserId + "]": userId,
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions: %w", err)
		}

		page := resp.V2TransactionsCursorResponse.Cursor
		for _, tx := range page.Data {
			t, err := transactionFromLedger(tx)
			if err != nil {
				return nil, err
			}
			result = append(result, t)
			if limit > 0 && len(result) >= limit {
				return result, nil
			}
		}

		if !page.HasMore || page.Next == nil {
			break
		}
		cursor = page.Next
	}

	return result, nil
}

func transactionFromLedger(tx shared.V2Transaction) (models.Transaction, error) {
	meta := tx.Metadata
	t := models.Transaction{
		Id:        meta[metaTxId],
		AccountId: meta[metaTxAccountId],
		UserId:    meta[metaTxUserId],
		Type:      models.TransactionType(meta[metaTxType]),
		Effect:    models.BalanceEffect(meta[metaTxEffect]),
		Status:    models.TransactionStatus(meta[metaTxStatus]),
		CreatedAt: tx.Timestamp,
	}
	if t.Id == "" {
		t.Id = fmt.Sprintf("%d", tx.ID)
	}

	var err error
	if t.Amount, err = decimal.NewFromString(meta[metaTxAmount]); err != nil {
		return t, fmt.Errorf("failed to parse amount for transaction %s: %w", t.Id, err)
	}
	if t.BalanceBefore, err = decimal.NewFromString(meta[metaBalanceBefore]); err != nil {
		return t, fmt.Errorf("failed to parse balance_before for transaction %s: %w", t.Id, err)
	}
	if t.BalanceAfter, err = decimal.NewFromString(meta[metaBalanceAfter]); err != nil {
		return t, fmt.Errorf("failed to parse balance_after for transaction %s: %w", t.Id, err)
	}
	if raw := meta[metaCallerData]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Metadata); err != nil {
			return t, fmt.Errorf("failed to decode metadata for transaction %s: %w", t.Id, err)
		}
	}
	return t, nil
}
