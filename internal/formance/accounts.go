package formance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Account metadata keys
const (
	metaEntityType         = "entity_type"
	metaAccountId          = "account_id"
	metaCreatedAt          = "created_at"
	metaHasPurchaseHistory = "has_purchase_history"
	metaLastRefreshDate    = "last_refresh_date"
	metaOpenUserId         = "credit_open_user_id"

	entityCreditAccount = "credit_account"
)

// ---------- Account CRUD ----------

// numscriptOpen writes the account metadata in the same ledger transaction that
// claims the open:{userId} reference, so only one opener ever writes it.
const numscriptOpen = `vars {
  asset $asset
  account $user_id
  string $account_id
  string $created_at
}

send [$asset 0] (
  source = @platform:credits:issued allowing unbounded overdraft
  destination = @users:$user_id
)

set_account_meta(@users:$user_id, "entity_type", "credit_account")
set_account_meta(@users:$user_id, "account_id", $account_id)
set_account_meta(@users:$user_id, "created_at", $created_at)
set_account_meta(@users:$user_id, "has_purchase_history", "false")
`

func openReference(userId string) string {
	return "open:" + userId
}

func (s *Service) CreateAccount(ctx context.Context, userId string) (*models.Account, error) {
	existing, err := s.GetAccountByUserId(ctx, userId)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrDuplicateAccount, userId)
	}

	addr := userAddress(userId)
	zap.L().Info("Creating credit account in Formance", zap.String("address", addr))

	now := time.Now().UTC()
	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(openReference(userId)),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptOpen,
				Vars: map[string]string{
					"asset":      s.asset(),
					"user_id":    userId,
					"account_id": uuid.New().String(),
					"created_at": now.Format(time.RFC3339Nano),
				},
			},
			Timestamp: &now,
			Metadata:  map[string]string{metaOpenUserId: userId},
		},
	})
	if isConflictError(err) {
		return nil, fmt.Errorf("%w: %s", store.ErrDuplicateAccount, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create credit account: %w", err)
	}

	return s.GetAccountByUserId(ctx, userId)
}

func (s *Service) GetAccountByUserId(ctx context.Context, userId string) (*models.Account, error) {
	acct, err := s.getLedgerAccount(ctx, userId)
	if err != nil {
		return nil, err
	}
	return s.accountFromLedger(acct), nil
}

// ListAccounts pages through every credit account, joined with its subscription metadata.
func (s *Service) ListAccounts(ctx context.Context) ([]models.AccountSubscription, error) {
	var result []models.AccountSubscription
	var cursor *string

	for {
		resp, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
			Ledger:   s.ledger,
			PageSize: ptrInt64(100),
			Cursor:   cursor,
			Expand:   v3.Pointer("volumes"),
			RequestBody: map[string]any{
				"$match": map[string]any{
					"metadata[" + metaEntityType + "]": entityCreditAccount,
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}

		page := resp.V2AccountsCursorResponse.Cursor
		for i := range page.Data {
			acct := &page.Data[i]
			// Only top-level user accounts (users:{id}).
			parts := strings.Split(acct.Address, ":")
			if len(parts) != 2 || parts[0] != "users" {
				continue
			}
			result = append(result, models.AccountSubscription{
				Account:      *s.accountFromLedger(acct),
				Subscription: subscriptionFromMeta(parts[1], acct.Metadata),
			})
		}

		if !page.HasMore || page.Next == nil {
			break
		}
		cursor = page.Next
	}

	return result, nil
}

// ---------- helpers ----------

// getLedgerAccount fetches users:{userId} with volumes, or ErrAccountNotFound when
// the address carries no credit account metadata.
func (s *Service) getLedgerAccount(ctx context.Context, userId string) (*shared.V2Account, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: userAddress(userId),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, userId)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct := resp.V2AccountResponse.Data
	if acct.Metadata[metaEntityType] != entityCreditAccount {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, userId)
	}
	return &acct, nil
}

func (s *Service) accountFromLedger(acct *shared.V2Account) *models.Account {
	meta := acct.Metadata
	userId := strings.TrimPrefix(acct.Address, "users:")

	account := &models.Account{
		Id:                 meta[metaAccountId],
		UserId:             userId,
		Balance:            bigIntToDecimal(volumeBalance(acct.Volumes, s.asset()), s.precision),
		HasPurchaseHistory: meta[metaHasPurchaseHistory] == "true",
		LastRefreshDate:    parseMetaTime(meta[metaLastRefreshDate]),
	}
	if account.Id == "" {
		account.Id = acct.Address
	}

	if t := parseMetaTime(meta[metaCreatedAt]); t != nil {
		account.CreatedAt = *t
	} else if acct.FirstUsage != nil {
		account.CreatedAt = *acct.FirstUsage
	}
	account.UpdatedAt = account.CreatedAt
	if acct.UpdatedAt != nil {
		account.UpdatedAt = *acct.UpdatedAt
	}
	return account
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a human-readable decimal.
func bigIntToDecimal(raw *big.Int, precision int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precision))
}

// toSmallestUnit converts a decimal amount to the integer Numscript expects.
// Digits beyond the asset precision are rejected rather than rounded.
func toSmallestUnit(amount decimal.Decimal, precision int) (string, error) {
	shifted := amount.Shift(int32(precision))
	if !shifted.Equal(shifted.Truncate(0)) {
		return "", fmt.Errorf("%w: %s has more than %d decimal places", store.ErrInvalidAmount, amount.String(), precision)
	}
	return shifted.BigInt().String(), nil
}

func parseMetaTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func formatMetaTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
