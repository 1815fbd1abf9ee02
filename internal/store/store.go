package store

import (
	"context"
	"errors"
	"time"

	"credit-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrDuplicateAccount       = errors.New("account already exists")
	ErrAlreadyRefreshed       = errors.New("already refreshed this month")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidMetadata        = errors.New("invalid metadata")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
)

// ApplyTransactionParams contains the parameters for recording a transaction
// and incrementing (or decrementing, for USAGE) the account balance.
type ApplyTransactionParams struct {
	UserId   string
	Type     models.TransactionType
	Amount   decimal.Decimal // non-negative magnitude
	Metadata models.Metadata
	Now      time.Time
}

// ApplyRefreshParams contains the parameters for the monthly reset.
// The backend rejects with ErrAlreadyRefreshed when the account was already
// refreshed in Now's calendar month, checked inside the same atomic unit
// that writes the refresh.
type ApplyRefreshParams struct {
	UserId   string
	Amount   decimal.Decimal
	Metadata models.Metadata
	Now      time.Time
}

// CreditStore defines the contract that every backend (SQLite, Formance, ...) must satisfy.
type CreditStore interface {
	// --- Accounts ---
	CreateAccount(ctx context.Context, userId string) (*models.Account, error)
	GetAccountByUserId(ctx context.Context, userId string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.AccountSubscription, error)

	// --- Transactions ---
	ApplyTransaction(ctx context.Context, params ApplyTransactionParams) (*models.Transaction, *models.Account, error)
	ApplyRefresh(ctx context.Context, params ApplyRefreshParams) (*models.Transaction, *models.Account, error)
	GetRecentTransactions(ctx context.Context, userId string, limit int) ([]models.Transaction, error)
	GetTransactionLog(ctx context.Context, userId string) ([]models.Transaction, error)

	// --- Subscriptions ---
	UpsertSubscription(ctx context.Context, sub models.Subscription) error
	GetSubscription(ctx context.Context, userId string) (*models.Subscription, error)

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
