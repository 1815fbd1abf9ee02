package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"credit-ledger-go/internal/metrics"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/policy"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultRecentLimit      = 10
	DefaultMaxMetadataKeys  = 32
	DefaultMaxMetadataBytes = 4096
)

// Engine performs every balance mutation. Mutations for one user are
// serialized in-process, and each one is a single atomic store primitive.
type Engine struct {
	store            store.CreditStore
	refresh          models.RefreshConfig
	now              func() time.Time
	locks            *keyedMutex
	recentLimit      int
	maxMetadataKeys  int
	maxMetadataBytes int
}

type Option func(*Engine)

// WithClock overrides the time source used for transaction timestamps and refresh guards.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRecentLimit sets how many transactions GetBalance returns.
func WithRecentLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.recentLimit = n
		}
	}
}

// WithMetadataLimits bounds the number of keys and the encoded size of metadata.
func WithMetadataLimits(maxKeys, maxBytes int) Option {
	return func(e *Engine) {
		e.maxMetadataKeys = maxKeys
		e.maxMetadataBytes = maxBytes
	}
}

func NewEngine(s store.CreditStore, cfg models.RefreshConfig, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		refresh:          cfg,
		now:              time.Now,
		locks:            newKeyedMutex(),
		recentLimit:      DefaultRecentLimit,
		maxMetadataKeys:  DefaultMaxMetadataKeys,
		maxMetadataBytes: DefaultMaxMetadataBytes,
	}
	if cfg.RecentTransactionsLimit > 0 {
		e.recentLimit = cfg.RecentTransactionsLimit
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RefreshConfig returns the tier amounts this engine refreshes with.
func (e *Engine) RefreshConfig() models.RefreshConfig {
	return e.refresh
}

// Now returns the engine's current time in UTC.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// OpenAccount returns the user's account, creating it on first use.
func (e *Engine) OpenAccount(ctx context.Context, userId string) (*models.Account, error) {
	if err := validateUserId(userId); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(userId)
	defer unlock()

	account, err := e.store.GetAccountByUserId(ctx, userId)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}

	account, err = e.store.CreateAccount(ctx, userId)
	if errors.Is(err, store.ErrDuplicateAccount) {
		// Another process created it between our read and insert
		return e.store.GetAccountByUserId(ctx, userId)
	}
	return account, err
}

// GetBalance returns the account with its most recent transactions, newest first.
func (e *Engine) GetBalance(ctx context.Context, userId string) (*models.BalanceView, error) {
	if err := validateUserId(userId); err != nil {
		return nil, err
	}

	// The account row and its newest entries must come from the same state
	unlock := e.locks.Lock(userId)
	defer unlock()

	account, err := e.store.GetAccountByUserId(ctx, userId)
	if err != nil {
		return nil, err
	}

	transactions, err := e.store.GetRecentTransactions(ctx, userId, e.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent transactions: %w", err)
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}

	return &models.BalanceView{Account: *account, Transactions: transactions}, nil
}

// RecordTransaction appends a COMPLETED transaction and applies the increment rule:
// USAGE subtracts amount, every other type adds it, and PURCHASE marks the account
// as having purchase history.
func (e *Engine) RecordTransaction(ctx context.Context, userId string, amount decimal.Decimal, txType models.TransactionType, metadata models.Metadata) (*models.TransactionResult, error) {
	if err := validateUserId(userId); err != nil {
		return nil, err
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, e.reject("invalid_amount", err)
	}
	if !txType.Valid() {
		return nil, e.reject("invalid_type", fmt.Errorf("%w: %q", store.ErrInvalidTransactionType, txType))
	}
	if err := e.validateMetadata(metadata); err != nil {
		return nil, e.reject("invalid_metadata", err)
	}

	unlock := e.locks.Lock(userId)
	defer unlock()

	txn, account, err := e.store.ApplyTransaction(ctx, store.ApplyTransactionParams{
		UserId:   userId,
		Type:     txType,
		Amount:   amount,
		Metadata: metadata,
		Now:      e.Now(),
	})
	if err != nil {
		return nil, e.reject(failureReason(err), err)
	}

	metrics.TransactionsTotal.WithLabelValues(string(txType)).Inc()
	return &models.TransactionResult{Transaction: *txn, Account: *account}, nil
}

// Refresh resets the balance to refreshAmount, at most once per calendar month.
func (e *Engine) Refresh(ctx context.Context, userId string, refreshAmount decimal.Decimal) (*models.TransactionResult, error) {
	return e.refreshWithMetadata(ctx, userId, refreshAmount, nil)
}

// RefreshTier applies a policy decision, recording the tier on the refresh transaction.
func (e *Engine) RefreshTier(ctx context.Context, userId string, decision policy.Decision) (*models.TransactionResult, error) {
	return e.refreshWithMetadata(ctx, userId, decision.Amount, models.Metadata{
		"subscriptionStatus": decision.Tier,
	})
}

// RefreshAccount resolves the user's subscription tier and refreshes with its amount.
func (e *Engine) RefreshAccount(ctx context.Context, userId string) (*models.TransactionResult, error) {
	if err := validateUserId(userId); err != nil {
		return nil, err
	}

	sub, err := e.store.GetSubscription(ctx, userId)
	if err != nil && !errors.Is(err, store.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	now := e.Now()
	decision := policy.Evaluate(now, nil, policy.SubscriptionActive(sub, now), e.refresh)
	return e.RefreshTier(ctx, userId, decision)
}

func (e *Engine) refreshWithMetadata(ctx context.Context, userId string, amount decimal.Decimal, metadata models.Metadata) (*models.TransactionResult, error) {
	if err := validateUserId(userId); err != nil {
		return nil, err
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, e.reject("invalid_amount", err)
	}

	if rc := models.GetRunContext(ctx); rc != nil {
		if metadata == nil {
			metadata = models.Metadata{}
		}
		metadata["batchRunId"] = rc.RunId
		metadata["trigger"] = string(rc.Trigger)
	}

	unlock := e.locks.Lock(userId)
	defer unlock()

	txn, account, err := e.store.ApplyRefresh(ctx, store.ApplyRefreshParams{
		UserId:   userId,
		Amount:   amount,
		Metadata: metadata,
		Now:      e.Now(),
	})
	if err != nil {
		return nil, e.reject(failureReason(err), err)
	}

	metrics.TransactionsTotal.WithLabelValues(string(models.TransactionTypeMonthlyRefresh)).Inc()
	zap.L().Info("Credits refreshed",
		zap.String("user_id", userId),
		zap.String("amount", amount.String()))
	return &models.TransactionResult{Transaction: *txn, Account: *account}, nil
}

// Reconcile replays the user's transaction log and compares it with the stored balance.
func (e *Engine) Reconcile(ctx context.Context, userId string) (*models.ReconcileReport, error) {
	if err := validateUserId(userId); err != nil {
		return nil, err
	}

	// Hold the account still while reading both sides
	unlock := e.locks.Lock(userId)
	defer unlock()

	account, err := e.store.GetAccountByUserId(ctx, userId)
	if err != nil {
		return nil, err
	}

	log, err := e.store.GetTransactionLog(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction log: %w", err)
	}

	calculated := Replay(log)
	report := &models.ReconcileReport{
		UserId:            userId,
		StoredBalance:     account.Balance,
		CalculatedBalance: calculated,
		TransactionCount:  len(log),
		Consistent:        calculated.Equal(account.Balance),
	}

	if report.Consistent {
		zap.L().Info("Balance reconciliation successful",
			zap.String("user_id", userId),
			zap.String("balance", account.Balance.String()))
	} else {
		zap.L().Error("Balance mismatch detected",
			zap.String("user_id", userId),
			zap.String("stored_balance", account.Balance.String()),
			zap.String("calculated_balance", calculated.String()))
	}
	return report, nil
}

// ListAccounts returns every account joined with its subscription.
func (e *Engine) ListAccounts(ctx context.Context) ([]models.AccountSubscription, error) {
	return e.store.ListAccounts(ctx)
}

// SetSubscription records the billing system's view of a user's plan.
func (e *Engine) SetSubscription(ctx context.Context, sub models.Subscription) error {
	if err := validateUserId(sub.UserId); err != nil {
		return err
	}
	sub.UpdatedAt = e.Now()
	return e.store.UpsertSubscription(ctx, sub)
}

// Ping checks the backing store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Replay folds a transaction log, oldest first, into the balance it implies.
func Replay(log []models.Transaction) decimal.Decimal {
	balance := decimal.Zero
	for _, t := range log {
		balance = t.Effect.Apply(balance, t.Amount)
	}
	return balance
}

// ValidateAmount rejects negative amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s is negative", store.ErrInvalidAmount, amount.String())
	}
	return nil
}

// AmountFromFloat converts a caller-supplied number, rejecting NaN, infinities and negatives.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: %v is not finite", store.ErrInvalidAmount, f)
	}
	amount := decimal.NewFromFloat(f)
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func (e *Engine) validateMetadata(m models.Metadata) error {
	if len(m) == 0 {
		return nil
	}
	if e.maxMetadataKeys > 0 && len(m) > e.maxMetadataKeys {
		return fmt.Errorf("%w: %d keys exceeds limit of %d", store.ErrInvalidMetadata, len(m), e.maxMetadataKeys)
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidMetadata, err)
	}
	if e.maxMetadataBytes > 0 && len(encoded) > e.maxMetadataBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", store.ErrInvalidMetadata, len(encoded), e.maxMetadataBytes)
	}
	return nil
}

func (e *Engine) reject(reason string, err error) error {
	metrics.TransactionsFailed.WithLabelValues(reason).Inc()
	return err
}

func validateUserId(userId string) error {
	if userId == "" {
		return fmt.Errorf("%w: user id is required", store.ErrAccountNotFound)
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, store.ErrAlreadyRefreshed):
		return "already_refreshed"
	case errors.Is(err, store.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, store.ErrInvalidMetadata):
		return "invalid_metadata"
	default:
		return "storage"
	}
}
