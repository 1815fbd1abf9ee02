package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of balance-changing events
type TransactionType string

const (
	TransactionTypePurchase       TransactionType = "PURCHASE"
	TransactionTypeUsage          TransactionType = "USAGE"
	TransactionTypeMonthlyRefresh TransactionType = "MONTHLY_REFRESH"
)

// Valid reports whether t belongs to the closed set.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeUsage, TransactionTypeMonthlyRefresh:
		return true
	}
	return false
}

// TransactionStatus of a log entry. Only COMPLETED is written today.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// BalanceEffect records how a transaction changed its account balance
type BalanceEffect string

const (
	EffectCredit BalanceEffect = "CREDIT" // balance += amount
	EffectDebit  BalanceEffect = "DEBIT"  // balance -= amount
	EffectReset  BalanceEffect = "RESET"  // balance = amount
)

// EffectFor returns the increment rule applied by RecordTransaction for t.
func EffectFor(t TransactionType) BalanceEffect {
	if t == TransactionTypeUsage {
		return EffectDebit
	}
	return EffectCredit
}

// Apply returns the balance after applying the effect of amount to balance.
func (e BalanceEffect) Apply(balance, amount decimal.Decimal) decimal.Decimal {
	switch e {
	case EffectDebit:
		return balance.Sub(amount)
	case EffectReset:
		return amount
	default:
		return balance.Add(amount)
	}
}

// Metadata is an opaque annotation passed through unmodified
type Metadata map[string]any

// Account represents the single credit balance record owned by a user (hot data)
type Account struct {
	Id                 string          `db:"id" json:"id"`
	UserId             string          `db:"user_id" json:"userId"`
	Balance            decimal.Decimal `db:"balance" json:"balance"`
	HasPurchaseHistory bool            `db:"has_purchase_history" json:"hasPurchaseHistory"`
	LastRefreshDate    *time.Time      `db:"last_refresh_date" json:"lastRefreshDate"`
	Version            int64           `db:"version" json:"-"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updatedAt"`
}

// Transaction represents immutable credit history (cold data)
type Transaction struct {
	Id            string            `db:"id" json:"id"`
	AccountId     string            `db:"account_id" json:"accountId"`
	UserId        string            `db:"user_id" json:"userId"`
	Type          TransactionType   `db:"type" json:"type"`
	Effect        BalanceEffect     `db:"effect" json:"effect"`
	Amount        decimal.Decimal   `db:"amount" json:"amount"`
	BalanceBefore decimal.Decimal   `db:"balance_before" json:"balanceBefore"`
	BalanceAfter  decimal.Decimal   `db:"balance_after" json:"balanceAfter"`
	Status        TransactionStatus `db:"status" json:"status"`
	Metadata      Metadata          `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"createdAt"`
}

// Subscription mirrors the billing system's view of a user's plan
type Subscription struct {
	UserId           string     `db:"user_id" json:"userId"`
	SubscriptionId   string     `db:"subscription_id" json:"subscriptionId,omitempty"`
	CurrentPeriodEnd *time.Time `db:"current_period_end" json:"currentPeriodEnd,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// AccountSubscription joins an account with its (possibly missing) subscription
type AccountSubscription struct {
	Account      Account
	Subscription *Subscription
}
