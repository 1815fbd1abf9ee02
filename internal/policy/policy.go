package policy

import (
	"time"

	"credit-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Decision is the result of evaluating the refresh policy for one account
type Decision struct {
	Eligible bool
	Amount   decimal.Decimal
	Tier     string
}

// Evaluate decides whether an account may be refreshed at now and for how much.
// An account is eligible when it has never been refreshed or was last refreshed
// in a different UTC calendar month.
func Evaluate(now time.Time, lastRefresh *time.Time, subscriptionActive bool, cfg models.RefreshConfig) Decision {
	d := Decision{
		Eligible: lastRefresh == nil || !SameMonth(*lastRefresh, now),
		Tier:     models.TierFree,
		Amount:   decimal.NewFromInt(cfg.FreeAmount),
	}
	if subscriptionActive {
		d.Tier = models.TierPro
		d.Amount = decimal.NewFromInt(cfg.ProAmount)
	}
	return d
}

// SameMonth reports whether a and b fall in the same calendar month and year in UTC.
func SameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

// SubscriptionActive reports whether sub has an identifier and a period end
// strictly after now.
func SubscriptionActive(sub *models.Subscription, now time.Time) bool {
	if sub == nil || sub.SubscriptionId == "" || sub.CurrentPeriodEnd == nil {
		return false
	}
	return sub.CurrentPeriodEnd.After(now)
}
