package policy

import (
	"testing"
	"time"

	"credit-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

var testConfig = models.RefreshConfig{ProAmount: 100, FreeAmount: 6}

func ptrTime(t time.Time) *time.Time { return &t }

func TestEvaluate_Eligibility(t *testing.T) {
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastRefresh *time.Time
		want        bool
	}{
		{"never refreshed", nil, true},
		{"refreshed earlier this month", ptrTime(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)), false},
		{"refreshed last month", ptrTime(time.Date(2026, time.February, 28, 23, 59, 59, 0, time.UTC)), true},
		{"same month previous year", ptrTime(time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)), true},
		{"refreshed a moment ago", ptrTime(now.Add(-time.Second)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(now, tt.lastRefresh, false, testConfig)
			if got.Eligible != tt.want {
				t.Errorf("Expected eligible=%v, got %v", tt.want, got.Eligible)
			}
		})
	}
}

func TestEvaluate_Amount(t *testing.T) {
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	pro := Evaluate(now, nil, true, testConfig)
	if pro.Tier != models.TierPro {
		t.Errorf("Expected tier %s, got %s", models.TierPro, pro.Tier)
	}
	if !pro.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected pro amount 100, got %s", pro.Amount)
	}

	free := Evaluate(now, nil, false, testConfig)
	if free.Tier != models.TierFree {
		t.Errorf("Expected tier %s, got %s", models.TierFree, free.Tier)
	}
	if !free.Amount.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Expected free amount 6, got %s", free.Amount)
	}
}

func TestSameMonth_UsesUTC(t *testing.T) {
	// 2026-03-31 23:30 in UTC-5 is already April in UTC.
	est := time.FixedZone("EST", -5*60*60)
	local := time.Date(2026, time.March, 31, 23, 30, 0, 0, est)
	april := time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)

	if !SameMonth(local, april) {
		t.Errorf("Expected %s and %s to share a UTC month", local, april)
	}
}

func TestSubscriptionActive(t *testing.T) {
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  *models.Subscription
		want bool
	}{
		{"no subscription", nil, false},
		{"missing id", &models.Subscription{CurrentPeriodEnd: ptrTime(now.Add(time.Hour))}, false},
		{"missing period end", &models.Subscription{SubscriptionId: "sub_1"}, false},
		{"period ends in future", &models.Subscription{SubscriptionId: "sub_1", CurrentPeriodEnd: ptrTime(now.Add(time.Hour))}, true},
		{"period ends exactly now", &models.Subscription{SubscriptionId: "sub_1", CurrentPeriodEnd: ptrTime(now)}, false},
		{"period ended", &models.Subscription{SubscriptionId: "sub_1", CurrentPeriodEnd: ptrTime(now.Add(-time.Hour))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubscriptionActive(tt.sub, now); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
