package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/policy"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testConfig = models.RefreshConfig{ProAmount: 100, FreeAmount: 6}
	testNow    = time.Date(2026, time.April, 1, 0, 0, 5, 0, time.UTC)
)

type fakeRefresher struct {
	mu       sync.Mutex
	accounts []models.AccountSubscription
	listErr  error
	failures map[string]error
	calls    map[string]int
	amounts  map[string]decimal.Decimal
	runIds   map[string]string
	block    chan struct{}
	entered  chan struct{}
}

func newFakeRefresher(accounts ...models.AccountSubscription) *fakeRefresher {
	return &fakeRefresher{
		accounts: accounts,
		failures: map[string]error{},
		calls:    map[string]int{},
		amounts:  map[string]decimal.Decimal{},
		runIds:   map[string]string{},
	}
}

func (f *fakeRefresher) ListAccounts(ctx context.Context) ([]models.AccountSubscription, error) {
	return f.accounts, f.listErr
}

func (f *fakeRefresher) RefreshTier(ctx context.Context, userId string, decision policy.Decision) (*models.TransactionResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[userId]++
	f.amounts[userId] = decision.Amount
	if rc := models.GetRunContext(ctx); rc != nil {
		f.runIds[userId] = rc.RunId
	}
	if err := f.failures[userId]; err != nil {
		return nil, err
	}
	return &models.TransactionResult{}, nil
}

func account(userId string, lastRefresh *time.Time) models.AccountSubscription {
	return models.AccountSubscription{
		Account: models.Account{Id: "acct-" + userId, UserId: userId, LastRefreshDate: lastRefresh},
	}
}

func newTestScheduler(r Refresher, opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(func() time.Time { return testNow }), WithObserver(nil)}, opts...)
	return New(r, testConfig, opts...)
}

func TestRunOnce_IsolatesFailingAccount(t *testing.T) {
	var accounts []models.AccountSubscription
	for i := 1; i <= 6; i++ {
		accounts = append(accounts, account(fmt.Sprintf("user%d", i), nil))
	}
	refresher := newFakeRefresher(accounts...)
	refresher.failures["user3"] = errors.New("disk full")

	report, err := newTestScheduler(refresher, WithWorkers(3)).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, report.Total())
	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)

	for i, o := range report.Outcomes {
		assert.Equal(t, fmt.Sprintf("user%d", i+1), o.UserId)
		if o.UserId == "user3" {
			assert.Equal(t, models.OutcomeFailed, o.Status)
			assert.Contains(t, o.Error, "disk full")
		} else {
			assert.Equal(t, models.OutcomeApplied, o.Status)
		}
	}

	for _, a := range accounts {
		assert.Equal(t, 1, refresher.calls[a.Account.UserId], "each account is attempted exactly once")
	}
}

func TestRunOnce_SkipsAccountsRefreshedThisMonth(t *testing.T) {
	thisMonth := testNow.Add(-time.Second)
	lastMonth := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	refresher := newFakeRefresher(
		account("fresh", &thisMonth),
		account("stale", &lastMonth),
	)

	report, err := newTestScheduler(refresher).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, models.OutcomeSkipped, report.Outcomes[0].Status)
	assert.Equal(t, "refreshed_this_month", report.Outcomes[0].Reason)
	assert.Zero(t, refresher.calls["fresh"])
	assert.Equal(t, 1, refresher.calls["stale"])
}

func TestRunOnce_ConcurrentRefreshIsSkipped(t *testing.T) {
	refresher := newFakeRefresher(account("user1", nil))
	refresher.failures["user1"] = fmt.Errorf("refresh: %w", store.ErrAlreadyRefreshed)

	report, err := newTestScheduler(refresher).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, "already_refreshed", report.Outcomes[0].Reason)
}

func TestRunOnce_UsesTierAmounts(t *testing.T) {
	periodEnd := testNow.Add(48 * time.Hour)
	expired := testNow.Add(-time.Hour)

	pro := account("pro", nil)
	pro.Subscription = &models.Subscription{UserId: "pro", SubscriptionId: "sub_1", CurrentPeriodEnd: &periodEnd}
	lapsed := account("lapsed", nil)
	lapsed.Subscription = &models.Subscription{UserId: "lapsed", SubscriptionId: "sub_2", CurrentPeriodEnd: &expired}

	refresher := newFakeRefresher(pro, lapsed, account("free", nil))

	report, err := newTestScheduler(refresher).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Succeeded)

	assert.True(t, refresher.amounts["pro"].Equal(decimal.NewFromInt(100)))
	assert.True(t, refresher.amounts["lapsed"].Equal(decimal.NewFromInt(6)))
	assert.True(t, refresher.amounts["free"].Equal(decimal.NewFromInt(6)))
	assert.Equal(t, models.TierPro, report.Outcomes[0].Tier)
	assert.Equal(t, models.TierFree, report.Outcomes[1].Tier)
}

func TestRunOnce_StampsRunContext(t *testing.T) {
	refresher := newFakeRefresher(account("user1", nil), account("user2", nil))

	report, err := newTestScheduler(refresher).RunOnce(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunId)
	assert.Equal(t, models.RunTriggerManual, report.Trigger)
	assert.Equal(t, report.RunId, refresher.runIds["user1"])
	assert.Equal(t, report.RunId, refresher.runIds["user2"])
}

func TestRunOnce_EnumerationFailure(t *testing.T) {
	refresher := newFakeRefresher()
	refresher.listErr = errors.New("connection refused")

	report, err := newTestScheduler(refresher).RunOnce(context.Background())
	assert.Nil(t, report)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRunOnce_EmptyLedger(t *testing.T) {
	report, err := newTestScheduler(newFakeRefresher()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total())
}

func TestRunOnce_RejectsOverlappingRun(t *testing.T) {
	refresher := newFakeRefresher(account("user1", nil))
	refresher.block = make(chan struct{})
	refresher.entered = make(chan struct{}, 1)

	s := newTestScheduler(refresher)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()

	<-refresher.entered
	assert.True(t, s.Running())

	_, err := s.TriggerBatchRefresh(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(refresher.block)
	require.NoError(t, <-done)
	assert.False(t, s.Running())
}

func TestRunOnce_ObserverSeesEveryOutcome(t *testing.T) {
	refresher := newFakeRefresher(account("user1", nil), account("user2", nil))
	refresher.failures["user2"] = errors.New("boom")

	var seen []models.RefreshOutcome
	s := newTestScheduler(refresher, WithObserver(func(rc *models.RunContext, o models.RefreshOutcome) {
		seen = append(seen, o)
	}))

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.Outcomes, seen)
}

type fakeLocker struct {
	err      error
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func TestRunOnce_RespectsRunLock(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		refresher := newFakeRefresher(account("user1", nil))
		locker := &fakeLocker{err: ErrRunLocked}

		_, err := newTestScheduler(refresher, WithLocker(locker)).RunOnce(context.Background())
		assert.ErrorIs(t, err, ErrRunLocked)
		assert.Zero(t, refresher.calls["user1"])
	})

	t.Run("acquired and released", func(t *testing.T) {
		refresher := newFakeRefresher(account("user1", nil))
		locker := &fakeLocker{}

		report, err := newTestScheduler(refresher, WithLocker(locker)).RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Succeeded)
		assert.Equal(t, 1, locker.released)
	})
}

func TestStartStop(t *testing.T) {
	t.Run("invalid schedule", func(t *testing.T) {
		s := New(newFakeRefresher(), models.RefreshConfig{Schedule: "not a cron"})
		assert.Error(t, s.Start(context.Background()))
	})

	t.Run("default schedule", func(t *testing.T) {
		s := New(newFakeRefresher(), testConfig)
		require.NoError(t, s.Start(context.Background()))
		assert.Error(t, s.Start(context.Background()), "second start is rejected")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, s.Stop(ctx))
		assert.NoError(t, s.Stop(ctx), "stopping twice is a no-op")
	})
}
