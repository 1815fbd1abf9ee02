package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"credit-ledger-go/internal/metrics"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/policy"
	"credit-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultSchedule = "0 0 1 * *"
	DefaultWorkers  = 4
)

var (
	ErrRunInProgress = errors.New("batch refresh already in progress")
	ErrRunLocked     = errors.New("batch refresh locked by another instance")
)

// Refresher is the part of the ledger engine a batch run needs
type Refresher interface {
	ListAccounts(ctx context.Context) ([]models.AccountSubscription, error)
	RefreshTier(ctx context.Context, userId string, decision policy.Decision) (*models.TransactionResult, error)
}

// Locker guards a run across processes. Acquire returns ErrRunLocked when
// another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// Observer is notified of every account outcome, in enumeration order
type Observer func(rc *models.RunContext, outcome models.RefreshOutcome)

// Scheduler runs the monthly batch refresh on a cron schedule or on demand
type Scheduler struct {
	refresher Refresher
	cfg       models.RefreshConfig
	now       func() time.Time
	locker    Locker
	observer  Observer
	workers   int

	running atomic.Bool
	cron    *cron.Cron
	mu      sync.Mutex
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a scheduler. It does nothing until Start or RunOnce is called.
func New(refresher Refresher, cfg models.RefreshConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		refresher: refresher,
		cfg:       cfg,
		now:       time.Now,
		observer:  LogOutcome,
		workers:   DefaultWorkers,
	}
	if cfg.Workers > 0 {
		s.workers = cfg.Workers
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the batch run with cron, evaluated in UTC, and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	schedule := s.cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.run(ctx, models.RunTriggerScheduled); err != nil {
			zap.L().Warn("Scheduled batch refresh did not run", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}

	c.Start()
	s.cron = c

	zap.L().Info("Batch refresh scheduler started",
		zap.String("schedule", schedule),
		zap.Int("workers", s.workers))
	return nil
}

// Stop halts the cron loop and waits for an in-flight run to finish or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	zap.L().Info("Stopping batch refresh scheduler")
	select {
	case <-c.Stop().Done():
		zap.L().Info("Batch refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs a batch refresh synchronously and returns its report
func (s *Scheduler) RunOnce(ctx context.Context) (*models.BatchReport, error) {
	return s.run(ctx, models.RunTriggerManual)
}

// TriggerBatchRefresh is the manual trigger exposed to the API and CLI
func (s *Scheduler) TriggerBatchRefresh(ctx context.Context) (*models.BatchReport, error) {
	return s.RunOnce(ctx)
}

// Running reports whether a run is in progress in this process
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) run(ctx context.Context, trigger models.RunTrigger) (*models.BatchReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.RefreshRunsTotal.WithLabelValues(string(trigger), "in_progress").Inc()
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if err != nil {
			metrics.RefreshRunsTotal.WithLabelValues(string(trigger), "locked").Inc()
			return nil, err
		}
		defer func() {
			// Release even when the run's context was cancelled
			if err := release(context.Background()); err != nil {
				zap.L().Warn("Failed to release batch refresh lock", zap.Error(err))
			}
		}()
	}

	rc := &models.RunContext{
		RunId:     uuid.New().String(),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	ctx = models.WithRunContext(ctx, rc)

	zap.L().Info("Starting batch refresh",
		zap.String("run_id", rc.RunId),
		zap.String("trigger", string(trigger)))

	accounts, err := s.refresher.ListAccounts(ctx)
	if err != nil {
		metrics.RefreshRunsTotal.WithLabelValues(string(trigger), "failed").Inc()
		return nil, fmt.Errorf("failed to enumerate accounts: %w", err)
	}

	outcomes := s.process(ctx, rc, accounts)

	report := &models.BatchReport{
		RunId:     rc.RunId,
		Trigger:   trigger,
		StartedAt: rc.StartedAt,
		Outcomes:  make([]models.RefreshOutcome, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		report.Record(o)
		metrics.RefreshOutcomesTotal.WithLabelValues(string(o.Status)).Inc()
		if s.observer != nil {
			s.observer(rc, o)
		}
	}
	report.FinishedAt = s.now().UTC()

	metrics.RefreshRunsTotal.WithLabelValues(string(trigger), "completed").Inc()
	metrics.RefreshRunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	zap.L().Info("Batch refresh completed",
		zap.String("run_id", rc.RunId),
		zap.Int("accounts", report.Total()),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))

	return report, nil
}

// process refreshes every account once using a bounded worker pool.
// Outcomes keep the enumeration order.
func (s *Scheduler) process(ctx context.Context, rc *models.RunContext, accounts []models.AccountSubscription) []models.RefreshOutcome {
	outcomes := make([]models.RefreshOutcome, len(accounts))
	jobs := make(chan int)

	workers := s.workers
	if workers > len(accounts) {
		workers = len(accounts)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = s.refreshOne(ctx, rc, accounts[i])
			}
		}()
	}

	for i := range accounts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (s *Scheduler) refreshOne(ctx context.Context, rc *models.RunContext, as models.AccountSubscription) (outcome models.RefreshOutcome) {
	outcome = models.RefreshOutcome{
		AccountId: as.Account.Id,
		UserId:    as.Account.UserId,
	}

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = models.OutcomeFailed
			outcome.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	now := s.now().UTC()
	decision := policy.Evaluate(now, as.Account.LastRefreshDate, policy.SubscriptionActive(as.Subscription, now), s.cfg)
	outcome.Tier = decision.Tier
	outcome.Amount = decision.Amount

	if !decision.Eligible {
		outcome.Status = models.OutcomeSkipped
		outcome.Reason = "refreshed_this_month"
		return outcome
	}

	if err := ctx.Err(); err != nil {
		outcome.Status = models.OutcomeFailed
		outcome.Error = err.Error()
		return outcome
	}

	_, err := s.refresher.RefreshTier(ctx, as.Account.UserId, decision)
	switch {
	case err == nil:
		outcome.Status = models.OutcomeApplied
	case errors.Is(err, store.ErrAlreadyRefreshed):
		outcome.Status = models.OutcomeSkipped
		outcome.Reason = "already_refreshed"
	default:
		outcome.Status = models.OutcomeFailed
		outcome.Error = err.Error()
	}
	return outcome
}

// LogOutcome is the default observer
func LogOutcome(rc *models.RunContext, o models.RefreshOutcome) {
	fields := []zap.Field{
		zap.String("run_id", rc.RunId),
		zap.String("user_id", o.UserId),
		zap.String("status", string(o.Status)),
		zap.String("tier", o.Tier),
		zap.String("amount", o.Amount.String()),
	}
	switch o.Status {
	case models.OutcomeFailed:
		zap.L().Error("Failed to refresh account", append(fields, zap.String("error", o.Error))...)
	case models.OutcomeSkipped:
		zap.L().Debug("Skipped account refresh", append(fields, zap.String("reason", o.Reason))...)
	default:
		zap.L().Info("Refreshed account", fields...)
	}
}
