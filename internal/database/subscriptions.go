package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"go.uber.org/zap"
)

// UpsertSubscription stores the billing system's view of a user's plan
func (s *Service) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}

	var subscriptionId sql.NullString
	if sub.SubscriptionId != "" {
		subscriptionId = sql.NullString{String: sub.SubscriptionId, Valid: true}
	}

	var periodEnd sql.NullTime
	if sub.CurrentPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: sub.CurrentPeriodEnd.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryUpsertSubscription, sub.UserId, subscriptionId, periodEnd, sub.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	zap.L().Info("Subscription stored",
		zap.String("user_id", sub.UserId),
		zap.String("subscription_id", sub.SubscriptionId))
	return nil
}

// GetSubscription returns the stored subscription for userId, or store.ErrSubscriptionNotFound
func (s *Service) GetSubscription(ctx context.Context, userId string) (*models.Subscription, error) {
	var sub models.Subscription
	var subscriptionId sql.NullString
	var periodEnd sql.NullTime

	err := s.db.QueryRowContext(ctx, queryGetSubscription, userId).
		Scan(&sub.UserId, &subscriptionId, &periodEnd, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrSubscriptionNotFound, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub.SubscriptionId = subscriptionId.String
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		sub.CurrentPeriodEnd = &t
	}
	return &sub, nil
}
