package formance

import (
	"context"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"go.uber.org/zap"
)

// Subscription metadata keys on users:{userId}
const (
	metaSubscriptionId        = "subscription_id"
	metaCurrentPeriodEnd      = "current_period_end"
	metaSubscriptionUpdatedAt = "subscription_updated_at"
)

// UpsertSubscription stores the billing mirror as account metadata.
// An empty SubscriptionId clears the subscription.
func (s *Service) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: userAddress(sub.UserId),
		RequestBody: map[string]string{
			metaSubscriptionId:        sub.SubscriptionId,
			metaCurrentPeriodEnd:      formatMetaTime(sub.CurrentPeriodEnd),
			metaSubscriptionUpdatedAt: formatMetaTime(&updatedAt),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	zap.L().Info("Subscription updated in Formance",
		zap.String("user_id", sub.UserId),
		zap.String("subscription_id", sub.SubscriptionId))
	return nil
}

func (s *Service) GetSubscription(ctx context.Context, userId string) (*models.Subscription, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: userAddress(userId),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrSubscriptionNotFound, userId)
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub := subscriptionFromMeta(userId, resp.V2AccountResponse.Data.Metadata)
	if sub == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrSubscriptionNotFound, userId)
	}
	return sub, nil
}

// subscriptionFromMeta returns nil when the account never had a subscription recorded.
func subscriptionFromMeta(userId string, meta map[string]string) *models.Subscription {
	updatedAt := parseMetaTime(meta[metaSubscriptionUpdatedAt])
	if updatedAt == nil {
		return nil
	}
	return &models.Subscription{
		UserId:           userId,
		SubscriptionId:   meta[metaSubscriptionId],
		CurrentPeriodEnd: parseMetaTime(meta[metaCurrentPeriodEnd]),
		UpdatedAt:        *updatedAt,
	}
}
