/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"context"
	"fmt"

	"credit-ledger-go/internal/ledger"
	"credit-ledger-go/internal/models"

	"go.uber.org/zap"
)

// InitializeAccounts retrieves accounts based on an optional user id filter.
// If userFilter is provided, returns a single account for that user.
// If userFilter is empty, returns all accounts with their subscriptions.
func InitializeAccounts(ctx context.Context, engine *ledger.Engine, userFilter string, logger *zap.Logger) ([]models.AccountSubscription, error) {
	var accounts []models.AccountSubscription

	if userFilter != "" {
		logger.Info("Looking up account by user id", zap.String("user_id", userFilter))
		view, err := engine.GetBalance(ctx, userFilter)
		if err != nil {
			return nil, fmt.Errorf("account not found: %w", err)
		}
		accounts = append(accounts, models.AccountSubscription{Account: view.Account})
	} else {
		all, err := engine.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get accounts: %w", err)
		}
		accounts = all
	}

	logger.Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}
