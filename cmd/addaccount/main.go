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

package main

import (
	"context"
	"flag"
	"fmt"
	"regexp"
	"time"

	"credit-ledger-go/internal/common"
	"credit-ledger-go/internal/config"
	"credit-ledger-go/internal/models"

	"go.uber.org/zap"
)

var userIdRegex = regexp.MustCompile(`^[a-zA-Z0-9._\-]{1,128}$`)

func validateUserId(userId string) error {
	if userId == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if !userIdRegex.MatchString(userId) {
		return fmt.Errorf("invalid user id format: %s", userId)
	}
	return nil
}

func parsePeriodEnd(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid period end %q: use YYYY-MM-DD or RFC3339", value)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id to open a credit account for (required)")
	subscriptionFlag := flag.String("subscription", "", "Billing subscription id (optional)")
	periodEndFlag := flag.String("period-end", "", "Subscription current period end, YYYY-MM-DD or RFC3339 (optional)")
	flag.Parse()

	if err := validateUserId(*userFlag); err != nil {
		logger.Fatal("Invalid user id", zap.Error(err))
	}

	periodEnd, err := parsePeriodEnd(*periodEndFlag)
	if err != nil {
		logger.Fatal("Invalid period end", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	account, err := services.Engine.OpenAccount(ctx, *userFlag)
	if err != nil {
		logger.Fatal("Failed to open account", zap.String("user_id", *userFlag), zap.Error(err))
	}
	fmt.Printf("✓ Account %s for %s (balance %s)\n", account.Id, account.UserId, account.Balance.String())

	if *subscriptionFlag != "" || periodEnd != nil {
		sub := models.Subscription{
			UserId:           *userFlag,
			SubscriptionId:   *subscriptionFlag,
			CurrentPeriodEnd: periodEnd,
		}
		if err := services.Engine.SetSubscription(ctx, sub); err != nil {
			logger.Fatal("Failed to record subscription", zap.String("user_id", *userFlag), zap.Error(err))
		}
		fmt.Printf("✓ Subscription %s recorded\n", *subscriptionFlag)
	}

	logger.Info("Account ready", zap.String("user_id", account.UserId), zap.String("account_id", account.Id))
}
