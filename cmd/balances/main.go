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

	"credit-ledger-go/internal/common"
	"credit-ledger-go/internal/config"
	"credit-ledger-go/internal/ledger"
	"credit-ledger-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts   int
	negativeBalance int
	inconsistent    int
}

func formatRefreshDate(account models.Account) string {
	if account.LastRefreshDate == nil {
		return "never"
	}
	return account.LastRefreshDate.Format("2006-01-02 15:04:05")
}

func printAccountHeader(as models.AccountSubscription) {
	account := as.Account
	fmt.Printf("\n┌─ User: %s\n", account.UserId)
	fmt.Printf("│  Account: %s\n", account.Id)
	fmt.Printf("│  Balance: %s (purchases: %t, last refresh: %s)\n",
		account.Balance.String(), account.HasPurchaseHistory, formatRefreshDate(account))
	if sub := as.Subscription; sub != nil && sub.SubscriptionId != "" {
		periodEnd := "none"
		if sub.CurrentPeriodEnd != nil {
			periodEnd = sub.CurrentPeriodEnd.Format("2006-01-02")
		}
		fmt.Printf("│  Subscription: %s (period end: %s)\n", sub.SubscriptionId, periodEnd)
	}
	common.PrintBoxSeparator(78)
}

func processAccount(ctx context.Context, as models.AccountSubscription, engine *ledger.Engine, reconcile bool) (bool, error) {
	view, err := engine.GetBalance(ctx, as.Account.UserId)
	if err != nil {
		return false, fmt.Errorf("failed to get balance: %w", err)
	}
	as.Account = view.Account

	printAccountHeader(as)
	for i, t := range view.Transactions {
		fmt.Println(common.FormatTransactionRow(t, i == len(view.Transactions)-1 && !reconcile))
	}

	if !reconcile {
		return true, nil
	}

	report, err := engine.Reconcile(ctx, as.Account.UserId)
	if err != nil {
		return false, fmt.Errorf("failed to reconcile: %w", err)
	}
	fmt.Println(common.FormatReconcileRow(*report))
	return report.Consistent, nil
}

func processAccountsAndGenerateReport(ctx context.Context, accounts []models.AccountSubscription, engine *ledger.Engine, reconcile bool, logger *zap.Logger) balanceStats {
	stats := balanceStats{}

	for _, as := range accounts {
		stats.totalAccounts++

		consistent, err := processAccount(ctx, as, engine, reconcile)
		if err != nil {
			logger.Error("Failed to process account",
				zap.String("user_id", as.Account.UserId),
				zap.Error(err))
			continue
		}

		if as.Account.Balance.IsNegative() {
			stats.negativeBalance++
		}
		if !consistent {
			stats.inconsistent++
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	userFlag := flag.String("user", "", "Filter by specific user id (optional)")
	reconcileFlag := flag.Bool("reconcile", false, "Replay each transaction log and compare with the stored balance")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Only the store is needed for read-only operations
	creditStore, err := common.InitializeStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer creditStore.Close()

	engine := ledger.NewEngine(creditStore, cfg.Refresh)

	accounts, err := common.InitializeAccounts(ctx, engine, *userFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize accounts", zap.Error(err))
	}

	common.PrintHeader("CREDIT BALANCE REPORT", common.DefaultWidth)

	stats := processAccountsAndGenerateReport(ctx, accounts, engine, *reconcileFlag, logger)

	summary := fmt.Sprintf("SUMMARY: %d accounts (%d negative balances", stats.totalAccounts, stats.negativeBalance)
	if *reconcileFlag {
		summary += fmt.Sprintf(", %d inconsistent", stats.inconsistent)
	}
	common.PrintFooter(summary+")", common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("accounts", stats.totalAccounts),
		zap.Int("negative_balances", stats.negativeBalance),
		zap.Int("inconsistent", stats.inconsistent))
}
