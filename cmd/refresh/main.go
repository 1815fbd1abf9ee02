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
	"os"
	"time"

	"credit-ledger-go/internal/common"
	"credit-ledger-go/internal/config"
	"credit-ledger-go/internal/models"

	"go.uber.org/zap"
)

func printOutcomes(outcomes []models.RefreshOutcome) {
	for i, o := range outcomes {
		fmt.Println(common.FormatOutcomeRow(o, i == len(outcomes)-1))
	}
}

func refreshSingle(ctx context.Context, services *common.Services, userId string, logger *zap.Logger) error {
	result, err := services.Engine.RefreshAccount(ctx, userId)
	if err != nil {
		return err
	}

	common.PrintHeader("ACCOUNT REFRESH", common.DefaultWidth)
	fmt.Printf("User:          %s\n", result.Account.UserId)
	fmt.Printf("Balance:       %s -> %s\n", result.Transaction.BalanceBefore.String(), result.Account.Balance.String())
	fmt.Printf("Tier:          %v\n", result.Transaction.Metadata["subscriptionStatus"])
	fmt.Printf("Transaction:   %s\n", result.Transaction.Id)
	common.PrintFooter("Refresh applied", common.DefaultWidth)

	logger.Info("Account refreshed",
		zap.String("user_id", userId),
		zap.String("balance", result.Account.Balance.String()))
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Refresh a single account instead of running the batch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *userFlag != "" {
		if err := refreshSingle(ctx, services, *userFlag, logger); err != nil {
			logger.Error("Refresh failed", zap.String("user_id", *userFlag), zap.Error(err))
			fmt.Printf("✗ %s: %v\n", *userFlag, err)
			os.Exit(1)
		}
		return
	}

	logger.Info("Triggering batch refresh")
	report, err := services.Scheduler.TriggerBatchRefresh(ctx)
	if err != nil {
		logger.Error("Batch refresh did not run", zap.Error(err))
		fmt.Printf("✗ Batch refresh did not run: %v\n", err)
		os.Exit(1)
	}

	common.PrintHeader(fmt.Sprintf("BATCH REFRESH %s", report.RunId), common.WideWidth)
	printOutcomes(report.Outcomes)

	summary := fmt.Sprintf("SUMMARY: %d applied, %d skipped, %d failed (%d accounts in %s)",
		report.Succeeded, report.Skipped, report.Failed, report.Total(), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	common.PrintFooter(summary, common.WideWidth)

	if report.Failed > 0 {
		os.Exit(2)
	}
}
