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

	"go.uber.org/zap"
)

var demoAccounts = []string{"demo_alice", "demo_bob", "demo_carol"}

// seedDemoAccounts opens the demo accounts through the engine so every backend gets them
func seedDemoAccounts(ctx context.Context, services *common.Services) (int, error) {
	opened := 0
	for _, userId := range demoAccounts {
		account, err := services.Engine.OpenAccount(ctx, userId)
		if err != nil {
			return opened, fmt.Errorf("failed to open %s: %w", userId, err)
		}
		zap.L().Info("Demo account ready",
			zap.String("user_id", account.UserId),
			zap.String("account_id", account.Id))
		fmt.Printf("✓ %s (%s)\n", account.UserId, account.Id)
		opened++
	}
	return opened, nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	seed := flag.Bool("seed", false, "Open demo accounts after initialising the store")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initialising ledger store", zap.String("backend", cfg.Backend))

	// Opening the store creates the SQLite schema or the Formance ledger
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := services.Engine.Ping(ctx); err != nil {
		zap.L().Fatal("Store is not reachable", zap.Error(err))
	}

	common.PrintHeader("CREDIT LEDGER SETUP", common.DefaultWidth)
	fmt.Printf("Backend:   %s\n", cfg.Backend)
	fmt.Printf("Refresh:   pro=%d free=%d schedule=%q\n", cfg.Refresh.ProAmount, cfg.Refresh.FreeAmount, cfg.Refresh.Schedule)

	if *seed {
		opened, err := seedDemoAccounts(ctx, services)
		if err != nil {
			zap.L().Fatal("Failed to seed demo accounts", zap.Error(err))
		}
		common.PrintFooter(fmt.Sprintf("Setup complete: %d demo accounts ready", opened), common.DefaultWidth)
		return
	}

	common.PrintFooter("Setup complete", common.DefaultWidth)
}
