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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.CreditStore.
var _ store.CreditStore = (*Service)(nil)

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service, err := NewServiceWithDB(db, cfg.CreateDummyAccounts)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, err
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceWithDB wraps an already opened database and initializes both schemas
func NewServiceWithDB(db *sql.DB, createDummyAccounts bool) (*Service, error) {
	subledger := NewSubledgerService(db)
	service := &Service{db: db, subledger: subledger}

	// Initialize subledger schema first: dummy accounts live there
	if err := subledger.InitSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}

	if err := service.initSchema(createDummyAccounts); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) initSchema(createDummyAccounts bool) error {
	schema := `
	-- Create subscriptions table (mirror of the billing system)
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id TEXT PRIMARY KEY,
		subscription_id TEXT,
		current_period_end TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	-- Create index for active subscription lookups
	CREATE INDEX IF NOT EXISTS idx_subscriptions_period_end ON subscriptions(current_period_end);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Insert 3 dummy accounts for testing if configured to do so
	if createDummyAccounts {
		now := time.Now().UTC()
		periodEnd := now.AddDate(0, 1, 0)

		accounts := []struct {
			userId         string
			subscriptionId string
		}{
			{"demo-alice", "sub_demo_alice"},
			{"demo-bob", ""},
			{"demo-carol", ""},
		}

		for _, account := range accounts {
			_, err := s.db.Exec(queryInsertAccountIfMissing, uuid.New().String(), account.userId, now, now)
			if err != nil {
				zap.L().Error("Failed to insert dummy account", zap.String("user_id", account.userId), zap.Error(err))
				continue
			}
			zap.L().Info("Dummy account ensured", zap.String("user_id", account.userId))

			if account.subscriptionId != "" {
				_, err := s.db.Exec(queryUpsertSubscription, account.userId, account.subscriptionId, periodEnd, now)
				if err != nil {
					zap.L().Error("Failed to insert dummy subscription", zap.String("user_id", account.userId), zap.Error(err))
				}
			}
		}
	} else {
		zap.L().Info("Skipping dummy account creation (CREATE_DUMMY_ACCOUNTS=false)")
	}

	return nil
}

// Subledger convenience methods

func (s *Service) CreateAccount(ctx context.Context, userId string) (*models.Account, error) {
	return s.subledger.CreateAccount(ctx, userId)
}

func (s *Service) GetAccountByUserId(ctx context.Context, userId string) (*models.Account, error) {
	return s.subledger.GetAccount(ctx, userId)
}

func (s *Service) ListAccounts(ctx context.Context) ([]models.AccountSubscription, error) {
	return s.subledger.ListAccounts(ctx)
}

// ApplyTransaction records a PURCHASE, USAGE or MONTHLY_REFRESH transaction using the
// increment rule: USAGE subtracts the amount, every other type adds it.
func (s *Service) ApplyTransaction(ctx context.Context, params store.ApplyTransactionParams) (*models.Transaction, *models.Account, error) {
	return s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		UserId:   params.UserId,
		Type:     params.Type,
		Effect:   models.EffectFor(params.Type),
		Amount:   params.Amount,
		Metadata: params.Metadata,
		Now:      params.Now,
	})
}

// ApplyRefresh resets the balance to params.Amount and stamps the refresh date,
// at most once per calendar month.
func (s *Service) ApplyRefresh(ctx context.Context, params store.ApplyRefreshParams) (*models.Transaction, *models.Account, error) {
	return s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		UserId:   params.UserId,
		Type:     models.TransactionTypeMonthlyRefresh,
		Effect:   models.EffectReset,
		Amount:   params.Amount,
		Metadata: params.Metadata,
		Now:      params.Now,
	})
}

func (s *Service) GetRecentTransactions(ctx context.Context, userId string, limit int) ([]models.Transaction, error) {
	return s.subledger.GetRecentTransactions(ctx, userId, limit)
}

func (s *Service) GetTransactionLog(ctx context.Context, userId string) ([]models.Transaction, error) {
	return s.subledger.GetTransactionLog(ctx, userId)
}
