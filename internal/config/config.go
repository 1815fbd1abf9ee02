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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"credit-ledger-go/internal/models"
)

const (
	BackendSQLite   = "sqlite"
	BackendFormance = "formance"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	busyTimeout, err := getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	lockTTL, err := getEnvDuration("REFRESH_LOCK_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	readTimeout, err := getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	writeTimeout, err := getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{
		Backend: strings.ToLower(getEnvString("LEDGER_BACKEND", BackendSQLite)),
		Database: models.DatabaseConfig{
			Path:                getEnvString("DATABASE_PATH", "credits.db"),
			MaxOpenConns:        getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:        getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:     connMaxLifetime,
			ConnMaxIdleTime:     connMaxIdleTime,
			PingTimeout:         pingTimeout,
			BusyTimeout:         busyTimeout,
			CreateDummyAccounts: getEnvBool("CREATE_DUMMY_ACCOUNTS", false),
		},
		Formance: models.FormanceConfig{
			StackURL:       os.Getenv("FORMANCE_STACK_URL"),
			ClientID:       os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret:   os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:     getEnvString("FORMANCE_LEDGER", "credit-ledger"),
			AssetPrecision: getEnvInt("FORMANCE_ASSET_PRECISION", 2),
		},
		Refresh: models.RefreshConfig{
			ProAmount:               getEnvInt64("REFRESH_PRO_AMOUNT", 100),
			FreeAmount:              getEnvInt64("REFRESH_FREE_AMOUNT", 6),
			Schedule:                getEnvString("REFRESH_SCHEDULE", "0 0 1 * *"),
			Workers:                 getEnvInt("BATCH_WORKERS", 4),
			RecentTransactionsLimit: getEnvInt("RECENT_TRANSACTIONS_LIMIT", 10),
			PolicyFile:              os.Getenv("REFRESH_POLICY_FILE"),
		},
		Redis: models.RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  lockTTL,
		},
		Server: models.ServerConfig{
			Addr:               getEnvString("SERVER_ADDR", ":3000"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			ShutdownTimeout:    shutdownTimeout,
			CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	if cfg.Backend != BackendSQLite && cfg.Backend != BackendFormance {
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q: must be %s or %s", cfg.Backend, BackendSQLite, BackendFormance)
	}

	if cfg.Refresh.PolicyFile != "" {
		if err := LoadRefreshPolicy(cfg.Refresh.PolicyFile, &cfg.Refresh); err != nil {
			return nil, err
		}
	}

	if cfg.Refresh.ProAmount < 0 || cfg.Refresh.FreeAmount < 0 {
		return nil, fmt.Errorf("refresh amounts cannot be negative: pro=%d free=%d", cfg.Refresh.ProAmount, cfg.Refresh.FreeAmount)
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
