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
	"database/sql"
)

// SubledgerService handles the credit subledger: account balances and their
// append-only transaction log.
type SubledgerService struct {
	db *sql.DB
}

func NewSubledgerService(db *sql.DB) *SubledgerService {
	return &SubledgerService{
		db: db,
	}
}

func (s *SubledgerService) InitSchema() error {
	schema := `
	-- Accounts Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		balance TEXT NOT NULL DEFAULT '0',
		has_purchase_history BOOLEAN NOT NULL DEFAULT 0,
		last_refresh_date TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Credit Transactions Table (Audit Trail - Cold Data, append-only)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		effect TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'COMPLETED',
		metadata TEXT,
		created_at TIMESTAMP NOT NULL
	);

	-- Performance Indexes for Credit Transactions
	CREATE INDEX IF NOT EXISTS idx_credit_transactions_account_created ON credit_transactions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_credit_transactions_type ON credit_transactions(type);

	-- The log is append-only
	CREATE TRIGGER IF NOT EXISTS trg_credit_transactions_no_update
	BEFORE UPDATE ON credit_transactions
	BEGIN
		SELECT RAISE(ABORT, 'credit_transactions is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_credit_transactions_no_delete
	BEFORE DELETE ON credit_transactions
	BEGIN
		SELECT RAISE(ABORT, 'credit_transactions is append-only');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}
