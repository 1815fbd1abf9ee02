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

const (
	// Account queries
	queryInsertAccount = `
		INSERT INTO accounts (id, user_id, balance, has_purchase_history, version, created_at, updated_at)
		VALUES (?, ?, '0', 0, 1, ?, ?)`

	queryInsertAccountIfMissing = `
		INSERT OR IGNORE INTO accounts (id, user_id, balance, has_purchase_history, version, created_at, updated_at)
		VALUES (?, ?, '0', 0, 1, ?, ?)`

	queryGetAccountByUserId = `
		SELECT id, user_id, balance, has_purchase_history, last_refresh_date, version, created_at, updated_at
		FROM accounts
		WHERE user_id = ?`

	queryListAccountsWithSubscriptions = `
		SELECT a.id, a.user_id, a.balance, a.has_purchase_history, a.last_refresh_date, a.version, a.created_at, a.updated_at,
		       s.subscription_id, s.current_period_end, s.updated_at
		FROM accounts a
		LEFT JOIN subscriptions s ON s.user_id = a.user_id
		ORDER BY a.created_at, a.user_id`

	// Update account balance (with optimistic locking)
	queryUpdateAccountBalance = `
		UPDATE accounts
		SET balance = ?, has_purchase_history = ?, last_refresh_date = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	// Transaction queries
	queryInsertCreditTransaction = `
		INSERT INTO credit_transactions (id, account_id, user_id, type, effect, amount, balance_before, balance_after, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetRecentTransactions = `
		SELECT id, account_id, user_id, type, effect, amount, balance_before, balance_after, status, metadata, created_at
		FROM credit_transactions
		WHERE account_id = (SELECT id FROM accounts WHERE user_id = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	queryGetTransactionLog = `
		SELECT id, account_id, user_id, type, effect, amount, balance_before, balance_after, status, metadata, created_at
		FROM credit_transactions
		WHERE account_id = (SELECT id FROM accounts WHERE user_id = ?)
		ORDER BY created_at ASC, rowid ASC`

	// Subscription queries
	queryUpsertSubscription = `
		INSERT INTO subscriptions (user_id, subscription_id, current_period_end, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			subscription_id = excluded.subscription_id,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`

	queryGetSubscription = `
		SELECT user_id, subscription_id, current_period_end, updated_at
		FROM subscriptions
		WHERE user_id = ?`
)
