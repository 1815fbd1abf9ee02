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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceView is an account together with its most recent transactions
type BalanceView struct {
	Account      Account       `json:"account"`
	Transactions []Transaction `json:"transactions"`
}

// TransactionResult is the outcome of a successful balance mutation
type TransactionResult struct {
	Transaction Transaction `json:"transaction"`
	Account     Account     `json:"account"`
}

// CreateTransactionRequest is the body of POST /api/credits/{userId}/transactions
type CreateTransactionRequest struct {
	Amount   *float64        `json:"amount" validate:"required,min=0"`
	Type     TransactionType `json:"type" validate:"required,oneof=PURCHASE USAGE MONTHLY_REFRESH"`
	Metadata Metadata        `json:"metadata,omitempty"`
}

// SubscriptionRequest is the body of PUT /api/subscriptions/{userId}
type SubscriptionRequest struct {
	SubscriptionId   string     `json:"subscriptionId" validate:"omitempty,max=255"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd"`
}

// ReconcileReport compares the stored balance with a replay of the log
type ReconcileReport struct {
	UserId            string          `json:"userId"`
	StoredBalance     decimal.Decimal `json:"storedBalance"`
	CalculatedBalance decimal.Decimal `json:"calculatedBalance"`
	TransactionCount  int             `json:"transactionCount"`
	Consistent        bool            `json:"consistent"`
}

// ErrorResponse represents an API error body
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}
