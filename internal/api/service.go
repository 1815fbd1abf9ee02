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

package api

import (
	"context"
	"fmt"

	"credit-ledger-go/internal/ledger"
	"credit-ledger-go/internal/models"
)

// BatchTrigger starts a batch refresh on demand
type BatchTrigger interface {
	TriggerBatchRefresh(ctx context.Context) (*models.BatchReport, error)
}

// LedgerService binds the ledger engine and the batch trigger to HTTP handlers
type LedgerService struct {
	engine    *ledger.Engine
	batch     BatchTrigger
	validator *ValidationHelper
}

func NewLedgerService(engine *ledger.Engine, batch BatchTrigger) *LedgerService {
	return &LedgerService{
		engine:    engine,
		batch:     batch,
		validator: NewValidationHelper(),
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.engine.Ping(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	return nil
}
