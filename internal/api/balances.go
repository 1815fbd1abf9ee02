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
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"credit-ledger-go/internal/ledger"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/scheduler"
	"credit-ledger-go/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; metadata itself is capped lower by the engine
const maxBodyBytes = 64 << 10

func (s *LedgerService) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.HealthCheck(r.Context()); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		SendErrorResponse(w, "Service unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetBalance returns the account and its recent transactions
func (s *LedgerService) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userId := chi.URLParam(r, "userId")

	view, err := s.engine.GetBalance(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleOpenAccount creates the account on first use and returns it
func (s *LedgerService) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	userId := chi.URLParam(r, "userId")

	account, err := s.engine.OpenAccount(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *LedgerService) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	userId := chi.URLParam(r, "userId")

	var req models.CreateTransactionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, err)
		return
	}

	amount, err := ledger.AmountFromFloat(*req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.engine.RecordTransaction(r.Context(), userId, amount, req.Type, req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleRefresh applies the monthly refresh for a single account
func (s *LedgerService) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userId := chi.URLParam(r, "userId")

	result, err := s.engine.RefreshAccount(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *LedgerService) handleReconcile(w http.ResponseWriter, r *http.Request) {
	userId := chi.URLParam(r, "userId")

	report, err := s.engine.Reconcile(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *LedgerService) handleSetSubscription(w http.ResponseWriter, r *http.Request) {
	userId := chi.URLParam(r, "userId")

	var req models.SubscriptionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, err)
		return
	}

	sub := models.Subscription{
		UserId:           userId,
		SubscriptionId:   req.SubscriptionId,
		CurrentPeriodEnd: utcPtr(req.CurrentPeriodEnd),
	}
	if err := s.engine.SetSubscription(r.Context(), sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleTriggerBatchRefresh runs a batch refresh synchronously and returns its report
func (s *LedgerService) handleTriggerBatchRefresh(w http.ResponseWriter, r *http.Request) {
	if s.batch == nil {
		SendErrorResponse(w, "Batch refresh is not configured", http.StatusServiceUnavailable, nil)
		return
	}

	report, err := s.batch.TriggerBatchRefresh(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress), errors.Is(err, scheduler.ErrRunLocked):
		SendErrorResponse(w, "Batch refresh already in progress", http.StatusConflict, nil)
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *LedgerService) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// writeError maps ledger errors to status codes. Storage details are logged, never returned.
func (s *LedgerService) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	case errors.Is(err, store.ErrAlreadyRefreshed):
		SendErrorResponse(w, "Already refreshed this month", http.StatusBadRequest, nil)
	case errors.Is(err, store.ErrInvalidAmount):
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
	case errors.Is(err, store.ErrInvalidTransactionType):
		SendErrorResponse(w, "Invalid transaction type", http.StatusBadRequest, nil)
	case errors.Is(err, store.ErrInvalidMetadata):
		SendErrorResponse(w, "Invalid metadata", http.StatusBadRequest, nil)
	case errors.Is(err, store.ErrConcurrentModification):
		SendErrorResponse(w, "Concurrent modification, retry the request", http.StatusConflict, nil)
	default:
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
