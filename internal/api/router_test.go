package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"credit-ledger-go/internal/database"
	"credit-ledger-go/internal/ledger"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/scheduler"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBatch struct {
	report *models.BatchReport
	err    error
	calls  int
}

func (f *fakeBatch) TriggerBatchRefresh(ctx context.Context) (*models.BatchReport, error) {
	f.calls++
	return f.report, f.err
}

type testServer struct {
	handler http.Handler
	engine  *ledger.Engine
	db      *sql.DB
	batch   *fakeBatch
}

func setupTestServer(t *testing.T) *testServer {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	svc, err := database.NewServiceWithDB(db, false)
	require.NoError(t, err)

	now := time.Date(2026, time.April, 15, 9, 0, 0, 0, time.UTC)
	engine := ledger.NewEngine(svc, models.RefreshConfig{ProAmount: 100, FreeAmount: 6},
		ledger.WithClock(func() time.Time { return now }))

	batch := &fakeBatch{report: &models.BatchReport{RunId: "run-1", Trigger: models.RunTriggerManual}}
	handler := NewRouter(NewLedgerService(engine, batch), models.ServerConfig{})

	return &testServer{handler: handler, engine: engine, db: db, batch: batch}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ts.db.Close()
	w = ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetBalance(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("unknown account", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/credits/ghost", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Account not found", decodeBody[models.ErrorResponse](t, w).Error)
	})

	t.Run("open then read", func(t *testing.T) {
		w := ts.do(t, http.MethodPut, "/api/credits/user1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = ts.do(t, http.MethodPut, "/api/credits/user1", nil)
		require.Equal(t, http.StatusOK, w.Code, "opening twice is idempotent")

		w = ts.do(t, http.MethodGet, "/api/credits/user1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		view := decodeBody[models.BalanceView](t, w)
		assert.Equal(t, "user1", view.Account.UserId)
		assert.True(t, view.Account.Balance.IsZero())
		assert.NotNil(t, view.Transactions)
		assert.Contains(t, w.Body.String(), `"transactions":[]`)
	})
}

func TestCreateTransaction(t *testing.T) {
	ts := setupTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/credits/user1", nil).Code)

	t.Run("purchase then usage", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/credits/user1/transactions", map[string]any{
			"amount":   50,
			"type":     "PURCHASE",
			"metadata": map[string]any{"orderId": "ord_1"},
		})
		require.Equal(t, http.StatusCreated, w.Code)
		result := decodeBody[models.TransactionResult](t, w)
		assert.True(t, result.Account.Balance.Equal(decimal.NewFromInt(50)))
		assert.True(t, result.Account.HasPurchaseHistory)
		assert.Equal(t, "ord_1", result.Transaction.Metadata["orderId"])

		w = ts.do(t, http.MethodPost, "/api/credits/user1/transactions", map[string]any{"amount": 20, "type": "USAGE"})
		require.Equal(t, http.StatusCreated, w.Code)
		result = decodeBody[models.TransactionResult](t, w)
		assert.True(t, result.Account.Balance.Equal(decimal.NewFromInt(30)))
	})

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"negative amount", "/api/credits/user1/transactions", map[string]any{"amount": -5, "type": "PURCHASE"}, http.StatusBadRequest},
		{"missing amount", "/api/credits/user1/transactions", map[string]any{"type": "PURCHASE"}, http.StatusBadRequest},
		{"unknown type", "/api/credits/user1/transactions", map[string]any{"amount": 1, "type": "GIFT"}, http.StatusBadRequest},
		{"malformed json", "/api/credits/user1/transactions", "{", http.StatusBadRequest},
		{"unknown account", "/api/credits/ghost/transactions", map[string]any{"amount": 1, "type": "PURCHASE"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("validation details", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/credits/user1/transactions", map[string]any{"amount": -5, "type": "GIFT"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeBody[models.ErrorResponse](t, w)
		assert.Contains(t, resp.Details, "Amount")
		assert.Contains(t, resp.Details, "Type")
	})

	view, err := ts.engine.GetBalance(context.Background(), "user1")
	require.NoError(t, err)
	assert.True(t, view.Account.Balance.Equal(decimal.NewFromInt(30)), "rejected requests must not change the balance")
	assert.Len(t, view.Transactions, 2)
}

func TestRefresh(t *testing.T) {
	ts := setupTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/credits/user1", nil).Code)

	periodEnd := time.Date(2026, time.May, 15, 0, 0, 0, 0, time.UTC)
	w := ts.do(t, http.MethodPut, "/api/subscriptions/user1", map[string]any{
		"subscriptionId":   "sub_123",
		"currentPeriodEnd": periodEnd,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/credits/user1/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeBody[models.TransactionResult](t, w)
	assert.True(t, result.Account.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, models.TransactionTypeMonthlyRefresh, result.Transaction.Type)
	assert.Equal(t, "pro", result.Transaction.Metadata["subscriptionStatus"])

	w = ts.do(t, http.MethodPost, "/api/credits/user1/refresh", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Already refreshed this month", decodeBody[models.ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodPost, "/api/credits/ghost/refresh", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReconcile(t *testing.T) {
	ts := setupTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/credits/user1", nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/credits/user1/transactions",
		map[string]any{"amount": 12.5, "type": "PURCHASE"}).Code)

	w := ts.do(t, http.MethodGet, "/api/credits/user1/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decodeBody[models.ReconcileReport](t, w)
	assert.True(t, report.Consistent)
	assert.Equal(t, 1, report.TransactionCount)
	assert.True(t, report.StoredBalance.Equal(decimal.RequireFromString("12.5")))
}

func TestSetSubscription_Validation(t *testing.T) {
	ts := setupTestServer(t)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	w := ts.do(t, http.MethodPut, "/api/subscriptions/user1", map[string]any{"subscriptionId": string(long)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerBatchRefresh(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/admin/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-1", decodeBody[models.BatchReport](t, w).RunId)

	ts.batch.err = scheduler.ErrRunInProgress
	w = ts.do(t, http.MethodPost, "/api/admin/refresh", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, 2, ts.batch.calls)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
