// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/internal/api"
	"github.com/quantavest/pyramid-backend/internal/config"
	"github.com/quantavest/pyramid-backend/internal/ledger"
	"github.com/quantavest/pyramid-backend/internal/metrics"
	"github.com/quantavest/pyramid-backend/internal/store"
	"github.com/quantavest/pyramid-backend/internal/strategy"
)

// stubEvaluator returns a canned report for any account.
type stubEvaluator struct{}

func (stubEvaluator) Evaluate(ctx context.Context, accountID string) (*strategy.Report, error) {
	return &strategy.Report{
		AccountID: accountID,
		Actions:   []string{"buy"},
		Equity:    decimal.NewFromInt(100),
		Cash:      decimal.NewFromInt(60),
		Price:     decimal.NewFromInt(50000),
	}, nil
}

func setupTestServer(t *testing.T) (*ledger.Ledger, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	l := ledger.New(logger, store.NewMemory())

	cfg := config.Default()
	server := api.NewServer(logger, cfg.Server, strategy.ConfigFrom(cfg.Strategy), l, stubEvaluator{}, metrics.New())
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return l, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "healthy", result["status"])
}

func TestCreateAndGetAccount(t *testing.T) {
	_, ts := setupTestServer(t)

	body := []byte(`{"id": "acct-1", "initialBalance": "250"}`)
	resp, err := http.Post(ts.URL+"/api/v1/accounts", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/accounts/acct-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Account struct {
			ID          string `json:"id"`
			CashBalance string `json:"cashBalance"`
			NextLotSize string `json:"nextLotSize"`
		} `json:"account"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "acct-1", result.Account.ID)
	assert.Equal(t, "250", result.Account.CashBalance)
	assert.Equal(t, "40", result.Account.NextLotSize)
}

func TestGetAccountNotFound(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/accounts/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvaluateEndpoint(t *testing.T) {
	l, ts := setupTestServer(t)

	_, err := l.Register(context.Background(), "acct-1", decimal.NewFromInt(100), decimal.NewFromInt(40))
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/v1/accounts/acct-1/evaluate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report strategy.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "acct-1", report.AccountID)
	assert.Equal(t, []string{"buy"}, report.Actions)
}

func TestDepositEndpoint(t *testing.T) {
	l, ts := setupTestServer(t)

	_, err := l.Register(context.Background(), "acct-1", decimal.NewFromInt(100), decimal.NewFromInt(40))
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/v1/accounts/acct-1/deposit", "application/json",
		bytes.NewReader([]byte(`{"amount": "50"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var acct struct {
		CashBalance string `json:"cashBalance"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acct))
	assert.Equal(t, "150", acct.CashBalance)

	// Non-positive amounts are rejected before touching the ledger.
	resp, err = http.Post(ts.URL+"/api/v1/accounts/acct-1/deposit", "application/json",
		bytes.NewReader([]byte(`{"amount": "-5"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	l, ts := setupTestServer(t)

	ctx := context.Background()
	_, err := l.Register(ctx, "acct-1", decimal.NewFromInt(100), decimal.NewFromInt(40))
	require.NoError(t, err)
	_, err = l.Credit(ctx, "acct-1", decimal.NewFromInt(25))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/accounts/acct-1/history?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		History []struct {
			Action string `json:"action"`
		} `json:"history"`
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "manual_deposit", result.History[0].Action)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketPingAndSubscribe(t *testing.T) {
	_, ts := setupTestServer(t)

	wsURL := "ws" + ts.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(api.Message{ID: "1", Type: "request", Method: "ping"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var response api.Message
	require.NoError(t, conn.ReadJSON(&response))
	assert.Equal(t, "ping", response.Method)
	assert.Empty(t, response.Error)

	require.NoError(t, conn.WriteJSON(api.Message{
		ID: "2", Type: "request", Method: "subscribe",
		Payload: map[string]interface{}{"channel": "accounts:acct-1"},
	}))
	require.NoError(t, conn.ReadJSON(&response))
	assert.Equal(t, "subscribe", response.Method)
	assert.Empty(t, response.Error)
}
