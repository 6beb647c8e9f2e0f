package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartpesa/internal/credit"
	"smartpesa/internal/forecast"
	"smartpesa/internal/storage"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type stubForecaster struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *stubForecaster) GenerateForecast(_ context.Context, businessID int64, days int) (*forecast.Bundle, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return &forecast.Bundle{BusinessID: businessID, DaysForward: days}, nil
}

func (s *stubForecaster) GetRiskAlert(_ context.Context, businessID int64) (*forecast.RiskAlert, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &forecast.RiskAlert{BusinessID: businessID, RiskLevel: forecast.RiskLow, Alerts: []forecast.Alert{}}, nil
}

func (s *stubForecaster) Readiness(_ context.Context, businessID int64) (*forecast.Readiness, error) {
	return &forecast.Readiness{BusinessID: businessID, RequiredDays: 30, Message: "No transaction data found"}, nil
}

func newTestServer(t *testing.T, fc Forecaster) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertBusiness(ctx, storage.Business{ID: 1, Name: "Kiosk", OwnerID: 7, OwnerEmail: "owner@example.com", CreatedAt: testNow.AddDate(-1, 0, 0)}))
	require.NoError(t, store.UpsertBusiness(ctx, storage.Business{ID: 2, Name: "Salon", OwnerID: 8, CreatedAt: testNow.AddDate(0, -2, 0)}))
	txs := make([]storage.Transaction, 0, 60)
	for i := 1; i <= 60; i++ {
		txs = append(txs, storage.Transaction{BusinessID: 1, Amount: decimal.NewFromInt(500), Kind: storage.KindIncome, CreatedAt: testNow.AddDate(0, 0, -i)})
	}
	require.NoError(t, store.InsertTransactions(ctx, txs))

	clock := func() time.Time { return testNow }
	engine := credit.NewEngine(store, 0, clock, zerolog.Nop())
	creditSvc := credit.NewService(engine, store, nil, 2, zerolog.Nop())
	h := NewHandler(fc, creditSvc, store, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(h, RouterOptions{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
	}))
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url string, user int64) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if user != 0 {
		req.Header.Set(UserHeader, fmt.Sprint(user))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestForecastRequiresUserAndOwnership(t *testing.T) {
	srv, _ := newTestServer(t, &stubForecaster{})

	resp, _ := do(t, http.MethodGet, srv.URL+"/forecast/1/7days", 0)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/forecast/1/7days", 8)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Business not found", body["detail"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/forecast/99/7days", 7)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/forecast/abc/7days", 7)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/forecast/1/30days", 7)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 30, body["days_forward"])
}

func TestInsufficientDataIsReportedInBody(t *testing.T) {
	err := fmt.Errorf("%w: need at least 30 days of data, have 4", forecast.ErrInsufficientData)
	srv, _ := newTestServer(t, &stubForecaster{err: err})

	for _, path := range []string{"/forecast/1/7days", "/forecast/1/risk-alert"} {
		resp, body := do(t, http.MethodGet, srv.URL+path, 7)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, err.Error(), body["error"], path)
	}
}

func TestForecastRequestsAreCoalesced(t *testing.T) {
	fc := &stubForecaster{release: make(chan struct{})}
	srv, _ := newTestServer(t, fc)

	var wg sync.WaitGroup
	codes := make([]int, 4)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _ := do(t, http.MethodGet, srv.URL+"/forecast/1/7days", 7)
			codes[i] = resp.StatusCode
		}()
	}
	require.Eventually(t, func() bool { return fc.calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(fc.release)
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Less(t, fc.calls.Load(), int32(4))
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &stubForecaster{})

	resp, body := do(t, http.MethodGet, srv.URL+"/forecast/1/health", 7)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["ready"])
	assert.EqualValues(t, 30, body["required_days"])

	resp, body = do(t, http.MethodGet, srv.URL+"/healthz", 0)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/metrics", 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreditEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &stubForecaster{})

	resp, body := do(t, http.MethodGet, srv.URL+"/credit/business/1", 7)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	score := body["smartpesa_score"]
	assert.NotNil(t, score)
	assert.Contains(t, body, "metrics_json")
	firstID := body["id"]

	resp, body = do(t, http.MethodGet, srv.URL+"/credit/business/1", 7)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, firstID, body["id"])

	resp, body = do(t, http.MethodGet, srv.URL+"/credit/business/1?force_refresh=true", 7)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, firstID, body["id"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/credit/business/1?force_refresh=maybe", 7)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/credit/business/1", 8)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/credit/business/1/history?limit=1", nil)
	require.NoError(t, err)
	req.Header.Set(UserHeader, "7")
	hresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer hresp.Body.Close()
	var history []map[string]any
	require.NoError(t, json.NewDecoder(hresp.Body).Decode(&history))
	assert.Len(t, history, 1)
}

func TestCalculateAllAndLenderViews(t *testing.T) {
	srv, _ := newTestServer(t, &stubForecaster{})

	resp, body := do(t, http.MethodGet, srv.URL+"/credit/lender/business/1", 0)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "No credit score available for this business", body["detail"])

	resp, body = do(t, http.MethodPost, srv.URL+"/credit/calculate-all", 7)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Calculated scores for 1 businesses", body["message"])
	require.Len(t, body["results"], 1)

	resp, body = do(t, http.MethodGet, srv.URL+"/credit/lender/business/1", 0)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "owner@example.com", body["owner_email"])
	assert.Contains(t, body, "cash_buffer_months")

	resp, body = do(t, http.MethodGet, srv.URL+"/credit/lender/businesses", 0)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/credit/lender/businesses?risk_level=EXTREME", 0)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/credit/lender/businesses?min_score=1001", 0)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/credit/lender/business/99", 0)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouterCredentialsOnlyForExplicitOrigins(t *testing.T) {
	h := NewHandler(&stubForecaster{}, nil, nil, zerolog.Nop())
	cases := []struct {
		name        string
		origins     []string
		origin      string
		allowOrigin string
		credentials string
	}{
		{name: "defaulted", origin: "https://evil.example", allowOrigin: "*"},
		{name: "wildcard", origins: []string{"*"}, origin: "https://evil.example", allowOrigin: "*"},
		{name: "explicit", origins: []string{"https://app.smartpesa.co.ke"}, origin: "https://app.smartpesa.co.ke", allowOrigin: "https://app.smartpesa.co.ke", credentials: "true"},
		{name: "explicit rejects other", origins: []string{"https://app.smartpesa.co.ke"}, origin: "https://evil.example"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(h, RouterOptions{AllowedOrigins: tc.origins})
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.allowOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tc.credentials, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}
