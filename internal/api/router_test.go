package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fintrack/internal/api"
	"github.com/example/fintrack/internal/auth"
	"github.com/example/fintrack/internal/budget"
	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/ledger"
	"github.com/example/fintrack/internal/security"
	"github.com/example/fintrack/internal/storage/memory"
	"github.com/example/fintrack/pkg/audit"
)

var (
	testSecret = []byte("router-test-secret")
	allScopes  = []string{
		"accounts:read", "accounts:write",
		"ledger:read", "ledger:write",
		"categories:read", "categories:write",
		"budgets:read", "budgets:write",
	}
)

type testServer struct {
	handler http.Handler
	trail   *audit.Trail
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	registry := category.NewRegistry(store)
	accountLedger := ledger.NewAccountLedger(store, logger)
	aggregator := budget.NewAggregator(store, store, logger)
	accountLedger.Observe(aggregator)
	transfers := ledger.NewTransferCoordinator(store, accountLedger, logger)
	service := ledger.NewService(store, accountLedger, transfers, registry, aggregator, logger)

	trail := audit.NewTrail()
	handler, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Validator:    &auth.Validator{Secret: testSecret, Issuer: "fintrack"},
		Ledger:       service,
		Categories:   registry,
		Budgets:      aggregator,
		Auditor:      trail,
		MaxBodyBytes: 1 << 20,
	})
	require.NoError(t, err)

	return &testServer{handler: handler, trail: trail}
}

func (s *testServer) token(t *testing.T, ownerID string, scopes []string) string {
	t.Helper()
	tok, err := auth.Issue(testSecret, "fintrack", ownerID, scopes, time.Minute)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *testServer) createAccount(t *testing.T, token, kind, balance string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/accounts/", token, map[string]any{
		"kind": kind, "name": "acct", "currency": "USD", "initial_balance": balance,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)["id"].(string)
}

func (s *testServer) createCategory(t *testing.T, token, name, kind string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/categories/", token, map[string]any{
		"name": name, "kind": kind,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)["id"].(string)
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestV1RequiresAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/accounts/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/accounts/", "bad-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScopeEnforcement(t *testing.T) {
	s := newTestServer(t)
	readOnly := s.token(t, "owner-1", []string{"accounts:read"})

	rec := s.do(t, http.MethodGet, "/v1/accounts/", readOnly, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/accounts/", readOnly, map[string]any{
		"kind": "CHECKING", "name": "acct", "currency": "USD",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDepositWithdrawFlow(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "owner-1", allScopes)
	accountID := s.createAccount(t, tok, "CHECKING", "100.00")
	income := s.createCategory(t, tok, "Salary", "INCOME")
	expense := s.createCategory(t, tok, "Groceries", "EXPENSE")

	rec := s.do(t, http.MethodPost, "/v1/ledger/deposit", tok, map[string]any{
		"account_id": accountID, "category_id": income, "amount": "50.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/ledger/withdraw", tok, map[string]any{
		"account_id": accountID, "category_id": expense, "amount": "30.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/accounts/"+accountID+"/balance", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "120.00", decodeBody(t, rec)["balance"])

	rec = s.do(t, http.MethodGet, "/v1/accounts/"+accountID+"/postings", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["postings"], 2)
}

func TestSchemaRejectsMalformedAmount(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "owner-1", allScopes)

	for _, amount := range []string{"25", "25.0", "25.005", "-25.00", "abc"} {
		rec := s.do(t, http.MethodPost, "/v1/ledger/deposit", tok, map[string]any{
			"account_id": "a", "category_id": "c", "amount": amount,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "amount %q", amount)
		assert.Equal(t, "validation_error", decodeBody(t, rec)["error"])
	}
}

func TestInsufficientFundsMapsTo422(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "owner-1", allScopes)
	accountID := s.createAccount(t, tok, "CHECKING", "10.00")
	expense := s.createCategory(t, tok, "Groceries", "EXPENSE")

	rec := s.do(t, http.MethodPost, "/v1/ledger/withdraw", tok, map[string]any{
		"account_id": accountID, "category_id": expense, "amount": "10.01",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_funds", decodeBody(t, rec)["error"])
}

func TestForeignAccountIs404(t *testing.T) {
	s := newTestServer(t)
	ownerTok := s.token(t, "owner-1", allScopes)
	otherTok := s.token(t, "owner-2", allScopes)
	accountID := s.createAccount(t, ownerTok, "CHECKING", "10.00")

	rec := s.do(t, http.MethodGet, "/v1/accounts/"+accountID, otherTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	income := s.createCategory(t, otherTok, "Salary", "INCOME")
	rec = s.do(t, http.MethodPost, "/v1/ledger/deposit", otherTok, map[string]any{
		"account_id": accountID, "category_id": income, "amount": "5.00",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransferEndpoint(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "owner-1", allScopes)
	from := s.createAccount(t, tok, "CHECKING", "100.00")
	to := s.createAccount(t, tok, "SAVINGS", "0.00")

	rec := s.do(t, http.MethodPost, "/v1/ledger/transfer", tok, map[string]any{
		"from_account_id": from, "to_account_id": to, "amount": "40.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.NotNil(t, body["out"])
	assert.NotNil(t, body["in"])

	rec = s.do(t, http.MethodGet, "/v1/accounts/"+to+"/balance", tok, nil)
	assert.Equal(t, "40.00", decodeBody(t, rec)["balance"])
}

func TestBudgetLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "owner-1", allScopes)
	accountID := s.createAccount(t, tok, "CHECKING", "1000.00")
	expense := s.createCategory(t, tok, "Groceries", "EXPENSE")

	now := time.Now().UTC()
	rec := s.do(t, http.MethodPost, "/v1/budgets/", tok, map[string]any{
		"category_id": expense,
		"amount":      "200.00",
		"start_date":  now.AddDate(0, 0, -15).Format(time.RFC3339),
		"end_date":    now.AddDate(0, 0, 15).Format(time.RFC3339),
		"period":      "MONTHLY",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	budgetID := decodeBody(t, rec)["id"].(string)

	for _, amount := range []string{"50.00", "200.00"} {
		rec = s.do(t, http.MethodPost, "/v1/ledger/withdraw", tok, map[string]any{
			"account_id": accountID, "category_id": expense, "amount": amount,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/v1/budgets/"+budgetID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "250.00", body["spent"])
	assert.Equal(t, true, body["exceeded"])

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/budgets/%s/recompute", budgetID), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "250.00", decodeBody(t, rec)["spent"])

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/v1/budgets/%s/reset", budgetID), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/budgets/"+budgetID, tok, nil)
	assert.Equal(t, "0.00", decodeBody(t, rec)["spent"])
}

func TestMutationsAreAudited(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "owner-1", allScopes)
	s.createAccount(t, tok, "CHECKING", "10.00")
	s.do(t, http.MethodGet, "/v1/accounts/", tok, nil)

	entries := s.trail.Entries()
	require.Len(t, entries, 1, "reads must not be audited")
	assert.Contains(t, entries[0].Payload, "owner=owner-1")
	assert.Contains(t, entries[0].Payload, "/v1/accounts")
	assert.True(t, audit.Verify(entries))
}

func TestRequestIDRoundTrip(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(security.RequestIDHeader, "rid-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "rid-42", rec.Header().Get(security.RequestIDHeader))
}
