package portfolio_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/portfolio"
	"github.com/portana/ledger-engine/internal/store"
)

// newTestRouter mounts the service routes the way cmd/server does.
func newTestRouter(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	svc, ms, _ := newTestService(t)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return ms, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAccount(t *testing.T) {
	ms, router := newTestRouter(t)

	w := do(t, router, "POST", "/api/v1/accounts", portfolio.CreateAccountRequest{UserID: "u1", Brokerage: "schwab"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var account model.Account
	json.NewDecoder(w.Body).Decode(&account)
	if account.ID == "" || account.UserID != "u1" {
		t.Errorf("unexpected account %+v", account)
	}

	stored, _ := ms.ListAccountsByUser(t.Context(), "u1")
	if len(stored) != 1 {
		t.Errorf("expected 1 stored account, got %d", len(stored))
	}

	w = do(t, router, "POST", "/api/v1/accounts", portfolio.CreateAccountRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without user_id, got %d", w.Code)
	}
}

func TestHandleRefreshAccount(t *testing.T) {
	ms, router := newTestRouter(t)
	seedAccount(t, ms, "acct-1", "u1")
	seedPrices(ms)

	w := do(t, router, "POST", "/api/v1/accounts/acct-1/refresh?mode=full", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res portfolio.AccountResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Status != portfolio.StatusOK || res.Metrics.Rows != 5 {
		t.Errorf("unexpected result %+v", res)
	}

	w = do(t, router, "GET", "/api/v1/accounts/acct-1/metrics", nil)
	var rows []model.PortfolioMetricsSnapshot
	json.NewDecoder(w.Body).Decode(&rows)
	if len(rows) != 5 {
		t.Errorf("expected 5 metrics rows, got %d", len(rows))
	}

	w = do(t, router, "GET", "/api/v1/accounts/acct-1/positions", nil)
	var positions []model.Position
	json.NewDecoder(w.Body).Decode(&positions)
	if len(positions) != 2 {
		t.Errorf("expected 2 positions, got %d", len(positions))
	}

	w = do(t, router, "GET", "/api/v1/accounts/acct-1/snapshots?from=2024-01-04", nil)
	var snaps []model.PositionSnapshot
	json.NewDecoder(w.Body).Decode(&snaps)
	if len(snaps) != 4 {
		t.Errorf("expected 4 snapshots from day 4, got %d", len(snaps))
	}
}

func TestHandleRefreshAccount_LedgerErrorIs422(t *testing.T) {
	ms, router := newTestRouter(t)
	ms.CreateAccount(t.Context(), &model.Account{ID: "bad", UserID: "u1"})
	ms.InsertTransactions(t.Context(), []model.Transaction{
		trade("x", "bad", "AAPL", model.ActionBuy, 1, 1, day(1)),
		{ID: "y", AccountID: "bad", Symbol: "AAPL", Action: model.ActionSell, Quantity: d(1), Date: day(2)},
	})

	w := do(t, router, "POST", "/api/v1/accounts/bad/refresh", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/accounts/bad/replay", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a trade without price, got %d", w.Code)
	}
}

func TestHandlers_Errors(t *testing.T) {
	_, router := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown account replay", "POST", "/api/v1/accounts/ghost/replay", http.StatusNotFound},
		{"unknown account hydrate", "POST", "/api/v1/accounts/ghost/hydrate", http.StatusNotFound},
		{"unknown account get", "GET", "/api/v1/accounts/ghost", http.StatusNotFound},
		{"bad mode", "POST", "/api/v1/accounts/ghost/metrics?mode=sometimes", http.StatusBadRequest},
		{"bad from", "GET", "/api/v1/accounts/ghost/snapshots?from=yesterday", http.StatusBadRequest},
		{"user without accounts", "POST", "/api/v1/users/ghost/refresh", http.StatusNotFound},
		{"prices without quoter", "POST", "/api/v1/prices/refresh", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, nil)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var body map[string]string
			json.NewDecoder(w.Body).Decode(&body)
			if body["error"] == "" {
				t.Error("expected JSON error body")
			}
		})
	}
}

func TestHandleRefresh_Batch(t *testing.T) {
	ms, router := newTestRouter(t)
	seedAccount(t, ms, "acct-1", "u1")
	seedAccount(t, ms, "acct-2", "u2")
	seedPrices(ms)

	w := do(t, router, "POST", "/api/v1/refresh", portfolio.RefreshRequest{AccountIDs: []string{"acct-2", "ghost"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var summary portfolio.RunSummary
	json.NewDecoder(w.Body).Decode(&summary)
	if len(summary.Results) != 2 || summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Results[0].AccountID != "acct-2" || summary.Results[1].AccountID != "ghost" {
		t.Errorf("expected results in request order, got %+v", summary.Results)
	}

	w = do(t, router, "POST", "/api/v1/users/u1/refresh", nil)
	var user portfolio.UserResult
	json.NewDecoder(w.Body).Decode(&user)
	if user.RollupRows != 5 {
		t.Errorf("expected 5 rollup rows, got %d", user.RollupRows)
	}
	w = do(t, router, "GET", "/api/v1/users/u1/metrics", nil)
	var userRows []model.UserMetricsSnapshot
	json.NewDecoder(w.Body).Decode(&userRows)
	if len(userRows) != 5 {
		t.Errorf("expected 5 user metrics rows, got %d", len(userRows))
	}
}
