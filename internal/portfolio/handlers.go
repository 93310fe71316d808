package portfolio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/portana/ledger-engine/internal/model"
	"github.com/portana/ledger-engine/internal/replay"
	"github.com/portana/ledger-engine/internal/store"
	"github.com/portana/ledger-engine/internal/symbol"
)

// --- Request types ---

// CreateAccountRequest is the JSON body for account creation.
type CreateAccountRequest struct {
	UserID        string `json:"user_id"`
	Brokerage     string `json:"brokerage"`
	AccountNumber string `json:"account_number"`
	Nickname      string `json:"nickname"`
}

// RefreshRequest is the optional JSON body for POST /refresh.
type RefreshRequest struct {
	AccountIDs []string `json:"account_ids"`
}

// Routes mounts the run triggers and read models on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/accounts", s.ListAccounts)
	r.Post("/accounts", s.CreateAccount)
	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Get("/", s.GetAccount)
		r.Get("/positions", s.GetPositions)
		r.Get("/snapshots", s.GetSnapshots)
		r.Get("/pnl", s.GetRealizedPnL)
		r.Get("/metrics", s.GetMetrics)

		r.Post("/refresh", s.HandleRefreshAccount)
		r.Post("/replay", s.HandleReplay)
		r.Post("/hydrate", s.HandleHydrate)
		r.Post("/metrics", s.HandleMetrics)
	})
	r.Get("/users/{userID}/metrics", s.GetUserMetrics)
	r.Post("/users/{userID}/refresh", s.HandleRefreshUser)
	r.Post("/refresh", s.HandleRefresh)
	r.Post("/prices/refresh", s.HandleRefreshPrices)
}

// --- Accounts ---

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	account := &model.Account{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Brokerage:     req.Brokerage,
		AccountNumber: req.AccountNumber,
		Nickname:      req.Nickname,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("account created", "id", account.ID, "user", account.UserID, "brokerage", account.Brokerage)
	writeJSON(w, http.StatusCreated, account)
}

// ListAccounts handles GET /api/v1/accounts
// Optionally filtered by ?user_id=<id>.
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var (
		accounts []model.Account
		err      error
	)
	if user := r.URL.Query().Get("user_id"); user != "" {
		accounts, err = s.store.ListAccountsByUser(r.Context(), user)
	} else {
		accounts, err = s.store.ListAccounts(r.Context())
	}
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeStoreError(w, "account not found", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// --- Read models ---

// GetPositions handles GET /api/v1/accounts/{accountID}/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListPositions(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.Position{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetSnapshots handles GET /api/v1/accounts/{accountID}/snapshots?from=YYYY-MM-DD
func (s *Service) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	var from time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = t
	}
	rows, err := s.store.ListSnapshots(r.Context(), chi.URLParam(r, "accountID"), from)
	if err != nil {
		writeError(w, "failed to load snapshots", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.PositionSnapshot{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetRealizedPnL handles GET /api/v1/accounts/{accountID}/pnl
func (s *Service) GetRealizedPnL(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListRealizedPnL(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to load realized pnl", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.RealizedPnLRecord{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetMetrics handles GET /api/v1/accounts/{accountID}/metrics
func (s *Service) GetMetrics(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListMetrics(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to load metrics", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.PortfolioMetricsSnapshot{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetUserMetrics handles GET /api/v1/users/{userID}/metrics
func (s *Service) GetUserMetrics(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListUserMetrics(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load user metrics", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.UserMetricsSnapshot{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- Run triggers ---

// HandleRefreshAccount handles POST /api/v1/accounts/{accountID}/refresh?mode=full|incremental
func (s *Service) HandleRefreshAccount(w http.ResponseWriter, r *http.Request) {
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}
	res := s.RefreshAccount(r.Context(), chi.URLParam(r, "accountID"), mode)
	status := http.StatusOK
	if res.Status != StatusOK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// HandleReplay handles POST /api/v1/accounts/{accountID}/replay?mode=full|incremental
func (s *Service) HandleReplay(w http.ResponseWriter, r *http.Request) {
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}
	res, err := s.ReplayAccount(r.Context(), chi.URLParam(r, "accountID"), mode)
	if err != nil {
		writeStoreError(w, err.Error(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleHydrate handles POST /api/v1/accounts/{accountID}/hydrate
func (s *Service) HandleHydrate(w http.ResponseWriter, r *http.Request) {
	report, err := s.HydrateAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeStoreError(w, err.Error(), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleMetrics handles POST /api/v1/accounts/{accountID}/metrics?mode=full|incremental
func (s *Service) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}
	res, err := s.RecomputeMetrics(r.Context(), chi.URLParam(r, "accountID"), mode)
	if err != nil {
		writeStoreError(w, err.Error(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRefreshUser handles POST /api/v1/users/{userID}/refresh?mode=full|incremental
func (s *Service) HandleRefreshUser(w http.ResponseWriter, r *http.Request) {
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}
	res, err := s.RefreshUser(r.Context(), chi.URLParam(r, "userID"), mode)
	if err != nil {
		writeStoreError(w, err.Error(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRefresh handles POST /api/v1/refresh?mode=full|incremental
// An optional body {"account_ids": [...]} limits the batch.
func (s *Service) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}
	var req RefreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	summary, err := s.Refresh(r.Context(), req.AccountIDs, mode)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleRefreshPrices handles POST /api/v1/prices/refresh
func (s *Service) HandleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	report, err := s.RefreshPrices(r.Context())
	switch {
	case errors.Is(err, ErrNoRefresher):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func modeParam(w http.ResponseWriter, r *http.Request) (Mode, bool) {
	mode, err := ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return mode, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps unknown accounts to 404, ledger errors that no
// retry can fix to 422, and anything else to 500.
func writeStoreError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrUnknownAction),
		errors.Is(err, symbol.ErrKindMismatch),
		errors.Is(err, replay.ErrMissingPrice),
		errors.Is(err, replay.ErrInvalidCashAction):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, message, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
