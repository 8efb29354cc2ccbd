// Package fund provides the HTTP handlers for the clan fund ledger: an
// append-only transaction log with a running balance.
package fund

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clanvault/settlement-engine/internal/audit"
	"github.com/clanvault/settlement-engine/internal/metrics"
	"github.com/clanvault/settlement-engine/internal/model"
	"github.com/clanvault/settlement-engine/internal/store"
)

// Service handles fund ledger operations. Transactions are immutable;
// corrections are posted as new ADJUST rows.
type Service struct {
	store    store.Store
	recorder audit.Recorder
}

// NewService creates a new fund service.
func NewService(st store.Store, rec audit.Recorder) *Service {
	return &Service{store: st, recorder: rec}
}

// Routes mounts the fund endpoints on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/fund", s.GetBalance)
	r.Get("/fund/transactions", s.ListTransactions)
	r.Post("/fund/transactions", s.PostTransaction)
}

// PostTransactionRequest is the JSON body for POST /fund/transactions.
// Amount is non-negative for INCOME and EXPENSE (the sign comes from the
// type); ADJUST takes the signed amount as given.
type PostTransactionRequest struct {
	Type   model.FundTxnType `json:"type"`
	Amount int64             `json:"amount"`
	Title  string            `json:"title"`
	SaleID string            `json:"sale_id,omitempty"`
}

// BalanceResponse is the JSON body for GET /fund.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// PostTransaction handles POST /api/v1/fund/transactions
func (s *Service) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var req PostTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}

	var delta int64
	switch req.Type {
	case model.FundIncome:
		if req.Amount < 0 {
			writeError(w, "amount must be non-negative for INCOME", http.StatusUnprocessableEntity)
			return
		}
		delta = req.Amount
	case model.FundExpense:
		if req.Amount < 0 {
			writeError(w, "amount must be non-negative for EXPENSE", http.StatusUnprocessableEntity)
			return
		}
		delta = -req.Amount
	case model.FundAdjust:
		delta = req.Amount
	default:
		writeError(w, "type must be INCOME, EXPENSE or ADJUST", http.StatusUnprocessableEntity)
		return
	}

	txn := &model.FundTransaction{
		ID:        uuid.New().String(),
		Type:      req.Type,
		Amount:    delta,
		Title:     req.Title,
		SaleID:    req.SaleID,
		CreatedAt: time.Now().UTC(),
	}

	ctx := r.Context()
	balance, err := s.store.PostFundTransaction(ctx, txn)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "fund not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to post transaction", http.StatusInternalServerError)
		return
	}
	metrics.FundBalance.Set(float64(balance))

	s.recorder.Record(ctx, audit.Entry{
		Action:     "fund.post",
		ObjectType: "fund_transaction",
		ObjectID:   txn.ID,
		After:      audit.Snapshot(txn),
	})
	slog.Info("fund transaction posted",
		"txn_id", txn.ID,
		"type", txn.Type,
		"amount", txn.Amount,
		"balance", balance,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(txn)
}

// GetBalance handles GET /api/v1/fund
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.store.FundBalance(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "fund not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BalanceResponse{Balance: balance})
}

// ListTransactions handles GET /api/v1/fund/transactions
// Returns the ledger in posting order.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.store.ListFundTransactions(r.Context())
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.FundTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
