package fund_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/clanvault/settlement-engine/internal/audit"
	"github.com/clanvault/settlement-engine/internal/fund"
	"github.com/clanvault/settlement-engine/internal/model"
	"github.com/clanvault/settlement-engine/internal/store"
)

func newTestEnv(t *testing.T) chi.Router {
	t.Helper()
	svc := fund.NewService(store.NewMemoryStore(), audit.NewMemoryRecorder())
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r)
	})
	return r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func post(t *testing.T, router chi.Router, req fund.PostTransactionRequest) *model.FundTransaction {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/fund/transactions", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("post: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var txn model.FundTransaction
	json.Unmarshal(w.Body.Bytes(), &txn)
	return &txn
}

func balance(t *testing.T, router chi.Router) int64 {
	t.Helper()
	w := do(t, router, "GET", "/api/v1/fund", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d", w.Code)
	}
	var resp fund.BalanceResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Balance
}

func TestPostTransaction_SignsByType(t *testing.T) {
	router := newTestEnv(t)

	income := post(t, router, fund.PostTransactionRequest{Type: model.FundIncome, Amount: 500, Title: "boss drop sale"})
	if income.Amount != 500 || income.BalanceAfter != 500 {
		t.Errorf("income = %+v, want amount 500 balance 500", income)
	}

	expense := post(t, router, fund.PostTransactionRequest{Type: model.FundExpense, Amount: 200, Title: "siege supplies"})
	if expense.Amount != -200 || expense.BalanceAfter != 300 {
		t.Errorf("expense = %+v, want amount -200 balance 300", expense)
	}

	// ADJUST takes the signed amount as given.
	adjust := post(t, router, fund.PostTransactionRequest{Type: model.FundAdjust, Amount: -50, Title: "audit correction"})
	if adjust.Amount != -50 || adjust.BalanceAfter != 250 {
		t.Errorf("adjust = %+v, want amount -50 balance 250", adjust)
	}

	if got := balance(t, router); got != 250 {
		t.Errorf("balance = %d, want 250", got)
	}
}

func TestPostTransaction_Validation(t *testing.T) {
	router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/fund/transactions", fund.PostTransactionRequest{Type: model.FundIncome, Amount: -1, Title: "bad"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative income: expected 422, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/fund/transactions", fund.PostTransactionRequest{Type: "TRANSFER", Amount: 10, Title: "bad"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown type: expected 422, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/fund/transactions", fund.PostTransactionRequest{Type: model.FundIncome, Amount: 10})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing title: expected 400, got %d", w.Code)
	}
}

func TestListTransactions_RunningBalance(t *testing.T) {
	router := newTestEnv(t)

	post(t, router, fund.PostTransactionRequest{Type: model.FundIncome, Amount: 100, Title: "a"})
	post(t, router, fund.PostTransactionRequest{Type: model.FundIncome, Amount: 200, Title: "b"})
	post(t, router, fund.PostTransactionRequest{Type: model.FundExpense, Amount: 50, Title: "c"})

	w := do(t, router, "GET", "/api/v1/fund/transactions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var txns []model.FundTransaction
	json.Unmarshal(w.Body.Bytes(), &txns)
	if len(txns) != 3 {
		t.Fatalf("txns = %d, want 3", len(txns))
	}

	// Balance after each row equals the running sum so far.
	var running int64
	for i, txn := range txns {
		running += txn.Amount
		if txn.BalanceAfter != running {
			t.Errorf("txn %d balance_after = %d, want %d", i, txn.BalanceAfter, running)
		}
	}
	if running != 250 {
		t.Errorf("final balance = %d, want 250", running)
	}
}
