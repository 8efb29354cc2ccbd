package settlement_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/clanvault/settlement-engine/internal/audit"
	"github.com/clanvault/settlement-engine/internal/engine"
	"github.com/clanvault/settlement-engine/internal/model"
	"github.com/clanvault/settlement-engine/internal/settlement"
	"github.com/clanvault/settlement-engine/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *audit.MemoryRecorder, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	rec := audit.NewMemoryRecorder()

	svc := settlement.NewService(ms, engine.New(ms), rec, settlement.PolicyDefaults{
		BonusWindowDays:   7,
		DecayHalfLifeDays: 7,
		BaseMultiplier:    d("1"),
		CapMultiplier:     d("1.30"),
		FloorMultiplier:   d("0.70"),
		LinearSlope:       d("0"),
		LinearIntercept:   d("1"),
		LogisticK:         d("0.8"),
		LogisticX0:        d("3.0"),
	})

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r)
	})
	return ms, rec, r
}

func seedRoster(t *testing.T, ms *store.MemoryStore, memberIDs ...string) {
	t.Helper()
	for _, id := range memberIDs {
		ms.AddMember(model.Member{ID: id, Name: "member " + id})
	}
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

// seedDraftSale creates an in-stock asset and a draft sale over it,
// returning the sale ID.
func seedDraftSale(t *testing.T, ms *store.MemoryStore, router chi.Router, assetID string, gross, fee, tax int64) string {
	t.Helper()
	ms.AddAsset(model.Asset{ID: assetID, Name: "asset " + assetID, Status: model.AssetInStock})

	w := do(t, router, "POST", "/api/v1/sales", settlement.SaleRequest{
		AssetID:     assetID,
		GrossAmount: gross,
		FeeAmount:   fee,
		TaxAmount:   tax,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("seed sale: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sale model.Sale
	json.Unmarshal(w.Body.Bytes(), &sale)
	return sale.ID
}

func finalizeReq(policy model.RemainderPolicy, memberWeights ...string) settlement.FinalizeRequest {
	req := settlement.FinalizeRequest{
		Mode:            model.SplitWeighted,
		Rounding:        model.RoundFloor,
		RemainderPolicy: policy,
	}
	for i := 0; i+1 < len(memberWeights); i += 2 {
		req.Participants = append(req.Participants, settlement.ParticipantRequest{
			MemberID: memberWeights[i],
			Weight:   d(memberWeights[i+1]),
		})
	}
	return req
}

// --- Sale lifecycle tests ---

func TestCreateSale_ReservesAssetAndComputesNet(t *testing.T) {
	ms, _, router := newTestEnv(t)
	ms.AddAsset(model.Asset{ID: "sword", Name: "zariche", Status: model.AssetInStock})

	w := do(t, router, "POST", "/api/v1/sales", settlement.SaleRequest{
		AssetID:     "sword",
		GrossAmount: 1200,
		FeeAmount:   150,
		TaxAmount:   50,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var sale model.Sale
	json.Unmarshal(w.Body.Bytes(), &sale)
	if sale.NetAmount != 1000 {
		t.Errorf("net = %d, want 1000", sale.NetAmount)
	}
	if sale.State != model.SaleDraft {
		t.Errorf("state = %s, want DRAFT", sale.State)
	}

	asset, err := ms.GetAsset(context.Background(), "sword")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != model.AssetReserved {
		t.Errorf("asset status = %s, want RESERVED", asset.Status)
	}
}

func TestCreateSale_AssetNotInStock(t *testing.T) {
	ms, _, router := newTestEnv(t)
	ms.AddAsset(model.Asset{ID: "sword", Status: model.AssetReserved})

	w := do(t, router, "POST", "/api/v1/sales", settlement.SaleRequest{AssetID: "sword", GrossAmount: 100})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// The rejected create must not leave a sale behind.
	sales, err := ms.ListSales(context.Background(), model.SaleState(""))
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Errorf("sales = %d, want 0", len(sales))
	}
}

func TestCreateSale_UnknownAsset(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/sales", settlement.SaleRequest{AssetID: "ghost", GrossAmount: 100})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateSale_NegativeNetRejected(t *testing.T) {
	ms, _, router := newTestEnv(t)
	ms.AddAsset(model.Asset{ID: "sword", Status: model.AssetInStock})

	w := do(t, router, "POST", "/api/v1/sales", settlement.SaleRequest{
		AssetID:     "sword",
		GrossAmount: 100,
		FeeAmount:   80,
		TaxAmount:   30,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateSale_SwapsAssetAndRecomputesNet(t *testing.T) {
	ms, _, router := newTestEnv(t)
	saleID := seedDraftSale(t, ms, router, "sword", 1000, 0, 0)
	ms.AddAsset(model.Asset{ID: "shield", Status: model.AssetInStock})

	w := do(t, router, "PUT", "/api/v1/sales/"+saleID, settlement.SaleRequest{
		AssetID:     "shield",
		GrossAmount: 500,
		FeeAmount:   100,
		TaxAmount:   0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sale model.Sale
	json.Unmarshal(w.Body.Bytes(), &sale)
	if sale.NetAmount != 400 {
		t.Errorf("net = %d, want 400", sale.NetAmount)
	}
	if sale.AssetID != "shield" {
		t.Errorf("asset = %s, want shield", sale.AssetID)
	}

	old, _ := ms.GetAsset(context.Background(), "sword")
	if old.Status != model.AssetInStock {
		t.Errorf("old asset status = %s, want IN_STOCK", old.Status)
	}
	swapped, _ := ms.GetAsset(context.Background(), "shield")
	if swapped.Status != model.AssetReserved {
		t.Errorf("new asset status = %s, want RESERVED", swapped.Status)
	}
}

func TestUpdateSale_SwapToReservedAssetConflicts(t *testing.T) {
	ms, _, router := newTestEnv(t)
	saleID := seedDraftSale(t, ms, router, "sword", 1000, 0, 0)
	ms.AddAsset(model.Asset{ID: "shield", Status: model.AssetReserved})

	w := do(t, router, "PUT", "/api/v1/sales/"+saleID, settlement.SaleRequest{
		AssetID:     "shield",
		GrossAmount: 500,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// The failed swap keeps the sale and its reservation untouched.
	sale, err := ms.GetSale(context.Background(), saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.AssetID != "sword" || sale.GrossAmount != 1000 {
		t.Errorf("sale = asset %s gross %d, want sword 1000", sale.AssetID, sale.GrossAmount)
	}
	old, _ := ms.GetAsset(context.Background(), "sword")
	if old.Status != model.AssetReserved {
		t.Errorf("old asset status = %s, want RESERVED", old.Status)
	}
}

func TestCancelSale_ReleasesAsset(t *testing.T) {
	ms, _, router := newTestEnv(t)
	saleID := seedDraftSale(t, ms, router, "sword", 1000, 0, 0)

	w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sale model.Sale
	json.Unmarshal(w.Body.Bytes(), &sale)
	if sale.State != model.SaleCanceled {
		t.Errorf("state = %s, want CANCELED", sale.State)
	}

	asset, _ := ms.GetAsset(context.Background(), "sword")
	if asset.Status != model.AssetInStock {
		t.Errorf("asset status = %s, want IN_STOCK", asset.Status)
	}

	// A canceled sale cannot be finalized.
	seedRoster(t, ms, "a")
	w = do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", finalizeReq(model.RemainderToFund, "a", "1"))
	if w.Code != http.StatusConflict {
		t.Fatalf("finalize after cancel: expected 409, got %d", w.Code)
	}
}

// --- Finalize tests ---

func TestFinalize_EqualFloorToFund(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a", "b", "c")
	saleID := seedDraftSale(t, ms, router, "sword", 1000, 0, 0)

	req := settlement.FinalizeRequest{
		Mode:            model.SplitEqual,
		Rounding:        model.RoundFloor,
		RemainderPolicy: model.RemainderToFund,
		Participants: []settlement.ParticipantRequest{
			{MemberID: "a"}, {MemberID: "b"}, {MemberID: "c"},
		},
	}
	w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp settlement.SettlementResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Sale.State != model.SaleFinalized {
		t.Errorf("state = %s, want FINALIZED", resp.Sale.State)
	}
	if len(resp.Payouts) != 3 {
		t.Fatalf("payouts = %d, want 3", len(resp.Payouts))
	}
	for _, p := range resp.Payouts {
		if p.Amount != 333 {
			t.Errorf("payout for %s = %d, want 333", p.MemberID, p.Amount)
		}
		if p.Status != model.PayoutPending {
			t.Errorf("payout status = %s, want PENDING", p.Status)
		}
	}
	if resp.FundTxn == nil {
		t.Fatal("expected fund transaction for remainder")
	}
	if resp.FundTxn.Amount != 1 || resp.FundTxn.Type != model.FundIncome {
		t.Errorf("fund txn = %s %d, want INCOME 1", resp.FundTxn.Type, resp.FundTxn.Amount)
	}
	if resp.FundTxn.BalanceAfter != 1 {
		t.Errorf("fund txn balance_after = %d, want 1", resp.FundTxn.BalanceAfter)
	}

	balance, _ := ms.FundBalance(context.Background())
	if balance != 1 {
		t.Errorf("fund balance = %d, want 1", balance)
	}
	asset, _ := ms.GetAsset(context.Background(), "sword")
	if asset.Status != model.AssetSold {
		t.Errorf("asset status = %s, want SOLD", asset.Status)
	}
}

func TestFinalize_WeightedNearestHighestWeight(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a", "b")
	saleID := seedDraftSale(t, ms, router, "sword", 100, 0, 0)

	req := settlement.FinalizeRequest{
		Mode:            model.SplitWeighted,
		Rounding:        model.RoundNearest,
		RemainderPolicy: model.RemainderHighestWeight,
		Participants: []settlement.ParticipantRequest{
			{MemberID: "a", Weight: d("3")},
			{MemberID: "b", Weight: d("1")},
		},
	}
	w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp settlement.SettlementResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	amounts := map[string]int64{}
	var total int64
	for _, p := range resp.Payouts {
		amounts[p.MemberID] = p.Amount
		total += p.Amount
	}
	if amounts["a"] != 75 || amounts["b"] != 25 {
		t.Errorf("payouts = %v, want a=75 b=25", amounts)
	}
	if total != 100 {
		t.Errorf("total = %d, want 100", total)
	}
	if resp.FundTxn != nil {
		t.Errorf("unexpected fund txn for zero remainder: %+v", resp.FundTxn)
	}
}

func TestFinalize_IdempotentRepeat(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a", "b", "c")
	saleID := seedDraftSale(t, ms, router, "sword", 1000, 0, 0)

	req := settlement.FinalizeRequest{
		IdempotencyKey:  "finalize-once",
		Mode:            model.SplitEqual,
		Rounding:        model.RoundFloor,
		RemainderPolicy: model.RemainderToFund,
		Participants: []settlement.ParticipantRequest{
			{MemberID: "a"}, {MemberID: "b"}, {MemberID: "c"},
		},
	}

	first := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", req)
	if first.Code != http.StatusOK {
		t.Fatalf("first finalize: expected 200, got %d: %s", first.Code, first.Body.String())
	}
	second := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", req)
	if second.Code != http.StatusOK {
		t.Fatalf("second finalize: expected 200, got %d: %s", second.Code, second.Body.String())
	}

	// The retry must serve the committed settlement verbatim, fund
	// transaction included.
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Errorf("responses differ:\nfirst:  %s\nsecond: %s", first.Body.String(), second.Body.String())
	}

	var b settlement.SettlementResponse
	json.Unmarshal(second.Body.Bytes(), &b)
	if b.FundTxn == nil {
		t.Fatal("repeat response missing fund transaction")
	}
	if b.FundTxn.Amount != 1 || b.FundTxn.BalanceAfter != 1 {
		t.Errorf("repeat fund txn = %+v, want amount 1 balance_after 1", b.FundTxn)
	}

	// The remainder was posted exactly once.
	balance, _ := ms.FundBalance(context.Background())
	if balance != 1 {
		t.Errorf("fund balance = %d, want 1", balance)
	}
	txns, _ := ms.ListFundTransactions(context.Background())
	if len(txns) != 1 {
		t.Errorf("fund txns = %d, want 1", len(txns))
	}
}

func TestFinalize_WithoutKeyRepeatConflicts(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a")
	saleID := seedDraftSale(t, ms, router, "sword", 100, 0, 0)

	req := finalizeReq(model.RemainderToFund, "a", "1")
	if w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", req); w.Code != http.StatusOK {
		t.Fatalf("first finalize: expected 200, got %d", w.Code)
	}
	if w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", req); w.Code != http.StatusConflict {
		t.Fatalf("repeat without key: expected 409, got %d", w.Code)
	}
}

func TestFinalize_ManualMemberMissingLeavesNoArtifacts(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a", "b")
	saleID := seedDraftSale(t, ms, router, "sword", 1000, 0, 0)

	req := finalizeReq(model.RemainderManualMember, "a", "1", "b", "2")
	req.ManualRemainderMemberID = "ghost"

	w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	sale, _ := ms.GetSale(context.Background(), saleID)
	if sale.State != model.SaleDraft {
		t.Errorf("state = %s, want DRAFT", sale.State)
	}
	rule, payouts, _ := ms.GetSettlement(context.Background(), saleID)
	if rule != nil || len(payouts) != 0 {
		t.Errorf("expected no persisted artifacts, got rule=%v payouts=%d", rule, len(payouts))
	}
	balance, _ := ms.FundBalance(context.Background())
	if balance != 0 {
		t.Errorf("fund balance = %d, want 0", balance)
	}
}

func TestFinalize_UnknownMember(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a")
	saleID := seedDraftSale(t, ms, router, "sword", 100, 0, 0)

	w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", finalizeReq(model.RemainderToFund, "a", "1", "ghost", "1"))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFinalize_BonusShiftsWeightedPayouts(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a", "b")

	soldAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ms.AddParticipation(model.Participation{
			MemberID:   "a",
			OccurredAt: soldAt.AddDate(0, 0, -(i + 1)),
		})
	}

	ms.AddAsset(model.Asset{ID: "sword", Status: model.AssetInStock})
	w := do(t, router, "POST", "/api/v1/sales", settlement.SaleRequest{
		AssetID:     "sword",
		SoldAt:      &soldAt,
		GrossAmount: 110,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create sale: %d", w.Code)
	}
	var sale model.Sale
	json.Unmarshal(w.Body.Bytes(), &sale)

	window := 7
	req := settlement.FinalizeRequest{
		Mode:            model.SplitWeighted,
		Rounding:        model.RoundFloor,
		RemainderPolicy: model.RemainderToFund,
		Participants: []settlement.ParticipantRequest{
			{MemberID: "a", Weight: d("1")},
			{MemberID: "b", Weight: d("1")},
		},
		Bonus: &settlement.BonusRequest{
			Enabled:    true,
			WindowDays: &window,
			Curve:      model.CurveStep,
			StepTiers: []settlement.TierRequest{
				{MinScore: 0, Multiplier: d("1")},
				{MinScore: 3, Multiplier: d("1.2")},
			},
		},
	}
	w = do(t, router, "POST", "/api/v1/sales/"+sale.ID+"/finalize", req)
	if w.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp settlement.SettlementResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// Final weights 1.2 : 1 over net 110 split exactly 60 : 50.
	amounts := map[string]int64{}
	for _, p := range resp.Payouts {
		amounts[p.MemberID] = p.Amount
	}
	if amounts["a"] != 60 || amounts["b"] != 50 {
		t.Errorf("payouts = %v, want a=60 b=50", amounts)
	}

	if len(resp.BonusLogs) != 2 {
		t.Fatalf("bonus logs = %d, want 2", len(resp.BonusLogs))
	}
	for _, log := range resp.BonusLogs {
		if log.MemberID == "a" && log.RawCount != 3 {
			t.Errorf("raw count for a = %v, want 3", log.RawCount)
		}
	}
}

func TestGetSettlement_AfterFinalize(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a", "b")
	saleID := seedDraftSale(t, ms, router, "sword", 100, 0, 0)

	if w := do(t, router, "GET", "/api/v1/sales/"+saleID+"/settlement", nil); w.Code != http.StatusNotFound {
		t.Fatalf("before finalize: expected 404, got %d", w.Code)
	}

	if w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", finalizeReq(model.RemainderToFund, "a", "1", "b", "1")); w.Code != http.StatusOK {
		t.Fatalf("finalize: %d", w.Code)
	}

	w := do(t, router, "GET", "/api/v1/sales/"+saleID+"/settlement", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp settlement.SettlementResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Rule == nil || resp.Rule.Mode != model.SplitWeighted {
		t.Errorf("rule missing or wrong mode: %+v", resp.Rule)
	}
	if len(resp.Payouts) != 2 {
		t.Errorf("payouts = %d, want 2", len(resp.Payouts))
	}
	if len(resp.BonusLogs) != 2 {
		t.Errorf("bonus logs = %d, want 2", len(resp.BonusLogs))
	}
}

func TestListSales_StateFilter(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedRoster(t, ms, "a")
	draftID := seedDraftSale(t, ms, router, "sword", 100, 0, 0)
	finalID := seedDraftSale(t, ms, router, "shield", 200, 0, 0)

	if w := do(t, router, "POST", "/api/v1/sales/"+finalID+"/finalize", finalizeReq(model.RemainderToFund, "a", "1")); w.Code != http.StatusOK {
		t.Fatalf("finalize: %d", w.Code)
	}

	w := do(t, router, "GET", "/api/v1/sales?state=DRAFT", nil)
	var sales []model.Sale
	json.Unmarshal(w.Body.Bytes(), &sales)
	if len(sales) != 1 || sales[0].ID != draftID {
		t.Errorf("draft filter returned %+v", sales)
	}

	w = do(t, router, "GET", "/api/v1/sales", nil)
	json.Unmarshal(w.Body.Bytes(), &sales)
	if len(sales) != 2 {
		t.Errorf("unfiltered list = %d sales, want 2", len(sales))
	}
}

func TestFinalize_RecordsAudit(t *testing.T) {
	ms, rec, router := newTestEnv(t)
	seedRoster(t, ms, "a")
	saleID := seedDraftSale(t, ms, router, "sword", 100, 0, 0)

	if w := do(t, router, "POST", "/api/v1/sales/"+saleID+"/finalize", finalizeReq(model.RemainderToFund, "a", "1")); w.Code != http.StatusOK {
		t.Fatalf("finalize: %d", w.Code)
	}

	var actions []string
	for _, e := range rec.Entries() {
		actions = append(actions, e.Action)
	}
	want := []string{"sale.create", "sale.finalize"}
	if fmt.Sprint(actions) != fmt.Sprint(want) {
		t.Errorf("audit actions = %v, want %v", actions, want)
	}
}
