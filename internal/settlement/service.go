// Package settlement provides the HTTP handlers and business logic for the
// sale lifecycle: drafting sales, finalizing distributions, and canceling.
//
// All monetary amounts are integer currency units; weights and multipliers
// use shopspring/decimal — never float64 for money.
package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clanvault/settlement-engine/internal/audit"
	"github.com/clanvault/settlement-engine/internal/engine"
	"github.com/clanvault/settlement-engine/internal/metrics"
	"github.com/clanvault/settlement-engine/internal/model"
	"github.com/clanvault/settlement-engine/internal/store"
)

// PolicyDefaults are distribution-rule settings applied when a finalize
// request omits them.
type PolicyDefaults struct {
	BonusWindowDays   int
	DecayHalfLifeDays int
	BaseMultiplier    decimal.Decimal
	CapMultiplier     decimal.Decimal
	FloorMultiplier   decimal.Decimal
	LinearSlope       decimal.Decimal
	LinearIntercept   decimal.Decimal
	LogisticK         decimal.Decimal
	LogisticX0        decimal.Decimal
}

// Service handles sale operations. Finalize concurrency is serialized by the
// store: a row lock plus the idempotency-key constraint in PostgreSQL, a
// single mutex in the memory store.
type Service struct {
	store    store.Store
	engine   *engine.Engine
	recorder audit.Recorder
	defaults PolicyDefaults
}

// NewService creates a new settlement service.
func NewService(st store.Store, eng *engine.Engine, rec audit.Recorder, defaults PolicyDefaults) *Service {
	return &Service{
		store:    st,
		engine:   eng,
		recorder: rec,
		defaults: defaults,
	}
}

// Routes mounts the sale endpoints on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/sales", s.CreateSale)
	r.Get("/sales", s.ListSales)
	r.Get("/sales/{saleID}", s.GetSale)
	r.Put("/sales/{saleID}", s.UpdateSale)
	r.Post("/sales/{saleID}/finalize", s.FinalizeSale)
	r.Post("/sales/{saleID}/cancel", s.CancelSale)
	r.Get("/sales/{saleID}/settlement", s.GetSettlement)
}

// --- Request/Response types ---

// SaleRequest is the JSON body for creating or updating a draft sale.
type SaleRequest struct {
	AssetID     string     `json:"asset_id"`
	SoldAt      *time.Time `json:"sold_at,omitempty"` // nil → now
	Buyer       string     `json:"buyer,omitempty"`
	GrossAmount int64      `json:"gross_amount"`
	FeeAmount   int64      `json:"fee_amount"`
	TaxAmount   int64      `json:"tax_amount"`
	Memo        string     `json:"memo,omitempty"`
}

// ParticipantRequest is one contributing member in a finalize request.
// Weight is ignored in EQUAL mode.
type ParticipantRequest struct {
	MemberID string          `json:"member_id"`
	Weight   decimal.Decimal `json:"weight"`
}

// TierRequest is one STEP curve rung.
type TierRequest struct {
	MinScore   int             `json:"min_score"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// BonusRequest configures the participation bonus. Omitted fields fall back
// to the service-level policy defaults.
type BonusRequest struct {
	Enabled         bool              `json:"enabled"`
	WindowDays      *int              `json:"window_days,omitempty"`
	Curve           model.BonusCurve  `json:"curve,omitempty"` // default STEP
	BaseMultiplier  *decimal.Decimal  `json:"base_multiplier,omitempty"`
	CapMultiplier   *decimal.Decimal  `json:"cap_multiplier,omitempty"`
	FloorMultiplier *decimal.Decimal  `json:"floor_multiplier,omitempty"`
	DecayPolicy     model.DecayPolicy `json:"decay_policy,omitempty"` // default NONE
	HalfLifeDays    *int              `json:"half_life_days,omitempty"`
	LinearSlope     *decimal.Decimal  `json:"linear_slope,omitempty"`
	LinearIntercept *decimal.Decimal  `json:"linear_intercept,omitempty"`
	LogisticK       *decimal.Decimal  `json:"logistic_k,omitempty"`
	LogisticX0      *decimal.Decimal  `json:"logistic_x0,omitempty"`
	StepTiers       []TierRequest     `json:"step_tiers,omitempty"`
}

// FinalizeRequest is the JSON body for POST /sales/{saleID}/finalize.
type FinalizeRequest struct {
	IdempotencyKey          string                `json:"idempotency_key,omitempty"`
	Mode                    model.SplitMode       `json:"mode"`
	Rounding                model.RoundingMode    `json:"rounding"`
	RemainderPolicy         model.RemainderPolicy `json:"remainder_policy"`
	ManualRemainderMemberID string                `json:"manual_remainder_member_id,omitempty"`
	Participants            []ParticipantRequest  `json:"participants"`
	Bonus                   *BonusRequest         `json:"bonus,omitempty"`
}

// SaleResponse is a sale plus its settlement artifacts when finalized.
type SaleResponse struct {
	Sale    *model.Sale             `json:"sale"`
	Rule    *model.DistributionRule `json:"rule,omitempty"`
	Payouts []model.Payout          `json:"payouts,omitempty"`
}

// SettlementResponse is the full outcome of a finalize.
type SettlementResponse struct {
	Sale      *model.Sale             `json:"sale"`
	Rule      *model.DistributionRule `json:"rule"`
	Payouts   []model.Payout          `json:"payouts"`
	BonusLogs []model.BonusLog        `json:"bonus_logs"`
	FundTxn   *model.FundTransaction  `json:"fund_txn,omitempty"`
}

// --- HTTP Handlers ---

// CreateSale handles POST /api/v1/sales
// Creates a DRAFT sale and reserves the asset.
func (s *Service) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AssetID == "" {
		writeError(w, "asset_id is required", http.StatusBadRequest)
		return
	}
	if err := validateAmounts(req.GrossAmount, req.FeeAmount, req.TaxAmount); err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()

	now := time.Now().UTC()
	soldAt := now
	if req.SoldAt != nil {
		soldAt = req.SoldAt.UTC()
	}

	sale := &model.Sale{
		ID:          uuid.New().String(),
		AssetID:     req.AssetID,
		SoldAt:      soldAt,
		Buyer:       req.Buyer,
		GrossAmount: req.GrossAmount,
		FeeAmount:   req.FeeAmount,
		TaxAmount:   req.TaxAmount,
		State:       model.SaleDraft,
		Memo:        req.Memo,
		CreatedAt:   now,
	}
	sale.RecalculateNet()

	// The store inserts the draft and reserves the asset as one unit.
	if err := s.store.CreateSale(ctx, sale); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "unknown asset: "+req.AssetID, http.StatusUnprocessableEntity)
		case errors.Is(err, store.ErrInvalidState):
			writeError(w, "asset is not in stock", http.StatusConflict)
		default:
			writeError(w, "failed to create sale", http.StatusInternalServerError)
		}
		return
	}

	s.recorder.Record(ctx, audit.Entry{
		Action:     "sale.create",
		ObjectType: "sale",
		ObjectID:   sale.ID,
		After:      audit.Snapshot(sale),
	})
	slog.Info("sale created",
		"sale_id", sale.ID,
		"asset_id", sale.AssetID,
		"net", sale.NetAmount,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sale)
}

// GetSale handles GET /api/v1/sales/{saleID}
func (s *Service) GetSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")
	ctx := r.Context()

	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		writeError(w, "sale not found", http.StatusNotFound)
		return
	}

	resp := SaleResponse{Sale: sale}
	if sale.State == model.SaleFinalized {
		rule, payouts, err := s.store.GetSettlement(ctx, saleID)
		if err != nil {
			writeError(w, "failed to load settlement", http.StatusInternalServerError)
			return
		}
		resp.Rule = rule
		resp.Payouts = payouts
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListSales handles GET /api/v1/sales
// Returns all sales newest first, optionally filtered by ?state=.
func (s *Service) ListSales(w http.ResponseWriter, r *http.Request) {
	state := model.SaleState(r.URL.Query().Get("state"))
	if state != "" && state != model.SaleDraft && state != model.SaleFinalized && state != model.SaleCanceled {
		writeError(w, "unknown state filter: "+string(state), http.StatusBadRequest)
		return
	}

	sales, err := s.store.ListSales(r.Context(), state)
	if err != nil {
		writeError(w, "failed to list sales", http.StatusInternalServerError)
		return
	}
	if sales == nil {
		sales = []model.Sale{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sales)
}

// UpdateSale handles PUT /api/v1/sales/{saleID}
// DRAFT only. Swapping the asset releases the old one and reserves the new.
func (s *Service) UpdateSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")

	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AssetID == "" {
		writeError(w, "asset_id is required", http.StatusBadRequest)
		return
	}
	if err := validateAmounts(req.GrossAmount, req.FeeAmount, req.TaxAmount); err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()

	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		writeError(w, "sale not found", http.StatusNotFound)
		return
	}
	if sale.State != model.SaleDraft {
		writeError(w, "only draft sales can be updated", http.StatusConflict)
		return
	}
	before := audit.Snapshot(sale)

	sale.AssetID = req.AssetID
	if req.SoldAt != nil {
		sale.SoldAt = req.SoldAt.UTC()
	}
	sale.Buyer = req.Buyer
	sale.GrossAmount = req.GrossAmount
	sale.FeeAmount = req.FeeAmount
	sale.TaxAmount = req.TaxAmount
	sale.Memo = req.Memo
	sale.RecalculateNet()

	// An asset swap releases the old asset and reserves the new one in the
	// same store unit as the sale rewrite.
	if err := s.store.UpdateSale(ctx, sale); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "unknown asset: "+req.AssetID, http.StatusUnprocessableEntity)
		case errors.Is(err, store.ErrInvalidState):
			writeError(w, "asset is not in stock", http.StatusConflict)
		default:
			writeError(w, "failed to update sale", http.StatusInternalServerError)
		}
		return
	}

	s.recorder.Record(ctx, audit.Entry{
		Action:     "sale.update",
		ObjectType: "sale",
		ObjectID:   sale.ID,
		Before:     before,
		After:      audit.Snapshot(sale),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sale)
}

// FinalizeSale handles POST /api/v1/sales/{saleID}/finalize
// Runs the distribution computation and commits the settlement as one
// atomic unit. A repeated idempotency key returns the persisted settlement
// without recomputation.
func (s *Service) FinalizeSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")

	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if req.IdempotencyKey != "" {
		exists, err := s.store.IdempotencyKeyExists(ctx, req.IdempotencyKey)
		if err != nil {
			writeError(w, "failed to check idempotency key", http.StatusInternalServerError)
			return
		}
		if exists {
			s.respondPersisted(w, r, saleID, req.IdempotencyKey)
			return
		}
	}

	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		writeError(w, "sale not found", http.StatusNotFound)
		return
	}
	if sale.State != model.SaleDraft {
		writeError(w, "sale is not in draft state", http.StatusConflict)
		return
	}

	rule, err := s.buildRule(saleID, &req)
	if err != nil {
		metrics.SettlementRejections.WithLabelValues("invalid_rule").Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	inputs := make([]engine.ParticipantInput, 0, len(req.Participants))
	for _, p := range req.Participants {
		member, err := s.store.GetMember(ctx, p.MemberID)
		if errors.Is(err, store.ErrNotFound) {
			metrics.SettlementRejections.WithLabelValues("unknown_member").Inc()
			writeError(w, "unknown member: "+p.MemberID, http.StatusUnprocessableEntity)
			return
		}
		if err != nil {
			writeError(w, "failed to load member", http.StatusInternalServerError)
			return
		}
		inputs = append(inputs, engine.ParticipantInput{Member: *member, BaseWeight: p.Weight})
	}

	start := time.Now()

	comp, err := s.engine.Compute(ctx, sale, rule, inputs)
	if err != nil {
		metrics.SettlementRejections.WithLabelValues("invalid_distribution").Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	participants, fundDelta, err := engine.AllocateRemainder(rule, comp)
	if err != nil {
		metrics.SettlementRejections.WithLabelValues("remainder").Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	st := s.buildSettlement(sale, rule, participants, fundDelta, req.IdempotencyKey)

	if err := s.store.ApplySettlement(ctx, st); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateIdempotencyKey):
			// Lost a race with a concurrent finalize carrying the same key.
			s.respondPersisted(w, r, saleID, req.IdempotencyKey)
		case errors.Is(err, store.ErrInvalidState):
			writeError(w, "sale is not in draft state", http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "sale not found", http.StatusNotFound)
		default:
			slog.Error("settlement commit failed", "sale_id", saleID, "error", err)
			writeError(w, "failed to commit settlement", http.StatusInternalServerError)
		}
		return
	}
	sale.State = model.SaleFinalized

	metrics.SettlementsTotal.WithLabelValues(string(rule.Mode)).Inc()
	metrics.SettlementLatency.WithLabelValues(string(rule.Mode)).Observe(time.Since(start).Seconds())
	metrics.PayoutsTotal.WithLabelValues(string(rule.RemainderPolicy)).Add(float64(len(st.Payouts)))
	if st.FundTxn != nil {
		metrics.FundBalance.Set(float64(st.FundTxn.BalanceAfter))
	}

	s.recorder.Record(ctx, audit.Entry{
		Action:     "sale.finalize",
		ObjectType: "sale",
		ObjectID:   sale.ID,
		After:      audit.Snapshot(st),
	})
	slog.Info("sale finalized",
		"sale_id", sale.ID,
		"mode", rule.Mode,
		"rounding", rule.Rounding,
		"remainder_policy", rule.RemainderPolicy,
		"participants", len(st.Payouts),
		"net", sale.NetAmount,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SettlementResponse{
		Sale:      sale,
		Rule:      st.Rule,
		Payouts:   st.Payouts,
		BonusLogs: st.BonusLogs,
		FundTxn:   st.FundTxn,
	})
}

// CancelSale handles POST /api/v1/sales/{saleID}/cancel
// DRAFT only; releases the asset and discards draft artifacts.
func (s *Service) CancelSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")
	ctx := r.Context()

	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		writeError(w, "sale not found", http.StatusNotFound)
		return
	}
	before := audit.Snapshot(sale)

	if err := s.store.CancelSale(ctx, saleID); err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidState):
			writeError(w, "only draft sales can be canceled", http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "sale not found", http.StatusNotFound)
		default:
			writeError(w, "failed to cancel sale", http.StatusInternalServerError)
		}
		return
	}
	sale.State = model.SaleCanceled

	s.recorder.Record(ctx, audit.Entry{
		Action:     "sale.cancel",
		ObjectType: "sale",
		ObjectID:   sale.ID,
		Before:     before,
		After:      audit.Snapshot(sale),
	})
	slog.Info("sale canceled", "sale_id", sale.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sale)
}

// GetSettlement handles GET /api/v1/sales/{saleID}/settlement
// Returns the persisted settlement artifacts including bonus logs.
func (s *Service) GetSettlement(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")
	ctx := r.Context()

	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		writeError(w, "sale not found", http.StatusNotFound)
		return
	}

	rule, payouts, err := s.store.GetSettlement(ctx, saleID)
	if err != nil {
		writeError(w, "failed to load settlement", http.StatusInternalServerError)
		return
	}
	if rule == nil {
		writeError(w, "sale has no settlement", http.StatusNotFound)
		return
	}

	logs, err := s.store.ListBonusLogs(ctx, saleID)
	if err != nil {
		writeError(w, "failed to load bonus logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SettlementResponse{
		Sale:      sale,
		Rule:      rule,
		Payouts:   payouts,
		BonusLogs: logs,
	})
}

// --- Finalize helpers ---

// buildRule assembles the policy snapshot for one finalize, filling omitted
// bonus settings from the service defaults.
func (s *Service) buildRule(saleID string, req *FinalizeRequest) (*model.DistributionRule, error) {
	if req.Mode != model.SplitEqual && req.Mode != model.SplitWeighted {
		return nil, fmt.Errorf("mode must be EQUAL or WEIGHTED, got %q", req.Mode)
	}
	if req.Rounding != model.RoundFloor && req.Rounding != model.RoundCeil && req.Rounding != model.RoundNearest {
		return nil, fmt.Errorf("rounding must be FLOOR, CEIL or NEAREST, got %q", req.Rounding)
	}
	switch req.RemainderPolicy {
	case model.RemainderToFund, model.RemainderHighestWeight, model.RemainderOldestMember:
	case model.RemainderManualMember:
		if req.ManualRemainderMemberID == "" {
			return nil, errors.New("manual_remainder_member_id is required for MANUAL_MEMBER")
		}
	default:
		return nil, fmt.Errorf("unknown remainder policy %q", req.RemainderPolicy)
	}

	rule := &model.DistributionRule{
		ID:                      uuid.New().String(),
		SaleID:                  saleID,
		Mode:                    req.Mode,
		Rounding:                req.Rounding,
		RemainderPolicy:         req.RemainderPolicy,
		ManualRemainderMemberID: req.ManualRemainderMemberID,

		BonusCurve:      model.CurveStep,
		BonusWindowDays: s.defaults.BonusWindowDays,
		BaseMultiplier:  s.defaults.BaseMultiplier,
		CapMultiplier:   s.defaults.CapMultiplier,
		FloorMultiplier: s.defaults.FloorMultiplier,

		DecayPolicy:       model.DecayNone,
		DecayHalfLifeDays: s.defaults.DecayHalfLifeDays,

		LinearSlope:     s.defaults.LinearSlope,
		LinearIntercept: s.defaults.LinearIntercept,
		LogisticK:       s.defaults.LogisticK,
		LogisticX0:      s.defaults.LogisticX0,

		CreatedAt: time.Now().UTC(),
	}

	b := req.Bonus
	if b == nil {
		return rule, nil
	}
	rule.BonusEnabled = b.Enabled

	if b.Curve != "" {
		if b.Curve != model.CurveStep && b.Curve != model.CurveLinear && b.Curve != model.CurveLogistic {
			return nil, fmt.Errorf("unknown bonus curve %q", b.Curve)
		}
		rule.BonusCurve = b.Curve
	}
	if b.DecayPolicy != "" {
		if b.DecayPolicy != model.DecayNone && b.DecayPolicy != model.DecayExponential {
			return nil, fmt.Errorf("unknown decay policy %q", b.DecayPolicy)
		}
		rule.DecayPolicy = b.DecayPolicy
	}
	if b.WindowDays != nil {
		if *b.WindowDays < 0 {
			return nil, errors.New("bonus window_days must be >= 0")
		}
		rule.BonusWindowDays = *b.WindowDays
	}
	if b.HalfLifeDays != nil {
		if *b.HalfLifeDays < 0 {
			return nil, errors.New("decay half_life_days must be >= 0")
		}
		rule.DecayHalfLifeDays = *b.HalfLifeDays
	}
	if b.BaseMultiplier != nil {
		rule.BaseMultiplier = *b.BaseMultiplier
	}
	if b.CapMultiplier != nil {
		rule.CapMultiplier = *b.CapMultiplier
	}
	if b.FloorMultiplier != nil {
		rule.FloorMultiplier = *b.FloorMultiplier
	}
	if rule.CapMultiplier.LessThan(rule.FloorMultiplier) {
		return nil, errors.New("cap_multiplier below floor_multiplier")
	}
	if b.LinearSlope != nil {
		rule.LinearSlope = *b.LinearSlope
	}
	if b.LinearIntercept != nil {
		rule.LinearIntercept = *b.LinearIntercept
	}
	if b.LogisticK != nil {
		rule.LogisticK = *b.LogisticK
	}
	if b.LogisticX0 != nil {
		rule.LogisticX0 = *b.LogisticX0
	}
	for _, tier := range b.StepTiers {
		rule.StepTiers = append(rule.StepTiers, model.StepTier{
			MinScore:   tier.MinScore,
			Multiplier: tier.Multiplier,
		})
	}

	return rule, nil
}

// buildSettlement turns engine output into the persistable unit of work.
func (s *Service) buildSettlement(sale *model.Sale, rule *model.DistributionRule, participants []engine.ParticipantResult, fundDelta int64, idempotencyKey string) *model.Settlement {
	now := time.Now().UTC()

	st := &model.Settlement{
		Sale:           sale,
		Rule:           rule,
		IdempotencyKey: idempotencyKey,
	}

	for _, p := range participants {
		st.Participants = append(st.Participants, model.Participant{
			RuleID:          rule.ID,
			MemberID:        p.Member.ID,
			BaseWeight:      p.BaseWeight,
			BonusMultiplier: p.BonusMultiplier,
			FinalWeight:     p.FinalWeight,
		})
		st.Payouts = append(st.Payouts, model.Payout{
			ID:        uuid.New().String(),
			SaleID:    sale.ID,
			MemberID:  p.Member.ID,
			Amount:    p.Amount,
			Status:    model.PayoutPending,
			CreatedAt: now,
		})
		log := p.BonusLog
		log.ID = uuid.New().String()
		st.BonusLogs = append(st.BonusLogs, log)
	}

	if fundDelta != 0 {
		txnType := model.FundIncome
		if fundDelta < 0 {
			txnType = model.FundExpense
		}
		st.FundTxn = &model.FundTransaction{
			ID:        uuid.New().String(),
			Type:      txnType,
			Amount:    fundDelta,
			Title:     fmt.Sprintf("sale %s remainder", sale.ID),
			SaleID:    sale.ID,
			CreatedAt: now,
		}
	}

	return st
}

// respondPersisted serves the idempotent short-circuit: the settlement
// already committed under this key is returned unchanged.
func (s *Service) respondPersisted(w http.ResponseWriter, r *http.Request, saleID, key string) {
	ctx := r.Context()

	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		writeError(w, "sale not found", http.StatusNotFound)
		return
	}
	rule, payouts, err := s.store.GetSettlement(ctx, saleID)
	if err != nil {
		writeError(w, "failed to load settlement", http.StatusInternalServerError)
		return
	}
	if rule == nil {
		// Key was used, but not for this sale.
		writeError(w, "idempotency key already used: "+key, http.StatusConflict)
		return
	}
	logs, err := s.store.ListBonusLogs(ctx, saleID)
	if err != nil {
		writeError(w, "failed to load bonus logs", http.StatusInternalServerError)
		return
	}
	fundTxn, err := s.store.FundTransactionForSale(ctx, saleID)
	if err != nil {
		writeError(w, "failed to load fund transaction", http.StatusInternalServerError)
		return
	}

	slog.Info("finalize short-circuited by idempotency key", "sale_id", saleID, "key", key)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SettlementResponse{
		Sale:      sale,
		Rule:      rule,
		Payouts:   payouts,
		BonusLogs: logs,
		FundTxn:   fundTxn,
	})
}

func validateAmounts(gross, fee, tax int64) error {
	if gross < 0 || fee < 0 || tax < 0 {
		return errors.New("amounts must be non-negative")
	}
	if gross-fee-tax < 0 {
		return errors.New("net amount must be non-negative")
	}
	return nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
