package curve

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clanvault/settlement-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func baseRule() *model.DistributionRule {
	return &model.DistributionRule{
		BonusEnabled:    true,
		BonusCurve:      model.CurveLinear,
		BaseMultiplier:  decimal.NewFromInt(1),
		CapMultiplier:   d(1.30),
		FloorMultiplier: d(0.70),
		LinearSlope:     d(0.05),
		LinearIntercept: decimal.NewFromInt(1),
		LogisticK:       d(0.8),
		LogisticX0:      d(3.0),
	}
}

// --- Score tests ---

func TestScore_NoDecayIsRawCount(t *testing.T) {
	soldAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []time.Time{
		soldAt.AddDate(0, 0, -1),
		soldAt.AddDate(0, 0, -3),
		soldAt.AddDate(0, 0, -6),
	}
	score := Score(events, soldAt, model.DecayNone, 7)
	if score != 3 {
		t.Errorf("expected raw count 3, got %f", score)
	}
}

func TestScore_ExponentialHalfLife(t *testing.T) {
	soldAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	// One event exactly one half-life ago contributes 0.5.
	events := []time.Time{soldAt.AddDate(0, 0, -7)}
	score := Score(events, soldAt, model.DecayExponential, 7)
	if math.Abs(score-0.5) > 1e-9 {
		t.Errorf("expected 0.5 after one half-life, got %f", score)
	}
}

func TestScore_EventAfterSaleContributesOne(t *testing.T) {
	soldAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []time.Time{
		soldAt,                    // exactly at sale time
		soldAt.Add(2 * time.Hour), // strictly after
	}
	score := Score(events, soldAt, model.DecayExponential, 7)
	if math.Abs(score-2.0) > 1e-9 {
		t.Errorf("events at/after sale should each contribute 1.0, got %f", score)
	}
}

func TestScore_ZeroHalfLifeFallsBack(t *testing.T) {
	soldAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []time.Time{soldAt.AddDate(0, 0, -7)}
	score := Score(events, soldAt, model.DecayExponential, 0)
	if math.Abs(score-0.5) > 1e-9 {
		t.Errorf("half-life 0 should fall back to 7 days, got %f", score)
	}
}

func TestScore_Empty(t *testing.T) {
	soldAt := time.Now().UTC()
	if s := Score(nil, soldAt, model.DecayExponential, 7); s != 0 {
		t.Errorf("empty events should score 0, got %f", s)
	}
}

// --- Step curve tests ---

func TestMultiplier_StepPicksHighestQualifyingTier(t *testing.T) {
	rule := baseRule()
	rule.BonusCurve = model.CurveStep
	rule.StepTiers = []model.StepTier{
		{MinScore: 0, Multiplier: d(0.9)},
		{MinScore: 3, Multiplier: d(1.0)},
		{MinScore: 5, Multiplier: d(1.2)},
	}

	res := Multiplier(rule, 6, 6)
	if !res.Multiplier.Equal(d(1.2)) {
		t.Errorf("score 6 should hit the 5+ tier, got %s", res.Multiplier)
	}

	res = Multiplier(rule, 4, 4)
	if !res.Multiplier.Equal(d(1.0)) {
		t.Errorf("score 4 should hit the 3+ tier, got %s", res.Multiplier)
	}
}

func TestMultiplier_StepBelowAllTiersUsesLowest(t *testing.T) {
	rule := baseRule()
	rule.BonusCurve = model.CurveStep
	rule.StepTiers = []model.StepTier{
		{MinScore: 5, Multiplier: d(1.2)},
		{MinScore: 2, Multiplier: d(0.9)},
	}

	res := Multiplier(rule, 0, 0)
	if !res.Multiplier.Equal(d(0.9)) {
		t.Errorf("score below all tiers should use lowest tier 0.9, got %s", res.Multiplier)
	}
}

func TestMultiplier_StepEmptyTiersNeutral(t *testing.T) {
	rule := baseRule()
	rule.BonusCurve = model.CurveStep

	res := Multiplier(rule, 10, 10)
	if !res.Multiplier.Equal(decimal.NewFromInt(1)) {
		t.Errorf("empty tier list should yield multiplier 1, got %s", res.Multiplier)
	}
}

// --- Linear curve tests ---

func TestMultiplier_Linear(t *testing.T) {
	rule := baseRule()
	// 0.05*4 + 1 = 1.20, within [0.70, 1.30]
	res := Multiplier(rule, 4, 4)
	if !res.Multiplier.Equal(d(1.20)) {
		t.Errorf("expected 1.20, got %s", res.Multiplier)
	}
	if res.CurveParams != "linear=a:0.05,b:1" {
		t.Errorf("unexpected curve params: %s", res.CurveParams)
	}
}

func TestMultiplier_LinearClampedToCap(t *testing.T) {
	rule := baseRule()
	res := Multiplier(rule, 100, 100)
	if !res.Multiplier.Equal(rule.CapMultiplier) {
		t.Errorf("expected clamp to cap %s, got %s", rule.CapMultiplier, res.Multiplier)
	}
}

func TestMultiplier_LinearClampedToFloor(t *testing.T) {
	rule := baseRule()
	rule.LinearSlope = d(-0.5)
	res := Multiplier(rule, 10, 10)
	if !res.Multiplier.Equal(rule.FloorMultiplier) {
		t.Errorf("expected clamp to floor %s, got %s", rule.FloorMultiplier, res.Multiplier)
	}
}

// --- Logistic curve tests ---

func TestMultiplier_LogisticMidpoint(t *testing.T) {
	rule := baseRule()
	rule.BonusCurve = model.CurveLogistic
	// At score == x0 the logistic sits exactly between floor and cap.
	res := Multiplier(rule, 3, 3)
	mid := (0.70 + 1.30) / 2
	if res.Multiplier.Sub(d(mid)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("expected ≈ %f at midpoint, got %s", mid, res.Multiplier)
	}
}

func TestMultiplier_LogisticApproachesAsymptotes(t *testing.T) {
	rule := baseRule()
	rule.BonusCurve = model.CurveLogistic

	high := Multiplier(rule, 10000, 10000)
	if high.Multiplier.GreaterThan(rule.CapMultiplier) {
		t.Errorf("logistic exceeded cap: %s", high.Multiplier)
	}
	if high.Multiplier.LessThan(d(1.29)) {
		t.Errorf("huge score should approach cap 1.30, got %s", high.Multiplier)
	}

	low := Multiplier(rule, 0, -10000)
	if low.Multiplier.LessThan(rule.FloorMultiplier) {
		t.Errorf("logistic fell below floor: %s", low.Multiplier)
	}
}

// --- Clamping holds for every curve at extreme scores ---

func TestMultiplier_AlwaysWithinBounds(t *testing.T) {
	curves := []model.BonusCurve{model.CurveStep, model.CurveLinear, model.CurveLogistic}
	scores := []float64{0, 0.5, 3, 10, 10000}

	for _, c := range curves {
		for _, score := range scores {
			rule := baseRule()
			rule.BonusCurve = c
			rule.StepTiers = []model.StepTier{
				{MinScore: 0, Multiplier: d(0.1)},
				{MinScore: 5, Multiplier: d(9.9)},
			}
			res := Multiplier(rule, score, score)
			if res.Multiplier.LessThan(rule.FloorMultiplier) || res.Multiplier.GreaterThan(rule.CapMultiplier) {
				t.Errorf("curve %s score %f: multiplier %s outside [%s, %s]",
					c, score, res.Multiplier, rule.FloorMultiplier, rule.CapMultiplier)
			}
		}
	}
}

// --- Base multiplier and disabled bonus ---

func TestMultiplier_BaseMultiplierApplied(t *testing.T) {
	rule := baseRule()
	rule.BaseMultiplier = d(1.1)
	rule.CapMultiplier = decimal.NewFromInt(2)
	// linear(2) = 1.10, *1.1 base = 1.21
	res := Multiplier(rule, 2, 2)
	if res.Multiplier.Sub(d(1.21)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("expected 1.21 with base multiplier, got %s", res.Multiplier)
	}
}

func TestMultiplier_DisabledBonus(t *testing.T) {
	rule := baseRule()
	rule.BonusEnabled = false
	rule.BaseMultiplier = d(1.05)

	res := Multiplier(rule, 42, 42)
	if !res.Multiplier.Equal(d(1.05)) {
		t.Errorf("disabled bonus should return base multiplier, got %s", res.Multiplier)
	}
	if res.RawCount != 0 || res.Score != 0 {
		t.Errorf("disabled bonus should report zero raw/score, got %f/%f", res.RawCount, res.Score)
	}
	if res.CurveParams != DisabledParams {
		t.Errorf("expected %q params, got %q", DisabledParams, res.CurveParams)
	}
}
