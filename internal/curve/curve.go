// Package curve implements the participation-bonus math: converting raw
// attendance events into a decayed score and a score into a clamped bonus
// multiplier via one of three curve shapes.
//
//	STEP:     highest tier whose minimum score <= score
//	LINEAR:   slope*score + intercept
//	LOGISTIC: floor + (cap-floor) / (1 + e^(-k*(score-x0)))
//
// Multipliers and weights use shopspring/decimal — never float64 for money.
// Transcendental math (logistic, exponential decay) runs in float64 and is
// converted back to decimal immediately. Scores themselves are signal
// values, not money, and stay float64.
package curve

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clanvault/settlement-engine/internal/model"
)

// DisabledParams is the sentinel curve-parameter description recorded when
// the rule has the participation bonus disabled.
const DisabledParams = "bonus_disabled"

const ln2 = 0.6931471805599453

// Result carries the computed multiplier together with the audit inputs
// that produced it.
type Result struct {
	Multiplier  decimal.Decimal
	RawCount    float64
	Score       float64
	CurveParams string
}

// Score converts attendance events into a participation score against the
// sale time. With DecayNone the score is the raw event count. With
// DecayExponential each event contributes 2^(-daysAgo/halfLife); events at
// or after the sale time contribute a full 1.0 so that nothing strictly
// after the sale is rewarded more than the sale itself. A non-positive
// halfLifeDays falls back to 7.
func Score(events []time.Time, soldAt time.Time, policy model.DecayPolicy, halfLifeDays int) float64 {
	if policy != model.DecayExponential {
		return float64(len(events))
	}
	if halfLifeDays <= 0 {
		halfLifeDays = 7
	}
	var score float64
	for _, at := range events {
		days := soldAt.Sub(at).Hours() / 24
		if days <= 0 {
			score += 1.0
			continue
		}
		score += math.Exp(-ln2 * days / float64(halfLifeDays))
	}
	return score
}

// Multiplier evaluates the rule's bonus curve at the given score, applies
// the rule-level base multiplier, and clamps the product into
// [FloorMultiplier, CapMultiplier].
//
// When the bonus is disabled the curve is skipped entirely: the result is
// the base multiplier with zero raw/score values and the DisabledParams
// description, so the bonus log still records why no curve ran.
func Multiplier(rule *model.DistributionRule, rawCount, score float64) Result {
	if !rule.BonusEnabled {
		return Result{
			Multiplier:  rule.BaseMultiplier,
			CurveParams: DisabledParams,
		}
	}

	var m decimal.Decimal
	switch rule.BonusCurve {
	case model.CurveStep:
		m = stepCurve(rule.StepTiers, score)
	case model.CurveLinear:
		m = linearCurve(rule, score)
	case model.CurveLogistic:
		m = logisticCurve(rule, score)
	default:
		m = decimal.NewFromInt(1)
	}

	clamped := clamp(m.Mul(rule.BaseMultiplier), rule.FloorMultiplier, rule.CapMultiplier)

	return Result{
		Multiplier:  clamped,
		RawCount:    rawCount,
		Score:       score,
		CurveParams: describe(rule),
	}
}

// stepCurve returns the multiplier of the highest tier whose minimum score
// is <= score. A score below every tier gets the lowest tier's multiplier;
// an empty tier list is a neutral 1.
func stepCurve(tiers []model.StepTier, score float64) decimal.Decimal {
	if len(tiers) == 0 {
		return decimal.NewFromInt(1)
	}
	sorted := make([]model.StepTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinScore < sorted[j].MinScore
	})

	applicable := sorted[0].Multiplier
	for _, tier := range sorted {
		if score >= float64(tier.MinScore) {
			applicable = tier.Multiplier
		}
	}
	return applicable
}

func linearCurve(rule *model.DistributionRule, score float64) decimal.Decimal {
	return rule.LinearSlope.Mul(decimal.NewFromFloat(score)).Add(rule.LinearIntercept)
}

// logisticCurve uses the rule's own floor/cap as the curve's asymptotes.
func logisticCurve(rule *model.DistributionRule, score float64) decimal.Decimal {
	k := rule.LogisticK.InexactFloat64()
	x0 := rule.LogisticX0.InexactFloat64()
	floor := rule.FloorMultiplier.InexactFloat64()
	cap := rule.CapMultiplier.InexactFloat64()

	value := floor + (cap-floor)/(1.0+math.Exp(-k*(score-x0)))
	return decimal.NewFromFloat(value)
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

// describe renders the curve parameters into the human-readable form stored
// on bonus logs.
func describe(rule *model.DistributionRule) string {
	switch rule.BonusCurve {
	case model.CurveStep:
		parts := make([]string, 0, len(rule.StepTiers))
		for _, tier := range rule.StepTiers {
			parts = append(parts, fmt.Sprintf("%d:%s", tier.MinScore, tier.Multiplier))
		}
		return "step=" + strings.Join(parts, ",")
	case model.CurveLinear:
		return fmt.Sprintf("linear=a:%s,b:%s", rule.LinearSlope, rule.LinearIntercept)
	case model.CurveLogistic:
		return fmt.Sprintf("logistic=k:%s,x0:%s", rule.LogisticK, rule.LogisticX0)
	default:
		return string(rule.BonusCurve)
	}
}
