// Package engine computes the exact distribution of a sale's net amount
// among its participants: bonus multipliers, fractional shares, rounding,
// and the signed remainder.
//
// The computation performs no persistence and is deterministic for a fixed
// attendance snapshot — calling it twice with identical inputs yields
// identical output, which is what makes the outer settlement idempotent.
// Share math uses shopspring/decimal throughout; the only rounding happens
// once, at the end, under the rule's rounding mode.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clanvault/settlement-engine/internal/curve"
	"github.com/clanvault/settlement-engine/internal/model"
)

var (
	// ErrInvalidDistribution is returned for an empty participant list, a
	// negative base weight, or a zero total weight in WEIGHTED mode.
	ErrInvalidDistribution = errors.New("engine: invalid distribution input")

	// ErrMissingRemainderTarget is returned when the MANUAL_MEMBER remainder
	// policy designates a member absent from the participant set.
	ErrMissingRemainderTarget = errors.New("engine: manual remainder member is not a participant")
)

// AttendanceSource supplies participation events for the bonus score.
// It is an external collaborator; the engine only reads from it.
type AttendanceSource interface {
	FindParticipations(ctx context.Context, memberID string, from, to time.Time) ([]model.Participation, error)
}

// ParticipantInput is one contributing member with a caller-supplied base
// weight (>= 0).
type ParticipantInput struct {
	Member     model.Member
	BaseWeight decimal.Decimal
}

// ParticipantResult is the computed outcome for one participant.
type ParticipantResult struct {
	Member          model.Member
	BaseWeight      decimal.Decimal
	BonusMultiplier decimal.Decimal
	FinalWeight     decimal.Decimal
	Amount          int64
	BonusLog        model.BonusLog
}

// Computation is the full engine output: per-participant results in stable
// input order plus the signed rounding remainder. The remainder's magnitude
// is bounded by the participant count, since each share's rounding error is
// strictly less than one unit.
type Computation struct {
	Participants []ParticipantResult
	Remainder    int64
}

// Engine computes distributions. It is stateless apart from the attendance
// collaborator.
type Engine struct {
	attendance AttendanceSource
}

// New creates an engine backed by the given attendance source.
func New(attendance AttendanceSource) *Engine {
	return &Engine{attendance: attendance}
}

// Compute runs the distribution algorithm for one sale:
//
//  1. Bonus multiplier per participant via the rule's curve.
//  2. Final weight: 1 in EQUAL mode, baseWeight*multiplier in WEIGHTED.
//  3. Exact fractional share of the net amount in decimal arithmetic.
//  4. Rounding to integer units under the rule's rounding mode.
//  5. Remainder = net - Σ rounded (signed).
//
// EQUAL mode still computes and records bonuses for audit; they do not
// affect equal shares.
func (e *Engine) Compute(ctx context.Context, sale *model.Sale, rule *model.DistributionRule, inputs []ParticipantInput) (*Computation, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: participants are required", ErrInvalidDistribution)
	}
	if sale.NetAmount < 0 {
		return nil, fmt.Errorf("%w: net amount must be non-negative", ErrInvalidDistribution)
	}

	results := make([]ParticipantResult, 0, len(inputs))
	for _, in := range inputs {
		if in.BaseWeight.IsNegative() {
			return nil, fmt.Errorf("%w: negative base weight for member %s", ErrInvalidDistribution, in.Member.ID)
		}

		bonus, err := e.bonusFor(ctx, in.Member, rule, sale.SoldAt)
		if err != nil {
			return nil, err
		}

		finalWeight := decimal.NewFromInt(1)
		if rule.Mode == model.SplitWeighted {
			finalWeight = in.BaseWeight.Mul(bonus.Multiplier)
		}

		results = append(results, ParticipantResult{
			Member:          in.Member,
			BaseWeight:      in.BaseWeight,
			BonusMultiplier: bonus.Multiplier,
			FinalWeight:     finalWeight,
			BonusLog: model.BonusLog{
				SaleID:      sale.ID,
				MemberID:    in.Member.ID,
				WindowDays:  rule.BonusWindowDays,
				RawCount:    bonus.RawCount,
				Score:       bonus.Score,
				Multiplier:  bonus.Multiplier,
				CurveParams: bonus.CurveParams,
			},
		})
	}

	shares, err := shares(results, rule.Mode, sale.NetAmount)
	if err != nil {
		return nil, err
	}

	var distributed int64
	for i := range results {
		amount, err := round(shares[i], rule.Rounding)
		if err != nil {
			return nil, err
		}
		results[i].Amount = amount
		distributed += amount
	}

	return &Computation{
		Participants: results,
		Remainder:    sale.NetAmount - distributed,
	}, nil
}

func (e *Engine) bonusFor(ctx context.Context, member model.Member, rule *model.DistributionRule, soldAt time.Time) (curve.Result, error) {
	if !rule.BonusEnabled {
		return curve.Multiplier(rule, 0, 0), nil
	}

	from := soldAt.AddDate(0, 0, -rule.BonusWindowDays)
	events, err := e.attendance.FindParticipations(ctx, member.ID, from, soldAt)
	if err != nil {
		return curve.Result{}, fmt.Errorf("attendance for member %s: %w", member.ID, err)
	}

	times := make([]time.Time, len(events))
	for i, ev := range events {
		times[i] = ev.OccurredAt
	}

	rawCount := float64(len(events))
	score := curve.Score(times, soldAt, rule.DecayPolicy, rule.DecayHalfLifeDays)

	return curve.Multiplier(rule, rawCount, score), nil
}

// shares returns each participant's exact fractional share of net, in the
// same order as results.
func shares(results []ParticipantResult, mode model.SplitMode, net int64) ([]decimal.Decimal, error) {
	netDec := decimal.NewFromInt(net)
	out := make([]decimal.Decimal, len(results))

	if mode == model.SplitEqual {
		share := netDec.Div(decimal.NewFromInt(int64(len(results))))
		for i := range out {
			out[i] = share
		}
		return out, nil
	}

	total := decimal.Zero
	for _, r := range results {
		total = total.Add(r.FinalWeight)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: total weight must be positive", ErrInvalidDistribution)
	}

	for i, r := range results {
		out[i] = netDec.Mul(r.FinalWeight).Div(total)
	}
	return out, nil
}

func round(share decimal.Decimal, mode model.RoundingMode) (int64, error) {
	switch mode {
	case model.RoundFloor:
		return share.Floor().IntPart(), nil
	case model.RoundCeil:
		return share.Ceil().IntPart(), nil
	case model.RoundNearest:
		// Shares are non-negative, so round-half-away-from-zero is half-up.
		return share.Round(0).IntPart(), nil
	default:
		return 0, fmt.Errorf("%w: unknown rounding mode %q", ErrInvalidDistribution, mode)
	}
}
