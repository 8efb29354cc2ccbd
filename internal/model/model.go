// Package model defines the core domain types shared across the settlement
// engine. Currency amounts are integer units (adena); fractional values such
// as weights and multipliers use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleState is the lifecycle state of a sale.
// DRAFT sales are mutable; FINALIZED and CANCELED are terminal.
type SaleState string

const (
	SaleDraft     SaleState = "DRAFT"
	SaleFinalized SaleState = "FINALIZED"
	SaleCanceled  SaleState = "CANCELED"
)

// SplitMode selects how the net amount is divided among participants.
type SplitMode string

const (
	SplitEqual    SplitMode = "EQUAL"
	SplitWeighted SplitMode = "WEIGHTED"
)

// RoundingMode selects how fractional shares are rounded to integer units.
type RoundingMode string

const (
	RoundFloor   RoundingMode = "FLOOR"
	RoundCeil    RoundingMode = "CEIL"
	RoundNearest RoundingMode = "NEAREST" // round half up
)

// RemainderPolicy selects who absorbs the signed rounding remainder.
type RemainderPolicy string

const (
	RemainderToFund        RemainderPolicy = "TO_FUND"
	RemainderHighestWeight RemainderPolicy = "HIGHEST_WEIGHT"
	RemainderOldestMember  RemainderPolicy = "OLDEST_MEMBER"
	RemainderManualMember  RemainderPolicy = "MANUAL_MEMBER"
)

// BonusCurve selects the participation-bonus curve shape.
type BonusCurve string

const (
	CurveStep     BonusCurve = "STEP"
	CurveLinear   BonusCurve = "LINEAR"
	CurveLogistic BonusCurve = "LOGISTIC"
)

// DecayPolicy selects how participation events are weighted over time.
type DecayPolicy string

const (
	DecayNone        DecayPolicy = "NONE"
	DecayExponential DecayPolicy = "EXPONENTIAL"
)

// AssetStatus is the inventory status of a clan-owned asset.
type AssetStatus string

const (
	AssetInStock  AssetStatus = "IN_STOCK"
	AssetReserved AssetStatus = "RESERVED"
	AssetSold     AssetStatus = "SOLD"
)

// PayoutStatus tracks whether a payout has been handed to the member.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutPaid    PayoutStatus = "PAID"
)

// FundTxnType classifies a fund ledger transaction.
type FundTxnType string

const (
	FundIncome  FundTxnType = "INCOME"
	FundExpense FundTxnType = "EXPENSE"
	FundAdjust  FundTxnType = "ADJUST"
)

// Member is a clan roster entry. The roster is owned by an external system;
// only the fields the settlement core reads are modeled here.
// JoinedAt is nil for members whose join date is unknown.
type Member struct {
	ID       string     `json:"id" db:"id"`
	Name     string     `json:"name" db:"name"`
	JoinedAt *time.Time `json:"joined_at,omitempty" db:"joined_at"`
}

// Asset is a clan-owned item. Lifecycle beyond reserve/release/sold is
// owned by the inventory system.
type Asset struct {
	ID     string      `json:"id" db:"id"`
	Name   string      `json:"name" db:"name"`
	Status AssetStatus `json:"status" db:"status"`
}

// Participation is one attendance event for a member, consumed as the raw
// signal behind the participation bonus.
type Participation struct {
	MemberID   string    `json:"member_id" db:"member_id"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// Sale is one transaction of a shared asset.
// NetAmount == GrossAmount - FeeAmount - TaxAmount always; it is recomputed
// on every draft mutation and frozen once the sale leaves DRAFT.
type Sale struct {
	ID          string    `json:"id" db:"id"`
	AssetID     string    `json:"asset_id" db:"asset_id"`
	SoldAt      time.Time `json:"sold_at" db:"sold_at"`
	Buyer       string    `json:"buyer,omitempty" db:"buyer"`
	GrossAmount int64     `json:"gross_amount" db:"gross_amount"`
	FeeAmount   int64     `json:"fee_amount" db:"fee_amount"`
	TaxAmount   int64     `json:"tax_amount" db:"tax_amount"`
	NetAmount   int64     `json:"net_amount" db:"net_amount"`
	State       SaleState `json:"state" db:"state"`
	Memo        string    `json:"memo,omitempty" db:"memo"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RecalculateNet refreshes the derived net amount.
func (s *Sale) RecalculateNet() {
	s.NetAmount = s.GrossAmount - s.FeeAmount - s.TaxAmount
}

// StepTier is one (minimum score, multiplier) rung of a STEP bonus curve.
type StepTier struct {
	MinScore   int             `json:"min_score" db:"min_score"`
	Multiplier decimal.Decimal `json:"multiplier" db:"multiplier"`
}

// DistributionRule is the policy snapshot attached to exactly one finalized
// sale. Created once at finalize time and never edited; a re-finalize writes
// a fresh rule and discards the previous one.
type DistributionRule struct {
	ID                      string          `json:"id" db:"id"`
	SaleID                  string          `json:"sale_id" db:"sale_id"`
	Mode                    SplitMode       `json:"mode" db:"mode"`
	Rounding                RoundingMode    `json:"rounding" db:"rounding"`
	RemainderPolicy         RemainderPolicy `json:"remainder_policy" db:"remainder_policy"`
	ManualRemainderMemberID string          `json:"manual_remainder_member_id,omitempty" db:"manual_remainder_member_id"`

	BonusEnabled    bool            `json:"bonus_enabled" db:"bonus_enabled"`
	BonusWindowDays int             `json:"bonus_window_days" db:"bonus_window_days"`
	BonusCurve      BonusCurve      `json:"bonus_curve" db:"bonus_curve"`
	BaseMultiplier  decimal.Decimal `json:"base_multiplier" db:"base_multiplier"`
	CapMultiplier   decimal.Decimal `json:"cap_multiplier" db:"cap_multiplier"`
	FloorMultiplier decimal.Decimal `json:"floor_multiplier" db:"floor_multiplier"`

	DecayPolicy       DecayPolicy `json:"decay_policy" db:"decay_policy"`
	DecayHalfLifeDays int         `json:"decay_half_life_days" db:"decay_half_life_days"`

	LinearSlope     decimal.Decimal `json:"linear_slope" db:"linear_slope"`
	LinearIntercept decimal.Decimal `json:"linear_intercept" db:"linear_intercept"`
	LogisticK       decimal.Decimal `json:"logistic_k" db:"logistic_k"`
	LogisticX0      decimal.Decimal `json:"logistic_x0" db:"logistic_x0"`

	StepTiers []StepTier `json:"step_tiers,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Participant is one persisted row per contributing member per rule.
type Participant struct {
	RuleID          string          `json:"rule_id" db:"rule_id"`
	MemberID        string          `json:"member_id" db:"member_id"`
	BaseWeight      decimal.Decimal `json:"base_weight" db:"base_weight"`
	BonusMultiplier decimal.Decimal `json:"bonus_multiplier" db:"bonus_multiplier"`
	FinalWeight     decimal.Decimal `json:"final_weight" db:"final_weight"`
}

// Payout is the durable, member-facing record of one integer amount owed
// for one sale. A re-finalize replaces prior payouts rather than appending.
type Payout struct {
	ID        string       `json:"id" db:"id"`
	SaleID    string       `json:"sale_id" db:"sale_id"`
	MemberID  string       `json:"member_id" db:"member_id"`
	Amount    int64        `json:"amount" db:"amount"`
	Status    PayoutStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// BonusLog is the audit trail of the inputs that produced one member's
// bonus multiplier.
type BonusLog struct {
	ID          string          `json:"id" db:"id"`
	SaleID      string          `json:"sale_id" db:"sale_id"`
	MemberID    string          `json:"member_id" db:"member_id"`
	WindowDays  int             `json:"window_days" db:"window_days"`
	RawCount    float64         `json:"raw_count" db:"raw_count"`
	Score       float64         `json:"score" db:"score"`
	Multiplier  decimal.Decimal `json:"multiplier" db:"multiplier"`
	CurveParams string          `json:"curve_params" db:"curve_params"`
}

// FundTransaction is an immutable row in the clan fund ledger.
// Amount is the signed delta applied to the balance (INCOME positive,
// EXPENSE negative, ADJUST signed as given); the fund balance is always the
// running sum of all transaction amounts. Rows are never edited or deleted;
// corrections are posted as new ADJUST rows.
type FundTransaction struct {
	ID           string      `json:"id" db:"id"`
	Type         FundTxnType `json:"type" db:"type"`
	Amount       int64       `json:"amount" db:"amount"`
	Title        string      `json:"title" db:"title"`
	SaleID       string      `json:"sale_id,omitempty" db:"sale_id"`
	BalanceAfter int64       `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// Settlement is the full multi-entity write produced by one finalize.
// Everything in it commits or rolls back as a single unit of work.
type Settlement struct {
	Sale           *Sale
	Rule           *DistributionRule
	Participants   []Participant
	Payouts        []Payout
	BonusLogs      []BonusLog
	FundTxn        *FundTransaction // nil unless a TO_FUND remainder exists
	IdempotencyKey string           // empty if the caller supplied none
}
