package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clanvault/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Weights and multipliers are stored as NUMERIC for exact decimal precision;
// currency amounts are BIGINT integer units. The finalize write runs in one
// transaction with a row lock on the sale, so concurrent finalizes of the
// same sale serialize and the losers observe ErrInvalidState or the
// idempotency-key conflict.
type PostgresStore struct {
	pool     *pgxpool.Pool
	fundName string
}

// NewPostgresStore creates a new PostgreSQL-backed store for the named fund.
func NewPostgresStore(pool *pgxpool.Pool, fundName string) *PostgresStore {
	return &PostgresStore{pool: pool, fundName: fundName}
}

// --- Sale lifecycle ---

// CreateSale inserts the draft and reserves its asset in one transaction so
// a failure never leaves a reservation without a sale.
func (s *PostgresStore) CreateSale(ctx context.Context, sale *model.Sale) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := reserveAsset(ctx, tx, sale.AssetID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sales (id, asset_id, sold_at, buyer, gross_amount, fee_amount, tax_amount, net_amount, state, memo, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sale.ID, sale.AssetID, sale.SoldAt, sale.Buyer,
		sale.GrossAmount, sale.FeeAmount, sale.TaxAmount, sale.NetAmount,
		sale.State, sale.Memo, sale.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return tx.Commit(ctx)
}

// reserveAsset locks the asset row, requires IN_STOCK, and marks it
// RESERVED inside the caller's transaction.
func reserveAsset(ctx context.Context, tx pgx.Tx, assetID string) error {
	var status model.AssetStatus
	err := tx.QueryRow(ctx, `SELECT status FROM assets WHERE id = $1 FOR UPDATE`, assetID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock asset %s: %w", assetID, err)
	}
	if status != model.AssetInStock {
		return fmt.Errorf("asset %s: %w", assetID, ErrInvalidState)
	}
	if _, err := tx.Exec(ctx, `UPDATE assets SET status = $2 WHERE id = $1`, assetID, model.AssetReserved); err != nil {
		return fmt.Errorf("reserve asset %s: %w", assetID, err)
	}
	return nil
}

func (s *PostgresStore) GetSale(ctx context.Context, id string) (*model.Sale, error) {
	sale, err := scanSale(s.pool.QueryRow(ctx, saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sale %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get sale %s: %w", id, err)
	}
	return sale, nil
}

// UpdateSale rewrites the draft; an asset swap releases the old asset and
// reserves the new one in the same transaction.
func (s *PostgresStore) UpdateSale(ctx context.Context, sale *model.Sale) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var state model.SaleState
	var currentAssetID string
	err = tx.QueryRow(ctx, `SELECT state, asset_id FROM sales WHERE id = $1 FOR UPDATE`, sale.ID).
		Scan(&state, &currentAssetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("sale %s: %w", sale.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock sale %s: %w", sale.ID, err)
	}
	if state != model.SaleDraft {
		return fmt.Errorf("sale %s: %w", sale.ID, ErrInvalidState)
	}

	if sale.AssetID != currentAssetID {
		if err := reserveAsset(ctx, tx, sale.AssetID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE assets SET status = $2 WHERE id = $1`, currentAssetID, model.AssetInStock); err != nil {
			return fmt.Errorf("release asset %s: %w", currentAssetID, err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE sales
		 SET asset_id = $2, sold_at = $3, buyer = $4,
		     gross_amount = $5, fee_amount = $6, tax_amount = $7, net_amount = $8,
		     state = $9, memo = $10
		 WHERE id = $1`,
		sale.ID, sale.AssetID, sale.SoldAt, sale.Buyer,
		sale.GrossAmount, sale.FeeAmount, sale.TaxAmount, sale.NetAmount,
		sale.State, sale.Memo,
	)
	if err != nil {
		return fmt.Errorf("update sale %s: %w", sale.ID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListSales(ctx context.Context, state model.SaleState) ([]model.Sale, error) {
	query := saleColumns + ` FROM sales ORDER BY sold_at DESC`
	args := []any{}
	if state != "" {
		query = saleColumns + ` FROM sales WHERE state = $1 ORDER BY sold_at DESC`
		args = append(args, state)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []model.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

// --- Settlement ---

func (s *PostgresStore) ApplySettlement(ctx context.Context, st *model.Settlement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the sale row; the state re-check under the lock is what
	// serializes concurrent finalizes of the same sale.
	var state model.SaleState
	err = tx.QueryRow(ctx, `SELECT state FROM sales WHERE id = $1 FOR UPDATE`, st.Sale.ID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("sale %s: %w", st.Sale.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock sale %s: %w", st.Sale.ID, err)
	}
	if state != model.SaleDraft {
		return fmt.Errorf("sale %s: %w", st.Sale.ID, ErrInvalidState)
	}

	if st.IdempotencyKey != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO idempotency_keys (key, sale_id, registered_at)
			 VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`,
			st.IdempotencyKey, st.Sale.ID, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("register idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("key %s: %w", st.IdempotencyKey, ErrDuplicateIdempotencyKey)
		}
	}

	// Replace any prior settlement artifacts for this sale.
	for _, del := range []string{
		`DELETE FROM rule_step_tiers WHERE rule_id IN (SELECT id FROM distribution_rules WHERE sale_id = $1)`,
		`DELETE FROM distribution_participants WHERE rule_id IN (SELECT id FROM distribution_rules WHERE sale_id = $1)`,
		`DELETE FROM distribution_rules WHERE sale_id = $1`,
		`DELETE FROM payouts WHERE sale_id = $1`,
		`DELETE FROM bonus_logs WHERE sale_id = $1`,
	} {
		if _, err := tx.Exec(ctx, del, st.Sale.ID); err != nil {
			return fmt.Errorf("clear prior settlement: %w", err)
		}
	}

	rule := st.Rule
	_, err = tx.Exec(ctx,
		`INSERT INTO distribution_rules
		   (id, sale_id, mode, rounding, remainder_policy, manual_remainder_member_id,
		    bonus_enabled, bonus_window_days, bonus_curve,
		    base_multiplier, cap_multiplier, floor_multiplier,
		    decay_policy, decay_half_life_days,
		    linear_slope, linear_intercept, logistic_k, logistic_x0, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
		         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13, $14,
		         $15::NUMERIC, $16::NUMERIC, $17::NUMERIC, $18::NUMERIC, $19)`,
		rule.ID, rule.SaleID, rule.Mode, rule.Rounding, rule.RemainderPolicy, rule.ManualRemainderMemberID,
		rule.BonusEnabled, rule.BonusWindowDays, rule.BonusCurve,
		rule.BaseMultiplier.String(), rule.CapMultiplier.String(), rule.FloorMultiplier.String(),
		rule.DecayPolicy, rule.DecayHalfLifeDays,
		rule.LinearSlope.String(), rule.LinearIntercept.String(),
		rule.LogisticK.String(), rule.LogisticX0.String(), rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}

	for _, tier := range rule.StepTiers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rule_step_tiers (rule_id, min_score, multiplier)
			 VALUES ($1, $2, $3::NUMERIC)`,
			rule.ID, tier.MinScore, tier.Multiplier.String(),
		); err != nil {
			return fmt.Errorf("insert step tier: %w", err)
		}
	}

	for _, p := range st.Participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO distribution_participants (rule_id, member_id, base_weight, bonus_multiplier, final_weight)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)`,
			p.RuleID, p.MemberID,
			p.BaseWeight.String(), p.BonusMultiplier.String(), p.FinalWeight.String(),
		); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	for _, payout := range st.Payouts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO payouts (id, sale_id, member_id, amount, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			payout.ID, payout.SaleID, payout.MemberID, payout.Amount, payout.Status, payout.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}
	}

	for _, log := range st.BonusLogs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bonus_logs (id, sale_id, member_id, window_days, raw_count, score, multiplier, curve_params)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8)`,
			log.ID, log.SaleID, log.MemberID, log.WindowDays,
			log.RawCount, log.Score, log.Multiplier.String(), log.CurveParams,
		); err != nil {
			return fmt.Errorf("insert bonus log: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sales SET state = $2, net_amount = $3 WHERE id = $1`,
		st.Sale.ID, model.SaleFinalized, st.Sale.NetAmount,
	); err != nil {
		return fmt.Errorf("finalize sale: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE assets SET status = $2 WHERE id = $1`,
		st.Sale.AssetID, model.AssetSold,
	); err != nil {
		return fmt.Errorf("mark asset sold: %w", err)
	}

	if st.FundTxn != nil {
		if _, err := postFundTxn(ctx, tx, s.fundName, st.FundTxn); err != nil {
			return fmt.Errorf("post remainder to fund: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) CancelSale(ctx context.Context, saleID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var state model.SaleState
	var assetID string
	err = tx.QueryRow(ctx, `SELECT state, asset_id FROM sales WHERE id = $1 FOR UPDATE`, saleID).
		Scan(&state, &assetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("sale %s: %w", saleID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock sale %s: %w", saleID, err)
	}
	if state != model.SaleDraft {
		return fmt.Errorf("sale %s: %w", saleID, ErrInvalidState)
	}

	if _, err := tx.Exec(ctx, `UPDATE sales SET state = $2 WHERE id = $1`, saleID, model.SaleCanceled); err != nil {
		return fmt.Errorf("cancel sale: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE assets SET status = $2 WHERE id = $1`, assetID, model.AssetInStock); err != nil {
		return fmt.Errorf("release asset: %w", err)
	}
	for _, del := range []string{
		`DELETE FROM rule_step_tiers WHERE rule_id IN (SELECT id FROM distribution_rules WHERE sale_id = $1)`,
		`DELETE FROM distribution_participants WHERE rule_id IN (SELECT id FROM distribution_rules WHERE sale_id = $1)`,
		`DELETE FROM distribution_rules WHERE sale_id = $1`,
		`DELETE FROM payouts WHERE sale_id = $1`,
		`DELETE FROM bonus_logs WHERE sale_id = $1`,
	} {
		if _, err := tx.Exec(ctx, del, saleID); err != nil {
			return fmt.Errorf("clear draft artifacts: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSettlement(ctx context.Context, saleID string) (*model.DistributionRule, []model.Payout, error) {
	var rule model.DistributionRule
	var base, cap, floor, slope, intercept, k, x0 string

	err := s.pool.QueryRow(ctx,
		`SELECT id, sale_id, mode, rounding, remainder_policy, manual_remainder_member_id,
		        bonus_enabled, bonus_window_days, bonus_curve,
		        base_multiplier::TEXT, cap_multiplier::TEXT, floor_multiplier::TEXT,
		        decay_policy, decay_half_life_days,
		        linear_slope::TEXT, linear_intercept::TEXT, logistic_k::TEXT, logistic_x0::TEXT,
		        created_at
		 FROM distribution_rules WHERE sale_id = $1`, saleID).
		Scan(&rule.ID, &rule.SaleID, &rule.Mode, &rule.Rounding, &rule.RemainderPolicy, &rule.ManualRemainderMemberID,
			&rule.BonusEnabled, &rule.BonusWindowDays, &rule.BonusCurve,
			&base, &cap, &floor,
			&rule.DecayPolicy, &rule.DecayHalfLifeDays,
			&slope, &intercept, &k, &x0,
			&rule.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get rule for sale %s: %w", saleID, err)
	}

	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"base_multiplier", base, &rule.BaseMultiplier},
		{"cap_multiplier", cap, &rule.CapMultiplier},
		{"floor_multiplier", floor, &rule.FloorMultiplier},
		{"linear_slope", slope, &rule.LinearSlope},
		{"linear_intercept", intercept, &rule.LinearIntercept},
		{"logistic_k", k, &rule.LogisticK},
		{"logistic_x0", x0, &rule.LogisticX0},
	} {
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: parse %s: %w", rule.ID, field.name, err)
		}
		*field.dst = v
	}

	tierRows, err := s.pool.Query(ctx,
		`SELECT min_score, multiplier::TEXT FROM rule_step_tiers
		 WHERE rule_id = $1 ORDER BY min_score`, rule.ID)
	if err != nil {
		return nil, nil, err
	}
	defer tierRows.Close()
	for tierRows.Next() {
		var tier model.StepTier
		var mult string
		if err := tierRows.Scan(&tier.MinScore, &mult); err != nil {
			return nil, nil, err
		}
		if tier.Multiplier, err = decimal.NewFromString(mult); err != nil {
			return nil, nil, fmt.Errorf("tier multiplier: %w", err)
		}
		rule.StepTiers = append(rule.StepTiers, tier)
	}
	if err := tierRows.Err(); err != nil {
		return nil, nil, err
	}

	payoutRows, err := s.pool.Query(ctx,
		`SELECT id, sale_id, member_id, amount, status, created_at
		 FROM payouts WHERE sale_id = $1 ORDER BY member_id`, saleID)
	if err != nil {
		return nil, nil, err
	}
	defer payoutRows.Close()

	var payouts []model.Payout
	for payoutRows.Next() {
		var p model.Payout
		if err := payoutRows.Scan(&p.ID, &p.SaleID, &p.MemberID, &p.Amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, nil, err
		}
		payouts = append(payouts, p)
	}
	return &rule, payouts, payoutRows.Err()
}

func (s *PostgresStore) ListBonusLogs(ctx context.Context, saleID string) ([]model.BonusLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sale_id, member_id, window_days, raw_count, score, multiplier::TEXT, curve_params
		 FROM bonus_logs WHERE sale_id = $1 ORDER BY member_id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.BonusLog
	for rows.Next() {
		var log model.BonusLog
		var mult string
		if err := rows.Scan(&log.ID, &log.SaleID, &log.MemberID, &log.WindowDays,
			&log.RawCount, &log.Score, &mult, &log.CurveParams); err != nil {
			return nil, err
		}
		if log.Multiplier, err = decimal.NewFromString(mult); err != nil {
			return nil, fmt.Errorf("bonus log multiplier: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM idempotency_keys WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

// --- Clan fund ledger ---

func (s *PostgresStore) PostFundTransaction(ctx context.Context, txn *model.FundTransaction) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin fund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := postFundTxn(ctx, tx, s.fundName, txn)
	if err != nil {
		return 0, err
	}
	return balance, tx.Commit(ctx)
}

// postFundTxn appends a ledger row and moves the balance inside the caller's
// transaction, so settlement remainders and manual postings share one path.
func postFundTxn(ctx context.Context, tx pgx.Tx, fundName string, txn *model.FundTransaction) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`UPDATE funds SET balance = balance + $2 WHERE name = $1 RETURNING balance`,
		fundName, txn.Amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("update fund balance: %w", err)
	}
	txn.BalanceAfter = balance

	_, err = tx.Exec(ctx,
		`INSERT INTO fund_transactions (id, fund_name, type, amount, title, sale_id, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, fundName, txn.Type, txn.Amount, txn.Title, txn.SaleID, txn.BalanceAfter, txn.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert fund transaction: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) FundTransactionForSale(ctx context.Context, saleID string) (*model.FundTransaction, error) {
	var t model.FundTransaction
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, amount, title, sale_id, balance_after, created_at
		 FROM fund_transactions WHERE fund_name = $1 AND sale_id = $2`, s.fundName, saleID).
		Scan(&t.ID, &t.Type, &t.Amount, &t.Title, &t.SaleID, &t.BalanceAfter, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fund transaction for sale %s: %w", saleID, err)
	}
	return &t, nil
}

func (s *PostgresStore) FundBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM funds WHERE name = $1`, s.fundName).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("fund %s: %w", s.fundName, ErrNotFound)
	}
	return balance, err
}

func (s *PostgresStore) ListFundTransactions(ctx context.Context) ([]model.FundTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, amount, title, sale_id, balance_after, created_at
		 FROM fund_transactions WHERE fund_name = $1 ORDER BY created_at`, s.fundName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.FundTransaction
	for rows.Next() {
		var t model.FundTransaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Amount, &t.Title, &t.SaleID, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// --- Collaborator reads ---

func (s *PostgresStore) GetMember(ctx context.Context, id string) (*model.Member, error) {
	var m model.Member
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, joined_at FROM members WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get member %s: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status FROM assets WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	return &a, nil
}

func (s *PostgresStore) SetAssetStatus(ctx context.Context, id string, status model.AssetStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE assets SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set asset status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FindParticipations(ctx context.Context, memberID string, from, to time.Time) ([]model.Participation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT member_id, occurred_at FROM participations
		 WHERE member_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
		 ORDER BY occurred_at`, memberID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Participation
	for rows.Next() {
		var p model.Participation
		if err := rows.Scan(&p.MemberID, &p.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Row scanning helpers ---

const saleColumns = `SELECT id, asset_id, sold_at, buyer, gross_amount, fee_amount, tax_amount, net_amount, state, memo, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*model.Sale, error) {
	var sale model.Sale
	err := row.Scan(&sale.ID, &sale.AssetID, &sale.SoldAt, &sale.Buyer,
		&sale.GrossAmount, &sale.FeeAmount, &sale.TaxAmount, &sale.NetAmount,
		&sale.State, &sale.Memo, &sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}
