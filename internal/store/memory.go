package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clanvault/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). All operations
// run under a single mutex, which also serializes concurrent finalizes the
// way the PostgreSQL row lock does.
type MemoryStore struct {
	mu             sync.Mutex
	sales          map[string]*model.Sale
	rules          map[string]*model.DistributionRule // keyed by sale ID
	participants   map[string][]model.Participant     // keyed by sale ID
	payouts        map[string][]model.Payout          // keyed by sale ID
	bonusLogs      map[string][]model.BonusLog        // keyed by sale ID
	idempotency    map[string]string                  // key -> sale ID
	fundTxns       []model.FundTransaction
	fundBalance    int64
	members        map[string]*model.Member
	assets         map[string]*model.Asset
	participations []model.Participation
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sales:        make(map[string]*model.Sale),
		rules:        make(map[string]*model.DistributionRule),
		participants: make(map[string][]model.Participant),
		payouts:      make(map[string][]model.Payout),
		bonusLogs:    make(map[string][]model.BonusLog),
		idempotency:  make(map[string]string),
		members:      make(map[string]*model.Member),
		assets:       make(map[string]*model.Asset),
	}
}

// --- Seed helpers for tests and development ---

// AddMember registers a roster member.
func (s *MemoryStore) AddMember(m model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member := m
	s.members[m.ID] = &member
}

// AddAsset registers an inventory asset.
func (s *MemoryStore) AddAsset(a model.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset := a
	s.assets[a.ID] = &asset
}

// AddParticipation records an attendance event.
func (s *MemoryStore) AddParticipation(p model.Participation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participations = append(s.participations, p)
}

// --- Sale lifecycle ---

func (s *MemoryStore) CreateSale(_ context.Context, sale *model.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.ID]; exists {
		return fmt.Errorf("sale %s already exists", sale.ID)
	}
	asset, ok := s.assets[sale.AssetID]
	if !ok {
		return fmt.Errorf("asset %s: %w", sale.AssetID, ErrNotFound)
	}
	if asset.Status != model.AssetInStock {
		return fmt.Errorf("asset %s: %w", sale.AssetID, ErrInvalidState)
	}

	copy := *sale
	s.sales[sale.ID] = &copy
	asset.Status = model.AssetReserved
	return nil
}

func (s *MemoryStore) GetSale(_ context.Context, id string) (*model.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, ErrNotFound)
	}
	copy := *sale
	return &copy, nil
}

func (s *MemoryStore) UpdateSale(_ context.Context, sale *model.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sales[sale.ID]
	if !ok {
		return fmt.Errorf("sale %s: %w", sale.ID, ErrNotFound)
	}
	if current.State != model.SaleDraft {
		return fmt.Errorf("sale %s: %w", sale.ID, ErrInvalidState)
	}

	if sale.AssetID != current.AssetID {
		next, ok := s.assets[sale.AssetID]
		if !ok {
			return fmt.Errorf("asset %s: %w", sale.AssetID, ErrNotFound)
		}
		if next.Status != model.AssetInStock {
			return fmt.Errorf("asset %s: %w", sale.AssetID, ErrInvalidState)
		}
		if prev, ok := s.assets[current.AssetID]; ok {
			prev.Status = model.AssetInStock
		}
		next.Status = model.AssetReserved
	}

	copy := *sale
	s.sales[sale.ID] = &copy
	return nil
}

func (s *MemoryStore) ListSales(_ context.Context, state model.SaleState) ([]model.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sales := make([]model.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if state != "" && sale.State != state {
			continue
		}
		sales = append(sales, *sale)
	}
	sort.Slice(sales, func(i, j int) bool {
		return sales[i].SoldAt.After(sales[j].SoldAt)
	})
	return sales, nil
}

// --- Settlement ---

func (s *MemoryStore) ApplySettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[st.Sale.ID]
	if !ok {
		return fmt.Errorf("sale %s: %w", st.Sale.ID, ErrNotFound)
	}
	if sale.State != model.SaleDraft {
		return fmt.Errorf("sale %s: %w", sale.ID, ErrInvalidState)
	}
	if st.IdempotencyKey != "" {
		if _, dup := s.idempotency[st.IdempotencyKey]; dup {
			return fmt.Errorf("key %s: %w", st.IdempotencyKey, ErrDuplicateIdempotencyKey)
		}
	}
	asset, ok := s.assets[sale.AssetID]
	if !ok {
		return fmt.Errorf("asset %s: %w", sale.AssetID, ErrNotFound)
	}

	saleID := st.Sale.ID

	// Replace prior artifacts: a re-finalize never appends duplicates.
	s.rules[saleID] = cloneRule(st.Rule)
	s.participants[saleID] = append([]model.Participant(nil), st.Participants...)
	s.payouts[saleID] = append([]model.Payout(nil), st.Payouts...)
	s.bonusLogs[saleID] = append([]model.BonusLog(nil), st.BonusLogs...)

	finalized := *st.Sale
	finalized.State = model.SaleFinalized
	s.sales[saleID] = &finalized
	asset.Status = model.AssetSold

	if st.FundTxn != nil {
		s.fundBalance += st.FundTxn.Amount
		st.FundTxn.BalanceAfter = s.fundBalance
		s.fundTxns = append(s.fundTxns, *st.FundTxn)
	}

	if st.IdempotencyKey != "" {
		s.idempotency[st.IdempotencyKey] = saleID
	}
	return nil
}

func (s *MemoryStore) CancelSale(_ context.Context, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return fmt.Errorf("sale %s: %w", saleID, ErrNotFound)
	}
	if sale.State != model.SaleDraft {
		return fmt.Errorf("sale %s: %w", saleID, ErrInvalidState)
	}

	sale.State = model.SaleCanceled
	if asset, ok := s.assets[sale.AssetID]; ok {
		asset.Status = model.AssetInStock
	}
	delete(s.rules, saleID)
	delete(s.participants, saleID)
	delete(s.payouts, saleID)
	delete(s.bonusLogs, saleID)
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, saleID string) (*model.DistributionRule, []model.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[saleID]
	if !ok {
		return nil, nil, nil
	}
	payouts := append([]model.Payout(nil), s.payouts[saleID]...)
	return cloneRule(rule), payouts, nil
}

func (s *MemoryStore) ListBonusLogs(_ context.Context, saleID string) ([]model.BonusLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.BonusLog(nil), s.bonusLogs[saleID]...), nil
}

func (s *MemoryStore) IdempotencyKeyExists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.idempotency[key]
	return ok, nil
}

// --- Clan fund ledger ---

func (s *MemoryStore) PostFundTransaction(_ context.Context, txn *model.FundTransaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *txn
	s.fundBalance += row.Amount
	row.BalanceAfter = s.fundBalance
	s.fundTxns = append(s.fundTxns, row)
	txn.BalanceAfter = row.BalanceAfter
	return s.fundBalance, nil
}

func (s *MemoryStore) FundBalance(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fundBalance, nil
}

func (s *MemoryStore) ListFundTransactions(_ context.Context) ([]model.FundTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FundTransaction(nil), s.fundTxns...), nil
}

func (s *MemoryStore) FundTransactionForSale(_ context.Context, saleID string) (*model.FundTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.fundTxns {
		if s.fundTxns[i].SaleID == saleID {
			txn := s.fundTxns[i]
			return &txn, nil
		}
	}
	return nil, nil
}

// --- Collaborator reads ---

func (s *MemoryStore) GetMember(_ context.Context, id string) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) SetAssetStatus(_ context.Context, id string, status model.AssetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	a.Status = status
	return nil
}

func (s *MemoryStore) FindParticipations(_ context.Context, memberID string, from, to time.Time) ([]model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Participation
	for _, p := range s.participations {
		if p.MemberID != memberID {
			continue
		}
		if p.OccurredAt.Before(from) || p.OccurredAt.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func cloneRule(rule *model.DistributionRule) *model.DistributionRule {
	copy := *rule
	copy.StepTiers = append([]model.StepTier(nil), rule.StepTiers...)
	return &copy
}
