package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clanvault/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Settlement artifacts are
// never cached: payouts and the fund ledger are read straight from the
// source of truth.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateSale(ctx context.Context, sale *model.Sale) error {
	if err := s.primary.CreateSale(ctx, sale); err != nil {
		return err
	}
	// The create reserved the asset; drop any cached copy.
	s.rdb.Del(ctx, assetKey(sale.AssetID))
	s.cacheSale(ctx, sale)
	return nil
}

func (s *CachedStore) UpdateSale(ctx context.Context, sale *model.Sale) error {
	// An asset swap moves two assets; invalidate the previous one too.
	if old, err := s.primary.GetSale(ctx, sale.ID); err == nil && old.AssetID != sale.AssetID {
		s.rdb.Del(ctx, assetKey(old.AssetID))
	}
	if err := s.primary.UpdateSale(ctx, sale); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, saleKey(sale.ID), assetKey(sale.AssetID))
	return nil
}

func (s *CachedStore) ApplySettlement(ctx context.Context, st *model.Settlement) error {
	if err := s.primary.ApplySettlement(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, saleKey(st.Sale.ID), assetKey(st.Sale.AssetID), fundBalanceKey)
	return nil
}

func (s *CachedStore) CancelSale(ctx context.Context, saleID string) error {
	// Invalidate the asset too; cancel releases it back to stock.
	sale, err := s.primary.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	if err := s.primary.CancelSale(ctx, saleID); err != nil {
		return err
	}
	s.rdb.Del(ctx, saleKey(saleID), assetKey(sale.AssetID))
	return nil
}

func (s *CachedStore) PostFundTransaction(ctx context.Context, txn *model.FundTransaction) (int64, error) {
	balance, err := s.primary.PostFundTransaction(ctx, txn)
	if err != nil {
		return 0, err
	}
	s.rdb.Set(ctx, fundBalanceKey, strconv.FormatInt(balance, 10), s.ttl)
	return balance, nil
}

func (s *CachedStore) SetAssetStatus(ctx context.Context, id string, status model.AssetStatus) error {
	if err := s.primary.SetAssetStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, assetKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSale(ctx context.Context, id string) (*model.Sale, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, saleKey(id)).Bytes()
	if err == nil {
		var sale model.Sale
		if json.Unmarshal(data, &sale) == nil {
			return &sale, nil
		}
	}

	// Cache miss: read from primary.
	sale, err := s.primary.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheSale(ctx, sale)
	return sale, nil
}

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	data, err := s.rdb.Get(ctx, assetKey(id)).Bytes()
	if err == nil {
		var asset model.Asset
		if json.Unmarshal(data, &asset) == nil {
			return &asset, nil
		}
	}

	asset, err := s.primary.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(asset); err == nil {
		s.rdb.Set(ctx, assetKey(id), data, s.ttl)
	}
	return asset, nil
}

func (s *CachedStore) FundBalance(ctx context.Context) (int64, error) {
	val, err := s.rdb.Get(ctx, fundBalanceKey).Result()
	if err == nil {
		if balance, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return balance, nil
		}
	}

	balance, err := s.primary.FundBalance(ctx)
	if err != nil {
		return 0, err
	}

	s.rdb.Set(ctx, fundBalanceKey, strconv.FormatInt(balance, 10), s.ttl)
	return balance, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSales(ctx context.Context, state model.SaleState) ([]model.Sale, error) {
	return s.primary.ListSales(ctx, state)
}

func (s *CachedStore) GetSettlement(ctx context.Context, saleID string) (*model.DistributionRule, []model.Payout, error) {
	return s.primary.GetSettlement(ctx, saleID)
}

func (s *CachedStore) ListBonusLogs(ctx context.Context, saleID string) ([]model.BonusLog, error) {
	return s.primary.ListBonusLogs(ctx, saleID)
}

func (s *CachedStore) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	return s.primary.IdempotencyKeyExists(ctx, key)
}

func (s *CachedStore) ListFundTransactions(ctx context.Context) ([]model.FundTransaction, error) {
	return s.primary.ListFundTransactions(ctx)
}

func (s *CachedStore) FundTransactionForSale(ctx context.Context, saleID string) (*model.FundTransaction, error) {
	return s.primary.FundTransactionForSale(ctx, saleID)
}

func (s *CachedStore) GetMember(ctx context.Context, id string) (*model.Member, error) {
	return s.primary.GetMember(ctx, id)
}

func (s *CachedStore) FindParticipations(ctx context.Context, memberID string, from, to time.Time) ([]model.Participation, error) {
	return s.primary.FindParticipations(ctx, memberID, from, to)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSale(ctx context.Context, sale *model.Sale) {
	if data, err := json.Marshal(sale); err == nil {
		s.rdb.Set(ctx, saleKey(sale.ID), data, s.ttl)
	}
}

const fundBalanceKey = "fund:balance"

func saleKey(id string) string  { return fmt.Sprintf("sale:%s", id) }
func assetKey(id string) string { return fmt.Sprintf("asset:%s", id) }
