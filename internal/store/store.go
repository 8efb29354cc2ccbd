// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/clanvault/settlement-engine/internal/model"
)

var (
	// ErrNotFound is returned when a referenced sale, member, or asset
	// does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidState is returned when a write requires a state the row no
	// longer has: a sale that left DRAFT, or an asset that is not IN_STOCK
	// for a reservation. The check runs again under the write lock, so
	// concurrent finalize attempts for the same sale observe it even after
	// passing the service-level validation.
	ErrInvalidState = errors.New("store: invalid state for operation")

	// ErrDuplicateIdempotencyKey is returned when a settlement carries an
	// idempotency key that has already been registered.
	ErrDuplicateIdempotencyKey = errors.New("store: idempotency key already registered")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Sale lifecycle ---

	// CreateSale persists a new DRAFT sale and reserves its asset in the
	// same unit of work. ErrNotFound if the asset does not exist,
	// ErrInvalidState if it is not IN_STOCK.
	CreateSale(ctx context.Context, sale *model.Sale) error

	// GetSale retrieves a sale by ID.
	GetSale(ctx context.Context, id string) (*model.Sale, error)

	// UpdateSale rewrites a DRAFT sale's mutable fields. When the asset
	// changed, the old one is released and the new one reserved in the
	// same unit of work; ErrInvalidState if the sale left DRAFT or the
	// new asset is not IN_STOCK.
	UpdateSale(ctx context.Context, sale *model.Sale) error

	// ListSales returns sales newest-first, optionally filtered by state
	// (empty state means all).
	ListSales(ctx context.Context, state model.SaleState) ([]model.Sale, error)

	// --- Settlement ---

	// ApplySettlement performs the entire finalize write as one atomic unit:
	// replace any prior rule/participants/payouts/bonus logs for the sale,
	// mark the sale FINALIZED and its asset SOLD, post the fund transaction
	// if present, and register the idempotency key if supplied. Any failure
	// rolls the whole unit back.
	ApplySettlement(ctx context.Context, s *model.Settlement) error

	// CancelSale marks a DRAFT sale CANCELED, releases its asset back to
	// IN_STOCK, and removes any draft distribution artifacts, atomically.
	CancelSale(ctx context.Context, saleID string) error

	// GetSettlement returns the persisted rule and payouts for a sale, or
	// (nil, nil, nil) when the sale has not been settled.
	GetSettlement(ctx context.Context, saleID string) (*model.DistributionRule, []model.Payout, error)

	// ListBonusLogs returns the bonus audit trail for a sale.
	ListBonusLogs(ctx context.Context, saleID string) ([]model.BonusLog, error)

	// IdempotencyKeyExists reports whether a finalize with this key has
	// already been applied.
	IdempotencyKeyExists(ctx context.Context, key string) (bool, error)

	// --- Clan fund ledger ---

	// PostFundTransaction appends an immutable ledger row and returns the
	// new running balance. The balance update and the row insert are one
	// transaction.
	PostFundTransaction(ctx context.Context, txn *model.FundTransaction) (int64, error)

	// FundBalance returns the current running balance.
	FundBalance(ctx context.Context) (int64, error)

	// ListFundTransactions returns ledger rows oldest-first.
	ListFundTransactions(ctx context.Context) ([]model.FundTransaction, error)

	// FundTransactionForSale returns the ledger row posted by the sale's
	// settlement, or nil when the settlement posted none.
	FundTransactionForSale(ctx context.Context, saleID string) (*model.FundTransaction, error)

	// --- External collaborator reads (roster / inventory / attendance) ---

	// GetMember resolves a roster member.
	GetMember(ctx context.Context, id string) (*model.Member, error)

	// GetAsset resolves an inventory asset.
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// SetAssetStatus moves an asset between IN_STOCK/RESERVED/SOLD.
	SetAssetStatus(ctx context.Context, id string, status model.AssetStatus) error

	// FindParticipations returns attendance events for a member within
	// [from, to].
	FindParticipations(ctx context.Context, memberID string, from, to time.Time) ([]model.Participation, error)
}
