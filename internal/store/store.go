// Package store defines the persistence interface for the distribution
// market engine. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
	"github.com/aniemerg/distribution-markets/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketState updates the current distribution and backing
	// after a trade or add-liquidity call.
	UpdateMarketState(ctx context.Context, id string, mu fixedpoint.SFixed, sigma, k, b fixedpoint.UFixed) error

	// SettleMarket freezes x_final and transitions the market to Settled.
	SettleMarket(ctx context.Context, id string, xFinal fixedpoint.SFixed) error

	// --- Positions ---

	// CreatePosition persists a new LP or Trader position.
	CreatePosition(ctx context.Context, position *model.Position) error

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// GetPositionsByMarket returns all positions in a market.
	GetPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// GetPositionsByOwner returns all positions owned by an identity.
	GetPositionsByOwner(ctx context.Context, ownerID string) ([]model.Position, error)

	// MarkPositionSettled records that a position's claim has been paid.
	MarkPositionSettled(ctx context.Context, id string) error

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable record of a state-changing call.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesByMarket returns all ledger entries for a market.
	GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error)
}
