// Package model defines the core domain types of the distribution market:
// the current distribution parameters, LP and trader positions, and the
// ledger of state-changing calls against a market. Kernel quantities
// (mu, sigma, k, collateral, payouts) use internal/fixedpoint so they
// round-trip exactly with the math kernel and the 256-bit wire format;
// LP share accounting uses shopspring/decimal, matching how the rest of
// this codebase keeps bookkeeping numbers away from raw integer math.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
)

// Phase is the market's position in its Uninitialized -> Open -> Settled
// lifecycle.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseOpen          Phase = "open"
	PhaseSettled       Phase = "settled"
)

// Market is the current scaled-Gaussian distribution plus backing and
// phase state. Mu/Sigma/K mirror gaussian.Params; B is the total backing
// posted by liquidity providers.
type Market struct {
	ID     string             `json:"id" db:"id"`
	Mu     fixedpoint.SFixed  `json:"mu" db:"mu"`
	Sigma  fixedpoint.UFixed  `json:"sigma" db:"sigma"`
	K      fixedpoint.UFixed  `json:"k" db:"k"`
	B      fixedpoint.UFixed  `json:"b" db:"b"`
	Phase  Phase              `json:"phase" db:"phase"`
	XFinal *fixedpoint.SFixed `json:"x_final,omitempty" db:"x_final"`
	// SettlementAuthority is the identity allowed to call Settle on this
	// market; empty means any caller may settle it.
	SettlementAuthority string          `json:"settlement_authority,omitempty" db:"settlement_authority"`
	TotalLPShares       decimal.Decimal `json:"total_lp_shares" db:"total_lp_shares"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	SettledAt *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// PositionKind discriminates the two shapes a position can take.
type PositionKind string

const (
	PositionLP     PositionKind = "lp"
	PositionTrader PositionKind = "trader"
)

// Position is a single owned slice of a scaled-Gaussian, keyed externally
// by an opaque owner identity the kernel never inspects.
type Position struct {
	ID         string            `json:"id" db:"id"`
	MarketID   string            `json:"market_id" db:"market_id"`
	OwnerID    string            `json:"owner_id" db:"owner_id"`
	Kind       PositionKind      `json:"kind" db:"kind"`
	Mu         fixedpoint.SFixed `json:"mu" db:"mu"`
	Sigma      fixedpoint.UFixed `json:"sigma" db:"sigma"`
	K          fixedpoint.UFixed `json:"k" db:"k"`
	Collateral fixedpoint.UFixed `json:"collateral" db:"collateral"`
	// OldMu/OldSigma record the distribution a Trader position moved the
	// market away from; unused (zero) for LP positions.
	OldMu    fixedpoint.SFixed `json:"old_mu,omitempty" db:"old_mu"`
	OldSigma fixedpoint.UFixed `json:"old_sigma,omitempty" db:"old_sigma"`
	// LPShares is the number of LP shares this position represents;
	// meaningful only for PositionLP.
	LPShares  decimal.Decimal `json:"lp_shares" db:"lp_shares"`
	Settled   bool            `json:"settled" db:"settled"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// LedgerEntry is an immutable record of a state-changing market call:
// initialize, add-liquidity, trade, settle, claim, or claim-lp-shares.
// Once written, never modified or deleted.
type LedgerEntry struct {
	ID         string          `json:"id" db:"id"`
	MarketID   string          `json:"market_id" db:"market_id"`
	PositionID string          `json:"position_id,omitempty" db:"position_id"`
	Kind       string          `json:"kind" db:"kind"` // "initialize", "add_liquidity", "trade", "settle", "claim", "claim_lp_shares"
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// Portfolio aggregates all positions owned by one identity across markets.
type Portfolio struct {
	OwnerID   string     `json:"owner_id"`
	Positions []Position `json:"positions"`
}
