// Package market implements the thin state machine wrapped around the
// scaled-Gaussian kernel: initialize, add-liquidity, trade, settle, and
// claim. It is the only package that mutates a Market or Position; the
// kernel packages it calls (gaussian, solver, pricing) stay pure.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aniemerg/distribution-markets/internal/correlation"
	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
	"github.com/aniemerg/distribution-markets/internal/gaussian"
	"github.com/aniemerg/distribution-markets/internal/model"
	"github.com/aniemerg/distribution-markets/internal/pricing"
	"github.com/aniemerg/distribution-markets/internal/store"
)

// Kind discriminates the validation failures this package can raise, on
// top of whatever arithmetic Kind the fixedpoint/gaussian/solver layers
// already propagate unchanged.
type Kind string

const (
	KindSigmaBelowMinimum        Kind = "SigmaBelowMinimum"
	KindMarketAlreadyInitialized Kind = "MarketAlreadyInitialized"
	KindMarketNotInitialized     Kind = "MarketNotInitialized"
	KindMarketAlreadySettled     Kind = "MarketAlreadySettled"
	KindInsufficientCollateral   Kind = "InsufficientCollateral"
	KindNotPositionOwner         Kind = "NotPositionOwner"
	KindPositionAlreadySettled   Kind = "PositionAlreadySettled"
	KindNotSettlementAuthority   Kind = "NotSettlementAuthority"
)

// Error is the discriminated validation error this package raises.
// Arithmetic errors from the kernel layers are never wrapped here; they
// bubble up unchanged per the propagation policy.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrSigmaBelowMinimum        = &Error{Kind: KindSigmaBelowMinimum}
	ErrMarketAlreadyInitialized = &Error{Kind: KindMarketAlreadyInitialized}
	ErrMarketNotInitialized     = &Error{Kind: KindMarketNotInitialized}
	ErrMarketAlreadySettled     = &Error{Kind: KindMarketAlreadySettled}
	ErrInsufficientCollateral   = &Error{Kind: KindInsufficientCollateral}
	ErrNotPositionOwner         = &Error{Kind: KindNotPositionOwner}
	ErrPositionAlreadySettled   = &Error{Kind: KindPositionAlreadySettled}
	ErrNotSettlementAuthority   = &Error{Kind: KindNotSettlementAuthority}
)

// Engine executes market state transitions against a Store. It holds no
// mutable state of its own beyond its dependencies; callers are
// responsible for serializing concurrent calls against the same market,
// per the single-writer convention. required_collateral's max-iteration
// count and convergence tolerance are pricing's own defaults; Engine has
// no solver knobs of its own.
type Engine struct {
	store   store.Store
	limiter *correlation.MuBucketLimiter // nil disables correlation checks
}

// NewEngine builds an Engine backed by st. limiter may be nil to skip
// correlation-aware exposure limits.
func NewEngine(st store.Store, limiter *correlation.MuBucketLimiter) *Engine {
	return &Engine{
		store:   st,
		limiter: limiter,
	}
}

func toParams(mu fixedpoint.SFixed, sigma, k fixedpoint.UFixed) gaussian.Params {
	return gaussian.Params{Mu: mu, Sigma: sigma, K: k}
}

// Initialize installs a market's initial distribution and liquidity,
// minting b0 LP shares to ownerID. marketID may be empty to let the
// engine generate one. settlementAuthority, if non-empty, is the only
// identity Settle will later accept for this market.
func (e *Engine) Initialize(
	ctx context.Context,
	marketID string,
	mu0 fixedpoint.SFixed,
	sigma0, b0, k0 fixedpoint.UFixed,
	ownerID string,
	settlementAuthority string,
) (*model.Market, *model.Position, error) {
	if marketID != "" {
		if _, err := e.store.GetMarket(ctx, marketID); err == nil {
			return nil, nil, newErr(KindMarketAlreadyInitialized, "market %s already exists", marketID)
		}
	} else {
		marketID = uuid.New().String()
	}

	sigmaMin, err := gaussian.SigmaMin(k0, b0)
	if err != nil {
		return nil, nil, err
	}
	if sigma0.LessThan(sigmaMin) {
		return nil, nil, newErr(KindSigmaBelowMinimum, "sigma0 %s below sigma_min %s", sigma0, sigmaMin)
	}

	now := time.Now().UTC()
	mkt := &model.Market{
		ID:                  marketID,
		Mu:                  mu0,
		Sigma:               sigma0,
		K:                   k0,
		B:                   b0,
		Phase:               model.PhaseOpen,
		SettlementAuthority: settlementAuthority,
		TotalLPShares:       decimal.NewFromBigInt(b0.Raw().ToBig(), -int32(fixedpoint.DecimalPlaces)),
		CreatedAt:           now,
	}
	if err := e.store.CreateMarket(ctx, mkt); err != nil {
		return nil, nil, err
	}

	pos := &model.Position{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		OwnerID:    ownerID,
		Kind:       model.PositionLP,
		Mu:         mu0,
		Sigma:      sigma0,
		K:          k0,
		Collateral: b0,
		LPShares:   mkt.TotalLPShares,
		CreatedAt:  now,
	}
	if err := e.store.CreatePosition(ctx, pos); err != nil {
		return nil, nil, err
	}

	if err := e.recordLedger(ctx, marketID, pos.ID, "initialize", mkt.TotalLPShares); err != nil {
		return nil, nil, err
	}

	return mkt, pos, nil
}

// AddLiquidity increases a market's backing by deltaB, rescaling k so
// sigma_min stays fixed for the current sigma, and mints a proportional
// share of the LP pool to ownerID.
func (e *Engine) AddLiquidity(ctx context.Context, marketID string, deltaB fixedpoint.UFixed, ownerID string) (*model.Position, error) {
	mkt, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := e.requireOpen(mkt); err != nil {
		return nil, err
	}

	bOld := mkt.B
	bNew, err := bOld.Add(deltaB)
	if err != nil {
		return nil, err
	}

	ratio, err := bNew.Div(bOld)
	if err != nil {
		return nil, err
	}
	kNew, err := mkt.K.Mul(ratio)
	if err != nil {
		return nil, err
	}
	kDelta, err := kNew.Sub(mkt.K)
	if err != nil {
		return nil, err
	}

	shareRatio, err := deltaB.Div(bOld)
	if err != nil {
		return nil, err
	}
	shareRatioDec, err := decimal.NewFromString(shareRatio.String())
	if err != nil {
		return nil, err
	}
	mintedShares := mkt.TotalLPShares.Mul(shareRatioDec)

	if err := e.store.UpdateMarketState(ctx, marketID, mkt.Mu, mkt.Sigma, kNew, bNew); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pos := &model.Position{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		OwnerID:    ownerID,
		Kind:       model.PositionLP,
		Mu:         mkt.Mu,
		Sigma:      mkt.Sigma,
		K:          kDelta,
		Collateral: deltaB,
		LPShares:   mintedShares,
		CreatedAt:  now,
	}
	if err := e.store.CreatePosition(ctx, pos); err != nil {
		return nil, err
	}

	if err := e.recordLedger(ctx, marketID, pos.ID, "add_liquidity", mintedShares); err != nil {
		return nil, err
	}

	return pos, nil
}

// Trade moves the market's distribution from its current (mu, sigma) to
// (muNew, sigmaNew), charging the caller the resulting required
// collateral (the trade is rejected with InsufficientCollateral when it
// exceeds maxCollateral) and issuing a Trader position
// that captures both the old and new shape. iterCount and converged
// report the underlying Newton search's diagnostics for callers that
// record solver-convergence metrics.
func (e *Engine) Trade(
	ctx context.Context,
	marketID string,
	muNew fixedpoint.SFixed,
	sigmaNew fixedpoint.UFixed,
	maxCollateral fixedpoint.UFixed,
	ownerID string,
) (pos *model.Position, collateral fixedpoint.UFixed, iterCount int, converged bool, err error) {
	mkt, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fixedpoint.UZero, 0, false, err
	}
	if err := e.requireOpen(mkt); err != nil {
		return nil, fixedpoint.UZero, 0, false, err
	}

	sigmaMin, err := gaussian.SigmaMin(mkt.K, mkt.B)
	if err != nil {
		return nil, fixedpoint.UZero, 0, false, err
	}
	if sigmaNew.LessThan(sigmaMin) {
		return nil, fixedpoint.UZero, 0, false, newErr(KindSigmaBelowMinimum, "sigma' %s below sigma_min %s", sigmaNew, sigmaMin)
	}

	from := toParams(mkt.Mu, mkt.Sigma, mkt.K)
	to := toParams(muNew, sigmaNew, mkt.K)

	collateral, iterCount, converged, err = pricing.RequiredCollateral(from, to, muNew)
	if err != nil {
		return nil, fixedpoint.UZero, 0, false, err
	}
	if collateral.GreaterThan(maxCollateral) {
		return nil, fixedpoint.UZero, iterCount, converged, newErr(KindInsufficientCollateral, "required %s exceeds max %s", collateral, maxCollateral)
	}

	if e.limiter != nil {
		exposures, err := e.exposuresByBucket(ctx, ownerID)
		if err != nil {
			return nil, fixedpoint.UZero, iterCount, converged, err
		}
		if err := e.limiter.CheckLimit(muNew, collateral, exposures); err != nil {
			return nil, fixedpoint.UZero, iterCount, converged, err
		}
	}

	if err := e.store.UpdateMarketState(ctx, marketID, muNew, sigmaNew, mkt.K, mkt.B); err != nil {
		return nil, fixedpoint.UZero, iterCount, converged, err
	}

	now := time.Now().UTC()
	pos = &model.Position{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		OwnerID:    ownerID,
		Kind:       model.PositionTrader,
		Mu:         muNew,
		Sigma:      sigmaNew,
		K:          mkt.K,
		Collateral: collateral,
		OldMu:      mkt.Mu,
		OldSigma:   mkt.Sigma,
		CreatedAt:  now,
	}
	if err := e.store.CreatePosition(ctx, pos); err != nil {
		return nil, fixedpoint.UZero, iterCount, converged, err
	}

	collateralDec, err := decimal.NewFromString(collateral.String())
	if err != nil {
		return nil, fixedpoint.UZero, iterCount, converged, err
	}
	if err := e.recordLedger(ctx, marketID, pos.ID, "trade", collateralDec); err != nil {
		return nil, fixedpoint.UZero, iterCount, converged, err
	}

	return pos, collateral, iterCount, converged, nil
}

// Settle freezes the market's realized outcome and transitions it to
// Settled. If the market was initialized with a SettlementAuthority,
// callerID must match it exactly.
func (e *Engine) Settle(ctx context.Context, marketID string, xFinal fixedpoint.SFixed, callerID string) (*model.Market, error) {
	mkt, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := e.requireOpen(mkt); err != nil {
		return nil, err
	}
	if mkt.SettlementAuthority != "" && callerID != mkt.SettlementAuthority {
		return nil, newErr(KindNotSettlementAuthority, "caller %s is not the settlement authority for market %s", callerID, marketID)
	}

	if err := e.store.SettleMarket(ctx, marketID, xFinal); err != nil {
		return nil, err
	}

	mkt.Phase = model.PhaseSettled
	mkt.XFinal = &xFinal
	now := time.Now().UTC()
	mkt.SettledAt = &now

	if err := e.recordLedger(ctx, marketID, "", "settle", decimal.Zero); err != nil {
		return nil, err
	}

	return mkt, nil
}

// Claim pays out a single LP or Trader position after settlement and
// marks it settled. callerID must own the position.
func (e *Engine) Claim(ctx context.Context, positionID, callerID string) (fixedpoint.UFixed, error) {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return fixedpoint.UZero, err
	}
	if pos.OwnerID != callerID {
		return fixedpoint.UZero, newErr(KindNotPositionOwner, "position %s is not owned by %s", positionID, callerID)
	}
	if pos.Settled {
		return fixedpoint.UZero, newErr(KindPositionAlreadySettled, "position %s already settled", positionID)
	}

	mkt, err := e.store.GetMarket(ctx, pos.MarketID)
	if err != nil {
		return fixedpoint.UZero, err
	}
	if mkt.Phase != model.PhaseSettled || mkt.XFinal == nil {
		return fixedpoint.UZero, newErr(KindMarketNotInitialized, "market %s is not settled", pos.MarketID)
	}
	xFinal := *mkt.XFinal

	var payout fixedpoint.UFixed
	switch pos.Kind {
	case model.PositionLP:
		payout, err = gaussian.F(xFinal, toParams(pos.Mu, pos.Sigma, pos.K))
		if err != nil {
			return fixedpoint.UZero, err
		}
	case model.PositionTrader:
		fNew, err := gaussian.F(xFinal, toParams(pos.Mu, pos.Sigma, pos.K))
		if err != nil {
			return fixedpoint.UZero, err
		}
		fOld, err := gaussian.F(xFinal, toParams(pos.OldMu, pos.OldSigma, pos.K))
		if err != nil {
			return fixedpoint.UZero, err
		}
		diff := fNew.ToSigned().Sub(fOld.ToSigned()).Abs()
		payout, err = diff.Add(pos.Collateral)
		if err != nil {
			return fixedpoint.UZero, err
		}
	default:
		return fixedpoint.UZero, fmt.Errorf("market: unknown position kind %q", pos.Kind)
	}

	if err := e.store.MarkPositionSettled(ctx, positionID); err != nil {
		return fixedpoint.UZero, err
	}

	payoutDec, err := decimal.NewFromString(payout.String())
	if err != nil {
		return fixedpoint.UZero, err
	}
	if err := e.recordLedger(ctx, pos.MarketID, positionID, "claim", payoutDec); err != nil {
		return fixedpoint.UZero, err
	}

	return payout, nil
}

// ClaimLPShares pays holder their proportional share of the residual
// backing left in a settled market, and conceptually burns the claimed
// shares (the remainder of totalSupply still backs unclaimed holders).
func (e *Engine) ClaimLPShares(ctx context.Context, marketID, holderID string) (fixedpoint.UFixed, error) {
	mkt, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return fixedpoint.UZero, err
	}
	if mkt.Phase != model.PhaseSettled || mkt.XFinal == nil {
		return fixedpoint.UZero, newErr(KindMarketNotInitialized, "market %s is not settled", marketID)
	}

	fAtFinal, err := gaussian.F(*mkt.XFinal, toParams(mkt.Mu, mkt.Sigma, mkt.K))
	if err != nil {
		return fixedpoint.UZero, err
	}

	var residual fixedpoint.UFixed
	if mkt.B.GreaterThan(fAtFinal) {
		residual, err = mkt.B.Sub(fAtFinal)
		if err != nil {
			return fixedpoint.UZero, err
		}
	}

	holderShares, err := e.lpSharesHeld(ctx, marketID, holderID)
	if err != nil {
		return fixedpoint.UZero, err
	}
	if holderShares.IsZero() || mkt.TotalLPShares.IsZero() {
		return fixedpoint.UZero, nil
	}

	residualDec, err := decimal.NewFromString(residual.String())
	if err != nil {
		return fixedpoint.UZero, err
	}
	payoutDec := holderShares.Div(mkt.TotalLPShares).Mul(residualDec)
	payoutSigned, err := fixedpoint.ParseSignedOrUnsignedDecimal(payoutDec.String())
	if err != nil {
		return fixedpoint.UZero, err
	}
	payout := payoutSigned.ToUnsigned()

	if err := e.markLPPositionsSettled(ctx, marketID, holderID); err != nil {
		return fixedpoint.UZero, err
	}

	if err := e.recordLedger(ctx, marketID, "", "claim_lp_shares", payoutDec); err != nil {
		return fixedpoint.UZero, err
	}

	return payout, nil
}

func (e *Engine) requireOpen(mkt *model.Market) error {
	switch mkt.Phase {
	case model.PhaseOpen:
		return nil
	case model.PhaseSettled:
		return newErr(KindMarketAlreadySettled, "market %s already settled", mkt.ID)
	default:
		return newErr(KindMarketNotInitialized, "market %s is not initialized", mkt.ID)
	}
}

func (e *Engine) lpSharesHeld(ctx context.Context, marketID, holderID string) (decimal.Decimal, error) {
	positions, err := e.store.GetPositionsByOwner(ctx, holderID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range positions {
		if p.MarketID == marketID && p.Kind == model.PositionLP && !p.Settled {
			total = total.Add(p.LPShares)
		}
	}
	return total, nil
}

func (e *Engine) markLPPositionsSettled(ctx context.Context, marketID, holderID string) error {
	positions, err := e.store.GetPositionsByOwner(ctx, holderID)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.MarketID == marketID && p.Kind == model.PositionLP && !p.Settled {
			if err := e.store.MarkPositionSettled(ctx, p.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// exposuresByBucket aggregates an owner's existing collateral exposure
// across their open Trader positions, keyed by mu bucket, for the
// correlation limiter.
func (e *Engine) exposuresByBucket(ctx context.Context, ownerID string) (map[int64]fixedpoint.UFixed, error) {
	positions, err := e.store.GetPositionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	exposures := make(map[int64]fixedpoint.UFixed)
	for _, p := range positions {
		if p.Kind != model.PositionTrader || p.Settled {
			continue
		}
		bucket := e.limiter.Bucket(p.Mu)
		sum, err := exposures[bucket].Add(p.Collateral)
		if err != nil {
			return nil, err
		}
		exposures[bucket] = sum
	}
	return exposures, nil
}

func (e *Engine) recordLedger(ctx context.Context, marketID, positionID, kind string, amount decimal.Decimal) error {
	entry := &model.LedgerEntry{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		PositionID: positionID,
		Kind:       kind,
		Amount:     amount,
		Timestamp:  time.Now().UTC(),
	}
	return e.store.InsertLedgerEntry(ctx, entry)
}
