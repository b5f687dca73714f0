package market

import (
	"context"
	"errors"
	"testing"

	"github.com/aniemerg/distribution-markets/internal/correlation"
	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
	"github.com/aniemerg/distribution-markets/internal/gaussian"
	"github.com/aniemerg/distribution-markets/internal/store"
)

func d(dec string) fixedpoint.SFixed {
	return fixedpoint.ParseUFixed(dec).ToSigned()
}

func newTestEngine() *Engine {
	return NewEngine(store.NewMemoryStore(), nil)
}

func TestInitializeCreatesOpenMarketAndLPPosition(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mkt, pos, err := e.Initialize(ctx, "", d("1.500000000000000000"),
		fixedpoint.ParseUFixed("1.500000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mkt.Phase != "open" {
		t.Fatalf("expected market to be open, got %s", mkt.Phase)
	}
	if pos.Kind != "lp" {
		t.Fatalf("expected LP position, got %s", pos.Kind)
	}
	if !pos.Collateral.Equal(mkt.B) {
		t.Errorf("expected initial LP collateral to equal b0: got %s want %s", pos.Collateral, mkt.B)
	}
}

func TestInitializeRejectsSigmaBelowMinimum(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	// k=1000, b=1 gives an enormous sigma_min; sigma0=0.1 is far below it.
	_, _, err := e.Initialize(ctx, "", fixedpoint.SZero,
		fixedpoint.ParseUFixed("0.100000000000000000"),
		fixedpoint.UFixedFromInt(1),
		fixedpoint.UFixedFromInt(1000),
		"alice", "")
	if !errors.Is(err, ErrSigmaBelowMinimum) {
		t.Fatalf("expected ErrSigmaBelowMinimum, got %v", err)
	}
}

func TestInitializeRejectsDuplicateMarketID(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, _, err := e.Initialize(ctx, "m1", fixedpoint.SZero,
		fixedpoint.ParseUFixed("1.500000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err = e.Initialize(ctx, "m1", fixedpoint.SZero,
		fixedpoint.ParseUFixed("1.500000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"bob", "")
	if !errors.Is(err, ErrMarketAlreadyInitialized) {
		t.Fatalf("expected ErrMarketAlreadyInitialized, got %v", err)
	}
}

func TestTradeMovesDistributionAndChargesCollateral(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mkt, _, err := e.Initialize(ctx, "m1", d("1.500000000000000000"),
		fixedpoint.ParseUFixed("0.450000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "")
	if err != nil {
		t.Fatalf("unexpected error initializing: %v", err)
	}

	maxCollateral := fixedpoint.ParseUFixed("1000.000000000000000000")
	pos, collateral, _, _, err := e.Trade(ctx, mkt.ID,
		d("1.900000000000000000"),
		fixedpoint.ParseUFixed("0.400000000000000000"),
		maxCollateral, "bob")
	if err != nil {
		t.Fatalf("unexpected error trading: %v", err)
	}
	if collateral.IsZero() {
		t.Errorf("expected non-zero collateral for a real distribution move")
	}
	if !pos.Collateral.Equal(collateral) {
		t.Errorf("position collateral %s does not match returned collateral %s", pos.Collateral, collateral)
	}
	if !pos.OldMu.Equal(d("1.500000000000000000")) {
		t.Errorf("expected OldMu to capture pre-trade mu, got %s", pos.OldMu)
	}

	updated, err := e.store.GetMarket(ctx, mkt.ID)
	if err != nil {
		t.Fatalf("unexpected error fetching market: %v", err)
	}
	if !updated.Mu.Equal(d("1.900000000000000000")) {
		t.Errorf("expected market mu to move to 1.9, got %s", updated.Mu)
	}
}

func TestTradeRejectsInsufficientMaxCollateral(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mkt, _, err := e.Initialize(ctx, "m1", d("1.500000000000000000"),
		fixedpoint.ParseUFixed("0.450000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "")
	if err != nil {
		t.Fatalf("unexpected error initializing: %v", err)
	}

	_, _, _, _, err = e.Trade(ctx, mkt.ID,
		d("1.900000000000000000"),
		fixedpoint.ParseUFixed("0.400000000000000000"),
		fixedpoint.UZero, "bob")
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestSettleAndClaimLifecycle(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mkt, lpPos, err := e.Initialize(ctx, "m1", d("1.500000000000000000"),
		fixedpoint.ParseUFixed("0.450000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "")
	if err != nil {
		t.Fatalf("unexpected error initializing: %v", err)
	}

	traderPos, _, _, _, err := e.Trade(ctx, mkt.ID,
		d("1.900000000000000000"),
		fixedpoint.ParseUFixed("0.400000000000000000"),
		fixedpoint.ParseUFixed("1000.000000000000000000"), "bob")
	if err != nil {
		t.Fatalf("unexpected error trading: %v", err)
	}

	settled, err := e.Settle(ctx, mkt.ID, d("1.900000000000000000"), "")
	if err != nil {
		t.Fatalf("unexpected error settling: %v", err)
	}
	if settled.Phase != "settled" {
		t.Fatalf("expected settled phase, got %s", settled.Phase)
	}

	if _, _, _, _, err := e.Trade(ctx, mkt.ID, d("2.000000000000000000"), fixedpoint.ParseUFixed("0.400000000000000000"), fixedpoint.ParseUFixed("1000.000000000000000000"), "carol"); !errors.Is(err, ErrMarketAlreadySettled) {
		t.Errorf("expected trading a settled market to fail with ErrMarketAlreadySettled, got %v", err)
	}

	traderPayout, err := e.Claim(ctx, traderPos.ID, "bob")
	if err != nil {
		t.Fatalf("unexpected error claiming trader position: %v", err)
	}
	if traderPayout.LessThan(traderPos.Collateral) {
		t.Errorf("trader payout %s should be at least the posted collateral %s (since |diff| >= 0)", traderPayout, traderPos.Collateral)
	}

	if _, err := e.Claim(ctx, traderPos.ID, "bob"); !errors.Is(err, ErrPositionAlreadySettled) {
		t.Errorf("expected double-claim to fail with ErrPositionAlreadySettled, got %v", err)
	}

	if _, err := e.Claim(ctx, lpPos.ID, "mallory"); !errors.Is(err, ErrNotPositionOwner) {
		t.Errorf("expected claim by non-owner to fail with ErrNotPositionOwner, got %v", err)
	}

	lpPayout, err := e.Claim(ctx, lpPos.ID, "alice")
	if err != nil {
		t.Fatalf("unexpected error claiming LP position: %v", err)
	}
	if lpPayout.GreaterThan(lpPos.Collateral) {
		t.Errorf("LP payout %s should never exceed posted backing %s", lpPayout, lpPos.Collateral)
	}
}

func TestSettleRejectsWrongAuthority(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mkt, _, err := e.Initialize(ctx, "m1", d("1.500000000000000000"),
		fixedpoint.ParseUFixed("1.500000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "oracle-1")
	if err != nil {
		t.Fatalf("unexpected error initializing: %v", err)
	}

	if _, err := e.Settle(ctx, mkt.ID, d("1.500000000000000000"), "mallory"); !errors.Is(err, ErrNotSettlementAuthority) {
		t.Fatalf("expected ErrNotSettlementAuthority, got %v", err)
	}

	if _, err := e.Settle(ctx, mkt.ID, d("1.500000000000000000"), "oracle-1"); err != nil {
		t.Fatalf("unexpected error settling with correct authority: %v", err)
	}
}

func TestAddLiquidityMintsProportionalShares(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mkt, _, err := e.Initialize(ctx, "m1", d("1.500000000000000000"),
		fixedpoint.ParseUFixed("1.500000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "")
	if err != nil {
		t.Fatalf("unexpected error initializing: %v", err)
	}

	pos, err := e.AddLiquidity(ctx, mkt.ID, fixedpoint.ParseUFixed("100.000000000000000000"), "bob")
	if err != nil {
		t.Fatalf("unexpected error adding liquidity: %v", err)
	}
	// Doubling b should mint shares equal to the existing total supply.
	if !pos.LPShares.Equal(mkt.TotalLPShares) {
		t.Errorf("expected minted shares %s to equal prior total supply %s", pos.LPShares, mkt.TotalLPShares)
	}

	updated, err := e.store.GetMarket(ctx, mkt.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.B.Equal(fixedpoint.ParseUFixed("200.000000000000000000")) {
		t.Errorf("expected b to double to 200, got %s", updated.B)
	}
	if !updated.K.GreaterThan(mkt.K) {
		t.Errorf("expected k to increase after adding liquidity, got %s (was %s)", updated.K, mkt.K)
	}
}

func TestClaimLPSharesPaysResidualProportionally(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mkt, _, err := e.Initialize(ctx, "m1", d("1.500000000000000000"),
		fixedpoint.ParseUFixed("1.500000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "")
	if err != nil {
		t.Fatalf("unexpected error initializing: %v", err)
	}

	if _, err := e.Settle(ctx, mkt.ID, d("1.500000000000000000"), ""); err != nil {
		t.Fatalf("unexpected error settling: %v", err)
	}

	payout, err := e.ClaimLPShares(ctx, mkt.ID, "alice")
	if err != nil {
		t.Fatalf("unexpected error claiming LP shares: %v", err)
	}

	finalMarket, err := e.store.GetMarket(ctx, mkt.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fAtFinal, err := gaussian.F(*finalMarket.XFinal, toParams(finalMarket.Mu, finalMarket.Sigma, finalMarket.K))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var wantResidual fixedpoint.UFixed
	if finalMarket.B.GreaterThan(fAtFinal) {
		wantResidual, err = finalMarket.B.Sub(fAtFinal)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !payout.Equal(wantResidual) {
		t.Errorf("sole LP holder should receive the full residual: got %s want %s", payout, wantResidual)
	}

	// Claiming again should now return zero since the position is settled.
	second, err := e.ClaimLPShares(ctx, mkt.ID, "alice")
	if err != nil {
		t.Fatalf("unexpected error on second claim: %v", err)
	}
	if !second.IsZero() {
		t.Errorf("expected zero payout on repeat claim, got %s", second)
	}
}

func TestCorrelationLimiterRejectsExcessiveExposure(t *testing.T) {
	limiter := correlation.NewMuBucketLimiter(
		fixedpoint.ParseUFixed("1.000000000000000000"),
		fixedpoint.ParseUFixed("1.000000000000000000"),
		fixedpoint.ParseUFixed("1.000000000000000000"),
		1,
	)
	e := NewEngine(store.NewMemoryStore(), limiter)
	ctx := context.Background()

	mkt, _, err := e.Initialize(ctx, "m1", d("1.500000000000000000"),
		fixedpoint.ParseUFixed("0.450000000000000000"),
		fixedpoint.ParseUFixed("100.000000000000000000"),
		fixedpoint.ParseUFixed("2.000000000000000000"),
		"alice", "")
	if err != nil {
		t.Fatalf("unexpected error initializing: %v", err)
	}

	_, _, _, _, err = e.Trade(ctx, mkt.ID,
		d("1.900000000000000000"),
		fixedpoint.ParseUFixed("0.400000000000000000"),
		fixedpoint.ParseUFixed("1000.000000000000000000"), "bob")
	if !errors.Is(err, correlation.ErrPerBucketLimitExceeded) && !errors.Is(err, correlation.ErrCorrelatedLimitExceeded) {
		t.Fatalf("expected a correlation limit error for a collateral requirement above 1.0, got %v", err)
	}
}
