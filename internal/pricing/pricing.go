// Package pricing wraps the maximum-loss solver into the collateral
// figure a trader must post to move a market from one distribution to
// another.
package pricing

import (
	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
	"github.com/aniemerg/distribution-markets/internal/gaussian"
	"github.com/aniemerg/distribution-markets/internal/solver"
)

// defaultMaxIter and defaultTolerance match the parameters used across the
// seed scenarios; callers needing tighter control should call
// solver.FindMaxLoss directly.
const defaultMaxIter = 20

var defaultTolerance = fixedpoint.ParseUFixed("0.000001000000000000")

// RequiredCollateral returns the collateral required to move a market
// from (muFrom, sigmaFrom) to (muTo, sigmaTo) at fixed k. hint seeds the
// underlying Newton search; the sentinel hint = 0 is promoted to muTo.
//
// The result is non-negative and is exactly zero only when the from and
// to distributions coincide up to arithmetic precision. iterCount and
// converged report the underlying Newton search's diagnostics so callers
// can feed solver-convergence metrics without importing internal/solver.
func RequiredCollateral(from, to gaussian.Params, hint fixedpoint.SFixed) (collateral fixedpoint.UFixed, iterCount int, converged bool, err error) {
	if hint.IsZero() {
		hint = to.Mu
	}
	res, err := solver.FindMaxLoss(from, to, hint, defaultMaxIter, defaultTolerance)
	if err != nil {
		return fixedpoint.UFixed{}, 0, false, err
	}
	return res.MaxLoss, res.IterCount, res.Converged, nil
}
