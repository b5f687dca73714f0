// Package solver implements the damped-Newton maximum-loss search: given a
// market move from one scaled-Gaussian distribution to another, it finds
// the point x* maximizing |f(x; to) - f(x; from)| and returns that value
// as the collateral the trader must post to make the move.
package solver

import (
	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
	"github.com/aniemerg/distribution-markets/internal/gaussian"
)

// dampingFactor is applied to every Newton step. Empirically controls
// overshoot when curvature is small; preserved exactly per the design.
var dampingFactor = fixedpoint.ParseUFixed("0.875000000000000000")

// flatCurvatureFloor is the |g''(x)| threshold below which the search
// aborts rather than divide by a near-zero curvature. 10^8 raw units,
// i.e. 10^-10 in real-valued terms.
var flatCurvatureFloor = fixedpoint.ParseUFixed("0.000000000100000000")

// Result carries the solver's output: the maximum loss, the argmax, and
// the iteration diagnostics callers use for convergence metrics.
// IterCount is the number of Newton steps actually taken; Converged is
// false only when the loop exhausted maxIter without satisfying the
// gradient, curvature-floor, or step-size break conditions.
type Result struct {
	MaxLoss   fixedpoint.UFixed
	XStar     fixedpoint.SFixed
	IterCount int
	Converged bool
}

// FindMaxLoss runs damped Newton on g(x) = f(x; to) - f(x; from), starting
// from a seed derived from hint, and returns the maximum |g| found and its
// location. MaxIterReached is not a failure: the best iterate found within
// maxIter steps is returned. The only failures are propagated arithmetic
// errors from the underlying kernel.
func FindMaxLoss(from, to gaussian.Params, hint fixedpoint.SFixed, maxIter int, tol fixedpoint.UFixed) (Result, error) {
	x := seed(from, to, hint)

	iterCount := 0
	converged := false

	for i := 0; i < maxIter; i++ {
		iterCount = i + 1

		gPrime, err := gPrimeAt(x, from, to)
		if err != nil {
			return Result{}, err
		}
		if gPrime.Abs().LessThan(tol) {
			converged = true
			break
		}

		gSecond, err := gSecondAt(x, from, to)
		if err != nil {
			return Result{}, err
		}
		if gSecond.Abs().LessThan(flatCurvatureFloor) {
			converged = true
			break
		}

		delta, err := gPrime.Div(gSecond)
		if err != nil {
			return Result{}, err
		}
		dampedDelta := delta.Mul(dampingFactor.ToSigned())
		xNew := x.Sub(dampedDelta)

		xNew = clampAgainstMuTo(xNew, from, to)

		step := xNew.Sub(x)
		x = xNew
		if step.Abs().LessThan(tol) {
			converged = true
			break
		}
	}

	loss, err := gAbsAt(x, from, to)
	if err != nil {
		return Result{}, err
	}
	return Result{MaxLoss: loss, XStar: x, IterCount: iterCount, Converged: converged}, nil
}

// seed places the initial iterate on the side of mu_to opposite mu_from,
// where the maximum of |g| lies for the corresponding upward/downward move.
func seed(from, to gaussian.Params, hint fixedpoint.SFixed) fixedpoint.SFixed {
	x := hint
	if from.Mu.LessThan(to.Mu) && hint.LessThanOrEqual(to.Mu) {
		x = to.Mu.Add(to.Sigma.ToSigned())
	} else if from.Mu.GreaterThan(to.Mu) && hint.GreaterThanOrEqual(to.Mu) {
		x = to.Mu.Sub(to.Sigma.ToSigned())
	}
	return x
}

// clampAgainstMuTo prevents the iterate from crossing mu_to, which would
// send Newton toward a spurious critical point near mu_from.
func clampAgainstMuTo(x fixedpoint.SFixed, from, to gaussian.Params) fixedpoint.SFixed {
	if from.Mu.LessThan(to.Mu) {
		return fixedpoint.SMax(x, to.Mu)
	}
	return fixedpoint.SMin(x, to.Mu)
}

func gAt(x fixedpoint.SFixed, from, to gaussian.Params) (fixedpoint.SFixed, error) {
	fTo, err := gaussian.F(x, to)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	fFrom, err := gaussian.F(x, from)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	return fTo.ToSigned().Sub(fFrom.ToSigned()), nil
}

func gAbsAt(x fixedpoint.SFixed, from, to gaussian.Params) (fixedpoint.UFixed, error) {
	g, err := gAt(x, from, to)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	return g.Abs(), nil
}

func gPrimeAt(x fixedpoint.SFixed, from, to gaussian.Params) (fixedpoint.SFixed, error) {
	pTo, err := gaussian.FPrime(x, to)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	pFrom, err := gaussian.FPrime(x, from)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	return pTo.Sub(pFrom), nil
}

func gSecondAt(x fixedpoint.SFixed, from, to gaussian.Params) (fixedpoint.SFixed, error) {
	sTo, err := gaussian.FSecond(x, to)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	sFrom, err := gaussian.FSecond(x, from)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	return sTo.Sub(sFrom), nil
}
