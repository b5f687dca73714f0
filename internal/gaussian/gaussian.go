// Package gaussian implements the scaled-Gaussian probability density
// function at the center of a distribution prediction market: a Gaussian
// PDF scaled by an L2-norm factor lambda chosen so that ||f||_2 = k.
//
// Every operation is pure and deterministic, computed entirely through
// internal/fixedpoint so that two independent implementations of this
// package, run on different machines, produce bit-identical results.
package gaussian

import (
	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
)

// Constants precomputed to 18 decimal places of precision.
var (
	Pi      = fixedpoint.ParseUFixed("3.141592653589793238")
	SqrtPi  = fixedpoint.ParseUFixed("1.772453850905516027")
	Sqrt2   = fixedpoint.ParseUFixed("1.414213562373095048")
	Sqrt2Pi = fixedpoint.ParseUFixed("2.506628274631000502")
)

// Params is a scaled-Gaussian's three defining parameters: mean mu
// (signed), standard deviation sigma (unsigned, > 0), and L2-norm
// constraint k (unsigned, > 0).
type Params struct {
	Mu    fixedpoint.SFixed
	Sigma fixedpoint.UFixed
	K     fixedpoint.UFixed
}

// Lambda computes the L2-norm scaling factor: k * sqrt(2*sigma*sqrt(pi)).
func Lambda(sigma, k fixedpoint.UFixed) (fixedpoint.UFixed, error) {
	twoSigma, err := sigma.Mul(fixedpoint.UFixedFromInt(2))
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	inner, err := twoSigma.Mul(SqrtPi)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	root := inner.Sqrt()
	return k.Mul(root)
}

// F evaluates f(x; mu, sigma, k) = lambda(sigma,k) * N(x; mu, sigma).
// Returns zero (not an error) whenever the exponent would underflow,
// i.e. z^2/2 > 41*P in the underlying fixedpoint.Exp domain.
func F(x fixedpoint.SFixed, p Params) (fixedpoint.UFixed, error) {
	halfZSquared, err := halfZSquared(x, p.Mu, p.Sigma)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}

	expVal, err := halfZSquared.ToSigned().Neg().Exp()
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	if expVal.IsZero() {
		return fixedpoint.UZero, nil
	}

	lambda, err := Lambda(p.Sigma, p.K)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}

	denom, err := p.Sigma.Mul(Sqrt2Pi)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	if denom.IsZero() {
		return fixedpoint.UFixed{}, &fixedpoint.Error{Kind: fixedpoint.KindDivByZero, Msg: "gaussian: sigma*sqrt(2pi) is zero"}
	}

	normalized, err := expVal.Div(denom)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	return lambda.Mul(normalized)
}

// FPrime evaluates f'(x; D) = -(x-mu)/sigma^2 * f(x; D), signed.
func FPrime(x fixedpoint.SFixed, p Params) (fixedpoint.SFixed, error) {
	fVal, err := F(x, p)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	if fVal.IsZero() {
		return fixedpoint.SZero, nil
	}

	diff := x.Sub(p.Mu)
	sigmaSq, err := p.Sigma.Mul(p.Sigma)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	coeff, err := diff.Div(sigmaSq.ToSigned())
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	return coeff.Neg().Mul(fVal.ToSigned()), nil
}

// FSecond evaluates f''(x; D) = ((x-mu)^2/sigma^4 - 1/sigma^2) * f(x; D).
func FSecond(x fixedpoint.SFixed, p Params) (fixedpoint.SFixed, error) {
	fVal, err := F(x, p)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	if fVal.IsZero() {
		return fixedpoint.SZero, nil
	}

	diff := x.Sub(p.Mu)
	diffSq := diff.Mul(diff)

	sigmaSq, err := p.Sigma.Mul(p.Sigma)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	sigma4, err := sigmaSq.Mul(sigmaSq)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}

	term1, err := diffSq.Div(sigma4.ToSigned())
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	term2, err := fixedpoint.SOne.Div(sigmaSq.ToSigned())
	if err != nil {
		return fixedpoint.SFixed{}, err
	}

	bracket := term1.Sub(term2)
	return bracket.Mul(fVal.ToSigned()), nil
}

// SigmaMin computes the minimum sigma allowed for a given (k, b):
// k^2 / (b^2 * sqrt(pi)).
func SigmaMin(k, b fixedpoint.UFixed) (fixedpoint.UFixed, error) {
	kSq, err := k.Mul(k)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	bSq, err := b.Mul(b)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	denom, err := bSq.Mul(SqrtPi)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	return kSq.Div(denom)
}

// KMax computes the maximum k allowed for a given (sigma, b):
// b * sqrt(sigma * sqrt(pi)).
func KMax(sigma, b fixedpoint.UFixed) (fixedpoint.UFixed, error) {
	inner, err := sigma.Mul(SqrtPi)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	root := inner.Sqrt()
	return b.Mul(root)
}

// halfZSquared computes z^2/2 where z = (x-mu)*P/sigma, returned as an
// unsigned fixed-point value (always non-negative).
func halfZSquared(x, mu fixedpoint.SFixed, sigma fixedpoint.UFixed) (fixedpoint.UFixed, error) {
	diff := x.Sub(mu)
	z, err := diff.Div(sigma.ToSigned())
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	zSq := z.Mul(z) // always non-negative
	two := fixedpoint.UFixedFromInt(2)
	return zSq.ToUnsigned().Div(two)
}
