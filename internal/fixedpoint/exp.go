package fixedpoint

import "math/big"

// expTaylorTerms is the number of Taylor terms (n = 0..expTaylorTerms-1)
// summed on the range-reduced argument. The reduced argument always has
// magnitude <= ln(2)/2, so 15 terms gives error far below the 1e-12
// relative tolerance required for |s| <= 20*P.
const expTaylorTerms = 15

// expMinInput / expMaxInput bound the domain of Exp: below expMinInput
// the result underflows to zero; above expMaxInput the magnitude would
// no longer fit usefully in a fixed-point value and the call fails.
var (
	expMinInput = SFixedFromInt(-41)
	expMaxInput = SFixedFromInt(50)
)

// ln2 = ln(2), precomputed to 18 decimal places.
var ln2 = mustParseUFixed("0.693147180559945309")

// ParseUFixed parses a decimal literal like "3.141592653589793238" into
// its fixed-point representation. Used for precomputed constants shared
// across packages (e.g. pi, sqrt(2), sqrt(2*pi) in internal/gaussian).
func ParseUFixed(dec string) UFixed {
	return mustParseUFixed(dec)
}

func mustParseUFixed(dec string) UFixed {
	// dec is always a trusted compile-time literal with a decimal point
	// and at most DecimalPlaces fractional digits; shorter fractions are
	// right-padded with zeros.
	intPart := "0"
	fracPart := dec
	if i := indexByte(dec, '.'); i >= 0 {
		intPart = dec[:i]
		fracPart = dec[i+1:]
	}
	for len(fracPart) < DecimalPlaces {
		fracPart += "0"
	}
	raw, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		panic("fixedpoint: bad literal " + dec)
	}
	var u UFixed
	u.v.SetFromBig(raw)
	return u
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Exp computes e^(s/P), scaled by P, for s in [-41*P, 50*P]. Below the
// lower bound it returns zero (underflow, not an error); above the
// upper bound it fails with ExpInputTooLarge.
//
// Implementation: range-reduce |s| to r = |s| - k*ln2 with |r| <=
// ln2/2, evaluate exp(r) by a 15-term Taylor series in fixed point, then
// scale back up by exactly 2^k via a bit shift on the stored integer
// (multiplying a fixed-point value by a power of two is an exact shift
// of its raw representation). Negative s is handled via the identity
// exp(-s) = P^2 / exp(s) on the positive magnitude.
func (s SFixed) Exp() (UFixed, error) {
	if s.LessThan(expMinInput) {
		return UZero, nil
	}
	if s.GreaterThan(expMaxInput) {
		return UFixed{}, newErr(KindExpInputTooLarge, "exp: input %s exceeds 50*P", s)
	}

	mag := s.Abs() // UFixed magnitude of s

	posResult, err := expPositive(mag)
	if err != nil {
		return UFixed{}, err
	}

	if s.Sign() >= 0 {
		return posResult, nil
	}

	// exp(-|s|) = P^2 / exp(|s|) on raw integers: UOne.Div computes
	// (P * P) / raw(exp(|s|)).
	return UOne.Div(posResult)
}

// expPositive computes exp(mag) for mag >= 0 via range reduction and a
// truncated Taylor series on the reduced argument.
func expPositive(mag UFixed) (UFixed, error) {
	if mag.IsZero() {
		return UOne, nil
	}

	// k = round(mag / ln2); r = mag - k*ln2, with |r| <= ln2/2.
	magBig := mag.v.ToBig()
	ln2Big := ln2.v.ToBig()

	kBig := new(big.Int)
	rem := new(big.Int)
	kBig.QuoRem(magBig, ln2Big, rem)
	// Round to nearest: if 2*rem >= ln2, bump k and adjust remainder.
	doubledRem := new(big.Int).Lsh(rem, 1)
	if doubledRem.CmpAbs(ln2Big) >= 0 {
		kBig.Add(kBig, big.NewInt(1))
		rem.Sub(rem, ln2Big)
	}

	if !kBig.IsUint64() {
		return UFixed{}, newErr(KindOverflow, "exp: range reduction exponent out of bounds")
	}
	k := kBig.Uint64()

	r := SFixedFromRaw(rem) // signed reduced argument, |r| <= ln2/2

	expR := taylorExp(r)

	// Scale back up by exactly 2^k: shifting the raw stored integer left
	// by k bits multiplies the represented value by 2^k exactly.
	wide := new(big.Int).Lsh(expR.v.ToBig(), uint(k))
	if wide.Sign() < 0 || wide.Cmp(maxUint256) > 0 {
		return UFixed{}, newErr(KindOverflow, "exp: result overflows 256 bits")
	}
	var out UFixed
	out.v.SetFromBig(wide)
	return out, nil
}

// taylorExp evaluates sum_{n=0}^{expTaylorTerms-1} r^n/n! for a small
// signed fixed-point r via Horner-style accumulation: term_n =
// term_{n-1} * r / n, sum += term_n.
func taylorExp(r SFixed) UFixed {
	term := SFixedFromInt(1) // represents 1.0, i.e. r^0/0!
	sum := term

	for n := int64(1); n < expTaylorTerms; n++ {
		term = term.Mul(r)
		term.v.Quo(&term.v, big.NewInt(n))
		sum = sum.Add(term)
	}

	// sum is guaranteed non-negative for |r| <= ln2/2: exp(r) > 0.
	return sum.ToUnsigned()
}
