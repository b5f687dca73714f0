package fixedpoint

import "math/big"

// maxSqrtIterations bounds the Newton iteration so sqrt is always a
// bounded-step operation, per the concurrency/resource model: no kernel
// call may loop unboundedly.
const maxSqrtIterations = 64

// bigIntSqrt computes floor(sqrt(n)) for n >= 0 via Newton's method,
// seeded from the bit length of n for fast convergence, and bounded at
// maxSqrtIterations steps.
func bigIntSqrt(n *big.Int) *big.Int {
	if n.Sign() == 0 {
		return new(big.Int)
	}
	// Initial guess: 2^(ceil(bitlen/2)+1), always >= the true root.
	guess := new(big.Int).Lsh(big.NewInt(1), uint((n.BitLen()+1)/2+1))

	x := guess
	for i := 0; i < maxSqrtIterations; i++ {
		// next = (x + n/x) / 2
		quot := new(big.Int).Quo(n, x)
		next := new(big.Int).Add(x, quot)
		next.Rsh(next, 1)
		if next.Cmp(x) >= 0 {
			break
		}
		x = next
	}
	// Correct for the case the loop overshoots by one ULP downward.
	for {
		sq := new(big.Int).Mul(x, x)
		if sq.Cmp(n) <= 0 {
			break
		}
		x.Sub(x, big.NewInt(1))
	}
	for {
		next := new(big.Int).Add(x, big.NewInt(1))
		sq := new(big.Int).Mul(next, next)
		if sq.Cmp(n) > 0 {
			break
		}
		x = next
	}
	return x
}

// Sqrt returns floor(sqrt(u) * P) for an unsigned fixed-point u >= 0,
// i.e. the fixed-point square root of the real value u/P. Computed as
// floor(sqrt(u_raw * P)) since sqrt(x/P) = sqrt(x*P)/P.
func (a UFixed) Sqrt() UFixed {
	wide := new(big.Int).Mul(a.v.ToBig(), P)
	root := bigIntSqrt(wide)
	var out UFixed
	out.v.SetFromBig(root)
	return out
}

// Sqrt returns the fixed-point square root of a non-negative signed
// value. Negative inputs report NegativeSqrt, matching the kernel's
// failure-mode taxonomy.
func (a SFixed) Sqrt() (UFixed, error) {
	if a.Sign() < 0 {
		return UFixed{}, newErr(KindNegativeSqrt, "sqrt of negative value %s", a)
	}
	return a.ToUnsigned().Sqrt(), nil
}
