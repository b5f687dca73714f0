package gaussian

import (
	"testing"

	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
)

func mustSub(t *testing.T, a, b fixedpoint.UFixed) fixedpoint.UFixed {
	t.Helper()
	out, err := a.Sub(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

// assertClose checks relative error within tol (default 1e-3 per the
// EPSILON used for the seed scenarios).
func assertClose(t *testing.T, got, want fixedpoint.UFixed, label string) {
	t.Helper()
	diff := mustSub(t, fixedpoint.UMax(got, want), fixedpoint.UMin(got, want))
	tol, err := want.Mul(fixedpoint.ParseUFixed("0.001000000000000000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff.GreaterThan(tol) {
		t.Errorf("%s: got %s, want %s (diff %s exceeds tolerance %s)", label, got, want, diff, tol)
	}
}

func TestLambdaSeedS1(t *testing.T) {
	sigma := fixedpoint.UFixedFromInt(10)
	k := fixedpoint.UFixedFromInt(100)

	got, err := Lambda(sigma, k)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fixedpoint.ParseUFixed("595.391274861000000000")
	assertClose(t, got, want, "lambda(10,100)")
}

func TestFSeedS2(t *testing.T) {
	p := Params{Mu: fixedpoint.SFixedFromInt(100), Sigma: fixedpoint.UFixedFromInt(10), K: fixedpoint.UFixedFromInt(100)}
	got, err := F(fixedpoint.SFixedFromInt(100), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fixedpoint.ParseUFixed("23.752680000000000000")
	assertClose(t, got, want, "f(100;100,10,100)")
}

func TestFSeedS3(t *testing.T) {
	p := Params{Mu: fixedpoint.SFixedFromInt(100), Sigma: fixedpoint.UFixedFromInt(10), K: fixedpoint.UFixedFromInt(100)}
	got, err := F(fixedpoint.SFixedFromInt(85), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fixedpoint.ParseUFixed("7.711360000000000000")
	assertClose(t, got, want, "f(85;100,10,100)")
}

func TestFSeedS4Underflow(t *testing.T) {
	p := Params{Mu: fixedpoint.SZero, Sigma: fixedpoint.UFixedFromInt(10), K: fixedpoint.UFixedFromInt(100)}
	got, err := F(fixedpoint.SFixedFromInt(1000), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	threshold := fixedpoint.ParseUFixed("0.000001000000000000")
	if got.GreaterThanOrEqual(threshold) {
		t.Errorf("expected f(1000;0,10,100) to be negligible, got %s", got)
	}
}

func TestFNonNegative(t *testing.T) {
	p := Params{Mu: fixedpoint.SFixedFromInt(5), Sigma: fixedpoint.UFixedFromInt(2), K: fixedpoint.UFixedFromInt(3)}
	for _, x := range []int64{-50, -5, 0, 5, 10, 50} {
		got, err := F(fixedpoint.SFixedFromInt(x), p)
		if err != nil {
			t.Fatalf("unexpected error at x=%d: %v", x, err)
		}
		if got.Sign() < 0 {
			t.Errorf("f(%d) is negative: %s", x, got)
		}
	}
}

func TestFPeakAtMean(t *testing.T) {
	// f(mu;D) should equal lambda/(sigma*sqrt(2pi)).
	p := Params{Mu: fixedpoint.SFixedFromInt(7), Sigma: fixedpoint.UFixedFromInt(3), K: fixedpoint.UFixedFromInt(4)}
	peak, err := F(p.Mu, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lambda, err := Lambda(p.Sigma, p.K)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	denom, err := p.Sigma.Mul(Sqrt2Pi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := lambda.Div(denom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertClose(t, peak, want, "f(mu;D)")

	// The peak should also dominate nearby points.
	off, err := F(p.Mu.Add(fixedpoint.SFixedFromInt(1)), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if off.GreaterThanOrEqual(peak) {
		t.Errorf("expected peak at mean to exceed f(mu+1): peak=%s off=%s", peak, off)
	}
}

func TestFDecaysToZero(t *testing.T) {
	// At |z| = 14, f should be below 1e-12 * f(mu).
	p := Params{Mu: fixedpoint.SZero, Sigma: fixedpoint.UFixedFromInt(1), K: fixedpoint.UFixedFromInt(1)}
	peak, err := F(p.Mu, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	far, err := F(fixedpoint.SFixedFromInt(14), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bound, err := peak.Mul(fixedpoint.ParseUFixed("0.000000000001000000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if far.GreaterThan(bound) {
		t.Errorf("expected f to have decayed below %s at z=14, got %s", bound, far)
	}
}

func TestFPrimeSignChangesAtMean(t *testing.T) {
	p := Params{Mu: fixedpoint.SFixedFromInt(10), Sigma: fixedpoint.UFixedFromInt(2), K: fixedpoint.UFixedFromInt(5)}

	left, err := FPrime(fixedpoint.SFixedFromInt(5), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left.Sign() <= 0 {
		t.Errorf("expected f' > 0 left of mean, got %s", left)
	}

	right, err := FPrime(fixedpoint.SFixedFromInt(15), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if right.Sign() >= 0 {
		t.Errorf("expected f' < 0 right of mean, got %s", right)
	}

	atMean, err := FPrime(p.Mu, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !atMean.IsZero() {
		t.Errorf("expected f'(mu) = 0, got %s", atMean)
	}
}

func TestFSecondNegativeAtMean(t *testing.T) {
	// The mean is a maximum of f, so the curvature there must be negative.
	p := Params{Mu: fixedpoint.SFixedFromInt(0), Sigma: fixedpoint.UFixedFromInt(4), K: fixedpoint.UFixedFromInt(6)}
	atMean, err := FSecond(p.Mu, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atMean.Sign() >= 0 {
		t.Errorf("expected f''(mu) < 0, got %s", atMean)
	}
}

func TestSigmaMinKMaxRoundTrip(t *testing.T) {
	k := fixedpoint.UFixedFromInt(3)
	b := fixedpoint.UFixedFromInt(50)

	sMin, err := SigmaMin(k, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kBack, err := KMax(sMin, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertClose(t, kBack, k, "k_max(sigma_min(k,b),b)")
}
