package fixedpoint

import (
	"math/big"
	"testing"
)

func TestUFixedAddSub(t *testing.T) {
	a := UFixedFromInt(10)
	b := UFixedFromInt(3)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sum.Equal(UFixedFromInt(13)) {
		t.Errorf("expected 13, got %s", sum)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !diff.Equal(UFixedFromInt(7)) {
		t.Errorf("expected 7, got %s", diff)
	}

	if _, err := b.Sub(a); err == nil {
		t.Error("expected underflow error for 3 - 10")
	}
}

func TestUFixedMulDiv(t *testing.T) {
	a := UFixedFromInt(6)
	b := UFixedFromInt(7)

	prod, err := a.Mul(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prod.Equal(UFixedFromInt(42)) {
		t.Errorf("expected 42, got %s", prod)
	}

	quot, err := prod.Div(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quot.Equal(a) {
		t.Errorf("expected round-trip to %s, got %s", a, quot)
	}

	if _, err := a.Div(UZero); err == nil {
		t.Error("expected DivByZero error")
	}
}

func TestUFixedDivByZero(t *testing.T) {
	_, err := UFixedFromInt(5).Div(UZero)
	if err == nil {
		t.Fatal("expected error")
	}
	if e, ok := err.(*Error); !ok || e.Kind != KindDivByZero {
		t.Errorf("expected DivByZero, got %v", err)
	}
}

func TestSFixedMulDivSigns(t *testing.T) {
	a := SFixedFromInt(-6)
	b := SFixedFromInt(7)

	prod := a.Mul(b)
	if !prod.Equal(SFixedFromInt(-42)) {
		t.Errorf("expected -42, got %s", prod)
	}

	quot, err := prod.Div(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quot.Equal(a) {
		t.Errorf("expected -6, got %s", quot)
	}
}

func TestSFixedDivTruncatesTowardZero(t *testing.T) {
	// a is -7 raw units (-7e-18) and b is 2.0, so a/b = (a*P)/b has the
	// raw value -7*P/(2*P) = -3.5. Truncation toward zero gives -3 raw
	// units; flooring would give -4.
	a := SFixedFromRaw(big.NewInt(-7))
	b := SFixedFromInt(2)
	q, err := a.Div(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Sign() >= 0 {
		t.Errorf("expected negative quotient, got %s", q)
	}
	if !q.Equal(SFixedFromRaw(big.NewInt(-3))) {
		t.Errorf("expected -3 raw units (truncated toward zero), got raw %s", q.Raw())
	}
}

func TestUFixedSqrtRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 2, 4, 9, 16, 100, 123456}
	for _, c := range cases {
		x := UFixedFromInt(c)
		root := x.Sqrt()
		back, err := root.Mul(root)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if x.IsZero() {
			if !back.IsZero() {
				t.Errorf("sqrt(0)^2 should be 0, got %s", back)
			}
			continue
		}
		assertCloseUFixed(t, back, x, "sqrt round-trip")
	}
}

func TestSFixedSqrtNegative(t *testing.T) {
	_, err := SFixedFromInt(-1).Sqrt()
	if err == nil {
		t.Fatal("expected NegativeSqrt error")
	}
	if e, ok := err.(*Error); !ok || e.Kind != KindNegativeSqrt {
		t.Errorf("expected NegativeSqrt, got %v", err)
	}
}

func TestExpZero(t *testing.T) {
	r, err := SZero.Exp()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Equal(UOne) {
		t.Errorf("expected exp(0)=1, got %s", r)
	}
}

func TestExpUnderflowReturnsZero(t *testing.T) {
	r, err := SFixedFromInt(-42).Exp()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsZero() {
		t.Errorf("expected exp(-42) to underflow to zero, got %s", r)
	}
}

func TestExpOverflowErrors(t *testing.T) {
	_, err := SFixedFromInt(51).Exp()
	if err == nil {
		t.Fatal("expected ExpInputTooLarge error")
	}
	if e, ok := err.(*Error); !ok || e.Kind != KindExpInputTooLarge {
		t.Errorf("expected ExpInputTooLarge, got %v", err)
	}
}

func TestExpKnownValues(t *testing.T) {
	// exp(1) ~= 2.718281828459045235
	one := SFixedFromInt(1)
	got, err := one.Exp()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := mustParseUFixed("2.718281828459045235")
	assertCloseUFixed(t, got, want, "exp(1)")
}

func TestExpReciprocalIdentity(t *testing.T) {
	s := SFixedFromInt(3)
	pos, err := s.Exp()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	neg, err := s.Neg().Exp()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// pos * neg should be approximately P^2/P = P (i.e. exp(3)*exp(-3)=1).
	prod, err := pos.Mul(neg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertCloseUFixed(t, prod, UOne, "exp(3)*exp(-3)")
}

// assertCloseUFixed checks relative error within 1e-9, generous enough
// for Taylor-series truncation plus fixed-point rounding noise.
func assertCloseUFixed(t *testing.T, got, want UFixed, label string) {
	t.Helper()
	var diff UFixed
	var err error
	if got.GreaterThanOrEqual(want) {
		diff, err = got.Sub(want)
	} else {
		diff, err = want.Sub(got)
	}
	if err != nil {
		t.Fatalf("%s: unexpected error computing diff: %v", label, err)
	}
	tolerance, _ := want.Mul(mustParseUFixed("0.000000001"))
	if diff.GreaterThan(tolerance) {
		t.Errorf("%s: got %s, want %s (diff %s exceeds tolerance %s)", label, got, want, diff, tolerance)
	}
}
