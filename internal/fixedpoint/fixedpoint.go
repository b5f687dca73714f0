// Package fixedpoint implements deterministic 18-decimal fixed-point
// arithmetic for the distribution-market kernel: signed and unsigned
// values, each representing v/P where P = 10^18, with add/sub/mul/div,
// integer square root, and a bounded-term natural exponential.
//
// Unsigned values are backed by holiman/uint256.Int so that every
// in-range result can be encoded as a 256-bit two's-complement integer at
// the kernel boundary (see internal/adapters). Signed values are backed
// by math/big.Int directly — uint256 has no signed counterpart, and no
// other 256-bit signed integer library appears anywhere in the retrieved
// examples, so the signed half of this layer is grounded on the standard
// library (see DESIGN.md).
//
// Every multiply and divide widens its intermediate product through
// math/big before narrowing back to the target width, so a*b/P never
// truncates silently even when a*b itself would overflow 256 bits.
// Division truncates toward zero, matching the rounding policy in the
// numeric contract.
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// DecimalPlaces is the number of decimal digits in the fixed-point scale
// P = 10^DecimalPlaces: a stored integer n represents the real value n/P.
const DecimalPlaces = 18

// Kind discriminates the failure modes a fixed-point operation can raise.
type Kind string

const (
	KindDivByZero        Kind = "DivByZero"
	KindOverflow         Kind = "Overflow"
	KindNegativeSqrt     Kind = "NegativeSqrt"
	KindExpInputTooLarge Kind = "ExpInputTooLarge"
)

// Error is the discriminated result type every failable fixed-point
// operation returns on failure. It implements the error interface so
// callers can use errors.Is against the package-level sentinels below.
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

// Sentinels usable with errors.Is(err, fixedpoint.ErrDivByZero) and so on.
var (
	ErrDivByZero        = &Error{Kind: KindDivByZero}
	ErrOverflow         = &Error{Kind: KindOverflow}
	ErrNegativeSqrt     = &Error{Kind: KindNegativeSqrt}
	ErrExpInputTooLarge = &Error{Kind: KindExpInputTooLarge}
)

// P is the fixed-point scale as a big.Int, used for every widened
// multiply/divide.
var P = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalPlaces), nil)

// PU is P as an unsigned 256-bit integer.
var PU = mustUint256FromBig(P)

func mustUint256FromBig(b *big.Int) *uint256.Int {
	z := new(uint256.Int)
	z.SetFromBig(b)
	return z
}

// maxUint256 is 2^256 - 1, used for overflow range checks.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ---------------------------------------------------------------------
// UFixed: unsigned 18-decimal fixed point, backed by uint256.Int.
// ---------------------------------------------------------------------

// UFixed is an unsigned fixed-point value. The zero value represents 0.
type UFixed struct {
	v uint256.Int
}

// UFixedFromRaw builds a UFixed directly from its stored 256-bit integer
// (i.e. the value already multiplied by P). Used at the boundary when
// decoding wire values.
func UFixedFromRaw(raw *uint256.Int) UFixed {
	var u UFixed
	u.v.Set(raw)
	return u
}

// UFixedFromBigRaw builds a UFixed from a raw stored value expressed as a
// math/big.Int, e.g. when a store layer reads a NUMERIC column back as
// decimal text. The value must already be within the unsigned 256-bit
// range.
func UFixedFromBigRaw(raw *big.Int) UFixed {
	var u UFixed
	u.v.SetFromBig(raw)
	return u
}

// UFixedFromInt builds a UFixed representing the integer n (n.0).
func UFixedFromInt(n uint64) UFixed {
	var u UFixed
	u.v.SetUint64(n)
	u.v.Mul(&u.v, PU)
	return u
}

// UZero is the additive identity.
var UZero = UFixed{}

// UOne is the multiplicative identity (1.0).
var UOne = UFixedFromInt(1)

// Raw returns the underlying 256-bit stored integer (value * P).
func (a UFixed) Raw() *uint256.Int {
	r := a.v
	return &r
}

func (a UFixed) IsZero() bool { return a.v.IsZero() }

// Sign returns 0 if a is zero and 1 otherwise (UFixed is always non-negative).
func (a UFixed) Sign() int {
	if a.v.IsZero() {
		return 0
	}
	return 1
}

func (a UFixed) Cmp(b UFixed) int { return a.v.Cmp(&b.v) }

func (a UFixed) LessThan(b UFixed) bool           { return a.Cmp(b) < 0 }
func (a UFixed) LessThanOrEqual(b UFixed) bool    { return a.Cmp(b) <= 0 }
func (a UFixed) GreaterThan(b UFixed) bool        { return a.Cmp(b) > 0 }
func (a UFixed) GreaterThanOrEqual(b UFixed) bool { return a.Cmp(b) >= 0 }
func (a UFixed) Equal(b UFixed) bool              { return a.Cmp(b) == 0 }

func (a UFixed) Add(b UFixed) (UFixed, error) {
	var out UFixed
	_, overflow := out.v.AddOverflow(&a.v, &b.v)
	if overflow {
		return UFixed{}, newErr(KindOverflow, "add: %s + %s overflows 256 bits", a, b)
	}
	return out, nil
}

// Sub computes a - b. b must not exceed a: the kernel's quantities are
// unsigned by construction, so underflow is always a caller bug.
func (a UFixed) Sub(b UFixed) (UFixed, error) {
	if a.LessThan(b) {
		return UFixed{}, newErr(KindOverflow, "sub: %s - %s underflows unsigned range", a, b)
	}
	var out UFixed
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

// Mul computes (a*b)/P, widening the intermediate product through
// math/big so the result is exact up to the final truncating division.
func (a UFixed) Mul(b UFixed) (UFixed, error) {
	wide := new(big.Int).Mul(a.v.ToBig(), b.v.ToBig())
	wide.Quo(wide, P)
	return ufixedFromWideBig(wide, a, b, "mul")
}

// Div computes (a*P)/b, truncating toward zero.
func (a UFixed) Div(b UFixed) (UFixed, error) {
	if b.IsZero() {
		return UFixed{}, newErr(KindDivByZero, "div: %s / 0", a)
	}
	wide := new(big.Int).Mul(a.v.ToBig(), P)
	wide.Quo(wide, b.v.ToBig())
	return ufixedFromWideBig(wide, a, b, "div")
}

func ufixedFromWideBig(wide *big.Int, a, b UFixed, op string) (UFixed, error) {
	if wide.Sign() < 0 || wide.Cmp(maxUint256) > 0 {
		return UFixed{}, newErr(KindOverflow, "%s: %s, %s overflows 256 bits", op, a, b)
	}
	var out UFixed
	out.v.SetFromBig(wide)
	return out, nil
}

// Min/Max are plain helpers used throughout the kernel and market layers.
func UMin(a, b UFixed) UFixed {
	if a.LessThan(b) {
		return a
	}
	return b
}

func UMax(a, b UFixed) UFixed {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func (a UFixed) String() string {
	// Render with DecimalPlaces fractional digits, trimming to the raw
	// integer plus a decimal point for readability in logs/tests.
	s := a.v.ToBig().String()
	if len(s) <= DecimalPlaces {
		pad := make([]byte, DecimalPlaces-len(s))
		for i := range pad {
			pad[i] = '0'
		}
		return "0." + string(pad) + s
	}
	intPart := s[:len(s)-DecimalPlaces]
	fracPart := s[len(s)-DecimalPlaces:]
	return intPart + "." + fracPart
}

// ToSigned reinterprets a UFixed as an SFixed with the same magnitude.
func (a UFixed) ToSigned() SFixed {
	return SFixed{v: *a.v.ToBig()}
}

// MarshalJSON renders the decimal string form, quoted, matching how
// shopspring/decimal marshals its own values: JSON numbers lose precision
// past float64, so every fixed-point value crosses the JSON boundary as a
// string.
func (a UFixed) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses either a quoted decimal string or a bare JSON
// number into a UFixed.
func (a *UFixed) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseSignedOrUnsignedDecimal(s)
	if err != nil {
		return err
	}
	if parsed.Sign() < 0 {
		return newErr(KindOverflow, "unmarshal UFixed: negative value %s", s)
	}
	*a = parsed.ToUnsigned()
	return nil
}

// ---------------------------------------------------------------------
// SFixed: signed 18-decimal fixed point, backed by big.Int.
// ---------------------------------------------------------------------

// SFixed is a signed fixed-point value. The zero value represents 0.
type SFixed struct {
	v big.Int
}

// SFixedFromRaw builds an SFixed directly from its stored signed integer
// (value * P), e.g. when decoding a two's-complement wire value.
func SFixedFromRaw(raw *big.Int) SFixed {
	var s SFixed
	s.v.Set(raw)
	return s
}

// SFixedFromInt builds an SFixed representing the integer n.
func SFixedFromInt(n int64) SFixed {
	var s SFixed
	s.v.Mul(big.NewInt(n), P)
	return s
}

var SZero = SFixed{}
var SOne = SFixedFromInt(1)

// Raw returns the underlying signed stored integer (value * P).
func (a SFixed) Raw() *big.Int {
	r := new(big.Int).Set(&a.v)
	return r
}

func (a SFixed) IsZero() bool { return a.v.Sign() == 0 }
func (a SFixed) Sign() int    { return a.v.Sign() }

func (a SFixed) Cmp(b SFixed) int { return a.v.Cmp(&b.v) }

func (a SFixed) LessThan(b SFixed) bool           { return a.Cmp(b) < 0 }
func (a SFixed) LessThanOrEqual(b SFixed) bool    { return a.Cmp(b) <= 0 }
func (a SFixed) GreaterThan(b SFixed) bool        { return a.Cmp(b) > 0 }
func (a SFixed) GreaterThanOrEqual(b SFixed) bool { return a.Cmp(b) >= 0 }
func (a SFixed) Equal(b SFixed) bool              { return a.Cmp(b) == 0 }

func (a SFixed) Add(b SFixed) SFixed {
	var out SFixed
	out.v.Add(&a.v, &b.v)
	return out
}

func (a SFixed) Sub(b SFixed) SFixed {
	var out SFixed
	out.v.Sub(&a.v, &b.v)
	return out
}

func (a SFixed) Neg() SFixed {
	var out SFixed
	out.v.Neg(&a.v)
	return out
}

func (a SFixed) Abs() UFixed {
	var out UFixed
	abs := new(big.Int).Abs(&a.v)
	out.v.SetFromBig(abs)
	return out
}

// Mul computes (a*b)/P, truncating toward zero. big.Int multiplication is
// exact (arbitrary precision), so this is already the "512-bit or
// equivalent" widened product the numeric contract requires.
func (a SFixed) Mul(b SFixed) SFixed {
	var out SFixed
	out.v.Mul(&a.v, &b.v)
	out.v.Quo(&out.v, P)
	return out
}

// Div computes (a*P)/b, truncating toward zero.
func (a SFixed) Div(b SFixed) (SFixed, error) {
	if b.IsZero() {
		return SFixed{}, newErr(KindDivByZero, "div: %s / 0", a)
	}
	var out SFixed
	out.v.Mul(&a.v, P)
	out.v.Quo(&out.v, &b.v)
	return out, nil
}

func (a SFixed) String() string {
	neg := a.v.Sign() < 0
	mag := new(big.Int).Abs(&a.v)
	u := UFixed{}
	u.v.SetFromBig(mag)
	s := u.String()
	if neg {
		return "-" + s
	}
	return s
}

// ToUnsigned returns the unsigned magnitude |a|; the sign is discarded.
// Panics are never raised: callers that need the unsigned value only
// when non-negative should check Sign() first.
func (a SFixed) ToUnsigned() UFixed {
	var out UFixed
	out.v.SetFromBig(new(big.Int).Abs(&a.v))
	return out
}

// MarshalJSON renders the decimal string form, quoted.
func (a SFixed) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses either a quoted decimal string or a bare JSON
// number into an SFixed.
func (a *SFixed) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseSignedOrUnsignedDecimal(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func SMin(a, b SFixed) SFixed {
	if a.LessThan(b) {
		return a
	}
	return b
}

func SMax(a, b SFixed) SFixed {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
