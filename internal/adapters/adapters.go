// Package adapters implements the boundary encoding the external
// interfaces demand: every fixed-point value crossing into or out of the
// kernel is a 256-bit two's-complement integer (signed for SFixed,
// unsigned for UFixed), decimal-scaled by 10^18. This package is the only
// place that format is produced or consumed; everything else in the
// module works with internal/fixedpoint's native types.
package adapters

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
)

// wordBytes is the width of the wire integer: 256 bits.
const wordBytes = 32

// EncodeUnsigned renders a UFixed as a 32-byte big-endian unsigned
// integer, the wire format for sigma, k, b, lambda, f, and collateral.
func EncodeUnsigned(u fixedpoint.UFixed) [wordBytes]byte {
	return u.Raw().Bytes32()
}

// DecodeUnsigned parses a 32-byte big-endian unsigned integer into a
// UFixed.
func DecodeUnsigned(b [wordBytes]byte) fixedpoint.UFixed {
	raw := new(big.Int).SetBytes(b[:])
	return fixedpoint.UFixedFromBigRaw(raw)
}

// EncodeSigned renders an SFixed as a 32-byte two's-complement integer,
// the wire format for x and mu.
func EncodeSigned(s fixedpoint.SFixed) ([wordBytes]byte, error) {
	var out [wordBytes]byte
	raw := s.Raw()

	if raw.Sign() >= 0 {
		if raw.BitLen() > wordBytes*8-1 {
			return out, fmt.Errorf("adapters: %s overflows signed 256-bit range", s)
		}
		raw.FillBytes(out[:])
		return out, nil
	}

	// Two's complement of a negative value: 2^256 + raw (raw is negative).
	// raw fits the signed range only if raw >= -2^255, i.e. the wrapped
	// value has its top bit set.
	modulus := new(big.Int).Lsh(big.NewInt(1), wordBytes*8)
	wrapped := new(big.Int).Add(modulus, raw)
	if wrapped.Sign() < 0 || wrapped.BitLen() != wordBytes*8 {
		return out, fmt.Errorf("adapters: %s overflows signed 256-bit range", s)
	}
	wrapped.FillBytes(out[:])
	return out, nil
}

// DecodeSigned parses a 32-byte two's-complement integer into an SFixed.
func DecodeSigned(b [wordBytes]byte) fixedpoint.SFixed {
	raw := new(big.Int).SetBytes(b[:])
	// If the top bit is set, this represents a negative value: subtract
	// 2^256 to recover the signed magnitude.
	if b[0]&0x80 != 0 {
		modulus := new(big.Int).Lsh(big.NewInt(1), wordBytes*8)
		raw.Sub(raw, modulus)
	}
	return fixedpoint.SFixedFromRaw(raw)
}

// EncodeUnsignedHex and DecodeUnsignedHex give the same wire format as a
// "0x"-prefixed hex string, the shape most host JSON-RPC / REST layers
// actually send on the wire.
func EncodeUnsignedHex(u fixedpoint.UFixed) string {
	b := EncodeUnsigned(u)
	return "0x" + hex.EncodeToString(b[:])
}

func DecodeUnsignedHex(s string) (fixedpoint.UFixed, error) {
	b, err := decodeHexWord(s)
	if err != nil {
		return fixedpoint.UFixed{}, err
	}
	return DecodeUnsigned(b), nil
}

func EncodeSignedHex(s fixedpoint.SFixed) (string, error) {
	b, err := EncodeSigned(s)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

func DecodeSignedHex(s string) (fixedpoint.SFixed, error) {
	b, err := decodeHexWord(s)
	if err != nil {
		return fixedpoint.SFixed{}, err
	}
	return DecodeSigned(b), nil
}

func decodeHexWord(s string) ([wordBytes]byte, error) {
	var out [wordBytes]byte
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("adapters: malformed hex word %q: %w", s, err)
	}
	if len(raw) > wordBytes {
		return out, fmt.Errorf("adapters: hex word %q exceeds 256 bits", s)
	}
	copy(out[wordBytes-len(raw):], raw)
	return out, nil
}
