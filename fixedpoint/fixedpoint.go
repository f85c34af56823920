// Package fixedpoint implements the signed fixed-point representation used
// by every gadget in the circuit. A real value v is stored as the integer
// round(v * 2^ScaleBits), embedded in the BN254 scalar field with negatives
// represented as p - |x|.
//
// Rescaling (dividing a scale-2s intermediate back to scale s) rounds to
// nearest; a tie is detected by comparing twice the remainder against the
// divisor and always rounds up. The division is evaluated on a biased
// non-negative copy of the value so that negative inputs take exactly the
// same path as positive ones on every invocation.
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	// ValueBits bounds the magnitude of any scale-s value held in a tensor.
	ValueBits = 56
	// AccBits bounds the magnitude of a scale-2s intermediate (products and
	// dot-product accumulations) before it is rescaled.
	AccBits = 120
	// BiasBits is the shift applied before divide-and-round so the dividend
	// is non-negative. 2^BiasBits must exceed any AccBits-bounded magnitude.
	BiasBits = 121
	// BiasedBits bounds the biased dividend; range checks in the circuit
	// decompose quotients to this width.
	BiasedBits = 122
)

// ArithmeticError reports a fixed-point contract violation detected while
// filling the witness: an overflow past the documented bound or a divide by
// a non-positive divisor.
type ArithmeticError struct {
	Op  string
	Msg string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("fixedpoint: %s: %s", e.Op, e.Msg)
}

// Params carries the model-wide scale. All tensors in one model share it.
type Params struct {
	ScaleBits uint
}

// Scale returns 2^ScaleBits.
func (p Params) Scale() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), p.ScaleBits)
}

// FromFloat quantizes v to the nearest scale-s integer and embeds it in the
// field.
func (p Params) FromFloat(v float64) fr.Element {
	f := new(big.Float).SetFloat64(v)
	f.Mul(f, new(big.Float).SetInt(p.Scale()))
	i, _ := f.Int(nil)
	// big.Float.Int truncates; nudge to nearest.
	frac := new(big.Float).Sub(f, new(big.Float).SetInt(i))
	half := big.NewFloat(0.5)
	if v >= 0 && frac.Cmp(half) >= 0 {
		i.Add(i, big.NewInt(1))
	} else if v < 0 && frac.Cmp(new(big.Float).Neg(half)) <= 0 {
		i.Sub(i, big.NewInt(1))
	}
	return Encode(i)
}

// ToFloat recovers the approximate real value of e.
func (p Params) ToFloat(e fr.Element) float64 {
	x := Decode(e)
	f := new(big.Float).SetInt(x)
	f.Quo(f, new(big.Float).SetInt(p.Scale()))
	v, _ := f.Float64()
	return v
}

// Encode maps a signed integer into the field.
func Encode(x *big.Int) fr.Element {
	var e fr.Element
	if x.Sign() < 0 {
		n := new(big.Int).Add(fr.Modulus(), x)
		e.SetBigInt(n)
		return e
	}
	e.SetBigInt(x)
	return e
}

// EncodeInt64 is Encode for the common small-constant case.
func EncodeInt64(x int64) fr.Element {
	return Encode(big.NewInt(x))
}

// Decode maps a field element back to the signed integer it represents,
// using the field midpoint to pick the sign.
func Decode(e fr.Element) *big.Int {
	x := new(big.Int)
	e.BigInt(x)
	half := new(big.Int).Rsh(fr.Modulus(), 1)
	if x.Cmp(half) > 0 {
		x.Sub(x, fr.Modulus())
	}
	return x
}

// DecodeInt64 decodes e and asserts it fits in an int64.
func DecodeInt64(e fr.Element) (int64, error) {
	x := Decode(e)
	if !x.IsInt64() {
		return 0, &ArithmeticError{Op: "decode", Msg: "value exceeds int64 range"}
	}
	return x.Int64(), nil
}

// CheckValueBound verifies that e is a legal scale-s tensor value.
func CheckValueBound(e fr.Element) error {
	return checkBound(e, ValueBits, "value")
}

// CheckAccBound verifies that e is a legal pre-rescale intermediate.
func CheckAccBound(e fr.Element) error {
	return checkBound(e, AccBits, "accumulator")
}

func checkBound(e fr.Element, bits uint, what string) error {
	x := Decode(e)
	if new(big.Int).Abs(x).BitLen() > int(bits) {
		return &ArithmeticError{
			Op:  "bound",
			Msg: fmt.Sprintf("%s magnitude exceeds 2^%d", what, bits),
		}
	}
	return nil
}

// DivRound divides the signed value held in e by the positive integer
// divisor, rounding to nearest with ties (2*rem == divisor) rounding up.
// This is the single rounding primitive; Rescale is DivRound by 2^s.
func DivRound(e fr.Element, divisor *big.Int) (fr.Element, error) {
	if divisor.Sign() <= 0 {
		return fr.Element{}, &ArithmeticError{Op: "divround", Msg: "divisor must be positive"}
	}
	if err := CheckAccBound(e); err != nil {
		return fr.Element{}, err
	}
	q, _ := divRoundBiased(Decode(e), divisor)
	return Encode(q), nil
}

// divRoundBiased performs the biased divide-and-round on a signed integer
// and returns the signed quotient plus the tie flag. The bias is
// divisor * 2^BiasBits, so the biased quotient is exactly the signed
// rounded quotient plus 2^BiasBits for every divisor. The circuit-side
// hint mirrors this computation exactly.
func divRoundBiased(x, divisor *big.Int) (*big.Int, bool) {
	bias := new(big.Int).Lsh(divisor, BiasBits)
	biased := new(big.Int).Add(x, bias)
	q, r := new(big.Int).DivMod(biased, divisor, new(big.Int))
	twice := new(big.Int).Lsh(r, 1)
	up := twice.Cmp(divisor) >= 0
	if up {
		q.Add(q, big.NewInt(1))
	}
	q.Sub(q, new(big.Int).Lsh(big.NewInt(1), BiasBits))
	return q, up
}

// Rescale brings a scale-2s intermediate back to scale s.
func (p Params) Rescale(e fr.Element) (fr.Element, error) {
	out, err := DivRound(e, p.Scale())
	if err != nil {
		return fr.Element{}, err
	}
	if err := CheckValueBound(out); err != nil {
		return fr.Element{}, err
	}
	return out, nil
}

// MulRescale multiplies two scale-s values and rescales the product.
func (p Params) MulRescale(a, b fr.Element) (fr.Element, error) {
	var prod fr.Element
	prod.Mul(&a, &b)
	return p.Rescale(prod)
}
