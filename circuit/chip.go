package circuit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"

	"github.com/ray-project/distributed-zkml/fixedpoint"
)

// Chip builds fixed-point constraints over frontend variables at the
// model-wide scale.
type Chip struct {
	api    frontend.API
	params fixedpoint.Params
}

// NewChip constructs the fixed-point chip.
func NewChip(api frontend.API, params fixedpoint.Params) *Chip {
	return &Chip{api: api, params: params}
}

// Params returns the chip's scale.
func (c *Chip) Params() fixedpoint.Params { return c.params }

func fieldHalf() *big.Int {
	return new(big.Int).Rsh(fr.Modulus(), 1)
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }

// DivRound divides the signed value x by the positive constant divisor,
// rounding to nearest with ties (2*rem == divisor) up, the same policy
// the native gadget applies. The hint supplies (quotient, remainder,
// tie); the constraints pin them down:
//
//	x + divisor*2^BiasBits == q*divisor + r
//	r in [0, divisor), q in [0, 2^BiasedBits), tie boolean,
//	tie == 1 iff 2r >= divisor (range check on the selected slack)
//
// and the result is q + tie - 2^BiasBits.
func (c *Chip) DivRound(x frontend.Variable, divisor *big.Int) frontend.Variable {
	out, err := c.api.Compiler().NewHint(DivRoundHint, 3, x, divisor)
	if err != nil {
		panic(err)
	}
	q, r, tie := out[0], out[1], out[2]

	bias := new(big.Int).Lsh(divisor, fixedpoint.BiasBits)
	c.api.AssertIsEqual(
		c.api.Add(x, bias),
		c.api.Add(c.api.Mul(q, divisor), r),
	)

	dBits := divisor.BitLen()
	c.api.ToBinary(r, dBits)
	if new(big.Int).And(divisor, new(big.Int).Sub(divisor, big.NewInt(1))).Sign() != 0 {
		// Non power-of-two divisor: the bit decomposition alone leaves
		// slack above divisor-1.
		c.api.AssertIsLessOrEqual(r, new(big.Int).Sub(divisor, big.NewInt(1)))
	}
	c.api.ToBinary(q, fixedpoint.BiasedBits)

	c.api.AssertIsBoolean(tie)
	twiceR := c.api.Mul(r, 2)
	slack := c.api.Select(tie,
		c.api.Sub(twiceR, divisor),
		c.api.Sub(new(big.Int).Sub(divisor, big.NewInt(1)), twiceR),
	)
	c.api.ToBinary(slack, dBits)

	rounded := c.api.Add(q, tie)
	return c.api.Sub(rounded, new(big.Int).Lsh(big.NewInt(1), fixedpoint.BiasBits))
}

// Rescale brings a scale-2s intermediate back to scale s.
func (c *Chip) Rescale(x frontend.Variable) frontend.Variable {
	return c.DivRound(x, c.params.Scale())
}

// MulRescale multiplies two scale-s values and rescales the product.
func (c *Chip) MulRescale(a, b frontend.Variable) frontend.Variable {
	return c.Rescale(c.api.Mul(a, b))
}

// CheckValueBound range-checks a signed scale-s value against the tensor
// value bound by decomposing its recentered form.
func (c *Chip) CheckValueBound(x frontend.Variable) {
	bound := new(big.Int).Lsh(big.NewInt(1), fixedpoint.ValueBits)
	c.api.ToBinary(c.api.Add(x, bound), fixedpoint.ValueBits+1)
}

// IsNegative returns 1 when x represents a negative value (its residue
// lies above the field midpoint, the same rule the native Decode uses).
func (c *Chip) IsNegative(x frontend.Variable) frontend.Variable {
	cmp := c.api.Cmp(x, fieldHalf())
	return c.api.IsZero(c.api.Sub(1, cmp))
}

// Relu selects 0 for negative x, x otherwise.
func (c *Chip) Relu(x frontend.Variable) frontend.Variable {
	return c.api.Select(c.IsNegative(x), 0, x)
}
