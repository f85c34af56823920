// Package circuit holds the in-circuit counterparts of the native gadget
// layer: the fixed-point chip, the lookup-table activations, the MiMC
// Merkle chip, and the per-chunk circuit that ties them together. Every
// chip constrains exactly the computation its native twin performs, so a
// witness produced by the executor always satisfies the circuit.
package circuit

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/constraint/solver"

	"github.com/ray-project/distributed-zkml/fixedpoint"
)

func init() {
	solver.RegisterHint(DivRoundHint)
}

// DivRoundHint computes the biased floor quotient, remainder, and tie bit
// for the divide-and-round gadget. Inputs: [value, divisor]; outputs:
// [quotient, remainder, tie]. The quotient is of the biased dividend
// value + divisor*2^BiasBits, so it is non-negative for any in-bound
// signed value; the constraints in Chip.DivRound force these outputs to
// be the only consistent assignment.
func DivRoundHint(field *big.Int, inputs, outputs []*big.Int) error {
	if len(inputs) != 2 || len(outputs) != 3 {
		return fmt.Errorf("divround hint: want 2 inputs, 3 outputs")
	}
	x := new(big.Int).Set(inputs[0])
	divisor := inputs[1]
	if divisor.Sign() <= 0 {
		return fmt.Errorf("divround hint: divisor must be positive")
	}

	half := new(big.Int).Rsh(field, 1)
	if x.Cmp(half) > 0 {
		x.Sub(x, field)
	}

	bias := new(big.Int).Lsh(divisor, fixedpoint.BiasBits)
	biased := new(big.Int).Add(x, bias)
	if biased.Sign() < 0 {
		return fmt.Errorf("divround hint: value below -2^%d * divisor", fixedpoint.BiasBits)
	}

	q, r := new(big.Int).DivMod(biased, divisor, new(big.Int))
	outputs[0].Set(q)
	outputs[1].Set(r)
	if new(big.Int).Lsh(r, 1).Cmp(divisor) >= 0 {
		outputs[2].SetInt64(1)
	} else {
		outputs[2].SetInt64(0)
	}
	return nil
}
