// Package commitments implements the privacy-preserving commitment
// subsystem: packing bounded values into field elements, the MiMC-based
// leaf hash, and the binary Merkle tree a chunk uses to attest to the
// values it exposes without revealing them.
package commitments

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/ray-project/distributed-zkml/fixedpoint"
)

// Errors of the commitment subsystem. Both are build-time conditions and
// abort the affected chunk.
var (
	ErrEmptyLeaves  = errors.New("commitments: empty leaf set")
	ErrPackOverflow = errors.New("commitments: value exceeds packed slot width")
)

const (
	// SlotBits is the fixed bit width of one packed slot.
	SlotBits = 120
	// SlotsPerElement packs two slots per field element (240 < 254 bits).
	SlotsPerElement = 2
)

// slotBias recenters signed values into [0, 2^SlotBits); slotShift places
// slots in big-endian order (first value in the high slot).
var (
	slotBias  = new(big.Int).Lsh(big.NewInt(1), SlotBits-1)
	slotShift = new(big.Int).Lsh(big.NewInt(1), SlotBits)
)

// Pack folds signed bounded values into field elements, SlotsPerElement
// per element in big-endian slot order. Each value is recentered by
// 2^(SlotBits-1); a recentered value outside [0, 2^SlotBits) is
// ErrPackOverflow. A trailing partial group leaves its low slots zero.
func Pack(values []fr.Element) ([]fr.Element, error) {
	if len(values) == 0 {
		return nil, ErrEmptyLeaves
	}
	packed := make([]fr.Element, 0, (len(values)+SlotsPerElement-1)/SlotsPerElement)
	for i := 0; i < len(values); i += SlotsPerElement {
		acc := new(big.Int)
		for s := 0; s < SlotsPerElement; s++ {
			acc.Mul(acc, slotShift)
			if i+s >= len(values) {
				continue
			}
			biased := new(big.Int).Add(fixedpoint.Decode(values[i+s]), slotBias)
			if biased.Sign() < 0 || biased.Cmp(slotShift) >= 0 {
				return nil, fmt.Errorf("%w: value at %d", ErrPackOverflow, i+s)
			}
			acc.Add(acc, biased)
		}
		var e fr.Element
		e.SetBigInt(acc)
		packed = append(packed, e)
	}
	return packed, nil
}
