package circuit

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
	stdmimc "github.com/consensys/gnark/std/hash/mimc"

	"github.com/ray-project/distributed-zkml/commitments"
)

// MerkleChip mirrors the native commitment subsystem in-circuit: the same
// slot packing, the same MiMC leaf and node hashes, the same carry-up
// policy for odd levels. Digests computed here equal the native ones on
// identical inputs.
type MerkleChip struct {
	api frontend.API
}

// NewMerkleChip constructs the commitment chip.
func NewMerkleChip(api frontend.API) *MerkleChip {
	return &MerkleChip{api: api}
}

// Pack folds signed bounded values into slot groups, recentering each by
// 2^(SlotBits-1). The bit decomposition of the recentered value doubles
// as its range proof.
func (m *MerkleChip) Pack(values []frontend.Variable) []frontend.Variable {
	slotBias := new(big.Int).Lsh(big.NewInt(1), commitments.SlotBits-1)
	slotShift := new(big.Int).Lsh(big.NewInt(1), commitments.SlotBits)

	packed := make([]frontend.Variable, 0,
		(len(values)+commitments.SlotsPerElement-1)/commitments.SlotsPerElement)
	for i := 0; i < len(values); i += commitments.SlotsPerElement {
		acc := frontend.Variable(0)
		for s := 0; s < commitments.SlotsPerElement; s++ {
			acc = m.api.Mul(acc, slotShift)
			if i+s >= len(values) {
				continue
			}
			biased := m.api.Add(values[i+s], slotBias)
			m.api.ToBinary(biased, commitments.SlotBits)
			acc = m.api.Add(acc, biased)
		}
		packed = append(packed, acc)
	}
	return packed
}

// HashLeaf maps one packed group to its digest.
func (m *MerkleChip) HashLeaf(packed []frontend.Variable) frontend.Variable {
	h, err := stdmimc.NewMiMC(m.api)
	if err != nil {
		panic(err)
	}
	h.Write(packed...)
	return h.Sum()
}

// HashNodes combines two child digests into their parent.
func (m *MerkleChip) HashNodes(left, right frontend.Variable) frontend.Variable {
	h, err := stdmimc.NewMiMC(m.api)
	if err != nil {
		panic(err)
	}
	h.Write(left, right)
	return h.Sum()
}

// Root builds the tree over the given leaves and returns its root,
// carrying the last node up unchanged at odd levels.
func (m *MerkleChip) Root(leaves []frontend.Variable) frontend.Variable {
	level := append([]frontend.Variable(nil), leaves...)
	for len(level) > 1 {
		next := make([]frontend.Variable, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, m.HashNodes(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

// VerifyPath walks a membership path from a leaf digest to the expected
// root. Directions come from the static step shape, so the walk costs no
// selectors.
func (m *MerkleChip) VerifyPath(leaf frontend.Variable, siblings []frontend.Variable, shape []commitments.StepShape, root frontend.Variable) {
	cur := leaf
	for i, step := range shape {
		if step.Right {
			cur = m.HashNodes(siblings[i], cur)
		} else {
			cur = m.HashNodes(cur, siblings[i])
		}
	}
	m.api.AssertIsEqual(cur, root)
}
