package commitments

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// HashLeaf maps a packed value group to a single digest through the
// algebraic hash. The same MiMC permutation is evaluated in-circuit, so a
// chunk can prove knowledge of the preimage without exposing it.
func HashLeaf(packed []fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for _, e := range packed {
		b := e.Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// HashNodes combines two child digests into their parent.
func HashNodes(left, right fr.Element) fr.Element {
	h := mimc.NewMiMC()
	lb, rb := left.Bytes(), right.Bytes()
	h.Write(lb[:])
	h.Write(rb[:])
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// Tree is a binary Merkle tree over an ordered leaf list. At any level
// with an odd node count the last node is carried up unchanged, never
// duplicated (duplication would let distinct leaf sets collide).
// A single leaf is its own root.
type Tree struct {
	levels [][]fr.Element // levels[0] = leaves
}

// BuildTree builds the tree bottom-up. An empty leaf list is
// ErrEmptyLeaves.
func BuildTree(leaves []fr.Element) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeaves
	}
	level := append([]fr.Element(nil), leaves...)
	t := &Tree{levels: [][]fr.Element{level}}
	for len(level) > 1 {
		next := make([]fr.Element, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, HashNodes(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// Root returns the root digest.
func (t *Tree) Root() fr.Element {
	return t.levels[len(t.levels)-1][0]
}

// NumLeaves returns the leaf count.
func (t *Tree) NumLeaves() int {
	return len(t.levels[0])
}

// PathStep is one membership-path element: the sibling digest and whether
// the current node sits on the right of the pair. Levels where the node
// was carried up contribute no step.
type PathStep struct {
	Sibling fr.Element
	Right   bool
}

// StepShape is the static skeleton of a PathStep: everything except the
// sibling digest. Shapes depend only on (leaf index, leaf count), so the
// in-circuit verifier needs no direction selectors.
type StepShape struct {
	Right bool
}

// PathShape returns the step skeleton for a leaf position in a tree of
// the given size.
func PathShape(numLeaves, index int) ([]StepShape, error) {
	if index < 0 || index >= numLeaves {
		return nil, fmt.Errorf("commitments: leaf index %d outside tree of %d", index, numLeaves)
	}
	var shape []StepShape
	n, j := numLeaves, index
	for n > 1 {
		if j == n-1 && n%2 == 1 {
			// carried up, no sibling this level
		} else {
			shape = append(shape, StepShape{Right: j%2 == 1})
		}
		j /= 2
		n = (n + 1) / 2
	}
	return shape, nil
}

// Open produces the membership path for one leaf.
func (t *Tree) Open(index int) ([]PathStep, error) {
	shape, err := PathShape(t.NumLeaves(), index)
	if err != nil {
		return nil, err
	}
	steps := make([]PathStep, 0, len(shape))
	n, j := t.NumLeaves(), index
	for lvl := 0; n > 1; lvl++ {
		if !(j == n-1 && n%2 == 1) {
			steps = append(steps, PathStep{
				Sibling: t.levels[lvl][j^1],
				Right:   j%2 == 1,
			})
		}
		j /= 2
		n = (n + 1) / 2
	}
	return steps, nil
}

// VerifyPath recomputes the root from a leaf digest and its path.
func VerifyPath(leaf fr.Element, path []PathStep, root fr.Element) bool {
	cur := leaf
	for _, step := range path {
		if step.Right {
			cur = HashNodes(step.Sibling, cur)
		} else {
			cur = HashNodes(cur, step.Sibling)
		}
	}
	return cur.Equal(&root)
}

// VerifyRoot repacks the given value groups, rebuilds the tree, and
// checks the root. Each inner slice is one leaf's raw values.
func VerifyRoot(valueGroups [][]fr.Element, root fr.Element) (bool, error) {
	leaves := make([]fr.Element, 0, len(valueGroups))
	for _, values := range valueGroups {
		packed, err := Pack(values)
		if err != nil {
			return false, err
		}
		leaves = append(leaves, HashLeaf(packed))
	}
	t, err := BuildTree(leaves)
	if err != nil {
		return false, err
	}
	r := t.Root()
	return r.Equal(&root), nil
}
