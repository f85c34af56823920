package commitments

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"

	"github.com/ray-project/distributed-zkml/fixedpoint"
)

func leafFrom(t *testing.T, values ...int64) fr.Element {
	t.Helper()
	elems := make([]fr.Element, len(values))
	for i, v := range values {
		elems[i] = fixedpoint.EncodeInt64(v)
	}
	packed, err := Pack(elems)
	require.NoError(t, err)
	return HashLeaf(packed)
}

func TestPackEmpty(t *testing.T) {
	_, err := Pack(nil)
	require.ErrorIs(t, err, ErrEmptyLeaves)
}

func TestPackGroups(t *testing.T) {
	// Five values pack into three elements, the last with a zero low slot.
	elems := make([]fr.Element, 5)
	for i := range elems {
		elems[i] = fixedpoint.EncodeInt64(int64(i + 1))
	}
	packed, err := Pack(elems)
	require.NoError(t, err)
	require.Len(t, packed, 3)
}

func TestPackDistinguishesSigns(t *testing.T) {
	a, err := Pack([]fr.Element{fixedpoint.EncodeInt64(5)})
	require.NoError(t, err)
	b, err := Pack([]fr.Element{fixedpoint.EncodeInt64(-5)})
	require.NoError(t, err)
	require.False(t, a[0].Equal(&b[0]))
}

func TestBuildTreeEmpty(t *testing.T) {
	_, err := BuildTree(nil)
	require.ErrorIs(t, err, ErrEmptyLeaves)
}

func TestSingleLeafIsRoot(t *testing.T) {
	leaf := leafFrom(t, 42)
	tree, err := BuildTree([]fr.Element{leaf})
	require.NoError(t, err)
	root := tree.Root()
	require.True(t, leaf.Equal(&root))
}

func TestCarryUpOddLevel(t *testing.T) {
	l0, l1, l2 := leafFrom(t, 1), leafFrom(t, 2), leafFrom(t, 3)
	tree, err := BuildTree([]fr.Element{l0, l1, l2})
	require.NoError(t, err)
	want := HashNodes(HashNodes(l0, l1), l2)
	root := tree.Root()
	require.True(t, want.Equal(&root))
}

func TestRootOrderSensitive(t *testing.T) {
	l0, l1 := leafFrom(t, 1), leafFrom(t, 2)
	a, err := BuildTree([]fr.Element{l0, l1})
	require.NoError(t, err)
	b, err := BuildTree([]fr.Element{l1, l0})
	require.NoError(t, err)
	ra, rb := a.Root(), b.Root()
	require.False(t, ra.Equal(&rb))
}

func TestRootValueSensitive(t *testing.T) {
	a, err := BuildTree([]fr.Element{leafFrom(t, 1), leafFrom(t, 2)})
	require.NoError(t, err)
	b, err := BuildTree([]fr.Element{leafFrom(t, 1), leafFrom(t, 3)})
	require.NoError(t, err)
	ra, rb := a.Root(), b.Root()
	require.False(t, ra.Equal(&rb))
}

func TestOpenVerifyAllPositions(t *testing.T) {
	for n := 1; n <= 7; n++ {
		leaves := make([]fr.Element, n)
		for i := range leaves {
			leaves[i] = leafFrom(t, int64(i*10))
		}
		tree, err := BuildTree(leaves)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			path, err := tree.Open(i)
			require.NoError(t, err)
			require.True(t, VerifyPath(leaves[i], path, tree.Root()), "n=%d i=%d", n, i)

			shape, err := PathShape(n, i)
			require.NoError(t, err)
			require.Len(t, path, len(shape))
			for j := range shape {
				require.Equal(t, shape[j].Right, path[j].Right)
			}
		}
	}
}

func TestVerifyPathRejectsWrongLeaf(t *testing.T) {
	leaves := []fr.Element{leafFrom(t, 1), leafFrom(t, 2), leafFrom(t, 3), leafFrom(t, 4)}
	tree, err := BuildTree(leaves)
	require.NoError(t, err)
	path, err := tree.Open(2)
	require.NoError(t, err)
	require.False(t, VerifyPath(leaves[1], path, tree.Root()))
}

func TestOpenOutOfRange(t *testing.T) {
	tree, err := BuildTree([]fr.Element{leafFrom(t, 1)})
	require.NoError(t, err)
	_, err = tree.Open(1)
	require.Error(t, err)
	_, err = tree.Open(-1)
	require.Error(t, err)
}

func TestVerifyRoot(t *testing.T) {
	groups := [][]fr.Element{
		{fixedpoint.EncodeInt64(1), fixedpoint.EncodeInt64(2)},
		{fixedpoint.EncodeInt64(-3)},
	}
	leaves := make([]fr.Element, len(groups))
	for i, g := range groups {
		packed, err := Pack(g)
		require.NoError(t, err)
		leaves[i] = HashLeaf(packed)
	}
	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	ok, err := VerifyRoot(groups, tree.Root())
	require.NoError(t, err)
	require.True(t, ok)

	groups[1][0] = fixedpoint.EncodeInt64(3)
	ok, err = VerifyRoot(groups, tree.Root())
	require.NoError(t, err)
	require.False(t, ok)
}
