package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/layers"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

var testParams = fixedpoint.Params{ScaleBits: 8}

// chainGraph is x -> Square -> Relu -> Mul(self) -> Add(x).
func chainGraph() *model.Graph {
	return &model.Graph{
		Layers: []model.LayerConfig{
			{Op: model.OpSquare, Inputs: []int{0}, Outputs: []int{1}},
			{Op: model.OpRelu, Inputs: []int{1}, Outputs: []int{2}},
			{Op: model.OpMul, Inputs: []int{2, 2}, Outputs: []int{3}},
			{Op: model.OpAdd, Inputs: []int{3, 0}, Outputs: []int{4}},
		},
		InputIndices:  []int{0},
		OutputIndices: []int{4},
	}
}

// skipGraph exposes a tensor consumed by a non-adjacent chunk when split
// at [1, 3].
func skipGraph() *model.Graph {
	return &model.Graph{
		Layers: []model.LayerConfig{
			{Op: model.OpSquare, Inputs: []int{0}, Outputs: []int{1}},
			{Op: model.OpRelu, Inputs: []int{1}, Outputs: []int{2}},
			{Op: model.OpSquare, Inputs: []int{2}, Outputs: []int{3}},
			{Op: model.OpAdd, Inputs: []int{3, 1}, Outputs: []int{4}},
		},
		InputIndices:  []int{0},
		OutputIndices: []int{4},
	}
}

func scalarInput(v float64) map[int]*tensor.Tensor {
	s := tensor.New(1)
	s.Data[0] = testParams.FromFloat(v)
	return map[int]*tensor.Tensor{0: s}
}

func TestPartitionChain(t *testing.T) {
	chunks, err := Partition(chainGraph(), []int{2})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	require.Equal(t, 0, chunks[0].Start)
	require.Equal(t, 2, chunks[0].End)
	require.False(t, chunks[0].Final)
	require.Equal(t, []int{0}, chunks[0].Direct)
	require.Empty(t, chunks[0].Linked)
	require.Empty(t, chunks[0].Carried)
	require.Equal(t, []int{2}, chunks[0].Outputs)

	require.True(t, chunks[1].Final)
	require.Equal(t, []int{0}, chunks[1].Direct)
	require.Equal(t, []int{2}, chunks[1].Linked)
	require.Empty(t, chunks[1].Carried)
	require.Equal(t, []int{4}, chunks[1].Outputs)
}

func TestPartitionCarriesSkippedTensor(t *testing.T) {
	chunks, err := Partition(skipGraph(), []int{1, 3})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	require.Equal(t, []int{1}, chunks[0].Outputs)

	// The middle chunk consumes tensor 1 and must also re-expose it for
	// the final chunk.
	require.Equal(t, []int{1}, chunks[1].Linked)
	require.Equal(t, []int{1}, chunks[1].Carried)
	require.Equal(t, []int{1, 3}, chunks[1].Outputs)

	require.Equal(t, []int{1, 3}, chunks[2].Linked)
	require.Equal(t, []int{4}, chunks[2].Outputs)
}

func TestPartitionRejectsBadBoundaries(t *testing.T) {
	g := chainGraph()
	for _, bad := range [][]int{{0}, {4}, {2, 2}, {3, 1}, {-1}} {
		_, err := Partition(g, bad)
		var structural *model.StructuralError
		require.ErrorAs(t, err, &structural, "boundaries %v", bad)
	}
}

func TestPartitionNoBoundaries(t *testing.T) {
	chunks, err := Partition(chainGraph(), nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.True(t, chunks[0].Final)
	require.Equal(t, []int{4}, chunks[0].Outputs)
}

// TestChunkedMatchesUnchunked runs the chain whole and in two chunks and
// requires identical final values.
func TestChunkedMatchesUnchunked(t *testing.T) {
	g := chainGraph()
	reg := layers.NewRegistry(layers.PrepareTables(testParams))

	full, err := layers.Execute(g.Layers, scalarInput(7), reg)
	require.NoError(t, err)
	want, ok := full.Get(4)
	require.True(t, ok)

	chunks, err := Partition(g, []int{2})
	require.NoError(t, err)

	res0, err := ExecuteChunk(g, &chunks[0], scalarInput(7), reg)
	require.NoError(t, err)

	inputs1 := scalarInput(7)
	inputs1[2] = res0.Outputs[2]
	res1, err := ExecuteChunk(g, &chunks[1], inputs1, reg)
	require.NoError(t, err)

	got := res1.Outputs[4]
	require.True(t, want.Data[0].Equal(&got.Data[0]))

	v, err := fixedpoint.DecodeInt64(got.Data[0])
	require.NoError(t, err)
	require.Equal(t, int64(2408<<8), v) // 7^4 + 7 at scale 2^8
}

func TestExecuteChunkMissingInput(t *testing.T) {
	g := chainGraph()
	reg := layers.NewRegistry(layers.PrepareTables(testParams))
	chunks, err := Partition(g, []int{2})
	require.NoError(t, err)

	_, err = ExecuteChunk(g, &chunks[1], scalarInput(7), reg)
	require.ErrorIs(t, err, layers.ErrMissingInput)
}

func TestExecuteChunkDeterministicRoot(t *testing.T) {
	g := chainGraph()
	reg := layers.NewRegistry(layers.PrepareTables(testParams))
	chunks, err := Partition(g, []int{2})
	require.NoError(t, err)

	a, err := ExecuteChunk(g, &chunks[0], scalarInput(7), reg)
	require.NoError(t, err)
	b, err := ExecuteChunk(g, &chunks[0], scalarInput(7), reg)
	require.NoError(t, err)
	ra, rb := a.Root(), b.Root()
	require.True(t, ra.Equal(&rb))

	c, err := ExecuteChunk(g, &chunks[0], scalarInput(8), reg)
	require.NoError(t, err)
	rc := c.Root()
	require.False(t, ra.Equal(&rc))
}

func TestLeafPosition(t *testing.T) {
	chunks, err := Partition(skipGraph(), []int{1, 3})
	require.NoError(t, err)

	pos, err := chunks[1].LeafPosition(3)
	require.NoError(t, err)
	require.Equal(t, 1, pos)
	_, err = chunks[1].LeafPosition(7)
	require.Error(t, err)
}
