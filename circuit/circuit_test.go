package circuit

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"

	"github.com/ray-project/distributed-zkml/chunk"
	"github.com/ray-project/distributed-zkml/commitments"
	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/layers"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

var testParams = fixedpoint.Params{ScaleBits: 8}

type divRoundCircuit struct {
	In  frontend.Variable
	Out frontend.Variable

	divisor *big.Int
}

func (c *divRoundCircuit) Define(api frontend.API) error {
	chip := NewChip(api, testParams)
	api.AssertIsEqual(chip.DivRound(c.In, c.divisor), c.Out)
	return nil
}

func TestDivRoundCircuitMatchesNative(t *testing.T) {
	assert := test.NewAssert(t)

	testCase := func(x, divisor int64) {
		want, err := fixedpoint.DivRound(fixedpoint.EncodeInt64(x), big.NewInt(divisor))
		assert.NoError(err)

		circuit := divRoundCircuit{divisor: big.NewInt(divisor)}
		witness := divRoundCircuit{In: fixedpoint.EncodeInt64(x), Out: want}
		assert.NoError(test.IsSolved(&circuit, &witness, ecc.BN254.ScalarField()))
	}

	// Power-of-two divisors (rescale) and window divisors, ties included.
	testCase(1792, 256)
	testCase(-1792, 256)
	testCase(10, 4)
	testCase(-10, 4)
	testCase(1, 2)
	testCase(-1, 2)
	testCase(12345, 7)
	testCase(-12345, 7)
	testCase(0, 9)
}

func TestDivRoundCircuitRejectsWrongQuotient(t *testing.T) {
	assert := test.NewAssert(t)

	circuit := divRoundCircuit{divisor: big.NewInt(4)}
	witness := divRoundCircuit{In: fixedpoint.EncodeInt64(10), Out: fixedpoint.EncodeInt64(2)}
	assert.Error(test.IsSolved(&circuit, &witness, ecc.BN254.ScalarField()))
}

type lookupCircuit struct {
	In  frontend.Variable
	Out frontend.Variable

	op     model.OpKind
	params fixedpoint.Params
}

func (c *lookupCircuit) Define(api frontend.API) error {
	chip := NewChip(api, c.params)
	tables, err := newLookupTables(api, layers.PrepareTables(c.params))
	if err != nil {
		return err
	}
	var y frontend.Variable
	if c.op == model.OpLogistic {
		y = tables.Logistic(chip, c.In)
	} else {
		y = tables.Rsqrt(chip, c.In)
	}
	api.AssertIsEqual(y, c.Out)
	return nil
}

func applyNative(t *testing.T, params fixedpoint.Params, op model.OpKind, in fr.Element) fr.Element {
	t.Helper()
	reg := layers.NewRegistry(layers.PrepareTables(params))
	chip, err := reg.Chip(op)
	if err != nil {
		t.Fatal(err)
	}
	x := tensor.New(1)
	x.Data[0] = in
	outs, err := chip.Apply(model.LayerConfig{Op: op, Inputs: []int{0}, Outputs: []int{1}}, []*tensor.Tensor{x})
	if err != nil {
		t.Fatal(err)
	}
	return outs[0].Data[0]
}

func TestLookupCircuitsMatchNative(t *testing.T) {
	assert := test.NewAssert(t)

	testCase := func(op model.OpKind, v float64) {
		in := testParams.FromFloat(v)
		want := applyNative(t, testParams, op, in)
		circuit := lookupCircuit{op: op, params: testParams}
		witness := lookupCircuit{In: in, Out: want}
		assert.NoError(test.IsSolved(&circuit, &witness, ecc.BN254.ScalarField()))
	}

	testCase(model.OpLogistic, 0)
	testCase(model.OpLogistic, 1)
	testCase(model.OpLogistic, -1)
	testCase(model.OpLogistic, 20) // saturates
	testCase(model.OpRsqrt, 1)
	testCase(model.OpRsqrt, 4)
	testCase(model.OpRsqrt, 0.25)
}

// Precision reduction must happen on the signed value, before the odd
// symmetry fold, or rounding ties on negative inputs land one table slot
// off the native chip. Needs a scale coarser than the table domain so
// the reduction actually divides.
func TestLogisticCircuitNegativeTie(t *testing.T) {
	assert := test.NewAssert(t)

	params := fixedpoint.Params{ScaleBits: 16}
	for _, raw := range []int64{-96, -32, 96, -160} {
		in := fixedpoint.EncodeInt64(raw)
		want := applyNative(t, params, model.OpLogistic, in)
		circuit := lookupCircuit{op: model.OpLogistic, params: params}
		witness := lookupCircuit{In: in, Out: want}
		assert.NoError(test.IsSolved(&circuit, &witness, ecc.BN254.ScalarField()))
	}
}

type reluCircuit struct {
	In  frontend.Variable
	Out frontend.Variable
}

func (c *reluCircuit) Define(api frontend.API) error {
	chip := NewChip(api, testParams)
	api.AssertIsEqual(chip.Relu(c.In), c.Out)
	return nil
}

func TestReluCircuit(t *testing.T) {
	assert := test.NewAssert(t)

	testCase := func(v float64) {
		in := testParams.FromFloat(v)
		want := applyNative(t, testParams, model.OpRelu, in)
		assert.NoError(test.IsSolved(&reluCircuit{}, &reluCircuit{In: in, Out: want}, ecc.BN254.ScalarField()))
	}
	testCase(3)
	testCase(-3)
	testCase(0)
}

type merkleRootCircuit struct {
	Values []frontend.Variable
	Root   frontend.Variable `gnark:",public"`

	groupSizes []int
}

func (c *merkleRootCircuit) Define(api frontend.API) error {
	m := NewMerkleChip(api)
	leaves := make([]frontend.Variable, 0, len(c.groupSizes))
	off := 0
	for _, n := range c.groupSizes {
		leaves = append(leaves, m.HashLeaf(m.Pack(c.Values[off:off+n])))
		off += n
	}
	api.AssertIsEqual(m.Root(leaves), c.Root)
	return nil
}

// TestMerkleChipMatchesNative commits the same value groups natively and
// in-circuit, odd leaf counts included.
func TestMerkleChipMatchesNative(t *testing.T) {
	assert := test.NewAssert(t)

	testCase := func(groups [][]int64) {
		var sizes []int
		var values []frontend.Variable
		var leaves []fr.Element
		for _, g := range groups {
			sizes = append(sizes, len(g))
			elems := make([]fr.Element, len(g))
			for i, v := range g {
				elems[i] = fixedpoint.EncodeInt64(v)
				values = append(values, elems[i])
			}
			packed, err := commitments.Pack(elems)
			assert.NoError(err)
			leaves = append(leaves, commitments.HashLeaf(packed))
		}
		tree, err := commitments.BuildTree(leaves)
		assert.NoError(err)

		circuit := merkleRootCircuit{Values: make([]frontend.Variable, len(values)), groupSizes: sizes}
		witness := merkleRootCircuit{Values: values, Root: tree.Root()}
		assert.NoError(test.IsSolved(&circuit, &witness, ecc.BN254.ScalarField()))
	}

	testCase([][]int64{{42}})
	testCase([][]int64{{1, 2}, {-3}})
	testCase([][]int64{{1, 2, 3}, {4}, {-5, 6}})
}

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

// TestChunkCircuits solves both chunk circuits of the chain graph end to
// end: chunk 0 anchored at zero, chunk 1 linking through the first
// chunk's root and publishing the final output.
func TestChunkCircuits(t *testing.T) {
	assert := test.NewAssert(t)

	g := chainGraph()
	tables := layers.PrepareTables(testParams)
	reg := layers.NewRegistry(tables)

	x := tensor.New(1)
	x.Data[0] = testParams.FromFloat(7)
	inputs0 := map[int]*tensor.Tensor{0: x}

	chunks, err := chunk.Partition(g, []int{2})
	assert.NoError(err)

	res0, err := chunk.ExecuteChunk(g, &chunks[0], inputs0, reg)
	assert.NoError(err)

	layout0 := &Layout{
		Graph:  g,
		Chunk:  &chunks[0],
		Params: testParams,
		Tables: tables,
		Shapes: map[int][]int{0: {1}},
	}
	var zero fr.Element
	template0, err := NewChunkCircuit(layout0)
	assert.NoError(err)
	witness0, err := NewAssignment(layout0, zero, res0.Root(), inputs0, nil, nil)
	assert.NoError(err)
	assert.NoError(test.IsSolved(template0, witness0, ecc.BN254.ScalarField()))

	inputs1 := map[int]*tensor.Tensor{0: x, 2: res0.Outputs[2]}
	res1, err := chunk.ExecuteChunk(g, &chunks[1], inputs1, reg)
	assert.NoError(err)

	layout1 := &Layout{
		Graph:       g,
		Chunk:       &chunks[1],
		Params:      testParams,
		Tables:      tables,
		Shapes:      map[int][]int{0: {1}, 2: {1}, 4: {1}},
		PrevOutputs: chunks[0].Outputs,
	}
	pos, err := chunks[0].LeafPosition(2)
	assert.NoError(err)
	path, err := res0.Tree.Open(pos)
	assert.NoError(err)

	template1, err := NewChunkCircuit(layout1)
	assert.NoError(err)
	witness1, err := NewAssignment(layout1, res0.Root(), res1.Root(),
		inputs1, map[int][]commitments.PathStep{2: path}, res1.Outputs[4].Data)
	assert.NoError(err)
	assert.NoError(test.IsSolved(template1, witness1, ecc.BN254.ScalarField()))

	// A tampered previous root breaks the link.
	bad := res0.Root()
	var one fr.Element
	one.SetOne()
	bad.Add(&bad, &one)
	badWitness, err := NewAssignment(layout1, bad, res1.Root(),
		inputs1, map[int][]commitments.PathStep{2: path}, res1.Outputs[4].Data)
	assert.NoError(err)
	assert.Error(test.IsSolved(template1, badWitness, ecc.BN254.ScalarField()))
}
