package layers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

var testParams = fixedpoint.Params{ScaleBits: 8}

func testRegistry() *Registry {
	return NewRegistry(PrepareTables(testParams))
}

func scalar(t *testing.T, v float64) *tensor.Tensor {
	t.Helper()
	s := tensor.New(1)
	s.Data[0] = testParams.FromFloat(v)
	return s
}

func scalarValue(t *testing.T, ten *tensor.Tensor) int64 {
	t.Helper()
	v, err := fixedpoint.DecodeInt64(ten.Data[0])
	require.NoError(t, err)
	return v
}

func applyOne(t *testing.T, cfg model.LayerConfig, inputs ...*tensor.Tensor) *tensor.Tensor {
	t.Helper()
	chip, err := testRegistry().Chip(cfg.Op)
	require.NoError(t, err)
	outs, err := chip.Apply(cfg, inputs)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	return outs[0]
}

func TestExecuteChain(t *testing.T) {
	// x -> Square -> Relu -> Mul(self) -> Add(x), x = 7 at scale 2^8.
	ops := []model.LayerConfig{
		{Op: model.OpSquare, Inputs: []int{0}, Outputs: []int{1}},
		{Op: model.OpRelu, Inputs: []int{1}, Outputs: []int{2}},
		{Op: model.OpMul, Inputs: []int{2, 2}, Outputs: []int{3}},
		{Op: model.OpAdd, Inputs: []int{3, 0}, Outputs: []int{4}},
	}
	out, err := Execute(ops, map[int]*tensor.Tensor{0: scalar(t, 7)}, testRegistry())
	require.NoError(t, err)

	final, ok := out.Get(4)
	require.True(t, ok)
	require.Equal(t, int64(2408<<8), scalarValue(t, final)) // 7^4 + 7
}

func TestRegistryExposesTables(t *testing.T) {
	prepared := PrepareTables(testParams)
	reg := NewRegistry(prepared)
	require.Same(t, prepared, reg.Tables())
	require.Equal(t, testParams, reg.Params())
}

func TestExecuteMissingInput(t *testing.T) {
	ops := []model.LayerConfig{{Op: model.OpRelu, Inputs: []int{5}, Outputs: []int{6}}}
	_, err := Execute(ops, nil, testRegistry())
	require.ErrorIs(t, err, ErrMissingInput)
}

func TestExecuteUnsupportedOp(t *testing.T) {
	ops := []model.LayerConfig{{Op: model.OpInvalid, Inputs: []int{0}, Outputs: []int{1}}}
	_, err := Execute(ops, map[int]*tensor.Tensor{0: scalar(t, 1)}, testRegistry())
	require.ErrorIs(t, err, ErrUnsupportedOp)
}

func TestExecuteDuplicateOutput(t *testing.T) {
	ops := []model.LayerConfig{{Op: model.OpRelu, Inputs: []int{0}, Outputs: []int{0}}}
	_, err := Execute(ops, map[int]*tensor.Tensor{0: scalar(t, 1)}, testRegistry())
	require.ErrorIs(t, err, ErrDuplicateOutput)
}

func TestAddShapeMismatch(t *testing.T) {
	chip, err := testRegistry().Chip(model.OpAdd)
	require.NoError(t, err)
	_, err = chip.Apply(
		model.LayerConfig{Op: model.OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}},
		[]*tensor.Tensor{tensor.New(2), tensor.New(3)},
	)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFullyConnected(t *testing.T) {
	x, err := tensor.FromInt64([]int{2}, []int64{1 << 8, 2 << 8})
	require.NoError(t, err)
	w, err := tensor.FromInt64([]int{2, 2}, []int64{1 << 8, 2 << 8, 3 << 8, 4 << 8})
	require.NoError(t, err)
	b, err := tensor.FromInt64([]int{2}, []int64{128, -(1 << 8)}) // 0.5, -1
	require.NoError(t, err)

	out := applyOne(t, model.LayerConfig{Op: model.OpFullyConnected, Inputs: []int{0, 1, 2}, Outputs: []int{3}}, x, w, b)
	require.Equal(t, []int{2}, out.Shape)

	v0, err := fixedpoint.DecodeInt64(out.Data[0])
	require.NoError(t, err)
	v1, err := fixedpoint.DecodeInt64(out.Data[1])
	require.NoError(t, err)
	require.Equal(t, int64(5<<8+128), v0) // 1*1 + 2*2 + 0.5
	require.Equal(t, int64(10<<8), v1)    // 3*1 + 4*2 - 1
}

func TestAvgPool(t *testing.T) {
	in, err := tensor.FromInt64([]int{2, 2, 1}, []int64{1 << 8, 2 << 8, 3 << 8, 4 << 8})
	require.NoError(t, err)
	out := applyOne(t, model.LayerConfig{Op: model.OpAvgPool2D, Inputs: []int{0}, Outputs: []int{1}, Params: []int64{2, 2}}, in)
	require.Equal(t, []int{1, 1, 1}, out.Shape)
	require.Equal(t, int64(640), scalarValue(t, out)) // 2.5
}

func TestAvgPoolKernelMustTile(t *testing.T) {
	chip, err := testRegistry().Chip(model.OpAvgPool2D)
	require.NoError(t, err)
	_, err = chip.Apply(
		model.LayerConfig{Op: model.OpAvgPool2D, Inputs: []int{0}, Outputs: []int{1}, Params: []int64{2, 3}},
		[]*tensor.Tensor{tensor.New(2, 2, 1)},
	)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRelu(t *testing.T) {
	cfg := model.LayerConfig{Op: model.OpRelu, Inputs: []int{0}, Outputs: []int{1}}
	require.Equal(t, int64(3<<8), scalarValue(t, applyOne(t, cfg, scalar(t, 3))))
	require.Equal(t, int64(0), scalarValue(t, applyOne(t, cfg, scalar(t, -3))))
	require.Equal(t, int64(0), scalarValue(t, applyOne(t, cfg, scalar(t, 0))))
}

func TestLogistic(t *testing.T) {
	cfg := model.LayerConfig{Op: model.OpLogistic, Inputs: []int{0}, Outputs: []int{1}}

	require.Equal(t, int64(128), scalarValue(t, applyOne(t, cfg, scalar(t, 0)))) // sigmoid(0) = 0.5
	pos := scalarValue(t, applyOne(t, cfg, scalar(t, 1)))
	require.Equal(t, int64(187), pos) // round(sigmoid(1) * 256)

	// Odd symmetry is exact at the fixed scale.
	neg := scalarValue(t, applyOne(t, cfg, scalar(t, -1)))
	require.Equal(t, int64(1<<8)-pos, neg)

	// Inputs past the table domain saturate.
	require.Equal(t, int64(1<<8), scalarValue(t, applyOne(t, cfg, scalar(t, 20))))
}

func TestRsqrt(t *testing.T) {
	cfg := model.LayerConfig{Op: model.OpRsqrt, Inputs: []int{0}, Outputs: []int{1}}

	require.Equal(t, int64(128), scalarValue(t, applyOne(t, cfg, scalar(t, 4)))) // 1/sqrt(4) = 0.5
	require.Equal(t, int64(1<<8), scalarValue(t, applyOne(t, cfg, scalar(t, 1))))

	chip, err := testRegistry().Chip(model.OpRsqrt)
	require.NoError(t, err)
	_, err = chip.Apply(cfg, []*tensor.Tensor{scalar(t, 0)})
	require.ErrorIs(t, err, ErrOutOfRangeInput)
	_, err = chip.Apply(cfg, []*tensor.Tensor{scalar(t, -1)})
	require.ErrorIs(t, err, ErrOutOfRangeInput)
}

func TestReshape(t *testing.T) {
	in, err := tensor.FromInt64([]int{2, 3}, []int64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	out := applyOne(t, model.LayerConfig{Op: model.OpReshape, Inputs: []int{0}, Outputs: []int{1}, Params: []int64{3, 2}}, in)
	require.Equal(t, []int{3, 2}, out.Shape)
	require.Equal(t, in.Data, out.Data)

	chip, err := testRegistry().Chip(model.OpReshape)
	require.NoError(t, err)
	_, err = chip.Apply(model.LayerConfig{Op: model.OpReshape, Inputs: []int{0}, Outputs: []int{1}, Params: []int64{4}}, []*tensor.Tensor{in})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTableLookupBounds(t *testing.T) {
	tables := PrepareTables(testParams)
	tab, err := tables.Table(TableLogistic)
	require.NoError(t, err)
	_, err = tab.Lookup(tab.MaxIndex() + 1)
	require.ErrorIs(t, err, ErrOutOfRangeInput)
	_, err = tab.Lookup(-1)
	require.ErrorIs(t, err, ErrOutOfRangeInput)
	last, err := tab.Lookup(tab.MaxIndex())
	require.NoError(t, err)
	require.Equal(t, int64(1<<8), last)
}
