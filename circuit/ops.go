package circuit

import (
	"fmt"

	"github.com/consensys/gnark/frontend"

	"github.com/ray-project/distributed-zkml/layers"
	"github.com/ray-project/distributed-zkml/model"
)

// valueTensor is a tensor of circuit variables. Shapes are compile-time
// data; only the values are wires.
type valueTensor struct {
	shape []int
	data  []frontend.Variable
}

func newValueTensor(shape ...int) *valueTensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &valueTensor{shape: append([]int(nil), shape...), data: make([]frontend.Variable, n)}
}

func (t *valueTensor) numElems() int { return len(t.data) }

func (t *valueTensor) sameShape(o *valueTensor) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	return true
}

// opChip synthesizes the constraints of one layer. The dispatch is the
// in-circuit twin of the native registry: same closed operation set, same
// arithmetic, same rounding.
type opChip struct {
	chip   *Chip
	tables *lookupTables
}

func (o *opChip) apply(cfg model.LayerConfig, inputs []*valueTensor) ([]*valueTensor, error) {
	switch cfg.Op {
	case model.OpAdd:
		return o.elementwise2(cfg, inputs, func(a, b frontend.Variable) frontend.Variable {
			return o.chip.api.Add(a, b)
		})
	case model.OpSub:
		return o.elementwise2(cfg, inputs, func(a, b frontend.Variable) frontend.Variable {
			return o.chip.api.Sub(a, b)
		})
	case model.OpMul:
		return o.elementwise2(cfg, inputs, o.chip.MulRescale)
	case model.OpSquare:
		return o.elementwise1(cfg, inputs, func(a frontend.Variable) frontend.Variable {
			return o.chip.MulRescale(a, a)
		})
	case model.OpFullyConnected:
		return o.fullyConnected(cfg, inputs)
	case model.OpAvgPool2D:
		return o.avgPool(cfg, inputs)
	case model.OpRelu:
		return o.elementwise1(cfg, inputs, o.chip.Relu)
	case model.OpLogistic:
		return o.elementwise1(cfg, inputs, func(a frontend.Variable) frontend.Variable {
			return o.tables.Logistic(o.chip, a)
		})
	case model.OpRsqrt:
		return o.elementwise1(cfg, inputs, func(a frontend.Variable) frontend.Variable {
			return o.tables.Rsqrt(o.chip, a)
		})
	case model.OpReshape:
		return o.reshape(cfg, inputs)
	default:
		return nil, fmt.Errorf("%w: %s", layers.ErrUnsupportedOp, cfg.Op)
	}
}

func (o *opChip) elementwise1(cfg model.LayerConfig, inputs []*valueTensor, f func(frontend.Variable) frontend.Variable) ([]*valueTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %s wants 1 input", layers.ErrShapeMismatch, cfg.Op)
	}
	in := inputs[0]
	out := newValueTensor(in.shape...)
	for i, v := range in.data {
		out.data[i] = f(v)
	}
	return []*valueTensor{out}, nil
}

func (o *opChip) elementwise2(cfg model.LayerConfig, inputs []*valueTensor, f func(a, b frontend.Variable) frontend.Variable) ([]*valueTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%w: %s wants 2 inputs", layers.ErrShapeMismatch, cfg.Op)
	}
	a, b := inputs[0], inputs[1]
	if !a.sameShape(b) {
		return nil, fmt.Errorf("%w: %s over shapes %v and %v",
			layers.ErrShapeMismatch, cfg.Op, a.shape, b.shape)
	}
	out := newValueTensor(a.shape...)
	for i := range a.data {
		out.data[i] = f(a.data[i], b.data[i])
	}
	return []*valueTensor{out}, nil
}

func (o *opChip) fullyConnected(cfg model.LayerConfig, inputs []*valueTensor) ([]*valueTensor, error) {
	if len(inputs) != 3 {
		return nil, fmt.Errorf("%w: FullyConnected wants 3 inputs", layers.ErrShapeMismatch)
	}
	x, w, b := inputs[0], inputs[1], inputs[2]
	if len(x.shape) != 1 || len(w.shape) != 2 || len(b.shape) != 1 {
		return nil, fmt.Errorf("%w: FullyConnected wants x[n], W[m,n], b[m]; got %v, %v, %v",
			layers.ErrShapeMismatch, x.shape, w.shape, b.shape)
	}
	m, n := w.shape[0], w.shape[1]
	if x.shape[0] != n || b.shape[0] != m {
		return nil, fmt.Errorf("%w: FullyConnected dims x=%d W=%dx%d b=%d",
			layers.ErrShapeMismatch, x.shape[0], m, n, b.shape[0])
	}
	api := o.chip.api
	out := newValueTensor(m)
	for i := 0; i < m; i++ {
		acc := frontend.Variable(0)
		for j := 0; j < n; j++ {
			acc = api.Add(acc, api.Mul(w.data[i*n+j], x.data[j]))
		}
		out.data[i] = api.Add(o.chip.Rescale(acc), b.data[i])
	}
	return []*valueTensor{out}, nil
}

func (o *opChip) avgPool(cfg model.LayerConfig, inputs []*valueTensor) ([]*valueTensor, error) {
	if len(inputs) != 1 || len(cfg.Params) != 2 {
		return nil, fmt.Errorf("%w: AvgPool2D wants one [H,W,C] input and params [kh, kw]",
			layers.ErrShapeMismatch)
	}
	kh, kw := int(cfg.Params[0]), int(cfg.Params[1])
	in := inputs[0]
	if len(in.shape) != 3 || kh <= 0 || kw <= 0 {
		return nil, fmt.Errorf("%w: AvgPool2D over shape %v kernel %dx%d",
			layers.ErrShapeMismatch, in.shape, kh, kw)
	}
	h, w, ch := in.shape[0], in.shape[1], in.shape[2]
	if h%kh != 0 || w%kw != 0 {
		return nil, fmt.Errorf("%w: AvgPool2D %dx%d kernel does not tile %dx%d input",
			layers.ErrShapeMismatch, kh, kw, h, w)
	}
	api := o.chip.api
	oh, ow := h/kh, w/kw
	out := newValueTensor(oh, ow, ch)
	for i := 0; i < oh; i++ {
		for j := 0; j < ow; j++ {
			for k := 0; k < ch; k++ {
				acc := frontend.Variable(0)
				for di := 0; di < kh; di++ {
					for dj := 0; dj < kw; dj++ {
						acc = api.Add(acc, in.data[((i*kh+di)*w+(j*kw+dj))*ch+k])
					}
				}
				out.data[(i*ow+j)*ch+k] = o.chip.DivRound(acc, bigInt(int64(kh*kw)))
			}
		}
	}
	return []*valueTensor{out}, nil
}

func (o *opChip) reshape(cfg model.LayerConfig, inputs []*valueTensor) ([]*valueTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: Reshape wants 1 input", layers.ErrShapeMismatch)
	}
	in := inputs[0]
	shape := make([]int, len(cfg.Params))
	n := 1
	for i, d := range cfg.Params {
		shape[i] = int(d)
		n *= int(d)
	}
	if n != in.numElems() {
		return nil, fmt.Errorf("%w: Reshape %v -> %v changes element count",
			layers.ErrShapeMismatch, in.shape, shape)
	}
	out := &valueTensor{shape: shape, data: append([]frontend.Variable(nil), in.data...)}
	return []*valueTensor{out}, nil
}
