package layers

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// fcChip computes out = W*x + b. The dot product accumulates at scale 2s
// and is rescaled once per output element, so each element sees exactly
// one rounding; the bias is added after the rescale at scale s.
type fcChip struct {
	params fixedpoint.Params
}

func (c *fcChip) Kind() model.OpKind { return model.OpFullyConnected }

func (c *fcChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 3); err != nil {
		return nil, err
	}
	x, w, b := inputs[0], inputs[1], inputs[2]
	if len(x.Shape) != 1 || len(w.Shape) != 2 || len(b.Shape) != 1 {
		return nil, fmt.Errorf("%w: FullyConnected wants x[n], W[m,n], b[m]; got %v, %v, %v",
			ErrShapeMismatch, x.Shape, w.Shape, b.Shape)
	}
	m, n := w.Shape[0], w.Shape[1]
	if x.Shape[0] != n || b.Shape[0] != m {
		return nil, fmt.Errorf("%w: FullyConnected dims x=%d W=%dx%d b=%d",
			ErrShapeMismatch, x.Shape[0], m, n, b.Shape[0])
	}

	out := tensor.New(m)
	for i := 0; i < m; i++ {
		var acc, prod fr.Element
		for j := 0; j < n; j++ {
			prod.Mul(&w.Data[i*n+j], &x.Data[j])
			acc.Add(&acc, &prod)
		}
		v, err := c.params.Rescale(acc)
		if err != nil {
			return nil, err
		}
		v.Add(&v, &b.Data[i])
		if err := fixedpoint.CheckValueBound(v); err != nil {
			return nil, err
		}
		out.Data[i] = v
	}
	return []*tensor.Tensor{out}, nil
}
