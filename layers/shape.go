package layers

import (
	"fmt"

	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// reshapeChip reinterprets the data under a new shape (params hold the
// target dims). Free of constraints in-circuit.
type reshapeChip struct{}

func (c *reshapeChip) Kind() model.OpKind { return model.OpReshape }

func (c *reshapeChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 1); err != nil {
		return nil, err
	}
	shape := make([]int, len(cfg.Params))
	n := 1
	for i, d := range cfg.Params {
		shape[i] = int(d)
		n *= int(d)
	}
	in := inputs[0]
	if n != in.NumElems() {
		return nil, fmt.Errorf("%w: Reshape %v -> %v changes element count",
			ErrShapeMismatch, in.Shape, shape)
	}
	out := in.Clone()
	out.Shape = shape
	return []*tensor.Tensor{out}, nil
}
