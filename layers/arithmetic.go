package layers

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

type addChip struct{}

func (c *addChip) Kind() model.OpKind { return model.OpAdd }

func (c *addChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 2); err != nil {
		return nil, err
	}
	return elementwise2(cfg.Op, inputs[0], inputs[1], func(a, b fr.Element) (fr.Element, error) {
		var out fr.Element
		out.Add(&a, &b)
		return out, fixedpoint.CheckValueBound(out)
	})
}

type subChip struct{}

func (c *subChip) Kind() model.OpKind { return model.OpSub }

func (c *subChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 2); err != nil {
		return nil, err
	}
	return elementwise2(cfg.Op, inputs[0], inputs[1], func(a, b fr.Element) (fr.Element, error) {
		var out fr.Element
		out.Sub(&a, &b)
		return out, fixedpoint.CheckValueBound(out)
	})
}

type mulChip struct {
	params fixedpoint.Params
}

func (c *mulChip) Kind() model.OpKind { return model.OpMul }

func (c *mulChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 2); err != nil {
		return nil, err
	}
	return elementwise2(cfg.Op, inputs[0], inputs[1], c.params.MulRescale)
}

type squareChip struct {
	params fixedpoint.Params
}

func (c *squareChip) Kind() model.OpKind { return model.OpSquare }

func (c *squareChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 1); err != nil {
		return nil, err
	}
	return elementwise1(inputs[0], func(a fr.Element) (fr.Element, error) {
		return c.params.MulRescale(a, a)
	})
}

func elementwise2(op model.OpKind, a, b *tensor.Tensor, f func(x, y fr.Element) (fr.Element, error)) ([]*tensor.Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%w: %s over shapes %v and %v",
			ErrShapeMismatch, op, a.Shape, b.Shape)
	}
	out := tensor.New(a.Shape...)
	for i := range a.Data {
		v, err := f(a.Data[i], b.Data[i])
		if err != nil {
			return nil, err
		}
		out.Data[i] = v
	}
	return []*tensor.Tensor{out}, nil
}

func elementwise1(a *tensor.Tensor, f func(x fr.Element) (fr.Element, error)) ([]*tensor.Tensor, error) {
	out := tensor.New(a.Shape...)
	for i := range a.Data {
		v, err := f(a.Data[i])
		if err != nil {
			return nil, err
		}
		out.Data[i] = v
	}
	return []*tensor.Tensor{out}, nil
}
