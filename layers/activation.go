package layers

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

type reluChip struct{}

func (c *reluChip) Kind() model.OpKind { return model.OpRelu }

func (c *reluChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 1); err != nil {
		return nil, err
	}
	return elementwise1(inputs[0], func(a fr.Element) (fr.Element, error) {
		if fixedpoint.Decode(a).Sign() < 0 {
			return fr.Element{}, nil
		}
		return a, nil
	})
}

// reduceToTable maps a scale-s value to the table's reduced input
// precision (one divide-and-round when the table domain is coarser than
// the model scale).
func reduceToTable(params fixedpoint.Params, t *GadgetTable, x fr.Element) (int64, error) {
	shift := params.ScaleBits - t.InputBits()
	xin := x
	if shift > 0 {
		var err error
		xin, err = fixedpoint.DivRound(x, new(big.Int).Lsh(big.NewInt(1), shift))
		if err != nil {
			return 0, err
		}
	}
	return fixedpoint.DecodeInt64(xin)
}

// logisticChip evaluates sigmoid through the prepared lookup table:
// reduce precision, fold by odd symmetry (sigmoid(-x) = 1 - sigmoid(x)),
// saturate at the table boundary, look up.
type logisticChip struct {
	params fixedpoint.Params
	tables *Prepared
}

func (c *logisticChip) Kind() model.OpKind { return model.OpLogistic }

func (c *logisticChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 1); err != nil {
		return nil, err
	}
	t, err := c.tables.Table(TableLogistic)
	if err != nil {
		return nil, err
	}
	one := int64(1) << c.params.ScaleBits
	return elementwise1(inputs[0], func(a fr.Element) (fr.Element, error) {
		v, err := reduceToTable(c.params, t, a)
		if err != nil {
			return fr.Element{}, err
		}
		neg := v < 0
		if neg {
			v = -v
		}
		if v > t.MaxIndex() {
			v = t.MaxIndex()
		}
		y, err := t.Lookup(v)
		if err != nil {
			return fr.Element{}, err
		}
		if neg {
			y = one - y
		}
		return fixedpoint.EncodeInt64(y), nil
	})
}

// rsqrtChip evaluates 1/sqrt(x) through its table. Unlike logistic there
// is no saturation: zero, negative, or oversized inputs are outside the
// domain.
type rsqrtChip struct {
	params fixedpoint.Params
	tables *Prepared
}

func (c *rsqrtChip) Kind() model.OpKind { return model.OpRsqrt }

func (c *rsqrtChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 1); err != nil {
		return nil, err
	}
	t, err := c.tables.Table(TableRsqrt)
	if err != nil {
		return nil, err
	}
	return elementwise1(inputs[0], func(a fr.Element) (fr.Element, error) {
		v, err := reduceToTable(c.params, t, a)
		if err != nil {
			return fr.Element{}, err
		}
		if v < 1 {
			return fr.Element{}, fmt.Errorf("%w: rsqrt input %d is not positive",
				ErrOutOfRangeInput, v)
		}
		y, err := t.Lookup(v - 1)
		if err != nil {
			return fr.Element{}, err
		}
		return fixedpoint.EncodeInt64(y), nil
	})
}
