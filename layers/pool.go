package layers

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// avgPoolChip pools an [H,W,C] tensor with a non-overlapping kh x kw
// window (params[0], params[1]). The window sum stays at scale s; the
// average applies the divide-and-round gadget with the window size as
// divisor.
type avgPoolChip struct{}

func (c *avgPoolChip) Kind() model.OpKind { return model.OpAvgPool2D }

func (c *avgPoolChip) Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(cfg, 1); err != nil {
		return nil, err
	}
	if len(cfg.Params) != 2 {
		return nil, fmt.Errorf("%w: AvgPool2D wants params [kh, kw]", ErrShapeMismatch)
	}
	kh, kw := int(cfg.Params[0]), int(cfg.Params[1])
	in := inputs[0]
	if len(in.Shape) != 3 || kh <= 0 || kw <= 0 {
		return nil, fmt.Errorf("%w: AvgPool2D over shape %v kernel %dx%d",
			ErrShapeMismatch, in.Shape, kh, kw)
	}
	h, w, ch := in.Shape[0], in.Shape[1], in.Shape[2]
	if h%kh != 0 || w%kw != 0 {
		return nil, fmt.Errorf("%w: AvgPool2D %dx%d kernel does not tile %dx%d input",
			ErrShapeMismatch, kh, kw, h, w)
	}

	oh, ow := h/kh, w/kw
	window := big.NewInt(int64(kh * kw))
	out := tensor.New(oh, ow, ch)
	for i := 0; i < oh; i++ {
		for j := 0; j < ow; j++ {
			for k := 0; k < ch; k++ {
				var acc fr.Element
				for di := 0; di < kh; di++ {
					for dj := 0; dj < kw; dj++ {
						v := in.Data[((i*kh+di)*w+(j*kw+dj))*ch+k]
						acc.Add(&acc, &v)
					}
				}
				avg, err := fixedpoint.DivRound(acc, window)
				if err != nil {
					return nil, err
				}
				out.Data[(i*ow+j)*ch+k] = avg
			}
		}
	}
	return []*tensor.Tensor{out}, nil
}
