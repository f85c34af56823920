package layers

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// Execute evaluates an ordered layer list over a fresh tensor map seeded
// with the given inputs. The caller supplies a valid topological order;
// the executor neither reorders nor resolves dependencies. The whole
// function is deterministic: no randomness, no iteration-order dependence.
//
// For each op in order it gathers inputs by index (ErrMissingInput),
// dispatches to the chip for the op kind (ErrUnsupportedOp; the chip
// reports ErrShapeMismatch), and inserts every produced tensor under its
// declared index, write-once (ErrDuplicateOutput).
func Execute(ops []model.LayerConfig, inputs map[int]*tensor.Tensor, reg *Registry) (*tensor.Map, error) {
	tensors := tensor.NewMap(inputs)

	for layerIdx, cfg := range ops {
		gathered := make([]*tensor.Tensor, len(cfg.Inputs))
		for i, idx := range cfg.Inputs {
			t, ok := tensors.Get(idx)
			if !ok {
				return nil, fmt.Errorf("%w: layer %d (%s) input %d",
					ErrMissingInput, layerIdx, cfg.Op, idx)
			}
			gathered[i] = t
		}

		chip, err := reg.Chip(cfg.Op)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", layerIdx, err)
		}

		log.Debug().
			Int("layer", layerIdx).
			Stringer("op", cfg.Op).
			Ints("inputs", cfg.Inputs).
			Ints("outputs", cfg.Outputs).
			Msg("executing layer")

		produced, err := chip.Apply(cfg, gathered)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", layerIdx, cfg.Op, err)
		}
		if len(produced) != len(cfg.Outputs) {
			return nil, fmt.Errorf("%w: layer %d (%s) produced %d tensors for %d declared outputs",
				ErrShapeMismatch, layerIdx, cfg.Op, len(produced), len(cfg.Outputs))
		}

		for i, idx := range cfg.Outputs {
			if err := tensors.Insert(idx, produced[i]); err != nil {
				if errors.Is(err, tensor.ErrDuplicate) {
					return nil, fmt.Errorf("%w: layer %d writes tensor %d",
						ErrDuplicateOutput, layerIdx, idx)
				}
				return nil, err
			}
		}
	}

	return tensors, nil
}
