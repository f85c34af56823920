// Package layers implements the gadget layer and the DAG executor: each
// numeric operation of the model is realized by a chip that evaluates it
// over fixed-point field elements exactly the way the matching in-circuit
// chip constrains it, so witness values and constraints never disagree.
package layers

import (
	"fmt"

	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// Chip evaluates one operation kind. Implementations are pure: identical
// (config, inputs) always produce byte-identical outputs.
type Chip interface {
	Kind() model.OpKind
	Apply(cfg model.LayerConfig, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Registry is the closed dispatch table from op kind to chip.
type Registry struct {
	params fixedpoint.Params
	tables *Prepared
	chips  map[model.OpKind]Chip
}

// NewRegistry builds the dispatch table for all built-in chips. The
// Prepared handle is required because the non-linear chips refuse to exist
// without fully populated tables.
func NewRegistry(tables *Prepared) *Registry {
	params := tables.Params()
	r := &Registry{params: params, tables: tables, chips: make(map[model.OpKind]Chip)}
	for _, c := range []Chip{
		&addChip{},
		&subChip{},
		&mulChip{params: params},
		&squareChip{params: params},
		&fcChip{params: params},
		&avgPoolChip{},
		&reluChip{},
		&logisticChip{params: params, tables: tables},
		&rsqrtChip{params: params, tables: tables},
		&reshapeChip{},
	} {
		r.chips[c.Kind()] = c
	}
	return r
}

// Params returns the fixed-point scale the registry was built for.
func (r *Registry) Params() fixedpoint.Params { return r.params }

// Tables returns the prepared tables backing the non-linear chips.
func (r *Registry) Tables() *Prepared { return r.tables }

// Chip resolves the chip for an op kind.
func (r *Registry) Chip(kind model.OpKind) (Chip, error) {
	c, ok := r.chips[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, kind)
	}
	return c, nil
}

func wantInputs(cfg model.LayerConfig, n int) error {
	if len(cfg.Inputs) != n {
		return fmt.Errorf("%w: %s wants %d inputs, got %d",
			ErrShapeMismatch, cfg.Op, n, len(cfg.Inputs))
	}
	return nil
}
