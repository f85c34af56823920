package chunk

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog/log"

	"github.com/ray-project/distributed-zkml/commitments"
	"github.com/ray-project/distributed-zkml/layers"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// Result of one chunk execution: the exposed output tensors and the tree
// committing to them. The tensor map built during execution is discarded
// here; nothing outlives the call.
type Result struct {
	Outputs map[int]*tensor.Tensor
	Tree    *commitments.Tree
}

// Root returns the chunk's committed root.
func (r *Result) Root() fr.Element { return r.Tree.Root() }

// ExecuteChunk runs the DAG executor restricted to the chunk's ops over a
// fresh tensor map, then packs and commits the exposed outputs. Pure and
// idempotent: the same (chunk, inputs) always yield the same root, so
// retries are meaningful. Inputs must cover Direct and Linked.
func ExecuteChunk(g *model.Graph, c *Chunk, inputs map[int]*tensor.Tensor, reg *layers.Registry) (*Result, error) {
	for _, idx := range c.Direct {
		if _, ok := inputs[idx]; !ok {
			return nil, fmt.Errorf("%w: chunk %d direct input %d", layers.ErrMissingInput, c.Index, idx)
		}
	}
	for _, idx := range c.Linked {
		if _, ok := inputs[idx]; !ok {
			return nil, fmt.Errorf("%w: chunk %d linked input %d", layers.ErrMissingInput, c.Index, idx)
		}
	}

	tensors, err := layers.Execute(c.Ops(g), inputs, reg)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
	}

	outputs, err := tensors.Extract(c.Outputs)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
	}

	tree, err := CommitOutputs(c, outputs)
	if err != nil {
		return nil, err
	}

	root := tree.Root()
	log.Debug().
		Int("chunk", c.Index).
		Int("layers", c.End-c.Start).
		Int("exposed", len(c.Outputs)).
		Str("root", root.String()).
		Msg("chunk executed")

	return &Result{Outputs: outputs, Tree: tree}, nil
}

// CommitOutputs builds the chunk's commitment tree: one leaf per exposed
// tensor in ascending index order, each leaf the hash of the tensor's
// packed values.
func CommitOutputs(c *Chunk, outputs map[int]*tensor.Tensor) (*commitments.Tree, error) {
	leaves := make([]fr.Element, 0, len(c.Outputs))
	for _, idx := range c.Outputs {
		t, ok := outputs[idx]
		if !ok {
			return nil, fmt.Errorf("chunk %d: exposed tensor %d missing", c.Index, idx)
		}
		packed, err := commitments.Pack(t.Data)
		if err != nil {
			return nil, fmt.Errorf("chunk %d tensor %d: %w", c.Index, idx, err)
		}
		leaves = append(leaves, commitments.HashLeaf(packed))
	}
	tree, err := commitments.BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
	}
	return tree, nil
}

// LeafPosition returns the leaf index of a tensor in the chunk's tree.
func (c *Chunk) LeafPosition(tensorIdx int) (int, error) {
	for i, idx := range c.Outputs {
		if idx == tensorIdx {
			return i, nil
		}
	}
	return 0, fmt.Errorf("chunk %d does not expose tensor %d", c.Index, tensorIdx)
}
