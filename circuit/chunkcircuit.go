package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"

	"github.com/ray-project/distributed-zkml/chunk"
	"github.com/ray-project/distributed-zkml/commitments"
	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/layers"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// Layout is the compile-time description of one chunk circuit: the graph
// slice, the boundary index sets, the scale, the prepared gadget tables,
// and the shapes of every boundary tensor. Two provers with the same
// layout compile the same circuit.
type Layout struct {
	Graph  *model.Graph
	Chunk  *chunk.Chunk
	Params fixedpoint.Params
	Tables *layers.Prepared
	// Shapes covers every Direct and Linked tensor index.
	Shapes map[int][]int
	// PrevOutputs is the previous chunk's exposed set in ascending order;
	// nil for the first chunk.
	PrevOutputs []int
}

func (l *Layout) shapeOf(idx int) ([]int, error) {
	s, ok := l.Shapes[idx]
	if !ok {
		return nil, fmt.Errorf("chunk %d: no shape for boundary tensor %d", l.Chunk.Index, idx)
	}
	return s, nil
}

func (l *Layout) numElems(idx int) (int, error) {
	s, err := l.shapeOf(idx)
	if err != nil {
		return 0, err
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n, nil
}

// pathShapes returns, per Linked tensor in ascending order, the static
// membership-path skeleton in the previous chunk's tree.
func (l *Layout) pathShapes() ([][]commitments.StepShape, error) {
	shapes := make([][]commitments.StepShape, len(l.Chunk.Linked))
	for i, idx := range l.Chunk.Linked {
		pos := -1
		for j, out := range l.PrevOutputs {
			if out == idx {
				pos = j
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("chunk %d: linked tensor %d not exposed by previous chunk",
				l.Chunk.Index, idx)
		}
		shape, err := commitments.PathShape(len(l.PrevOutputs), pos)
		if err != nil {
			return nil, err
		}
		shapes[i] = shape
	}
	return shapes, nil
}

// ChunkCircuit proves one chunk: its boundary inputs hash into the
// previous root, its layers were executed faithfully, and its exposed
// outputs hash into its own root. Publics follow the wire order
// PrevRoot, Root, Finals.
type ChunkCircuit struct {
	PrevRoot frontend.Variable   `gnark:",public"`
	Root     frontend.Variable   `gnark:",public"`
	Finals   []frontend.Variable `gnark:",public"`

	Direct   []frontend.Variable `gnark:",secret"`
	Linked   []frontend.Variable `gnark:",secret"`
	Siblings []frontend.Variable `gnark:",secret"`

	layout *Layout
}

// NewChunkCircuit allocates the compile template: every witness slice
// sized from the layout.
func NewChunkCircuit(layout *Layout) (*ChunkCircuit, error) {
	c := &ChunkCircuit{layout: layout}

	var err error
	if c.Direct, err = allocFlat(layout, layout.Chunk.Direct); err != nil {
		return nil, err
	}
	if c.Linked, err = allocFlat(layout, layout.Chunk.Linked); err != nil {
		return nil, err
	}

	if layout.Chunk.Index > 0 {
		shapes, err := layout.pathShapes()
		if err != nil {
			return nil, err
		}
		total := 0
		for _, s := range shapes {
			total += len(s)
		}
		c.Siblings = make([]frontend.Variable, total)
	}

	// A final chunk publishes the declared outputs, so their shapes must
	// be in the layout's boundary map as well.
	if layout.Chunk.Final {
		total := 0
		for _, idx := range layout.Graph.OutputIndices {
			n, err := layout.numElems(idx)
			if err != nil {
				return nil, err
			}
			total += n
		}
		c.Finals = make([]frontend.Variable, total)
	}
	return c, nil
}

func allocFlat(layout *Layout, indices []int) ([]frontend.Variable, error) {
	total := 0
	for _, idx := range indices {
		n, err := layout.numElems(idx)
		if err != nil {
			return nil, err
		}
		total += n
	}
	return make([]frontend.Variable, total), nil
}

// Define synthesizes the chunk's constraints.
func (c *ChunkCircuit) Define(api frontend.API) error {
	l := c.layout
	chip := NewChip(api, l.Params)
	tables, err := newLookupTables(api, l.Tables)
	if err != nil {
		return err
	}
	merkle := NewMerkleChip(api)
	ops := &opChip{chip: chip, tables: tables}

	// Boundary tensors, in the order the witness slices were packed.
	values := make(map[int]*valueTensor)
	if err := unflatten(l, l.Chunk.Direct, c.Direct, values); err != nil {
		return err
	}
	if err := unflatten(l, l.Chunk.Linked, c.Linked, values); err != nil {
		return err
	}
	for _, idx := range l.Chunk.Direct {
		for _, v := range values[idx].data {
			chip.CheckValueBound(v)
		}
	}

	// Link to the previous chunk. The first chunk anchors the chain at a
	// zero root; later chunks prove each linked tensor under PrevRoot.
	if l.Chunk.Index == 0 {
		api.AssertIsEqual(c.PrevRoot, 0)
	} else {
		shapes, err := l.pathShapes()
		if err != nil {
			return err
		}
		off := 0
		for i, idx := range l.Chunk.Linked {
			leaf := merkle.HashLeaf(merkle.Pack(values[idx].data))
			sib := c.Siblings[off : off+len(shapes[i])]
			merkle.VerifyPath(leaf, sib, shapes[i], c.PrevRoot)
			off += len(shapes[i])
		}
	}

	// Execute the chunk's layers.
	for _, cfg := range l.Chunk.Ops(l.Graph) {
		ins := make([]*valueTensor, len(cfg.Inputs))
		for i, in := range cfg.Inputs {
			t, ok := values[in]
			if !ok {
				return fmt.Errorf("%w: tensor %d", layers.ErrMissingInput, in)
			}
			ins[i] = t
		}
		outs, err := ops.apply(cfg, ins)
		if err != nil {
			return err
		}
		if len(outs) != len(cfg.Outputs) {
			return fmt.Errorf("%w: %s produced %d tensors for %d declared outputs",
				layers.ErrShapeMismatch, cfg.Op, len(outs), len(cfg.Outputs))
		}
		for i, out := range cfg.Outputs {
			values[out] = outs[i]
		}
	}

	// Commit the exposed set under this chunk's root.
	leaves := make([]frontend.Variable, 0, len(l.Chunk.Outputs))
	for _, idx := range l.Chunk.Outputs {
		t, ok := values[idx]
		if !ok {
			return fmt.Errorf("%w: exposed tensor %d", layers.ErrMissingInput, idx)
		}
		leaves = append(leaves, merkle.HashLeaf(merkle.Pack(t.data)))
	}
	api.AssertIsEqual(merkle.Root(leaves), c.Root)

	// The final chunk publishes the declared model outputs.
	if l.Chunk.Final {
		off := 0
		for _, idx := range l.Graph.OutputIndices {
			t, ok := values[idx]
			if !ok {
				return fmt.Errorf("%w: final output %d", layers.ErrMissingInput, idx)
			}
			for _, v := range t.data {
				api.AssertIsEqual(v, c.Finals[off])
				off++
			}
		}
	}
	return nil
}

func unflatten(l *Layout, indices []int, flat []frontend.Variable, into map[int]*valueTensor) error {
	off := 0
	for _, idx := range indices {
		shape, err := l.shapeOf(idx)
		if err != nil {
			return err
		}
		t := newValueTensor(shape...)
		copy(t.data, flat[off:off+t.numElems()])
		off += t.numElems()
		into[idx] = t
	}
	return nil
}

// NewAssignment builds the witness for one chunk from its native inputs
// and the opened membership paths. Paths cover every Linked tensor;
// finals are the declared model outputs of a final chunk.
func NewAssignment(layout *Layout, prevRoot, root fr.Element, inputs map[int]*tensor.Tensor, paths map[int][]commitments.PathStep, finals []fr.Element) (*ChunkCircuit, error) {
	a := &ChunkCircuit{
		PrevRoot: prevRoot,
		Root:     root,
	}

	var err error
	if a.Direct, err = flattenValues(layout.Chunk.Direct, inputs); err != nil {
		return nil, err
	}
	if a.Linked, err = flattenValues(layout.Chunk.Linked, inputs); err != nil {
		return nil, err
	}

	if layout.Chunk.Index > 0 {
		for _, idx := range layout.Chunk.Linked {
			steps, ok := paths[idx]
			if !ok {
				return nil, fmt.Errorf("chunk %d: no membership path for tensor %d",
					layout.Chunk.Index, idx)
			}
			for _, step := range steps {
				a.Siblings = append(a.Siblings, step.Sibling)
			}
		}
	}

	if layout.Chunk.Final {
		a.Finals = make([]frontend.Variable, len(finals))
		for i, v := range finals {
			a.Finals[i] = v
		}
	}
	return a, nil
}

func flattenValues(indices []int, inputs map[int]*tensor.Tensor) ([]frontend.Variable, error) {
	var flat []frontend.Variable
	for _, idx := range indices {
		t, ok := inputs[idx]
		if !ok {
			return nil, fmt.Errorf("%w: tensor %d", layers.ErrMissingInput, idx)
		}
		for _, v := range t.Data {
			flat = append(flat, v)
		}
	}
	return flat, nil
}
