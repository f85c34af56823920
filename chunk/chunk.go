// Package chunk partitions a layer graph into independently provable
// slices and executes one slice against the commitment subsystem.
package chunk

import (
	"fmt"
	"sort"

	"github.com/ray-project/distributed-zkml/model"
)

// Chunk is a contiguous, non-split slice of the layer graph plus the
// tensor index sets that cross its boundary. Chunks are computed once at
// partition time and never mutated.
//
// Roots link adjacent chunks only, so an exposed tensor produced before
// this chunk (Carried) is passed through: the chunk proves its membership
// under the previous root and re-commits it under its own, keeping the
// value private while letting any later chunk consume it.
type Chunk struct {
	Index int
	Start int // first layer, inclusive
	End   int // last layer, exclusive
	Final bool

	// Direct: model inputs (data, weights, constants) consumed by this
	// chunk. Supplied by the caller, outside the commitment chain.
	Direct []int
	// Linked: layer-produced tensors this chunk receives from earlier
	// chunks, each proven against the previous chunk's root. Includes the
	// carried pass-through tensors.
	Linked []int
	// Carried: the subset of Outputs produced before this chunk.
	Carried []int
	// Outputs: the exposed set committed under this chunk's root, ordered
	// by ascending tensor index.
	Outputs []int
}

// Ops returns this chunk's slice of the graph's layer list.
func (c *Chunk) Ops(g *model.Graph) []model.LayerConfig {
	return g.Layers[c.Start:c.End]
}

// Partition splits the graph at the given boundaries. Boundaries are
// strictly increasing interior layer indices; chunk i covers
// [boundary[i-1], boundary[i]). No layer can be split across two chunks
// by construction; malformed boundaries are a StructuralError.
//
// For every chunk it computes the minimal externally-sourced input set
// and the exposed set: each layer-produced tensor available at the
// chunk's end that a later chunk consumes, plus every declared final
// output already produced (final outputs stay in the chain until the
// last chunk publishes them).
func Partition(g *model.Graph, boundaries []int) ([]Chunk, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := len(g.Layers)
	prev := 0
	for _, b := range boundaries {
		if b <= prev || b >= n {
			return nil, &model.StructuralError{
				Layer: -1,
				Msg:   fmt.Sprintf("chunk boundary %d outside (%d, %d)", b, prev, n),
			}
		}
		prev = b
	}

	cuts := append(append([]int{0}, boundaries...), n)
	producer := g.Producer()

	// consumedAfter[idx] = first layer consuming idx at or after it.
	lastConsumer := make(map[int]int)
	for i, layer := range g.Layers {
		for _, in := range layer.Inputs {
			if i > lastConsumer[in] {
				lastConsumer[in] = i
			}
		}
	}

	finalOut := make(map[int]bool, len(g.OutputIndices))
	for _, idx := range g.OutputIndices {
		finalOut[idx] = true
	}

	chunks := make([]Chunk, 0, len(cuts)-1)
	for ci := 0; ci+1 < len(cuts); ci++ {
		start, end := cuts[ci], cuts[ci+1]
		ch := Chunk{
			Index: ci,
			Start: start,
			End:   end,
			Final: end == n,
		}

		producedHere := make(map[int]bool)
		for _, layer := range g.Layers[start:end] {
			for _, out := range layer.Outputs {
				producedHere[out] = true
			}
		}

		consumed := make(map[int]bool)
		for _, layer := range g.Layers[start:end] {
			for _, in := range layer.Inputs {
				if !producedHere[in] {
					consumed[in] = true
				}
			}
		}

		exposed := make(map[int]bool)
		for idx, prodLayer := range producer {
			if prodLayer >= end {
				continue
			}
			if lastConsumer[idx] >= end || finalOut[idx] {
				exposed[idx] = true
			}
		}

		for idx := range consumed {
			if g.IsModelInput(idx) {
				ch.Direct = append(ch.Direct, idx)
			} else {
				ch.Linked = append(ch.Linked, idx)
			}
		}
		for idx := range exposed {
			ch.Outputs = append(ch.Outputs, idx)
			if !producedHere[idx] {
				ch.Carried = append(ch.Carried, idx)
				if !consumed[idx] {
					ch.Linked = append(ch.Linked, idx)
				}
			}
		}
		sort.Ints(ch.Direct)
		sort.Ints(ch.Linked)
		sort.Ints(ch.Carried)
		sort.Ints(ch.Outputs)
		chunks = append(chunks, ch)
	}
	return chunks, nil
}
