// Package model defines the layer graph: the closed operation set, the
// per-layer configuration, and the structural invariants the graph must
// satisfy before anything is proved over it.
package model

import (
	"fmt"
)

// OpKind tags a layer operation. The set is closed: adding an operation
// means adding a variant here plus the native and in-circuit chips for it.
type OpKind uint8

const (
	OpInvalid OpKind = iota
	OpAdd
	OpSub
	OpMul
	OpSquare
	OpFullyConnected
	OpAvgPool2D
	OpRelu
	OpLogistic
	OpRsqrt
	OpReshape
)

var opNames = map[OpKind]string{
	OpAdd:            "Add",
	OpSub:            "Sub",
	OpMul:            "Mul",
	OpSquare:         "Square",
	OpFullyConnected: "FullyConnected",
	OpAvgPool2D:      "AvgPool2D",
	OpRelu:           "Relu",
	OpLogistic:       "Logistic",
	OpRsqrt:          "Rsqrt",
	OpReshape:        "Reshape",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// ParseOpKind resolves an op tag from a model description.
func ParseOpKind(s string) (OpKind, error) {
	for k, name := range opNames {
		if name == s {
			return k, nil
		}
	}
	return OpInvalid, fmt.Errorf("model: unknown op tag %q", s)
}

// LayerConfig describes one layer: the operation, the tensor indices it
// reads and writes, and operation-specific integer parameters (kernel
// sizes, target shapes). Immutable once the graph is built.
type LayerConfig struct {
	Op      OpKind
	Inputs  []int
	Outputs []int
	Params  []int64
}

// Graph is an ordered layer sequence plus the declared model inputs
// (including weight and constant tensors) and final outputs. The order is
// the topological order the executor follows; Validate enforces that it
// actually is one.
type Graph struct {
	Layers        []LayerConfig
	InputIndices  []int
	OutputIndices []int
}

// StructuralError reports a malformed graph or an illegal partition:
// forward references, duplicate producers, unknown indices, bad chunk
// boundaries.
type StructuralError struct {
	Layer int // -1 when not tied to a single layer
	Msg   string
}

func (e *StructuralError) Error() string {
	if e.Layer < 0 {
		return fmt.Sprintf("model: %s", e.Msg)
	}
	return fmt.Sprintf("model: layer %d: %s", e.Layer, e.Msg)
}

// Validate checks the graph invariants: every layer input is either a
// declared model input or the output of an earlier layer (no forward
// references, hence no cycles), no tensor index has two producers, and
// every declared final output is produced.
func (g *Graph) Validate() error {
	available := make(map[int]bool, len(g.InputIndices))
	for _, idx := range g.InputIndices {
		if available[idx] {
			return &StructuralError{Layer: -1, Msg: fmt.Sprintf("duplicate model input index %d", idx)}
		}
		available[idx] = true
	}
	for i, layer := range g.Layers {
		if layer.Op == OpInvalid {
			return &StructuralError{Layer: i, Msg: "invalid op kind"}
		}
		for _, in := range layer.Inputs {
			if !available[in] {
				return &StructuralError{Layer: i, Msg: fmt.Sprintf("input tensor %d not yet produced", in)}
			}
		}
		for _, out := range layer.Outputs {
			if available[out] {
				return &StructuralError{Layer: i, Msg: fmt.Sprintf("tensor %d already has a producer", out)}
			}
			available[out] = true
		}
	}
	for _, out := range g.OutputIndices {
		if !available[out] {
			return &StructuralError{Layer: -1, Msg: fmt.Sprintf("declared output %d is never produced", out)}
		}
	}
	return nil
}

// Producer maps each layer-produced tensor index to the index of the layer
// producing it. Model inputs are absent from the map.
func (g *Graph) Producer() map[int]int {
	p := make(map[int]int)
	for i, layer := range g.Layers {
		for _, out := range layer.Outputs {
			p[out] = i
		}
	}
	return p
}

// IsModelInput reports whether idx is a declared model input.
func (g *Graph) IsModelInput(idx int) bool {
	for _, in := range g.InputIndices {
		if in == idx {
			return true
		}
	}
	return false
}
