package model

import (
	"encoding/json"
	"fmt"
	"os"
)

type rawLayer struct {
	Op      string  `json:"op"`
	Inputs  []int   `json:"inputs"`
	Outputs []int   `json:"outputs"`
	Params  []int64 `json:"params"`
}

type rawGraph struct {
	Layers        []rawLayer `json:"layers"`
	InputIndices  []int      `json:"input_indices"`
	OutputIndices []int      `json:"output_indices"`
}

// ReadGraph loads and validates a JSON model description.
func ReadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", path, err)
	}
	return UnmarshalGraph(data)
}

// UnmarshalGraph parses and validates a JSON model description.
func UnmarshalGraph(data []byte) (*Graph, error) {
	var raw rawGraph
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("model: parse graph: %w", err)
	}
	g := &Graph{
		InputIndices:  raw.InputIndices,
		OutputIndices: raw.OutputIndices,
	}
	for i, rl := range raw.Layers {
		op, err := ParseOpKind(rl.Op)
		if err != nil {
			return nil, &StructuralError{Layer: i, Msg: err.Error()}
		}
		g.Layers = append(g.Layers, LayerConfig{
			Op:      op,
			Inputs:  rl.Inputs,
			Outputs: rl.Outputs,
			Params:  rl.Params,
		})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// MarshalGraph serializes a graph back to the JSON wire form.
func MarshalGraph(g *Graph) ([]byte, error) {
	raw := rawGraph{InputIndices: g.InputIndices, OutputIndices: g.OutputIndices}
	for _, l := range g.Layers {
		raw.Layers = append(raw.Layers, rawLayer{
			Op:      l.Op.String(),
			Inputs:  l.Inputs,
			Outputs: l.Outputs,
			Params:  l.Params,
		})
	}
	return json.MarshalIndent(raw, "", "  ")
}
