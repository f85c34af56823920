package distributed

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ray-project/distributed-zkml/chunk"
	"github.com/ray-project/distributed-zkml/circuit"
	"github.com/ray-project/distributed-zkml/commitments"
	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/layers"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// Wire forms of a chunk job and its result. Field elements travel as
// decimal strings; proofs and keys as raw serialized bytes in hex.

type wireTensor struct {
	Shape  []int    `json:"shape"`
	Values []string `json:"values"`
}

type wireStep struct {
	Sibling string `json:"sibling"`
	Right   bool   `json:"right"`
}

// ProveRequest carries one chunk job to a remote worker. The worker
// re-partitions the graph itself, so layouts never travel.
type ProveRequest struct {
	Graph      json.RawMessage       `json:"graph"`
	Boundaries []int                 `json:"boundaries"`
	Chunk      int                   `json:"chunk"`
	ScaleBits  uint                  `json:"scale_bits"`
	PrevRoot   string                `json:"prev_root"`
	Shapes     map[string][]int      `json:"shapes"`
	Inputs     map[string]wireTensor `json:"inputs"`
	Paths      map[string][]wireStep `json:"paths"`
}

// ProveResponse is a proved chunk on the wire.
type ProveResponse struct {
	Chunk         int           `json:"chunk"`
	PrevRoot      string        `json:"prev_root"`
	Root          string        `json:"root"`
	Finals        []string      `json:"finals"`
	Proof         hexutil.Bytes `json:"proof"`
	VerifyingKey  hexutil.Bytes `json:"verifying_key"`
	PublicWitness hexutil.Bytes `json:"public_witness"`
	Elapsed       string        `json:"elapsed"`
}

func elementString(e fr.Element) string {
	return e.String()
}

func parseElement(s string) (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetString(s); err != nil {
		return fr.Element{}, fmt.Errorf("distributed: bad field element %q: %w", s, err)
	}
	return e, nil
}

// encodeJob flattens a ChunkJob into its wire form.
func encodeJob(job *ChunkJob) (*ProveRequest, error) {
	raw, err := model.MarshalGraph(job.Layout.Graph)
	if err != nil {
		return nil, err
	}

	req := &ProveRequest{
		Graph:      raw,
		Boundaries: job.Boundaries,
		Chunk:      job.Layout.Chunk.Index,
		ScaleBits:  job.Layout.Params.ScaleBits,
		PrevRoot:   elementString(job.PrevRoot),
		Shapes:     make(map[string][]int, len(job.Layout.Shapes)),
		Inputs:     make(map[string]wireTensor, len(job.Inputs)),
		Paths:      make(map[string][]wireStep, len(job.Paths)),
	}
	for idx, shape := range job.Layout.Shapes {
		req.Shapes[strconv.Itoa(idx)] = shape
	}
	for idx, t := range job.Inputs {
		values := make([]string, len(t.Data))
		for i, v := range t.Data {
			values[i] = elementString(v)
		}
		req.Inputs[strconv.Itoa(idx)] = wireTensor{Shape: t.Shape, Values: values}
	}
	for idx, steps := range job.Paths {
		ws := make([]wireStep, len(steps))
		for i, s := range steps {
			ws[i] = wireStep{Sibling: elementString(s.Sibling), Right: s.Right}
		}
		req.Paths[strconv.Itoa(idx)] = ws
	}
	return req, nil
}

// decodeJob rebuilds a ChunkJob from the wire, re-deriving the partition
// and layout from the graph and boundaries.
func decodeJob(req *ProveRequest) (*ChunkJob, error) {
	g, err := model.UnmarshalGraph(req.Graph)
	if err != nil {
		return nil, err
	}
	chunks, err := chunk.Partition(g, req.Boundaries)
	if err != nil {
		return nil, err
	}
	if req.Chunk < 0 || req.Chunk >= len(chunks) {
		return nil, fmt.Errorf("distributed: chunk %d outside partition of %d", req.Chunk, len(chunks))
	}
	c := &chunks[req.Chunk]

	params := fixedpoint.Params{ScaleBits: req.ScaleBits}
	layout := &circuit.Layout{
		Graph:  g,
		Chunk:  c,
		Params: params,
		Tables: layers.PrepareTables(params),
		Shapes: make(map[int][]int, len(req.Shapes)),
	}
	if req.Chunk > 0 {
		layout.PrevOutputs = chunks[req.Chunk-1].Outputs
	}
	for key, shape := range req.Shapes {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("distributed: bad tensor index %q", key)
		}
		layout.Shapes[idx] = shape
	}

	prevRoot, err := parseElement(req.PrevRoot)
	if err != nil {
		return nil, err
	}

	inputs := make(map[int]*tensor.Tensor, len(req.Inputs))
	for key, wt := range req.Inputs {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("distributed: bad tensor index %q", key)
		}
		t := tensor.New(wt.Shape...)
		if len(wt.Values) != len(t.Data) {
			return nil, fmt.Errorf("distributed: tensor %d has %d values for shape %v",
				idx, len(wt.Values), wt.Shape)
		}
		for i, s := range wt.Values {
			if t.Data[i], err = parseElement(s); err != nil {
				return nil, err
			}
		}
		inputs[idx] = t
	}

	paths := make(map[int][]commitments.PathStep, len(req.Paths))
	for key, ws := range req.Paths {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("distributed: bad tensor index %q", key)
		}
		steps := make([]commitments.PathStep, len(ws))
		for i, s := range ws {
			sib, err := parseElement(s.Sibling)
			if err != nil {
				return nil, err
			}
			steps[i] = commitments.PathStep{Sibling: sib, Right: s.Right}
		}
		paths[idx] = steps
	}

	return &ChunkJob{
		Layout:     layout,
		Boundaries: req.Boundaries,
		PrevRoot:   prevRoot,
		Inputs:     inputs,
		Paths:      paths,
	}, nil
}
