package distributed

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/backend/witness"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ray-project/distributed-zkml/chunk"
	"github.com/ray-project/distributed-zkml/circuit"
	"github.com/ray-project/distributed-zkml/commitments"
	"github.com/ray-project/distributed-zkml/layers"
	"github.com/ray-project/distributed-zkml/tensor"
)

// ChunkJob is everything a worker needs to prove one chunk: the circuit
// layout, the anchoring previous root, the boundary input tensors, and
// the membership paths of the linked tensors in the previous chunk's
// tree.
type ChunkJob struct {
	Layout *circuit.Layout
	// Boundaries is the full partition, carried so a remote worker can
	// re-derive the same chunk slices.
	Boundaries []int
	PrevRoot   fr.Element
	Inputs     map[int]*tensor.Tensor
	Paths      map[int][]commitments.PathStep
}

// ChunkResult is a proved chunk. Finals is empty except for the final
// chunk; ProofBytes is the raw serialized proof for transport and
// archiving.
type ChunkResult struct {
	Index         int
	PrevRoot      fr.Element
	Root          fr.Element
	Finals        []fr.Element
	Proof         plonk.Proof
	VerifyingKey  plonk.VerifyingKey
	PublicWitness witness.Witness
	ProofBytes    hexutil.Bytes
	Elapsed       time.Duration
}

// Worker proves chunk jobs. Implementations must be safe for concurrent
// use; the orchestrator submits jobs from multiple goroutines.
type Worker interface {
	Prove(ctx context.Context, job *ChunkJob) (*ChunkResult, error)
}

// LocalWorker proves chunks in-process. Compiled provers are cached per
// chunk index, so re-proving a chunk with fresh inputs skips compile and
// setup.
type LocalWorker struct {
	mu      sync.Mutex
	provers map[int]*ChunkProver
}

// NewLocalWorker creates an in-process worker.
func NewLocalWorker() *LocalWorker {
	return &LocalWorker{provers: make(map[int]*ChunkProver)}
}

func (w *LocalWorker) prover(layout *circuit.Layout) (*ChunkProver, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.provers[layout.Chunk.Index]; ok {
		return p, nil
	}
	p, err := NewChunkProver(layout)
	if err != nil {
		return nil, err
	}
	w.provers[layout.Chunk.Index] = p
	return p, nil
}

// Prove executes the chunk natively, commits its outputs, and proves the
// execution against the committed roots.
func (w *LocalWorker) Prove(ctx context.Context, job *ChunkJob) (*ChunkResult, error) {
	start := time.Now()
	layout := job.Layout

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reg := layers.NewRegistry(layout.Tables)
	res, err := chunk.ExecuteChunk(layout.Graph, layout.Chunk, job.Inputs, reg)
	if err != nil {
		return nil, err
	}
	root := res.Root()

	var finals []fr.Element
	if layout.Chunk.Final {
		for _, idx := range layout.Graph.OutputIndices {
			finals = append(finals, res.Outputs[idx].Data...)
		}
	}

	assignment, err := circuit.NewAssignment(layout, job.PrevRoot, root, job.Inputs, job.Paths, finals)
	if err != nil {
		return nil, err
	}

	p, err := w.prover(layout)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proof, public, err := p.Prove(assignment)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if _, err := proof.WriteTo(buf); err != nil {
		return nil, &BackendError{Stage: "serialize", Chunk: layout.Chunk.Index, Err: err}
	}

	return &ChunkResult{
		Index:         layout.Chunk.Index,
		PrevRoot:      job.PrevRoot,
		Root:          root,
		Finals:        finals,
		Proof:         proof,
		VerifyingKey:  p.VerifyingKey(),
		PublicWitness: public,
		ProofBytes:    buf.Bytes(),
		Elapsed:       time.Since(start),
	}, nil
}
