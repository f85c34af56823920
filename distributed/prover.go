package distributed

import (
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"
	"github.com/rs/zerolog/log"

	"github.com/ray-project/distributed-zkml/circuit"
)

// ChunkProver holds the compiled constraint system and PLONK keys for
// one chunk layout. Compilation and setup happen once per layout; Prove
// can then be called for any witness of that layout.
type ChunkProver struct {
	layout *circuit.Layout
	ccs    constraint.ConstraintSystem
	pk     plonk.ProvingKey
	vk     plonk.VerifyingKey
}

// NewChunkProver compiles the chunk circuit and runs the PLONK setup
// over a locally generated KZG SRS.
func NewChunkProver(layout *circuit.Layout) (*ChunkProver, error) {
	template, err := circuit.NewChunkCircuit(layout)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, template)
	if err != nil {
		return nil, &BackendError{Stage: "compile", Chunk: layout.Chunk.Index, Err: err}
	}
	log.Info().
		Int("chunk", layout.Chunk.Index).
		Int("constraints", ccs.GetNbConstraints()).
		Str("elapsed", time.Since(start).String()).
		Msg("compiled chunk circuit")

	srs, srsLagrange, err := unsafekzg.NewSRS(ccs)
	if err != nil {
		return nil, &BackendError{Stage: "srs", Chunk: layout.Chunk.Index, Err: err}
	}
	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		return nil, &BackendError{Stage: "setup", Chunk: layout.Chunk.Index, Err: err}
	}

	return &ChunkProver{layout: layout, ccs: ccs, pk: pk, vk: vk}, nil
}

// Layout returns the layout this prover was compiled for.
func (p *ChunkProver) Layout() *circuit.Layout { return p.layout }

// VerifyingKey returns the key a verifier checks this chunk's proofs
// against.
func (p *ChunkProver) VerifyingKey() plonk.VerifyingKey { return p.vk }

// Prove generates a proof for one assignment and returns it with the
// public witness.
func (p *ChunkProver) Prove(assignment *circuit.ChunkCircuit) (plonk.Proof, witness.Witness, error) {
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, &BackendError{Stage: "witness", Chunk: p.layout.Chunk.Index, Err: err}
	}

	start := time.Now()
	proof, err := plonk.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, nil, &BackendError{Stage: "prove", Chunk: p.layout.Chunk.Index, Err: err}
	}
	log.Info().
		Int("chunk", p.layout.Chunk.Index).
		Str("elapsed", time.Since(start).String()).
		Msg("created chunk proof")

	public, err := w.Public()
	if err != nil {
		return nil, nil, &BackendError{Stage: "witness", Chunk: p.layout.Chunk.Index, Err: err}
	}
	return proof, public, nil
}
