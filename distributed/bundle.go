package distributed

import (
	"encoding/json"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProofBundle is the archival form of one verified run: the public
// values in wire order and every chunk proof in hex.
type ProofBundle struct {
	Roots        []string     `json:"roots"`
	Finals       []string     `json:"finals"`
	PublicValues []string     `json:"public_values"`
	Chunks       []ChunkProof `json:"chunks"`
}

// ChunkProof is one chunk's entry in the bundle.
type ChunkProof struct {
	Chunk    int           `json:"chunk"`
	PrevRoot string        `json:"prev_root"`
	Root     string        `json:"root"`
	Proof    hexutil.Bytes `json:"proof"`
	Elapsed  string        `json:"elapsed"`
}

// NewProofBundle flattens a run result for serialization.
func NewProofBundle(run *RunResult) *ProofBundle {
	b := &ProofBundle{
		Roots:        make([]string, len(run.Roots)),
		Finals:       make([]string, len(run.Finals)),
		PublicValues: make([]string, len(run.PublicValues)),
		Chunks:       make([]ChunkProof, len(run.Results)),
	}
	for i, r := range run.Roots {
		b.Roots[i] = elementString(r)
	}
	for i, f := range run.Finals {
		b.Finals[i] = elementString(f)
	}
	for i, v := range run.PublicValues {
		b.PublicValues[i] = elementString(v)
	}
	for i, res := range run.Results {
		b.Chunks[i] = ChunkProof{
			Chunk:    res.Index,
			PrevRoot: elementString(res.PrevRoot),
			Root:     elementString(res.Root),
			Proof:    res.ProofBytes,
			Elapsed:  res.Elapsed.String(),
		}
	}
	return b
}

// WriteFile saves the bundle as JSON.
func (b *ProofBundle) WriteFile(path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
