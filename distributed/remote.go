package distributed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/backend/witness"
)

// RemoteWorker proves chunks over a worker's HTTP API.
type RemoteWorker struct {
	base   string
	client *http.Client
}

// NewRemoteWorker points at a worker server base URL, e.g.
// "http://10.0.0.7:8010".
func NewRemoteWorker(base string) *RemoteWorker {
	return &RemoteWorker{base: base, client: &http.Client{}}
}

// Prove ships the job to the remote worker and rebuilds the result from
// the wire response.
func (w *RemoteWorker) Prove(ctx context.Context, job *ChunkJob) (*ChunkResult, error) {
	req, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.base+"/prove", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpRes, err := w.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpRes.Body.Close()

	if httpRes.StatusCode != http.StatusOK {
		var fail struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(httpRes.Body).Decode(&fail); err != nil || fail.Error == "" {
			return nil, fmt.Errorf("distributed: worker %s returned %d", w.base, httpRes.StatusCode)
		}
		return nil, fmt.Errorf("distributed: worker %s: %s", w.base, fail.Error)
	}

	var res ProveResponse
	if err := json.NewDecoder(httpRes.Body).Decode(&res); err != nil {
		return nil, err
	}
	return decodeResult(&res)
}

func decodeResult(res *ProveResponse) (*ChunkResult, error) {
	prevRoot, err := parseElement(res.PrevRoot)
	if err != nil {
		return nil, err
	}
	root, err := parseElement(res.Root)
	if err != nil {
		return nil, err
	}
	finals := make([]fr.Element, len(res.Finals))
	for i, s := range res.Finals {
		if finals[i], err = parseElement(s); err != nil {
			return nil, err
		}
	}

	proof := plonk.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(res.Proof)); err != nil {
		return nil, &BackendError{Stage: "deserialize", Chunk: res.Chunk, Err: err}
	}
	vk := plonk.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(res.VerifyingKey)); err != nil {
		return nil, &BackendError{Stage: "deserialize", Chunk: res.Chunk, Err: err}
	}
	public, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	if _, err := public.ReadFrom(bytes.NewReader(res.PublicWitness)); err != nil {
		return nil, &BackendError{Stage: "deserialize", Chunk: res.Chunk, Err: err}
	}

	elapsed, err := time.ParseDuration(res.Elapsed)
	if err != nil {
		elapsed = 0
	}

	return &ChunkResult{
		Index:         res.Chunk,
		PrevRoot:      prevRoot,
		Root:          root,
		Finals:        finals,
		Proof:         proof,
		VerifyingKey:  vk,
		PublicWitness: public,
		ProofBytes:    res.Proof,
		Elapsed:       elapsed,
	}, nil
}
