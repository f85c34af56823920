// Package distributed fans chunk proving out over a pool of workers and
// assembles the per-chunk proofs into one verified claim about the whole
// model run. A run is all-or-nothing: any failed or inconsistent chunk
// fails the run.
package distributed

import "fmt"

// ChunkConsistencyError reports a broken link in the commitment chain:
// adjacent chunks disagree on the root joining them, or the first chunk
// anchors at a non-zero root.
type ChunkConsistencyError struct {
	PrevChunk int
	Chunk     int
	Msg       string
}

func (e *ChunkConsistencyError) Error() string {
	return fmt.Sprintf("distributed: chunks %d/%d inconsistent: %s", e.PrevChunk, e.Chunk, e.Msg)
}

// BackendError wraps a failure inside the proving backend: compile,
// setup, prove, or verify.
type BackendError struct {
	Stage string
	Chunk int
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("distributed: chunk %d %s: %v", e.Chunk, e.Stage, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
