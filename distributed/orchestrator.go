package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ray-project/distributed-zkml/chunk"
	"github.com/ray-project/distributed-zkml/circuit"
	"github.com/ray-project/distributed-zkml/commitments"
	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/layers"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

// Orchestrator partitions a model run into chunks, fans the chunk jobs
// out over its worker pool, and verifies the assembled proof chain.
type Orchestrator struct {
	graph      *model.Graph
	params     fixedpoint.Params
	tables     *layers.Prepared
	boundaries []int
	workers    []Worker
	timeout    time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds one Run end to end.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator builds an orchestrator over a validated graph. The
// worker pool must be non-empty; jobs are assigned round-robin.
func NewOrchestrator(g *model.Graph, params fixedpoint.Params, boundaries []int, workers []Worker, opts ...Option) (*Orchestrator, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("distributed: empty worker pool")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		graph:      g,
		params:     params,
		tables:     layers.PrepareTables(params),
		boundaries: boundaries,
		workers:    workers,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RunResult is one fully proved and verified model run. PublicValues is
// the canonical claim ordering: every chunk root in chunk order, then
// the flattened final outputs.
type RunResult struct {
	Results      []*ChunkResult
	Roots        []fr.Element
	Finals       []fr.Element
	PublicValues []fr.Element
	Elapsed      time.Duration
}

// Run executes the model natively, proves every chunk concurrently, and
// verifies the chain. All-or-nothing: the first failing chunk cancels
// the rest and fails the run.
func (o *Orchestrator) Run(ctx context.Context, inputs map[int]*tensor.Tensor) (*RunResult, error) {
	start := time.Now()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	chunks, err := chunk.Partition(o.graph, o.boundaries)
	if err != nil {
		return nil, err
	}

	// One native pass over the whole graph fixes every tensor, root, and
	// membership path before any proving starts.
	reg := layers.NewRegistry(o.tables)
	full, err := layers.Execute(o.graph.Layers, inputs, reg)
	if err != nil {
		return nil, err
	}

	trees := make([]*chunk.Result, len(chunks))
	roots := make([]fr.Element, len(chunks))
	for i := range chunks {
		outputs, err := full.Extract(chunks[i].Outputs)
		if err != nil {
			return nil, err
		}
		tree, err := chunk.CommitOutputs(&chunks[i], outputs)
		if err != nil {
			return nil, err
		}
		trees[i] = &chunk.Result{Outputs: outputs, Tree: tree}
		roots[i] = tree.Root()
	}

	jobs := make([]*ChunkJob, len(chunks))
	for i := range chunks {
		job, err := o.buildJob(chunks, trees, roots, full, i)
		if err != nil {
			return nil, err
		}
		jobs[i] = job
	}

	log.Info().
		Int("chunks", len(chunks)).
		Int("workers", len(o.workers)).
		Msg("proving model run")

	results := make([]*ChunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		worker := o.workers[i%len(o.workers)]
		g.Go(func() error {
			res, err := worker.Prove(gctx, job)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := o.verifyChain(results, roots); err != nil {
		return nil, err
	}

	finals := results[len(results)-1].Finals
	public := append(append([]fr.Element(nil), roots...), finals...)

	log.Info().
		Str("elapsed", time.Since(start).String()).
		Msg("model run proved and verified")

	return &RunResult{
		Results:      results,
		Roots:        roots,
		Finals:       finals,
		PublicValues: public,
		Elapsed:      time.Since(start),
	}, nil
}

// layoutFor derives one chunk's circuit layout from the natively
// executed tensor map, which fixes every boundary shape.
func layoutFor(g *model.Graph, params fixedpoint.Params, tables *layers.Prepared, chunks []chunk.Chunk, i int, full *tensor.Map) (*circuit.Layout, error) {
	c := &chunks[i]

	shapeIdx := append(append([]int(nil), c.Direct...), c.Linked...)
	if c.Final {
		shapeIdx = append(shapeIdx, g.OutputIndices...)
	}
	shapes := make(map[int][]int, len(shapeIdx))
	for _, idx := range shapeIdx {
		t, ok := full.Get(idx)
		if !ok {
			return nil, fmt.Errorf("%w: tensor %d", layers.ErrMissingInput, idx)
		}
		shapes[idx] = t.Shape
	}

	layout := &circuit.Layout{
		Graph:  g,
		Chunk:  c,
		Params: params,
		Tables: tables,
		Shapes: shapes,
	}
	if i > 0 {
		layout.PrevOutputs = chunks[i-1].Outputs
	}
	return layout, nil
}

// Layouts partitions the graph, executes it natively over the given
// inputs, and returns every chunk's circuit layout.
func Layouts(g *model.Graph, params fixedpoint.Params, boundaries []int, inputs map[int]*tensor.Tensor) ([]*circuit.Layout, error) {
	chunks, err := chunk.Partition(g, boundaries)
	if err != nil {
		return nil, err
	}
	reg := layers.NewRegistry(layers.PrepareTables(params))
	full, err := layers.Execute(g.Layers, inputs, reg)
	if err != nil {
		return nil, err
	}
	layouts := make([]*circuit.Layout, len(chunks))
	for i := range chunks {
		if layouts[i], err = layoutFor(g, params, reg.Tables(), chunks, i, full); err != nil {
			return nil, err
		}
	}
	return layouts, nil
}

// buildJob assembles the layout, boundary tensors, previous root, and
// membership paths for one chunk.
func (o *Orchestrator) buildJob(chunks []chunk.Chunk, trees []*chunk.Result, roots []fr.Element, full *tensor.Map, i int) (*ChunkJob, error) {
	c := &chunks[i]

	layout, err := layoutFor(o.graph, o.params, o.tables, chunks, i, full)
	if err != nil {
		return nil, err
	}

	inputs, err := full.Extract(append(append([]int(nil), c.Direct...), c.Linked...))
	if err != nil {
		return nil, err
	}

	job := &ChunkJob{Layout: layout, Boundaries: o.boundaries, Inputs: inputs}
	if i > 0 {
		prev := &chunks[i-1]
		job.PrevRoot = roots[i-1]
		job.Paths = make(map[int][]commitments.PathStep, len(c.Linked))
		for _, idx := range c.Linked {
			pos, err := prev.LeafPosition(idx)
			if err != nil {
				return nil, err
			}
			steps, err := trees[i-1].Tree.Open(pos)
			if err != nil {
				return nil, err
			}
			job.Paths[idx] = steps
		}
	}
	return job, nil
}

// verifyChain checks every root link first, then every chunk proof.
func (o *Orchestrator) verifyChain(results []*ChunkResult, roots []fr.Element) error {
	var zero fr.Element
	for i, res := range results {
		if !res.Root.Equal(&roots[i]) {
			return &ChunkConsistencyError{
				PrevChunk: i, Chunk: i,
				Msg: "proved root disagrees with native root",
			}
		}
		if i == 0 {
			if !res.PrevRoot.Equal(&zero) {
				return &ChunkConsistencyError{
					PrevChunk: -1, Chunk: 0,
					Msg: "first chunk anchored at non-zero root",
				}
			}
		} else if !res.PrevRoot.Equal(&results[i-1].Root) {
			return &ChunkConsistencyError{
				PrevChunk: i - 1, Chunk: i,
				Msg: "previous root does not match prior chunk root",
			}
		}
	}
	for i, res := range results {
		if err := plonk.Verify(res.Proof, res.VerifyingKey, res.PublicWitness); err != nil {
			return &BackendError{Stage: "verify", Chunk: i, Err: err}
		}
	}
	return nil
}
