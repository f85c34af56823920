package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ray-project/distributed-zkml/distributed"
	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/model"
	"github.com/ray-project/distributed-zkml/tensor"
)

var (
	fInputs     string
	fBoundaries []int
	fWorkers    []string
	fOut        string
	fTimeout    time.Duration
)

// proveCmd represents the proof command
var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "runs a model, proves every chunk, verifies the chain, and writes the proof bundle",
	Run:   prove,
}

// inputTensor is one entry of the inputs json: real values, encoded at
// the configured scale before execution.
type inputTensor struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

func readInputs(path string, params fixedpoint.Params) (map[int]*tensor.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]inputTensor
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	inputs := make(map[int]*tensor.Tensor, len(raw))
	for key, it := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("bad tensor index %q", key)
		}
		t := tensor.New(it.Shape...)
		if len(it.Values) != len(t.Data) {
			return nil, fmt.Errorf("tensor %d: %d values for shape %v", idx, len(it.Values), it.Shape)
		}
		for i, v := range it.Values {
			t.Data[i] = params.FromFloat(v)
		}
		inputs[idx] = t
	}
	return inputs, nil
}

func prove(cmd *cobra.Command, args []string) {
	params := fixedpoint.Params{ScaleBits: fScaleBits}

	g, err := model.ReadGraph(fModel)
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		return
	}
	inputs, err := readInputs(fInputs, params)
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		return
	}

	var workers []distributed.Worker
	if len(fWorkers) == 0 {
		workers = append(workers, distributed.NewLocalWorker())
	} else {
		for _, base := range fWorkers {
			workers = append(workers, distributed.NewRemoteWorker(base))
		}
	}

	orch, err := distributed.NewOrchestrator(g, params, fBoundaries, workers,
		distributed.WithTimeout(fTimeout))
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		return
	}

	start := time.Now()
	run, err := orch.Run(context.Background(), inputs)
	if err != nil {
		fmt.Printf("failed to prove run: %s\n", err.Error())
		return
	}
	log.Info().Msg("Successfully proved model run, time: " + time.Since(start).String())

	if err := distributed.NewProofBundle(run).WriteFile(fOut); err != nil {
		fmt.Printf("failed to write proof bundle: %s\n", err.Error())
		return
	}
	log.Info().Msg("Successfully saved " + fOut)
}

func init() {
	rootCmd.AddCommand(proveCmd)
	proveCmd.Flags().StringVar(&fInputs, "inputs", "", "path to the model inputs json")
	proveCmd.Flags().IntSliceVar(&fBoundaries, "boundaries", nil, "interior layer indices splitting the graph into chunks")
	proveCmd.Flags().StringSliceVar(&fWorkers, "workers", nil, "worker base urls; empty proves in-process")
	proveCmd.Flags().StringVar(&fOut, "out", "proof_bundle.json", "output path for the proof bundle")
	proveCmd.Flags().DurationVar(&fTimeout, "timeout", 0, "overall run timeout; 0 means none")
	proveCmd.MarkFlagRequired("inputs")
}
